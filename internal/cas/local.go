// Copyright 2025 EngFlow Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cas implements the tiered content-addressed store: a local disk
// backend, a Redis presence/small-value cache, and a durable object-store
// tier, unified behind Store.
package cas

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"
	bolt "go.etcd.io/bbolt"

	"github.com/bazelfe-go/bazelfe/internal/digestutil"
)

// InlineThreshold is the size at or below which a blob is stored inline in the
// local index rather than as a file.
const InlineThreshold = 128 * 1024

var (
	bucketHashToSlot = []byte("hash_to_slot")
	bucketSlotBytes = []byte("slot_bytes")
	bucketCounters = []byte("counters")
	counterKeySlotID = []byte("slot_id")
)

// Local is the local disk backend: a bbolt-backed two-tree index (hash ->
// small-entry-slot-id-or-zero, slot-id -> bytes) plus a content-addressed
// blobs directory for large entries, each accessed through a memory
// mapping. bbolt's bucket Sequence is a monotonic, crash-safe
// compare-and-set counter, so the slot-id allocator below is just
// NextSequence rather than a hand-rolled read-increment-write loop.
type Local struct {
	db *bolt.DB
	blobsDir string
}

// OpenLocal opens (creating if absent) the local index at dbPath, and
// ensures the blobs directory exists.
func OpenLocal(dbPath, blobsDir string) (*Local, error) {
	db, err:= bolt.Open(dbPath, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("opening local CAS index: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name:= range [][]byte{bucketHashToSlot, bucketSlotBytes, bucketCounters} {
			if _, err:= tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	if err:= os.MkdirAll(blobsDir, 0o755); err != nil {
		db.Close()
		return nil, err
	}
	return &Local{db: db, blobsDir: blobsDir}, nil
}

func (l *Local) Close() error { return l.db.Close() }

func slotKey(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

// Exists reports whether digest is present in the local index (inline or
// file-backed).
func (l *Local) Exists(d digestutil.Digest) (bool, error) {
	var found bool
	err:= l.db.View(func(tx *bolt.Tx) error {
		v:= tx.Bucket(bucketHashToSlot).Get(hashKey(d))
		found = v != nil
		return nil
	})
	return found, err
}

func hashKey(d digestutil.Digest) []byte {
	return []byte(d.String())
}

// Get returns the blob's bytes if present locally. Large entries are read
// through a memory mapping; the returned handle's Close must be called
// once the caller is done.
func (l *Local) Get(d digestutil.Digest) (*Handle, bool, error) {
	var slot uint64
	var inline []byte
	var found, isFile bool
	err:= l.db.View(func(tx *bolt.Tx) error {
		v:= tx.Bucket(bucketHashToSlot).Get(hashKey(d))
		if v == nil {
			return nil
		}
		found = true
		slot = binary.BigEndian.Uint64(v)
		if slot == 0 {
			isFile = true
			return nil
		}
		b:= tx.Bucket(bucketSlotBytes).Get(slotKey(slot))
		inline = make([]byte, len(b))
		copy(inline, b)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	if !isFile {
		return &Handle{data: inline}, true, nil
	}
	return l.openFile(d)
}

func (l *Local) openFile(d digestutil.Digest) (*Handle, bool, error) {
	path:= l.blobPath(d)
	f, err:= os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if d.Size == 0 {
		f.Close()
		return &Handle{data: nil}, true, nil
	}
	m, err:= mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, false, err
	}
	return &Handle{file: f, mapping: m, data: []byte(m)}, true, nil
}

func (l *Local) blobPath(d digestutil.Digest) string {
	return filepath.Join(l.blobsDir, d.Hash)
}

// Handle is an owned reference to a blob's bytes, pinning a memory mapping
// for file-backed entries until Close is called.
type Handle struct {
	data []byte
	file *os.File
	mapping mmap.MMap
}

func (h *Handle) Bytes() []byte { return h.data }

func (h *Handle) Close() error {
	var err error
	if h.mapping != nil {
		err = h.mapping.Unmap()
	}
	if h.file != nil {
		if cerr:= h.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Put stores a blob's bytes, inline if small enough or as a file
// otherwise, indexed by digest.
func (l *Local) Put(d digestutil.Digest, data []byte) error {
	if d.Size > InlineThreshold {
		if err:= l.writeBlobFile(d, data); err != nil {
			return err
		}
		return l.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketHashToSlot).Put(hashKey(d), slotKey(0))
		})
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		slots:= tx.Bucket(bucketSlotBytes)
		counters:= tx.Bucket(bucketCounters)
		if existing:= tx.Bucket(bucketHashToSlot).Get(hashKey(d)); existing != nil {
			return nil // idempotent re-insert
		}
		id, err:= counters.NextSequence()
		if err != nil {
			return err
		}
		// id 0 is reserved to mean "file-backed"; NextSequence starts at 1,
		// so this is just documenting the invariant, not working around it.
		if err:= slots.Put(slotKey(id), data); err != nil {
			return err
		}
		return tx.Bucket(bucketHashToSlot).Put(hashKey(d), slotKey(id))
	})
}

func (l *Local) writeBlobFile(d digestutil.Digest, data []byte) error {
	path:= l.blobPath(d)
	if _, err:= os.Stat(path); err == nil {
		return nil // idempotent re-insert
	}
	tmp, err:= os.CreateTemp(l.blobsDir, ".blob-*.tmp")
	if err != nil {
		return err
	}
	tmpPath:= tmp.Name()
	if _, err:= tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err:= tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// PutFile installs a blob already written to disk at srcPath by renaming
// it into the blobs directory, for uploads too large to hold in memory.
func (l *Local) PutFile(d digestutil.Digest, srcPath string) error {
	if err:= os.Rename(srcPath, l.blobPath(d)); err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHashToSlot).Put(hashKey(d), slotKey(0))
	})
}
