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

package cas

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/bazelfe-go/bazelfe/internal/digestutil"
)

// Payload is the upload payload: either an in-memory buffer or a
// caller-owned on-disk file (which Insert may rename or remove).
type Payload struct {
	InMemory []byte
	OnDiskPath string
}

func (p Payload) reader() (io.ReadCloser, error) {
	if p.OnDiskPath != "" {
		return os.Open(p.OnDiskPath)
	}
	return io.NopCloser(bytes.NewReader(p.InMemory)), nil
}

// Store is the unified tiered CAS interface, consulted in order
// Local -> Redis presence/value -> Object store.
type Store struct {
	Local *Local
	Redis *RedisTier
	Object *ObjectStore
	WorkDir string
	ChunkSize int
}

// Insert implements the ingress path. Redis and the object store are
// optional tiers: a Store configured with either left nil (a local-only
// deployment, or a test harness exercising Local in isolation) simply
// skips that tier's steps rather than dereferencing a nil client.
func (s *Store) Insert(ctx context.Context, d digestutil.Digest, payload Payload) error {
	if err:= s.verifyPayload(d, payload); err != nil {
		return err
	}

	localExists, err:= s.Local.Exists(d)
	if err != nil {
		return err
	}
	if localExists {
		s.cleanupOnDisk(payload)
		return nil
	}

	if s.Redis != nil {
		redisPresent, err:= s.Redis.Present(ctx, d)
		if err != nil {
			return err
		}
		if redisPresent {
			if err:= s.installLocal(d, payload); err != nil {
				return err
			}
			return s.maybeCacheValue(ctx, d, payload)
		}
	}

	if s.Object != nil {
		r, err:= payload.reader()
		if err != nil {
			return err
		}
		if err:= s.Object.Upload(ctx, d, r, s.ChunkSize); err != nil {
			r.Close()
			return err
		}
		r.Close()
	}

	if err:= s.installLocal(d, payload); err != nil {
		return err
	}
	if s.Redis != nil {
		if err:= s.Redis.NotePresent(ctx, d); err != nil {
			return err
		}
		return s.maybeCacheValue(ctx, d, payload)
	}
	return nil
}

func (s *Store) verifyPayload(d digestutil.Digest, payload Payload) error {
	if payload.OnDiskPath == "" {
		return digestutil.VerifyBytes(payload.InMemory, d)
	}
	f, err:= os.Open(payload.OnDiskPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return digestutil.Verify(f, d)
}

func (s *Store) installLocal(d digestutil.Digest, payload Payload) error {
	if payload.OnDiskPath == "" {
		return s.Local.Put(d, payload.InMemory)
	}
	if d.Size > InlineThreshold {
		return s.Local.PutFile(d, payload.OnDiskPath)
	}
	data, err:= os.ReadFile(payload.OnDiskPath)
	if err != nil {
		return err
	}
	if err:= s.Local.Put(d, data); err != nil {
		return err
	}
	os.Remove(payload.OnDiskPath)
	return nil
}

func (s *Store) maybeCacheValue(ctx context.Context, d digestutil.Digest, payload Payload) error {
	if d.Size > SmallValueThreshold {
		return nil
	}
	data:= payload.InMemory
	if data == nil {
		handle, ok, err:= s.Local.Get(d)
		if err != nil || !ok {
			return err
		}
		defer handle.Close()
		data = handle.Bytes()
	}
	return s.Redis.PutValue(ctx, d, data)
}

func (s *Store) cleanupOnDisk(payload Payload) {
	if payload.OnDiskPath != "" {
		os.Remove(payload.OnDiskPath)
	}
}

// Get implements the egress path, returning ErrNotFound if the digest
// isn't present anywhere.
func (s *Store) Get(ctx context.Context, d digestutil.Digest) (*Handle, error) {
	if handle, ok, err:= s.Local.Get(d); err != nil {
		return nil, err
	} else if ok {
		if verr:= digestutil.VerifyBytes(handle.Bytes(), d); verr != nil {
			handle.Close()
			return nil, verr
		}
		return handle, nil
	}

	if s.Redis != nil {
		if data, ok, err:= s.Redis.GetValue(ctx, d); err != nil {
			return nil, err
		} else if ok {
			if err:= digestutil.VerifyBytes(data, d); err != nil {
				return nil, err
			}
			if err:= s.Local.Put(d, data); err != nil {
				return nil, err
			}
			return &Handle{data: data}, nil
		}
	}

	if s.Object == nil {
		return nil, ErrNotFound
	}
	present, err:= s.Object.Exists(ctx, d)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, ErrNotFound
	}

	return s.downloadAndInstall(ctx, d)
}

func (s *Store) downloadAndInstall(ctx context.Context, d digestutil.Digest) (*Handle, error) {
	tmp, err:= os.CreateTemp(s.WorkDir, ".cas-download-*.tmp")
	if err != nil {
		return nil, err
	}
	tmpPath:= tmp.Name()
	if err:= s.Object.Download(ctx, d, tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	if err:= tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}

	info, err:= os.Stat(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	if info.Size() != d.Size {
		os.Remove(tmpPath)
		return nil, &digestutil.MismatchError{Expected: d, Observed: digestutil.Digest{Hash: d.Hash, Size: info.Size()}}
	}
	f, err:= os.Open(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	if err:= digestutil.Verify(f, d); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	f.Close()

	if err:= s.Local.PutFile(d, tmpPath); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	return s.Local.openFileOrFail(d)
}

// openFileOrFail is a convenience wrapper for the caller that just
// installed a file and wants a handle back immediately.
func (l *Local) openFileOrFail(d digestutil.Digest) (*Handle, error) {
	handle, ok, err:= l.openFile(d)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("installed blob %s vanished before it could be reopened", d)
	}
	return handle, nil
}

// FilterForMissing implements cas_filter_for_missing: a
// weak, best-effort filter that removes digests already known present,
// tolerating false negatives (a digest that's actually on the object
// store but not yet reflected locally or in Redis presence).
func (s *Store) FilterForMissing(ctx context.Context, digests []digestutil.Digest) ([]digestutil.Digest, error) {
	out:= digests[:0]
	for _, d:= range digests {
		present, err:= s.weakPresent(ctx, d)
		if err != nil {
			return nil, err
		}
		if !present {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) weakPresent(ctx context.Context, d digestutil.Digest) (bool, error) {
	if ok, err:= s.Local.Exists(d); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	if s.Redis == nil {
		return false, nil
	}
	return s.Redis.Present(ctx, d)
}

// Exists implements cas_exists: the strong guarantee that
// checks all the way to the object store.
func (s *Store) Exists(ctx context.Context, d digestutil.Digest) (bool, error) {
	if present, err:= s.weakPresent(ctx, d); err != nil {
		return false, err
	} else if present {
		return true, nil
	}
	if s.Object == nil {
		return false, nil
	}
	return s.Object.Exists(ctx, d)
}
