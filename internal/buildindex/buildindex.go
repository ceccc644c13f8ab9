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

// Package buildindex implements the (project, repo, sha) -> digest
// key-value record behind httpapi.Index, using the same bbolt-backed
// persistence idiom as the local CAS index.
package buildindex

import (
	"fmt"
	"strconv"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/bazelfe-go/bazelfe/internal/digestutil"
)

var bucketEntries = []byte("bazelfe_index")

// Store is a bbolt-backed KV store mapping a "<project>/<repo>/<sha>" key
// to the digest of the blob it points at.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the index database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err:= bolt.Open(dbPath, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("opening build index: %w", err)
	}
	if err:= db.Update(func(tx *bolt.Tx) error {
		_, err:= tx.CreateBucketIfNotExists(bucketEntries)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get implements httpapi.Index.
func (s *Store) Get(key string) (digestutil.Digest, bool, error) {
	var raw []byte
	err:= s.db.View(func(tx *bolt.Tx) error {
		v:= tx.Bucket(bucketEntries).Get([]byte(key))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return digestutil.Digest{}, false, err
	}
	if raw == nil {
		return digestutil.Digest{}, false, nil
	}
	d, err:= decodeDigest(string(raw))
	if err != nil {
		return digestutil.Digest{}, false, err
	}
	return d, true, nil
}

// Put implements httpapi.Index.
func (s *Store) Put(key string, d digestutil.Digest) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Put([]byte(key), []byte(encodeDigest(d)))
	})
}

func encodeDigest(d digestutil.Digest) string {
	return d.Hash + ":" + strconv.FormatInt(d.Size, 10)
}

func decodeDigest(raw string) (digestutil.Digest, error) {
	hash, sizeStr, ok:= strings.Cut(raw, ":")
	if !ok {
		return digestutil.Digest{}, fmt.Errorf("malformed stored digest %q", raw)
	}
	size, err:= strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return digestutil.Digest{}, fmt.Errorf("malformed stored digest size in %q: %w", raw, err)
	}
	return digestutil.Digest{Hash: hash, Size: size}, nil
}
