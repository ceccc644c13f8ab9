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

// Package actioncache implements the ActionCache store of:
// persisting and retrieving REAPI ActionResult messages, and re-pinning
// every CAS digest an ActionResult references before it's handed back.
package actioncache

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"
	"google.golang.org/protobuf/proto"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bazelfe-go/bazelfe/internal/cas"
	"github.com/bazelfe-go/bazelfe/internal/digestutil"
)

var bucketActionResults = []byte("action_results")

func actionResultKey(d digestutil.Digest) []byte { return []byte(d.String()) }

// Store persists ActionResults across a local bbolt tree and a Redis
// namespace kept in a separate logical database from the CAS, re-pinning referenced CAS blobs
// through the same tiered Store the ByteStream/CAS service uses.
type Store struct {
	db *bolt.DB
	redis *redis.Client
	cas *cas.Store
}

// Open opens (creating if absent) the local ActionResult index at
// dbPath. redisClient must already be configured against the dedicated
// action-result database index.
func Open(dbPath string, redisClient *redis.Client, casStore *cas.Store) (*Store, error) {
	db, err:= bolt.Open(dbPath, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("opening action cache index: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err:= tx.CreateBucketIfNotExists(bucketActionResults)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, redis: redisClient, cas: casStore}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// GetActionResult implements get_action_result: local tree
// first, then the Redis action-result namespace.
func (s *Store) GetActionResult(ctx context.Context, actionDigest digestutil.Digest) (*repb.ActionResult, bool, error) {
	var raw []byte
	err:= s.db.View(func(tx *bolt.Tx) error {
		raw = append([]byte(nil), tx.Bucket(bucketActionResults).Get(actionResultKey(actionDigest))...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if raw == nil && s.redis != nil {
		v, rerr:= s.redis.Get(ctx, redisActionKey(actionDigest)).Bytes()
		if rerr == nil {
			raw = v
		} else if rerr != redis.Nil {
			return nil, false, rerr
		}
	}
	if raw == nil {
		return nil, false, nil
	}
	var result repb.ActionResult
	if err:= proto.Unmarshal(raw, &result); err != nil {
		return nil, false, fmt.Errorf("unmarshaling cached ActionResult: %w", err)
	}
	return &result, true, nil
}

func redisActionKey(d digestutil.Digest) string { return "ac:" + d.String() }

// PendingBlob is a CAS digest referenced by an ActionResult that the
// caller still only holds in memory; PutActionResult inserts these into
// the CAS before persisting the result.
type PendingBlob struct {
	Digest digestutil.Digest
	Data []byte
}

// PutActionResult implements put_action_result: every CAS
// digest the result references (stdout, stderr, each output file) must
// exist in the CAS first; pending supplies bytes for any that aren't
// already there. Returns the digest of the serialized ActionResult, which
// is itself stored in the CAS.
func (s *Store) PutActionResult(ctx context.Context, actionDigest digestutil.Digest, result *repb.ActionResult, pending []PendingBlob) (digestutil.Digest, error) {
	pendingByDigest:= make(map[string][]byte, len(pending))
	for _, p:= range pending {
		pendingByDigest[p.Digest.String()] = p.Data
	}

	for _, d:= range referencedDigests(result) {
		if err:= s.ensureInCAS(ctx, d, pendingByDigest); err != nil {
			return digestutil.Digest{}, fmt.Errorf("pinning referenced blob %s: %w", d, err)
		}
	}

	raw, err:= proto.Marshal(result)
	if err != nil {
		return digestutil.Digest{}, fmt.Errorf("marshaling ActionResult: %w", err)
	}
	resultDigest:= digestutil.Of(raw)
	if err:= s.cas.Insert(ctx, resultDigest, cas.Payload{InMemory: raw}); err != nil {
		return digestutil.Digest{}, fmt.Errorf("storing serialized ActionResult in CAS: %w", err)
	}

	if err:= s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActionResults).Put(actionResultKey(actionDigest), raw)
	}); err != nil {
		return digestutil.Digest{}, err
	}
	if s.redis != nil {
		if err:= s.redis.Set(ctx, redisActionKey(actionDigest), raw, 0).Err(); err != nil {
			return digestutil.Digest{}, err
		}
	}
	return resultDigest, nil
}

func (s *Store) ensureInCAS(ctx context.Context, d digestutil.Digest, pending map[string][]byte) error {
	exists, err:= s.cas.Exists(ctx, d)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	data, ok:= pending[d.String()]
	if !ok {
		return fmt.Errorf("referenced digest %s not found in CAS and no pending blob was supplied", d)
	}
	return s.cas.Insert(ctx, d, cas.Payload{InMemory: data})
}

// referencedDigests enumerates every CAS digest an ActionResult names:
// stdout, stderr, and each output file's content.
func referencedDigests(result *repb.ActionResult) []digestutil.Digest {
	var out []digestutil.Digest
	if d:= result.GetStdoutDigest(); d != nil {
		out = append(out, digestutil.FromProto(d))
	}
	if d:= result.GetStderrDigest(); d != nil {
		out = append(out, digestutil.FromProto(d))
	}
	for _, f:= range result.GetOutputFiles() {
		if d:= f.GetDigest(); d != nil {
			out = append(out, digestutil.FromProto(d))
		}
	}
	return out
}
