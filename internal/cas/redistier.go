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
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bazelfe-go/bazelfe/internal/digestutil"
)

const (
	// SmallValueThreshold bounds the Redis whole-value cache.
	SmallValueThreshold = 256 * 1024
	smallValueTTL = 3 * 24 * time.Hour
	presenceTTL = 30 * 24 * time.Hour
)

func smallValueKey(d digestutil.Digest) string {
	return "cas:value:" + d.String()
}

func presenceKey(bucket string) string {
	return "cas:presence:" + bucket
}

// RedisTier implements two Redis roles: a small-value whole-blob cache,
// and a presence cache keyed by a 12-byte hash-of-hashes bucket.
type RedisTier struct {
	client *redis.Client
}

func NewRedisTier(client *redis.Client) *RedisTier {
	return &RedisTier{client: client}
}

// GetValue returns a cached small value, if present.
func (r *RedisTier) GetValue(ctx context.Context, d digestutil.Digest) ([]byte, bool, error) {
	v, err:= r.client.Get(ctx, smallValueKey(d)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// PutValue caches a small value with a 3-day TTL. Only called for entries
// within SmallValueThreshold; the caller is responsible for that check
// since the size cutoff is a policy decision, not a Redis detail.
func (r *RedisTier) PutValue(ctx context.Context, d digestutil.Digest, data []byte) error {
	return r.client.Set(ctx, smallValueKey(d), data, smallValueTTL).Err()
}

// Present reports whether the presence cache claims digest d exists,
// merging across any bucket collisions.
func (r *RedisTier) Present(ctx context.Context, d digestutil.Digest) (bool, error) {
	sizeStr, err:= r.client.HGet(ctx, presenceKey(d.PresenceBucket()), d.Hash).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	size, convErr:= strconv.ParseInt(sizeStr, 10, 64)
	if convErr != nil {
		return false, nil
	}
	return size == d.Size, nil
}

// NotePresent records that digest d is durably stored, refreshing the
// bucket's TTL.
func (r *RedisTier) NotePresent(ctx context.Context, d digestutil.Digest) error {
	key:= presenceKey(d.PresenceBucket())
	pipe:= r.client.TxPipeline()
	pipe.HSet(ctx, key, d.Hash, strconv.FormatInt(d.Size, 10))
	pipe.Expire(ctx, key, presenceTTL)
	_, err:= pipe.Exec(ctx)
	return err
}
