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
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/bazelfe-go/bazelfe/internal/digestutil"
)

// ObjectStore is the durable tier: every digest the cache reports present
// must, by the time it's reported, be durably written here first.
type ObjectStore struct {
	bucket *storage.BucketHandle
	prefix string
}

func NewObjectStore(client *storage.Client, bucket, prefix string) *ObjectStore {
	return &ObjectStore{bucket: client.Bucket(bucket), prefix: prefix}
}

func (o *ObjectStore) objectName(d digestutil.Digest) string {
	if o.prefix == "" {
		return d.BlobPath()
	}
	return o.prefix + "/" + d.BlobPath()
}

// Exists checks object-store presence directly: the strong-guarantee path.
func (o *ObjectStore) Exists(ctx context.Context, d digestutil.Digest) (bool, error) {
	_, err:= o.bucket.Object(o.objectName(d)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Upload streams payload into the object store using chunkSize-bounded
// writes, the "write-before-cache" half of the insert path.
func (o *ObjectStore) Upload(ctx context.Context, d digestutil.Digest, payload io.Reader, chunkSize int) error {
	w:= o.bucket.Object(o.objectName(d)).NewWriter(ctx)
	if chunkSize > 0 {
		w.ChunkSize = chunkSize
	}
	if _, err:= io.Copy(w, payload); err != nil {
		w.Close()
		return fmt.Errorf("uploading %s to object store: %w", d, err)
	}
	return w.Close()
}

// Download streams the object's bytes to dst.
func (o *ObjectStore) Download(ctx context.Context, d digestutil.Digest, dst io.Writer) error {
	r, err:= o.bucket.Object(o.objectName(d)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(dst, r)
	return err
}

// ErrNotFound is returned by tier reads (and surfaced up through Store)
// when a digest isn't present anywhere.
var ErrNotFound = errors.New("cas: digest not found")
