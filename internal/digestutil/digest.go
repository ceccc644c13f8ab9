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

// Package digestutil centers digest handling for the tiered
// CAS: hashing, verification, and the resource-name path convention shared
// by the ByteStream service and the HTTP endpoint.
package digestutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
)

// Digest mirrors the REAPI Digest message: a lowercase hex sha256 and a
// size. It is kept distinct from *repb.Digest in interfaces that don't need
// proto plumbing so tests don't have to construct proto messages for plain
// comparisons.
type Digest struct {
	Hash string
	Size int64
}

func (d Digest) String() string {
	return fmt.Sprintf("%s/%d", d.Hash, d.Size)
}

// Proto converts to the REAPI wire type.
func (d Digest) Proto() *repb.Digest {
	return &repb.Digest{Hash: d.Hash, SizeBytes: d.Size}
}

// FromProto converts from the REAPI wire type.
func FromProto(d *repb.Digest) Digest {
	if d == nil {
		return Digest{}
	}
	return Digest{Hash: d.GetHash(), Size: d.GetSizeBytes()}
}

// BlobPath returns the content-addressed relative path used for object
// names in the object-store tier, in the same shape as the HTTP
// /cas/<hash>/<size> route: "<hash>/<size>".
func (d Digest) BlobPath() string {
	return d.Hash + "/" + fmt.Sprint(d.Size)
}

// PresenceBucket returns the 12-byte hex prefix used as the Redis
// presence-cache bucket key.
func (d Digest) PresenceBucket() string {
	if len(d.Hash) < 24 {
		return d.Hash
	}
	return d.Hash[:24]
}

// MismatchError reports a digest mismatch (ingress or egress), naming both
// the expected and the observed hash/size.
type MismatchError struct {
	Expected Digest
	Observed Digest
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("digest mismatch: expected %s, observed %s", e.Expected, e.Observed)
}

// Hasher streams bytes through sha256 while also writing them to an
// underlying writer, so the caller can compute a digest and persist the
// payload in a single pass (used by the HTTP upload handlers, the
// upstream-mirror fetch and ByteStream writes).
type Hasher struct {
	w io.Writer
	h hash.Hash
	size int64
}

func NewHasher(w io.Writer) *Hasher {
	return &Hasher{w: w, h: sha256.New()}
}

func (s *Hasher) Write(p []byte) (int, error) {
	n, err:= s.w.Write(p)
	if n > 0 {
		s.h.Write(p[:n])
		s.size += int64(n)
	}
	return n, err
}

// Digest returns the digest of everything written so far.
func (s *Hasher) Digest() Digest {
	return Digest{Hash: hex.EncodeToString(s.h.Sum(nil)), Size: s.size}
}

// Of computes the digest of an in-memory buffer.
func Of(b []byte) Digest {
	sum:= sha256.Sum256(b)
	return Digest{Hash: hex.EncodeToString(sum[:]), Size: int64(len(b))}
}

// Verify re-hashes r (consuming it) and returns a *MismatchError if the
// result doesn't match want. Used defensively on every CAS egress path.
func Verify(r io.Reader, want Digest) error {
	h:= sha256.New()
	n, err:= io.Copy(h, r)
	if err != nil {
		return fmt.Errorf("reading payload to verify digest: %w", err)
	}
	got:= Digest{Hash: hex.EncodeToString(h.Sum(nil)), Size: n}
	if got != want {
		return &MismatchError{Expected: want, Observed: got}
	}
	return nil
}

// VerifyBytes is the in-memory form of Verify.
func VerifyBytes(b []byte, want Digest) error {
	got:= Of(b)
	if got != want {
		return &MismatchError{Expected: want, Observed: got}
	}
	return nil
}
