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

// Package bytestream implements the ByteStream service of:
// Read/Write/QueryWriteStatus over the real googleapis bytestream wire
// types, addressed by the REAPI resource-name conventions.
package bytestream

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bazelfe-go/bazelfe/internal/digestutil"
)

// ReadResource is a parsed "blobs/<hash>/<size>" resource name.
type ReadResource struct {
	Digest digestutil.Digest
}

// WriteResource is a parsed "uploads/<uuid>/blobs/<hash>/<size>" resource
// name, optionally carrying a compressor segment which this implementation
// rejects.
type WriteResource struct {
	UUID string
	Digest digestutil.Digest
}

// ParseReadResource parses "blobs/<hash>/<size>".
func ParseReadResource(name string) (ReadResource, error) {
	d, err:= parseBlobsSuffix(name)
	if err != nil {
		return ReadResource{}, fmt.Errorf("parsing read resource %q: %w", name, err)
	}
	return ReadResource{Digest: d}, nil
}

// ParseWriteResource parses "uploads/<uuid>/blobs/<hash>/<size>".
func ParseWriteResource(name string) (WriteResource, error) {
	parts:= strings.SplitN(name, "/", 3)
	if len(parts) != 3 || parts[0] != "uploads" || parts[1] == "" {
		return WriteResource{}, fmt.Errorf("parsing write resource %q: expected uploads/<uuid>/blobs/<hash>/<size>", name)
	}
	d, err:= parseBlobsSuffix(parts[2])
	if err != nil {
		return WriteResource{}, fmt.Errorf("parsing write resource %q: %w", name, err)
	}
	return WriteResource{UUID: parts[1], Digest: d}, nil
}

func parseBlobsSuffix(s string) (digestutil.Digest, error) {
	parts:= strings.Split(s, "/")
	if len(parts) != 3 || parts[0] != "blobs" {
		return digestutil.Digest{}, fmt.Errorf("expected blobs/<hash>/<size>, got %q", s)
	}
	size, err:= strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return digestutil.Digest{}, fmt.Errorf("invalid size %q: %w", parts[2], err)
	}
	if parts[1] == "" {
		return digestutil.Digest{}, fmt.Errorf("empty hash")
	}
	return digestutil.Digest{Hash: parts[1], Size: size}, nil
}
