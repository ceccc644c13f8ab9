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

// Package mirror implements the upstream-mirror fetch path behind the
// `GET /upstream_mirror/<sha>/<upstream>/<path>` route: a
// host-allowlisted, digest-verified fetch that streams straight into the
// tiered CAS.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/bazelfe-go/bazelfe/internal/cas"
	"github.com/bazelfe-go/bazelfe/internal/digestutil"
)

// allowedHosts is the fixed upstream allowlist.
var allowedHosts = map[string]bool{
	"github.com": true,
}

// BadDataError is returned when the fetched body's SHA-256 doesn't match
// the requested digest.
type BadDataError struct {
	Host, Path, WantHash string
	GotHash string
}

func (e *BadDataError) Error() string {
	return fmt.Sprintf("fetched https://%s/%s: sha256 mismatch, want %s got %s", e.Host, e.Path, e.WantHash, e.GotHash)
}

// IsBadData reports whether err is (or wraps) a *BadDataError.
func IsBadData(err error) bool {
	var bad *BadDataError
	return errors.As(err, &bad)
}

// Fetcher performs the allowlisted upstream fetch and tracks the blob
// size discovered for each hash it has already resolved, since the HTTP
// route's URL carries only a hash, not a full digest.
type Fetcher struct {
	Client *http.Client
	WorkDir string

	mu sync.Mutex
	sizes map[string]int64
}

func NewFetcher(client *http.Client, workDir string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{Client: client, WorkDir: workDir, sizes: make(map[string]int64)}
}

// AllowedHost reports whether host may be fetched from.
func (f *Fetcher) AllowedHost(host string) bool {
	return allowedHosts[host]
}

// KnownSize returns the size previously observed for hash, if any.
func (f *Fetcher) KnownSize(hash string) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	size, ok:= f.sizes[hash]
	return size, ok
}

func (f *Fetcher) noteSize(hash string, size int64) {
	f.mu.Lock()
	f.sizes[hash] = size
	f.mu.Unlock()
}

// FetchAndVerify fetches https://<host>/<path>, verifies its SHA-256
// equals wantHash while streaming to a temp file, and inserts it into
// store on success. On mismatch the temp file is discarded and a
// *BadDataError is returned; the CAS is left untouched. Callers are
// expected to have already checked AllowedHost; FetchAndVerify itself
// does not re-enforce the allowlist so it can be driven against any test
// server.
func (f *Fetcher) FetchAndVerify(ctx context.Context, host, path, wantHash string, store *cas.Store) (digestutil.Digest, error) {
	req, err:= http.NewRequestWithContext(ctx, http.MethodGet, "https://"+host+"/"+path, nil)
	if err != nil {
		return digestutil.Digest{}, err
	}
	resp, err:= f.Client.Do(req)
	if err != nil {
		return digestutil.Digest{}, fmt.Errorf("fetching https://%s/%s: %w", host, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return digestutil.Digest{}, fmt.Errorf("fetching https://%s/%s: status %s", host, path, resp.Status)
	}

	tmp, err:= os.CreateTemp(f.WorkDir, ".mirror-fetch-*.tmp")
	if err != nil {
		return digestutil.Digest{}, err
	}
	tmpPath:= tmp.Name()
	defer os.Remove(tmpPath)

	hasher:= digestutil.NewHasher(tmp)
	if _, err:= io.Copy(hasher, resp.Body); err != nil {
		tmp.Close()
		return digestutil.Digest{}, fmt.Errorf("streaming https://%s/%s: %w", host, path, err)
	}
	if err:= tmp.Close(); err != nil {
		return digestutil.Digest{}, err
	}
	d:= hasher.Digest()

	if d.Hash != wantHash {
		return digestutil.Digest{}, &BadDataError{Host: host, Path: path, WantHash: wantHash, GotHash: d.Hash}
	}

	if err:= store.Insert(ctx, d, cas.Payload{OnDiskPath: tmpPath}); err != nil {
		return digestutil.Digest{}, fmt.Errorf("storing mirrored blob: %w", err)
	}
	f.noteSize(d.Hash, d.Size)
	return d, nil
}
