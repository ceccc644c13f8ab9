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

// Package httpapi implements the HTTP surface: a healthcheck, a plain CAS
// GET/PUT pair, a build-index KV pointer, and an upstream-mirror fetcher.
// Built directly on net/http's ServeMux, matched against path prefixes by
// hand rather than pulling in a router dependency.
package httpapi

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bazelfe-go/bazelfe/internal/cas"
	"github.com/bazelfe-go/bazelfe/internal/digestutil"
	"github.com/bazelfe-go/bazelfe/internal/mirror"
)

// Index is the build-index key-value store:
// (project, repo, sha) -> serialized digest.
type Index interface {
	Get(key string) (digestutil.Digest, bool, error)
	Put(key string, d digestutil.Digest) error
}

// Server implements the cache's HTTP routes.
type Server struct {
	Store *cas.Store
	Index Index
	WorkDir string
	Fetcher *mirror.Fetcher

	healthMu sync.Mutex
	healthAt time.Time
	healthStatus int
	healthMessage string
}

func NewServer(store *cas.Store, index Index, workDir string, fetcher *mirror.Fetcher) *Server {
	return &Server{Store: store, Index: index, WorkDir: workDir, Fetcher: fetcher}
}

// Handler returns the routed http.Handler, suitable for http.Serve.
func (s *Server) Handler() http.Handler {
	mux:= http.NewServeMux()
	mux.HandleFunc("/healthcheck", s.handleHealthcheck)
	mux.HandleFunc("/cas/", s.handleCAS)
	mux.HandleFunc("/cas", s.handleCASUpload)
	mux.HandleFunc("/bazelfe_index/", s.handleIndex)
	mux.HandleFunc("/upstream_mirror/", s.handleUpstreamMirror)
	return mux
}

const healthCacheTTL = 30 * time.Second

// handleHealthcheck implements GET /healthcheck: 507 if the
// worst-case free-disk fraction across filesystems containing WorkDir is
// below 10%, cached for healthCacheTTL.
func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	status, message:= s.diskHealth()
	w.WriteHeader(status)
	fmt.Fprintln(w, message)
}

func (s *Server) diskHealth() (int, string) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	if time.Since(s.healthAt) < healthCacheTTL {
		return s.healthStatus, s.healthMessage
	}

	var stat syscall.Statfs_t
	status, message:= http.StatusOK, "ok"
	if err:= syscall.Statfs(s.WorkDir, &stat); err != nil {
		status, message = http.StatusInternalServerError, fmt.Sprintf("statfs %s: %v", s.WorkDir, err)
	} else {
		free:= float64(stat.Bavail) / float64(stat.Blocks)
		if free < 0.10 {
			status = http.StatusInsufficientStorage
			message = fmt.Sprintf("insufficient-storage: %.1f%% free", free*100)
		}
	}

	s.healthAt = time.Now()
	s.healthStatus = status
	s.healthMessage = message
	return status, message
}

// handleCAS implements GET /cas/<hash>/<size>.
func (s *Server) handleCAS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	d, err:= parseCASPath(strings.TrimPrefix(r.URL.Path, "/cas/"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.serveDigest(w, r, d)
}

func (s *Server) serveDigest(w http.ResponseWriter, r *http.Request, d digestutil.Digest) {
	handle, err:= s.Store.Get(r.Context(), d)
	if err == cas.ErrNotFound {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer handle.Close()
	if verr:= digestutil.VerifyBytes(handle.Bytes(), d); verr != nil {
		http.Error(w, verr.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Length", strconv.FormatInt(d.Size, 10))
	w.Write(handle.Bytes())
}

func parseCASPath(suffix string) (digestutil.Digest, error) {
	parts:= strings.SplitN(suffix, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		return digestutil.Digest{}, fmt.Errorf("expected /cas/<hash>/<size>")
	}
	size, err:= strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return digestutil.Digest{}, fmt.Errorf("invalid size %q: %w", parts[1], err)
	}
	return digestutil.Digest{Hash: parts[0], Size: size}, nil
}

// handleCASUpload implements PUT /cas: stream the body through a SHA-256
// hasher into a temp file, insert by rename, reply with the blob's URL
// path.
func (s *Server) handleCASUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	d, err:= s.ingestBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "/cas/%s/%d", d.Hash, d.Size)
}

func (s *Server) ingestBody(r *http.Request) (digestutil.Digest, error) {
	tmp, err:= os.CreateTemp(s.WorkDir, ".httpapi-upload-*.tmp")
	if err != nil {
		return digestutil.Digest{}, err
	}
	tmpPath:= tmp.Name()
	defer os.Remove(tmpPath)

	hasher:= digestutil.NewHasher(tmp)
	if _, err:= io.Copy(hasher, r.Body); err != nil {
		tmp.Close()
		return digestutil.Digest{}, fmt.Errorf("reading request body: %w", err)
	}
	if err:= tmp.Close(); err != nil {
		return digestutil.Digest{}, err
	}
	d:= hasher.Digest()

	if err:= s.Store.Insert(r.Context(), d, cas.Payload{OnDiskPath: tmpPath}); err != nil {
		return digestutil.Digest{}, fmt.Errorf("storing uploaded blob: %w", err)
	}
	return d, nil
}

// handleIndex implements GET/PUT /bazelfe_index/<project>/<repo>/<sha>.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	key:= strings.TrimPrefix(r.URL.Path, "/bazelfe_index/")
	if key == "" {
		http.Error(w, "missing index key", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodGet:
		d, ok, err:= s.Index.Get(key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		s.serveDigest(w, r, d)
	case http.MethodPut:
		d, err:= s.ingestBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err:= s.Index.Put(key, d); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "/cas/%s/%d", d.Hash, d.Size)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleUpstreamMirror implements GET /upstream_mirror/<sha>/<upstream>/<path...>:
// serve from CAS if present, otherwise fetch and verify before serving and
// caching.
func (s *Server) handleUpstreamMirror(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	suffix:= strings.TrimPrefix(r.URL.Path, "/upstream_mirror/")
	parts:= strings.SplitN(suffix, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		http.Error(w, "expected /upstream_mirror/<sha>/<upstream>/<path>", http.StatusBadRequest)
		return
	}
	sha, host, path:= parts[0], parts[1], parts[2]

	if !s.Fetcher.AllowedHost(host) {
		http.Error(w, fmt.Sprintf("upstream host %q is not allowed", host), http.StatusForbidden)
		return
	}

	if size, known:= s.Fetcher.KnownSize(sha); known {
		if present, err:= s.Store.Exists(r.Context(), digestutil.Digest{Hash: sha, Size: size}); err == nil && present {
			s.serveDigest(w, r, digestutil.Digest{Hash: sha, Size: size})
			return
		}
	}

	d, err:= s.Fetcher.FetchAndVerify(r.Context(), host, path, sha, s.Store)
	if err != nil {
		if mirror.IsBadData(err) {
			log.Printf("httpapi: upstream mirror digest mismatch for %s/%s/%s: %v", sha, host, path, err)
			http.Error(w, "upstream content did not match requested digest", http.StatusBadGateway)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	s.serveDigest(w, r, d)
}
