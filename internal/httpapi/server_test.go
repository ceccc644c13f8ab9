package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bazelfe-go/bazelfe/internal/cas"
	"github.com/bazelfe-go/bazelfe/internal/digestutil"
	"github.com/bazelfe-go/bazelfe/internal/mirror"
)

type memIndex struct {
	mu sync.Mutex
	m map[string]digestutil.Digest
}

func newMemIndex() *memIndex { return &memIndex{m: make(map[string]digestutil.Digest)} }

func (i *memIndex) Get(key string) (digestutil.Digest, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	d, ok:= i.m[key]
	return d, ok, nil
}

func (i *memIndex) Put(key string, d digestutil.Digest) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.m[key] = d
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir:= t.TempDir()
	local, err:= cas.OpenLocal(filepath.Join(dir, "index.db"), filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}
	t.Cleanup(func() { local.Close() })
	store:= &cas.Store{Local: local, WorkDir: dir}
	return NewServer(store, newMemIndex(), dir, mirror.NewFetcher(nil, dir))
}

func TestPutThenGetCAS(t *testing.T) {
	s:= newTestServer(t)
	srv:= httptest.NewServer(s.Handler())
	defer srv.Close()

	body:= "round trip me"
	resp, err:= httpPut(srv.URL+"/cas", body)
	if err != nil {
		t.Fatalf("PUT /cas: %v", err)
	}
	defer resp.Body.Close()
	path, _:= io.ReadAll(resp.Body)
	putPath:= strings.TrimSpace(string(path))
	if !strings.HasPrefix(putPath, "/cas/") {
		t.Fatalf("unexpected response body %q", putPath)
	}

	getResp, err:= http.Get(srv.URL + putPath)
	if err != nil {
		t.Fatalf("GET %s: %v", putPath, err)
	}
	defer getResp.Body.Close()
	got, _:= io.ReadAll(getResp.Body)
	if string(got) != body {
		t.Errorf("got %q, want %q", got, body)
	}
}

func TestGetCASMissingReturns404(t *testing.T) {
	s:= newTestServer(t)
	srv:= httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err:= http.Get(srv.URL + "/cas/deadbeef/4")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthcheckReportsOK(t *testing.T) {
	s:= newTestServer(t)
	srv:= httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err:= http.Get(srv.URL + "/healthcheck")
	if err != nil {
		t.Fatalf("GET /healthcheck: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestIndexPutThenGetDelegatesToCAS(t *testing.T) {
	s:= newTestServer(t)
	srv:= httptest.NewServer(s.Handler())
	defer srv.Close()

	body:= "indexed content"
	key:= "bazelfe/example-project/deadbeefcafef00d"
	resp, err:= httpPut(srv.URL+"/bazelfe_index/"+key, body)
	if err != nil {
		t.Fatalf("PUT index: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	getResp, err:= http.Get(srv.URL + "/bazelfe_index/" + key)
	if err != nil {
		t.Fatalf("GET index: %v", err)
	}
	defer getResp.Body.Close()
	got, _:= io.ReadAll(getResp.Body)
	if string(got) != body {
		t.Errorf("got %q, want %q", got, body)
	}
}

func TestIndexGetMissingReturns404(t *testing.T) {
	s:= newTestServer(t)
	srv:= httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err:= http.Get(srv.URL + "/bazelfe_index/nope/nope/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestUpstreamMirrorRejectsDisallowedHost(t *testing.T) {
	s:= newTestServer(t)
	srv:= httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err:= http.Get(fmt.Sprintf("%s/upstream_mirror/%s/evil.example.com/some/path", srv.URL, digestutil.Of([]byte("x")).Hash))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func httpPut(url, body string) (*http.Response, error) {
	req, err:= http.NewRequestWithContext(context.Background(), http.MethodPut, url, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(req)
}
