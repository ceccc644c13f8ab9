package mirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/bazelfe-go/bazelfe/internal/cas"
	"github.com/bazelfe-go/bazelfe/internal/digestutil"
)

func newTestStore(t *testing.T) *cas.Store {
	t.Helper()
	dir:= t.TempDir()
	local, err:= cas.OpenLocal(filepath.Join(dir, "index.db"), filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}
	t.Cleanup(func() { local.Close() })
	return &cas.Store{Local: local, WorkDir: dir}
}

func TestAllowedHostRejectsNonGithub(t *testing.T) {
	f:= NewFetcher(nil, t.TempDir())
	if f.AllowedHost("evil.example.com") {
		t.Fatal("expected evil.example.com to be rejected")
	}
	if !f.AllowedHost("github.com") {
		t.Fatal("expected github.com to be allowed")
	}
}

func TestFetchAndVerifyDetectsMismatch(t *testing.T) {
	body:= []byte("the actual upstream bytes")
	srv:= httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	f:= &Fetcher{Client: srv.Client(), WorkDir: t.TempDir(), sizes: map[string]int64{}}
	store:= newTestStore(t)

	_, err:= f.FetchAndVerify(context.Background(), stripScheme(srv.URL), "path", "not-the-real-hash", store)
	if !IsBadData(err) {
		t.Fatalf("expected bad-data error, got %v", err)
	}

	exists, existsErr:= store.Exists(context.Background(), digestutil.Of(body))
	if existsErr != nil {
		t.Fatalf("Exists: %v", existsErr)
	}
	if exists {
		t.Fatal("CAS should remain empty after a digest mismatch")
	}
}

func TestFetchAndVerifyStoresOnMatch(t *testing.T) {
	body:= []byte("verified upstream bytes")
	want:= digestutil.Of(body)
	srv:= httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	f:= &Fetcher{Client: srv.Client(), WorkDir: t.TempDir(), sizes: map[string]int64{}}
	store:= newTestStore(t)

	d, err:= f.FetchAndVerify(context.Background(), stripScheme(srv.URL), "path", want.Hash, store)
	if err != nil {
		t.Fatalf("FetchAndVerify: %v", err)
	}
	if d != want {
		t.Errorf("got %v, want %v", d, want)
	}

	handle, err:= store.Get(context.Background(), want)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer handle.Close()
	if string(handle.Bytes()) != string(body) {
		t.Errorf("stored bytes = %q, want %q", handle.Bytes(), body)
	}

	size, known:= f.KnownSize(want.Hash)
	if !known || size != want.Size {
		t.Errorf("KnownSize = (%d, %v), want (%d, true)", size, known, want.Size)
	}
}

// stripScheme turns an httptest server URL's host:port into something that
// can stand in for an allowlisted host in these tests; AllowedHost is
// bypassed directly since httptest never serves as github.com.
func stripScheme(url string) string {
	for i:= 0; i < len(url); i++ {
		if url[i] == '/' && i+1 < len(url) && url[i+1] == '/' {
			return url[i+2:]
		}
	}
	return url
}
