package buildindex

import (
	"path/filepath"
	"testing"

	"github.com/bazelfe-go/bazelfe/internal/digestutil"
)

func TestPutThenGetRoundTrips(t *testing.T) {
	dir:= t.TempDir()
	s, err:= Open(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	d:= digestutil.Of([]byte("some build output"))
	if err:= s.Put("acme/widgets/deadbeef", d); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err:= s.Get("acme/widgets/deadbeef")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected a hit")
	}
	if got != d {
		t.Errorf("got %+v, want %+v", got, d)
	}
}

func TestGetMissingReturnsFalse(t *testing.T) {
	dir:= t.TempDir()
	s, err:= Open(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_, ok, err:= s.Get("acme/widgets/missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected a miss")
	}
}
