package actioncache

import (
	"context"
	"path/filepath"
	"testing"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"

	"github.com/bazelfe-go/bazelfe/internal/cas"
	"github.com/bazelfe-go/bazelfe/internal/digestutil"
)

func newTestStore(t *testing.T) (*Store, *cas.Store) {
	t.Helper()
	dir:= t.TempDir()
	local, err:= cas.OpenLocal(filepath.Join(dir, "cas-index.db"), filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}
	casStore:= &cas.Store{Local: local, Redis: nil, Object: nil, WorkDir: dir}
	s, err:= Open(filepath.Join(dir, "action-cache.db"), nil, casStore)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close(); local.Close() })
	return s, casStore
}

func TestPutThenGetActionResultRoundTrips(t *testing.T) {
	s, casStore:= newTestStore(t)
	ctx:= context.Background()

	stdout:= []byte("build succeeded\n")
	stdoutDigest:= digestutil.Of(stdout)

	result:= &repb.ActionResult{
		StdoutDigest: stdoutDigest.Proto(),
		ExitCode: 0,
	}
	actionDigest:= digestutil.Of([]byte("fake-action-proto"))

	resultDigest, err:= s.PutActionResult(ctx, actionDigest, result, []PendingBlob{
		{Digest: stdoutDigest, Data: stdout},
	})
	if err != nil {
		t.Fatalf("PutActionResult: %v", err)
	}
	if resultDigest.Hash == "" {
		t.Fatal("expected non-empty result digest")
	}

	exists, err:= casStore.Exists(ctx, stdoutDigest)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatal("expected stdout digest to be pinned in CAS")
	}

	got, ok, err:= s.GetActionResult(ctx, actionDigest)
	if err != nil {
		t.Fatalf("GetActionResult: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.GetStdoutDigest().GetHash() != stdoutDigest.Hash {
		t.Errorf("stdout digest = %s, want %s", got.GetStdoutDigest().GetHash(), stdoutDigest.Hash)
	}
}

func TestGetActionResultMissReturnsFalse(t *testing.T) {
	s, _:= newTestStore(t)
	_, ok, err:= s.GetActionResult(context.Background(), digestutil.Of([]byte("never-stored")))
	if err != nil {
		t.Fatalf("GetActionResult: %v", err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}

func TestPutActionResultFailsWithoutPendingBlob(t *testing.T) {
	s, _:= newTestStore(t)
	result:= &repb.ActionResult{
		StdoutDigest: digestutil.Of([]byte("unpinned")).Proto(),
	}
	_, err:= s.PutActionResult(context.Background(), digestutil.Of([]byte("action")), result, nil)
	if err == nil {
		t.Fatal("expected error when a referenced digest has no pending blob")
	}
}
