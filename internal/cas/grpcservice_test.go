package cas

import (
	"context"
	"path/filepath"
	"testing"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"

	"github.com/bazelfe-go/bazelfe/internal/digestutil"
)

func TestFindMissingBlobsFiltersPresent(t *testing.T) {
	dir:= t.TempDir()
	local, err:= OpenLocal(filepath.Join(dir, "index.db"), filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}
	defer local.Close()
	store:= &Store{Local: local, WorkDir: dir}
	svc:= NewGRPCService(store)

	present:= digestutil.Of([]byte("already here"))
	if err:= store.Insert(context.Background(), present, Payload{InMemory: []byte("already here")}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	missing:= digestutil.Of([]byte("never inserted"))

	resp, err:= svc.FindMissingBlobs(context.Background(), &repb.FindMissingBlobsRequest{
		BlobDigests: []*repb.Digest{present.Proto(), missing.Proto()},
	})
	if err != nil {
		t.Fatalf("FindMissingBlobs: %v", err)
	}
	if len(resp.GetMissingBlobDigests()) != 1 || resp.GetMissingBlobDigests()[0].GetHash() != missing.Hash {
		t.Errorf("got %v, want only %s missing", resp.GetMissingBlobDigests(), missing.Hash)
	}
}
