package actioncache

import (
	"context"
	"testing"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bazelfe-go/bazelfe/internal/cas"
	"github.com/bazelfe-go/bazelfe/internal/digestutil"
)

func TestGRPCGetActionResultMissReturnsNotFound(t *testing.T) {
	s, _:= newTestStore(t)
	svc:= NewGRPCService(s)
	_, err:= svc.GetActionResult(context.Background(), &repb.GetActionResultRequest{
		ActionDigest: digestutil.Of([]byte("missing-action")).Proto(),
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("got %v, want NotFound", err)
	}
}

func TestGRPCUpdateThenGetActionResultRoundTrips(t *testing.T) {
	s, casStore:= newTestStore(t)
	svc:= NewGRPCService(s)
	ctx:= context.Background()

	// UpdateActionResult carries no inline blob data, so referenced
	// digests must already be pinned in the CAS before the RPC.
	stdout:= []byte("hello from the action")
	stdoutDigest:= digestutil.Of(stdout)
	if err:= casStore.Insert(ctx, stdoutDigest, cas.Payload{InMemory: stdout}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	actionDigest:= digestutil.Of([]byte("an action proto"))
	result:= &repb.ActionResult{StdoutDigest: stdoutDigest.Proto(), ExitCode: 0}

	if _, err:= svc.UpdateActionResult(ctx, &repb.UpdateActionResultRequest{
		ActionDigest: actionDigest.Proto(),
		ActionResult: result,
	}); err != nil {
		t.Fatalf("UpdateActionResult: %v", err)
	}

	got, err:= svc.GetActionResult(ctx, &repb.GetActionResultRequest{ActionDigest: actionDigest.Proto()})
	if err != nil {
		t.Fatalf("GetActionResult: %v", err)
	}
	if got.GetStdoutDigest().GetHash() != stdoutDigest.Hash {
		t.Errorf("stdout digest = %s, want %s", got.GetStdoutDigest().GetHash(), stdoutDigest.Hash)
	}
}

func TestGRPCUpdateActionResultRequiresResult(t *testing.T) {
	s, _:= newTestStore(t)
	svc:= NewGRPCService(s)
	_, err:= svc.UpdateActionResult(context.Background(), &repb.UpdateActionResultRequest{
		ActionDigest: digestutil.Of([]byte("action")).Proto(),
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("got %v, want InvalidArgument", err)
	}
}
