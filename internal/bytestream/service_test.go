package bytestream

import (
	"context"
	"io"
	"path/filepath"
	"strconv"
	"testing"

	"google.golang.org/genproto/googleapis/bytestream"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/bazelfe-go/bazelfe/internal/cas"
	"github.com/bazelfe-go/bazelfe/internal/digestutil"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir:= t.TempDir()
	local, err:= cas.OpenLocal(filepath.Join(dir, "index.db"), filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}
	t.Cleanup(func() { local.Close() })
	store:= &cas.Store{Local: local, WorkDir: dir}
	return NewService(store)
}

// fakeReadServer implements bytestream.ByteStream_ReadServer by collecting
// every sent chunk.
type fakeReadServer struct {
	ctx context.Context
	chunks [][]byte
}

func (f *fakeReadServer) Send(r *bytestream.ReadResponse) error {
	f.chunks = append(f.chunks, append([]byte(nil), r.GetData()...))
	return nil
}
func (f *fakeReadServer) Context() context.Context { return f.ctx }
func (f *fakeReadServer) SetHeader(metadata.MD) error { return nil }
func (f *fakeReadServer) SendHeader(metadata.MD) error { return nil }
func (f *fakeReadServer) SetTrailer(metadata.MD) {}
func (f *fakeReadServer) SendMsg(m interface{}) error { return nil }
func (f *fakeReadServer) RecvMsg(m interface{}) error { return nil }

func TestReadServesStoredBlob(t *testing.T) {
	svc:= newTestService(t)
	payload:= []byte("hello, bytestream")
	d:= digestutil.Of(payload)
	if err:= svc.Store.Insert(context.Background(), d, cas.Payload{InMemory: payload}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	srv:= &fakeReadServer{ctx: context.Background()}
	err:= svc.Read(&bytestream.ReadRequest{ResourceName: "blobs/" + d.Hash + "/" + strconv.FormatInt(d.Size, 10)}, srv)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var got []byte
	for _, c:= range srv.chunks {
		got = append(got, c...)
	}
	if string(got) != string(payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
}

func TestReadMissingDigestReturnsNotFound(t *testing.T) {
	svc:= newTestService(t)
	srv:= &fakeReadServer{ctx: context.Background()}
	err:= svc.Read(&bytestream.ReadRequest{ResourceName: "blobs/deadbeef/3"}, srv)
	if status.Code(err) != codes.NotFound {
		t.Fatalf("got %v, want NotFound", err)
	}
}

// fakeWriteServer implements bytestream.ByteStream_WriteServer by replaying
// a canned sequence of WriteRequests.
type fakeWriteServer struct {
	ctx context.Context
	reqs []*bytestream.WriteRequest
	idx int
	resp *bytestream.WriteResponse
}

func (f *fakeWriteServer) Recv() (*bytestream.WriteRequest, error) {
	if f.idx >= len(f.reqs) {
		return nil, io.EOF
	}
	r:= f.reqs[f.idx]
	f.idx++
	return r, nil
}
func (f *fakeWriteServer) SendAndClose(r *bytestream.WriteResponse) error {
	f.resp = r
	return nil
}
func (f *fakeWriteServer) Context() context.Context { return f.ctx }
func (f *fakeWriteServer) SetHeader(metadata.MD) error { return nil }
func (f *fakeWriteServer) SendHeader(metadata.MD) error { return nil }
func (f *fakeWriteServer) SetTrailer(metadata.MD) {}
func (f *fakeWriteServer) SendMsg(m interface{}) error { return nil }
func (f *fakeWriteServer) RecvMsg(m interface{}) error { return nil }

func TestWriteStoresBlobAcrossChunks(t *testing.T) {
	svc:= newTestService(t)
	payload:= []byte("chunked upload payload")
	d:= digestutil.Of(payload)
	name:= "uploads/u-1/blobs/" + d.Hash + "/" + strconv.FormatInt(d.Size, 10)

	srv:= &fakeWriteServer{
		ctx: context.Background(),
		reqs: []*bytestream.WriteRequest{
			{ResourceName: name, WriteOffset: 0, Data: payload[:10]},
			{ResourceName: name, WriteOffset: 10, Data: payload[10:], FinishWrite: true},
		},
	}
	if err:= svc.Write(srv); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if srv.resp.GetCommittedSize() != d.Size {
		t.Errorf("committed size = %d, want %d", srv.resp.GetCommittedSize(), d.Size)
	}

	handle, err:= svc.Store.Get(context.Background(), d)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer handle.Close()
	if string(handle.Bytes()) != string(payload) {
		t.Errorf("stored bytes = %q, want %q", handle.Bytes(), payload)
	}
}

func TestWriteRejectsDigestMismatch(t *testing.T) {
	svc:= newTestService(t)
	wrong:= digestutil.Digest{Hash: digestutil.Of([]byte("something else")).Hash, Size: 5}
	name:= "uploads/u-1/blobs/" + wrong.Hash + "/5"
	srv:= &fakeWriteServer{
		ctx: context.Background(),
		reqs: []*bytestream.WriteRequest{
			{ResourceName: name, WriteOffset: 0, Data: []byte("hello"), FinishWrite: true},
		},
	}
	err:= svc.Write(srv)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("got %v, want InvalidArgument", err)
	}
}
