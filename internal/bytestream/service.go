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

package bytestream

import (
	"context"
	"io"
	"log"
	"os"
	"time"

	"google.golang.org/genproto/googleapis/bytestream"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bazelfe-go/bazelfe/internal/cas"
	"github.com/bazelfe-go/bazelfe/internal/digestutil"
)

// readChunkSize bounds how much a single ReadResponse carries (1 MiB). It
// is independent of the tiered store's configurable ChunkSize.
const readChunkSize = 1 << 20

// largeUploadThreshold gates the start/finish/throughput logging
// emitted for large uploads (>2 MiB).
const largeUploadThreshold = 2 << 20

// Service implements bytestream.ByteStreamServer directly
// against the tiered CAS store.
type Service struct {
	Store *cas.Store
}

func NewService(store *cas.Store) *Service {
	return &Service{Store: store}
}

// Read implements ByteStream.Read, streaming a stored blob back in
// readChunkSize frames honoring ReadOffset/ReadLimit.
func (s *Service) Read(req *bytestream.ReadRequest, srv bytestream.ByteStream_ReadServer) error {
	res, err:= ParseReadResource(req.GetResourceName())
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if req.GetReadOffset() < 0 {
		return status.Errorf(codes.OutOfRange, "negative read offset %d", req.GetReadOffset())
	}
	if req.GetReadLimit() < 0 {
		return status.Error(codes.InvalidArgument, "negative read limit")
	}

	handle, err:= s.Store.Get(srv.Context(), res.Digest)
	if err == cas.ErrNotFound {
		return status.Errorf(codes.NotFound, "digest %s not found", res.Digest)
	}
	if err != nil {
		return status.Errorf(codes.Internal, "reading %s: %v", res.Digest, err)
	}
	defer handle.Close()

	data:= handle.Bytes()
	if req.GetReadOffset() > int64(len(data)) {
		return status.Errorf(codes.OutOfRange, "read offset %d beyond blob size %d", req.GetReadOffset(), len(data))
	}
	data = data[req.GetReadOffset():]
	if limit:= req.GetReadLimit(); limit > 0 && limit < int64(len(data)) {
		data = data[:limit]
	}

	for len(data) > 0 {
		n:= readChunkSize
		if n > len(data) {
			n = len(data)
		}
		if err:= srv.Send(&bytestream.ReadResponse{Data: data[:n]}); err != nil {
			return status.Errorf(codes.Internal, "sending ReadResponse: %v", err)
		}
		data = data[n:]
	}
	return nil
}

// Write implements ByteStream.Write: a resumable-upload resource name is
// accepted, but no partial-write/resume state is kept
// across RPCs, so every write starts from offset zero and buffers to a
// temp file until FinishWrite.
func (s *Service) Write(srv bytestream.ByteStream_WriteServer) error {
	var resource WriteResource
	var tmp *os.File
	var hasher *digestutil.Hasher
	var start time.Time
	var logLarge bool

	cleanup:= func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}

	for {
		req, err:= srv.Recv()
		if err == io.EOF {
			cleanup()
			return status.Error(codes.InvalidArgument, "write stream closed before FinishWrite")
		}
		if err != nil {
			cleanup()
			return status.Errorf(codes.Internal, "receiving WriteRequest: %v", err)
		}

		if tmp == nil {
			resource, err = ParseWriteResource(req.GetResourceName())
			if err != nil {
				return status.Error(codes.InvalidArgument, err.Error())
			}
			tmp, err = os.CreateTemp(s.Store.WorkDir, ".bytestream-upload-*.tmp")
			if err != nil {
				return status.Errorf(codes.Internal, "opening upload buffer: %v", err)
			}
			hasher = digestutil.NewHasher(tmp)
			start = time.Now()
			logLarge = resource.Digest.Size > largeUploadThreshold
			if logLarge {
				log.Printf("bytestream: starting large upload of %s", resource.Digest)
			}
		}

		if req.GetWriteOffset() != hasher.Digest().Size {
			cleanup()
			return status.Errorf(codes.InvalidArgument, "non-sequential write offset %d, expected %d", req.GetWriteOffset(), hasher.Digest().Size)
		}
		if len(req.GetData()) > 0 {
			if _, err:= hasher.Write(req.GetData()); err != nil {
				cleanup()
				return status.Errorf(codes.Internal, "buffering upload: %v", err)
			}
		}

		if req.GetFinishWrite() {
			committed:= hasher.Digest()
			if err:= tmp.Close(); err != nil {
				os.Remove(tmp.Name())
				return status.Errorf(codes.Internal, "closing upload buffer: %v", err)
			}
			if committed != resource.Digest {
				os.Remove(tmp.Name())
				return status.Errorf(codes.InvalidArgument, "%v", &digestutil.MismatchError{Expected: resource.Digest, Observed: committed})
			}

			err:= s.Store.Insert(srv.Context(), resource.Digest, cas.Payload{OnDiskPath: tmp.Name()})
			if err != nil {
				return status.Errorf(codes.Internal, "storing uploaded blob: %v", err)
			}
			if logLarge {
				elapsed:= time.Since(start)
				mbps:= float64(committed.Size) / (1 << 20) / elapsed.Seconds()
				log.Printf("bytestream: finished large upload of %s in %s (%.1f MiB/s)", committed, elapsed, mbps)
			}
			return srv.SendAndClose(&bytestream.WriteResponse{CommittedSize: committed.Size})
		}
	}
}

// QueryWriteStatus implements ByteStream.QueryWriteStatus. No resumable
// upload state is retained across RPCs (see Write), so every query comes
// back Unimplemented, directing clients to restart the upload from
// scratch.
func (s *Service) QueryWriteStatus(ctx context.Context, req *bytestream.QueryWriteStatusRequest) (*bytestream.QueryWriteStatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "resumable write status is not tracked")
}
