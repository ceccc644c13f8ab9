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

package cas

import (
	"context"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bazelfe-go/bazelfe/internal/digestutil"
)

// GRPCService implements repb.ContentAddressableStorageServer: FindMissingBlobs
// delegates to Store.FilterForMissing; BatchUpdateBlobs and GetTree are left
// unimplemented since uploads go through the ByteStream.Write path instead.
type GRPCService struct {
	repb.UnimplementedContentAddressableStorageServer
	Store *Store
}

func NewGRPCService(store *Store) *GRPCService {
	return &GRPCService{Store: store}
}

// FindMissingBlobs implements cas_filter_for_missing over the wire.
func (s *GRPCService) FindMissingBlobs(ctx context.Context, req *repb.FindMissingBlobsRequest) (*repb.FindMissingBlobsResponse, error) {
	digests:= make([]digestutil.Digest, 0, len(req.GetBlobDigests()))
	for _, d:= range req.GetBlobDigests() {
		digests = append(digests, digestutil.FromProto(d))
	}
	missing, err:= s.Store.FilterForMissing(ctx, digests)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "filtering missing blobs: %v", err)
	}
	resp:= &repb.FindMissingBlobsResponse{}
	for _, d:= range missing {
		resp.MissingBlobDigests = append(resp.MissingBlobDigests, d.Proto())
	}
	return resp, nil
}

func (s *GRPCService) BatchUpdateBlobs(ctx context.Context, req *repb.BatchUpdateBlobsRequest) (*repb.BatchUpdateBlobsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "batch blob upload is not supported; use ByteStream.Write")
}

func (s *GRPCService) GetTree(req *repb.GetTreeRequest, srv repb.ContentAddressableStorage_GetTreeServer) error {
	return status.Error(codes.Unimplemented, "GetTree is not supported")
}
