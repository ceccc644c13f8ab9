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

package actioncache

import (
	"context"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bazelfe-go/bazelfe/internal/digestutil"
)

// GRPCService implements repb.ActionCacheServer directly
// against Store.
type GRPCService struct {
	repb.UnimplementedActionCacheServer
	Store *Store
}

func NewGRPCService(store *Store) *GRPCService {
	return &GRPCService{Store: store}
}

func (s *GRPCService) GetActionResult(ctx context.Context, req *repb.GetActionResultRequest) (*repb.ActionResult, error) {
	d:= digestutil.FromProto(req.GetActionDigest())
	result, ok, err:= s.Store.GetActionResult(ctx, d)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "looking up action result for %s: %v", d, err)
	}
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no cached result for action %s", d)
	}
	return result, nil
}

// UpdateActionResult implements the client-facing ActionCache write path.
// Every digest the result references must already be in the CAS (this RPC
// carries no inline blob data), matching put_action_result's "pending"
// parameter being empty here.
func (s *GRPCService) UpdateActionResult(ctx context.Context, req *repb.UpdateActionResultRequest) (*repb.ActionResult, error) {
	if req.GetActionResult() == nil {
		return nil, status.Error(codes.InvalidArgument, "action_result is required")
	}
	d:= digestutil.FromProto(req.GetActionDigest())
	if _, err:= s.Store.PutActionResult(ctx, d, req.GetActionResult(), nil); err != nil {
		return nil, status.Errorf(codes.Internal, "storing action result for %s: %v", d, err)
	}
	return req.GetActionResult(), nil
}
