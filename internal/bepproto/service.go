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

package bepproto

import (
	"context"

	"google.golang.org/grpc"
)

// PublishBuildToolEventStreamServer is the bidi-streaming half of the
// PublishBuildEvent service, shaped like the server-side
// stream protoc-gen-go-grpc would emit.
type PublishBuildToolEventStreamServer interface {
	Send(*PublishBuildToolEventStreamResponse) error
	Recv() (*PublishBuildToolEventStreamRequest, error)
	grpc.ServerStream
}

// PublishBuildEventServer is the service interface BEP ingestion implements.
type PublishBuildEventServer interface {
	PublishLifecycleEvent(context.Context, *PublishLifecycleEventRequest) (*Empty, error)
	PublishBuildToolEventStream(PublishBuildToolEventStreamServer) error
}

// Empty mirrors google.protobuf.Empty without pulling in the wider
// well-known-types package for a single zero-field message.
type Empty struct{}

type publishBuildToolEventStreamServer struct {
	grpc.ServerStream
}

func (s *publishBuildToolEventStreamServer) Send(m *PublishBuildToolEventStreamResponse) error {
	return s.ServerStream.SendMsg(m)
}

func (s *publishBuildToolEventStreamServer) Recv() (*PublishBuildToolEventStreamRequest, error) {
	m:= new(PublishBuildToolEventStreamRequest)
	if err:= s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func publishLifecycleEventHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in:= new(PublishLifecycleEventRequest)
	if err:= dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PublishBuildEventServer).PublishLifecycleEvent(ctx, in)
	}
	info:= &grpc.UnaryServerInfo{Server: srv, FullMethod: "/google.devtools.build.v1.PublishBuildEvent/PublishLifecycleEvent"}
	handler:= func(ctx context.Context, req any) (any, error) {
		return srv.(PublishBuildEventServer).PublishLifecycleEvent(ctx, req.(*PublishLifecycleEventRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func publishBuildToolEventStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(PublishBuildEventServer).PublishBuildToolEventStream(&publishBuildToolEventStreamServer{stream})
}

// ServiceDesc mirrors the table protoc-gen-go-grpc generates from the
// PublishBuildEvent service definition.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "google.devtools.build.v1.PublishBuildEvent",
	HandlerType: (*PublishBuildEventServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PublishLifecycleEvent", Handler: publishLifecycleEventHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "PublishBuildToolEventStream",
			Handler: publishBuildToolEventStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "bazelfe/bep.proto",
}

// RegisterPublishBuildEventServer registers an implementation with a gRPC
// server, mirroring the generated Register<Service>Server function.
func RegisterPublishBuildEventServer(s grpc.ServiceRegistrar, srv PublishBuildEventServer) {
	s.RegisterService(&ServiceDesc, srv)
}
