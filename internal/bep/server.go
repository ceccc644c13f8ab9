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

package bep

import (
	"context"
	"io"
	"log"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bazelfe-go/bazelfe/internal/bepproto"
)

// feedBufferSize bounds the per-session channel: ~256 pending events before a publish call fails fast
// with a resource-exhausted status rather than blocking or dropping.
const feedBufferSize = 256

// Session represents one build's worth of BEP traffic: the raw feed, and
// the hydrator + broadcaster derived from it.
type Session struct {
	ID string
	Hydrator *Hydrator
	Broadcaster *Broadcaster
	feed chan Feed
}

// IngestServer implements bepproto.PublishBuildEventServer.
// Exactly one build session is tracked at a time, matching "a given build
// session is single-threaded from the wrapper's perspective" — multiple
// concurrent PublishBuildToolEventStream calls are accepted by gRPC, but
// only the most recently started stream owns the live session; a prior
// stream's stragglers fail cleanly once it's been superseded or completed.
type IngestServer struct {
	mu sync.Mutex
	current *Session
}

func NewIngestServer() *IngestServer {
	return &IngestServer{}
}

// StartSession installs a new current session and returns it for the
// caller (typically the auto-repair driver) to subscribe to before the
// tool subprocess is spawned.
func (s *IngestServer) StartSession(id string) *Session {
	sess:= &Session{
		ID: id,
		Hydrator: NewHydrator(),
		Broadcaster: NewBroadcaster(),
		feed: make(chan Feed, feedBufferSize),
	}
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
	go sess.pump()
	return sess
}

func (s *IngestServer) peek() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// CurrentSession returns the presently active session, or nil if no build
// is in flight. Exported for out-of-package consumers (e.g. the jvm
// indexer) that poll for newly started sessions rather than owning the
// stream themselves.
func (s *IngestServer) CurrentSession() *Session {
	return s.peek()
}

// pump folds every Feed entry through the hydrator and republishes the
// results to the session's broadcaster; it is the hydrator's single
// logical consumer.
func (sess *Session) pump() {
	defer sess.Broadcaster.Close()
	for f:= range sess.feed {
		switch {
		case f.BuildEvent != nil:
			raw, ok:= f.BuildEvent.Event.(*bepproto.Event)
			if !ok || raw == nil {
				continue
			}
			for _, hydrated:= range sess.Hydrator.Fold(*raw) {
				sess.Broadcaster.Publish(hydrated)
			}
		case f.BuildCompleted:
			for _, hydrated:= range sess.Hydrator.Fold(bepproto.Event{BuildFinished: true}) {
				sess.Broadcaster.Publish(hydrated)
			}
			return
		}
	}
}

// PublishLifecycleEvent implements the unary half of the service; lifecycle
// metadata is informational only and is not folded into the session feed.
func (s *IngestServer) PublishLifecycleEvent(ctx context.Context, req *bepproto.PublishLifecycleEventRequest) (*bepproto.Empty, error) {
	log.Printf("bep: lifecycle event kind=%s", req.Event.Kind)
	return &bepproto.Empty{}, nil
}

// PublishBuildToolEventStream implements the bidi-streaming half: it
// acknowledges every inbound message by echoing its sequence number, and
// enqueues the decoded payload onto the current session's bounded channel.
func (s *IngestServer) PublishBuildToolEventStream(stream bepproto.PublishBuildToolEventStreamServer) error {
	sess:= s.peek()
	if sess == nil {
		return status.Error(codes.FailedPrecondition, "no active build session")
	}

	for {
		req, err:= stream.Recv()
		if err == io.EOF {
			s.mu.Lock()
			if s.current == sess {
				s.current = nil
			}
			s.mu.Unlock()
			sess.feed <- Feed{BuildCompleted: true}
			close(sess.feed)
			return nil
		}
		if err != nil {
			return err
		}

		if s.peek() != sess {
			return status.Error(codes.FailedPrecondition, "build session superseded")
		}

		obe:= req.OrderedBuildEvent

		var feedItem Feed
		switch {
		case obe.BazelEvent != nil:
			feedItem = Feed{BuildEvent: &RawEvent{SequenceNumber: obe.SequenceNumber, Event: obe.BazelEvent}}
		case obe.Lifecycle != nil:
			feedItem = Feed{LifecycleData: obe.Lifecycle.Data}
		default:
			continue
		}

		select {
		case sess.feed <- feedItem:
		default:
			return status.Error(codes.ResourceExhausted, "bep ingestion queue is full")
		}

		if err:= stream.Send(&bepproto.PublishBuildToolEventStreamResponse{
			StreamID: obe.StreamID,
			SequenceNumber: obe.SequenceNumber,
		}); err != nil {
			return err
		}
	}
}
