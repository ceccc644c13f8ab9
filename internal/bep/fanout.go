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

import "sync"

// Feed is the three-variant channel payload: a decoded BuildEvent, an
// opaque LifecycleEvent, or the BuildCompleted sentinel emitted exactly
// once when a stream closes normally.
type Feed struct {
	BuildEvent *RawEvent
	LifecycleData []byte
	BuildCompleted bool
}

// RawEvent pairs a decoded BEP event with the sequence number it arrived
// under, so subscribers that need ordering diagnostics can see it without
// threading it through the hydrator.
type RawEvent struct {
	SequenceNumber int64
	Event any // *bepproto.Event
}

// Broadcaster fans a single build session's Feed out to multiple
// subscribers. Both the auto-repair driver and the jvm indexer consume the
// same hydrated stream, so the hydrator's output is broadcast rather than
// delivered to a single consumer.
type Broadcaster struct {
	mu sync.Mutex
	subs []chan HydratedEvent
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe registers a new consumer and returns a channel it should drain.
// The channel is closed when Close is called.
func (b *Broadcaster) Subscribe(buffer int) <-chan HydratedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch:= make(chan HydratedEvent, buffer)
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers ev to every current subscriber. A slow subscriber whose
// channel is full blocks the publisher; callers that can't tolerate that
// should size their buffer generously or drain promptly.
func (b *Broadcaster) Publish(ev HydratedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch:= range b.subs {
		ch <- ev
	}
}

// Close closes every subscriber channel. Publish must not be called after
// Close.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch:= range b.subs {
		close(ch)
	}
	b.subs = nil
}
