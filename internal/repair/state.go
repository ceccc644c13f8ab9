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

package repair

import "sync"

// Story is one entry in the append-only per-build ledger: {target, when,
// action}. "when" is the epoch the action happened in, not a wall-clock
// timestamp, so the ledger stays deterministic across replays.
type Story struct {
	Target string
	Epoch int
	Action StoryAction
}

// StoryAction is one of five variants. Exactly one field is populated.
type StoryAction struct {
	AddedDependency *WhatWhy
	RemovedDependency *WhatWhy
	WouldHaveAdded *WhatWhy
	RanUserAction *RanUserAction
	Success bool
}

type WhatWhy struct {
	What string
	Why string
}

type RanUserAction struct {
	Name string
	Why string
	Command string
	Result string
}

// Ledger accumulates stories across an entire repair session (not reset
// between retry iterations within the same session, step 3).
type Ledger struct {
	mu sync.Mutex
	entries []Story
}

func (l *Ledger) record(target string, epoch int, action StoryAction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Story{Target: target, Epoch: epoch, Action: action})
}

func (l *Ledger) Entries() []Story {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Story(nil), l.entries...)
}

// targetState is the per-target bookkeeping the missing-dependency
// processor needs across requests within one action-failure pass: which
// dependency (if any) was chosen for each request key, so a failed guess
// can be backed out before the next candidate is tried.
type targetState struct {
	mu sync.Mutex
	chosenByReq map[string]string // request key -> dependency label currently applied
	ignoreDeps map[string]bool // ignore_dep_references for this target
	proposedKeys map[string]bool // class-prefix keys already proposed in this build
}

func newTargetState() *targetState {
	return &targetState{
		chosenByReq: make(map[string]string),
		ignoreDeps: make(map[string]bool),
		proposedKeys: make(map[string]bool),
	}
}

// session holds cross-build-wide state for one repair invocation: per-target
// state, the global previous-seen set (to avoid mutual repair loops across
// different targets), and the story ledger.
type session struct {
	mu sync.Mutex
	targets map[string]*targetState
	previousSeen map[string]bool
	Ledger *Ledger
}

func newSession() *session {
	return &session{
		targets: make(map[string]*targetState),
		previousSeen: make(map[string]bool),
		Ledger: &Ledger{},
	}
}

func (s *session) stateFor(target string) *targetState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok:= s.targets[target]
	if !ok {
		st = newTargetState()
		s.targets[target] = st
	}
	return st
}

func (s *session) markSeen(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previousSeen[target] = true
}

func (s *session) seen(target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previousSeen[target]
}
