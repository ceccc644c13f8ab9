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

// Package bep implements the BEP ingestion service and the
// event hydrator: a streaming fold that turns raw Build
// Event Protocol messages into typed per-target outcomes.
package bep

import "github.com/bazelfe-go/bazelfe/internal/bepproto"

// HydratedEvent is the sum type the hydrator emits. Exactly one field is
// non-nil, except for None which carries no payload and marks a build's
// completion.
type HydratedEvent struct {
	ActionSuccess *ActionOutcome
	ActionFailed *ActionOutcome
	TestResult *TestResult
	TargetComplete *TargetComplete
	Progress *Progress
	BazelAbort *BazelAbort
	None bool
}

// ActionOutcome backs both ActionSuccess and ActionFailed.
type ActionOutcome struct {
	Label string
	Kind string // rule kind, if known; "" otherwise
	Stdout *bepproto.File
	Stderr *bepproto.File
}

type TestResult struct {
	Label string
	Kind string
	Summary string // e.g. "PASSED", "FAILED", "FLAKY"
}

type TargetComplete struct {
	Label string
	Kind string
	Success bool
	Aspect string
	OutputFiles []bepproto.File
}

type Progress struct {
	Stdout string
	Stderr string
}

type BazelAbort struct {
	Label string
	Reason string
	Description string
}
