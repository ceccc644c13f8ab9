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
	"strings"

	"github.com/bazelfe-go/bazelfe/internal/bepproto"
)

const ruleKindSuffix = " rule"

// Hydrator folds a stream of raw BEP events into HydratedEvents. It is not safe for concurrent use by multiple goroutines feeding
// events: the channel consumer (Session.pump in server.go) is the single writer, in
// line with "single logical consumer" requirement.
type Hydrator struct {
	fileSets map[string]*bepproto.NamedSetOfFiles
	ruleKind map[string]string
	deferred []*bepproto.TargetCompleted
}

// NewHydrator creates a Hydrator with empty per-build state.
func NewHydrator() *Hydrator {
	return &Hydrator{
		fileSets: make(map[string]*bepproto.NamedSetOfFiles),
		ruleKind: make(map[string]string),
	}
}

// Fold processes one raw event and returns the HydratedEvents it produces
// (zero or more: a NamedSetOfFiles arrival can resolve any number of
// previously deferred TargetCompleted events). Unrecognized event shapes
// are silently dropped.
func (h *Hydrator) Fold(ev bepproto.Event) []HydratedEvent {
	switch {
	case ev.TargetConfigured != nil:
		h.ruleKind[ev.TargetConfigured.Label] = strings.TrimSuffix(ev.TargetConfigured.RuleKind, ruleKindSuffix)
		return nil

	case ev.NamedSetOfFiles != nil:
		h.fileSets[ev.NamedSetOfFiles.ID] = ev.NamedSetOfFiles
		return h.drainDeferred()

	case ev.TargetCompleted != nil:
		if out, ok:= h.hydrateTargetCompleted(ev.TargetCompleted); ok {
			return []HydratedEvent{out}
		}
		h.deferred = append(h.deferred, ev.TargetCompleted)
		return nil

	case ev.ActionCompleted != nil:
		a:= ev.ActionCompleted
		outcome:= &ActionOutcome{
			Label: a.Label,
			Kind: h.ruleKind[a.Label],
			Stdout: a.Stdout,
			Stderr: a.Stderr,
		}
		if a.Success {
			return []HydratedEvent{{ActionSuccess: outcome}}
		}
		return []HydratedEvent{{ActionFailed: outcome}}

	case ev.TestResult != nil:
		t:= ev.TestResult
		return []HydratedEvent{{TestResult: &TestResult{
			Label: t.Label,
			Kind: h.ruleKind[t.Label],
			Summary: t.Status,
		}}}

	case ev.Progress != nil:
		p:= ev.Progress
		if p.Stdout == "" && p.Stderr == "" {
			return nil
		}
		return []HydratedEvent{{Progress: &Progress{Stdout: p.Stdout, Stderr: p.Stderr}}}

	case ev.Aborted != nil:
		a:= ev.Aborted
		return []HydratedEvent{{BazelAbort: &BazelAbort{Label: a.Label, Reason: a.Reason, Description: a.Description}}}

	case ev.BuildFinished:
		h.ruleKind = make(map[string]string)
		return []HydratedEvent{{None: true}}

	default:
		return nil
	}
}

// drainDeferred retries every deferred TargetCompleted event now that a new
// NamedSetOfFiles has arrived, keeping any still-unresolved entries
// deferred.
func (h *Hydrator) drainDeferred() []HydratedEvent {
	if len(h.deferred) == 0 {
		return nil
	}
	pending:= h.deferred
	h.deferred = nil
	var out []HydratedEvent
	for _, tc:= range pending {
		if hydrated, ok:= h.hydrateTargetCompleted(tc); ok {
			out = append(out, hydrated)
		} else {
			h.deferred = append(h.deferred, tc)
		}
	}
	return out
}

// hydrateTargetCompleted attempts to resolve the "default" output group of
// a TargetCompleted event by expanding every referenced file set
// transitively. Returns ok=false if any referenced file-set id hasn't
// arrived yet, in which case the caller must defer the event.
func (h *Hydrator) hydrateTargetCompleted(tc *bepproto.TargetCompleted) (HydratedEvent, bool) {
	var defaultGroup *bepproto.OutputGroup
	for i:= range tc.OutputGroups {
		if tc.OutputGroups[i].Name == "default" {
			defaultGroup = &tc.OutputGroups[i]
			break
		}
	}

	var files []bepproto.File
	if defaultGroup != nil {
		expanded, ok:= h.expandFileSets(defaultGroup.FileSetIDs, make(map[string]bool))
		if !ok {
			return HydratedEvent{}, false
		}
		files = expanded
	}

	return HydratedEvent{TargetComplete: &TargetComplete{
		Label: tc.Label,
		Kind: h.ruleKind[tc.Label],
		Success: tc.Success,
		Aspect: tc.Aspect,
		OutputFiles: files,
	}}, true
}

// expandFileSets recursively resolves a list of file-set ids into the flat
// list of files they (transitively) contain. visited guards against cycles,
// which should not occur in a well-formed BEP stream but must not hang the
// hydrator if they do.
func (h *Hydrator) expandFileSets(ids []string, visited map[string]bool) ([]bepproto.File, bool) {
	var out []bepproto.File
	for _, id:= range ids {
		if visited[id] {
			continue
		}
		visited[id] = true
		set, ok:= h.fileSets[id]
		if !ok {
			return nil, false
		}
		out = append(out, set.Files...)
		children, ok:= h.expandFileSets(set.ChildSetIDs, visited)
		if !ok {
			return nil, false
		}
		out = append(out, children...)
	}
	return out, true
}
