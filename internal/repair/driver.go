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

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bazelfe-go/bazelfe/internal/bep"
	"github.com/bazelfe-go/bazelfe/internal/bepproto"
	"github.com/bazelfe-go/bazelfe/internal/buildfile"
	"github.com/bazelfe-go/bazelfe/internal/candidateindex"
	"github.com/bazelfe-go/bazelfe/internal/collections"
	"github.com/bazelfe-go/bazelfe/internal/diagnostics"
)

// Editor is the subset of *buildfile.Editor the repair driver depends on,
// narrowed to an interface so tests can substitute a fake collaborator.
type Editor interface {
	PrintDeps(ctx context.Context, target string) ([]string, error)
	AddDependency(ctx context.Context, target, dep string) error
	RemoveDependency(ctx context.Context, target, dep string) error
	RemoveDependenciesLike(ctx context.Context, target, substr string) ([]string, error)
}

var _ Editor = (*buildfile.Editor)(nil)

// Index is the subset of *candidateindex.Table the driver reads candidates
// from.
type Index interface {
	LookupSuffix(suffix string) []candidateindex.Candidate
	LookupOrGuess(className string, exactOnly bool) []candidateindex.Candidate
}

var _ Index = (*candidateindex.Table)(nil)

// UserAction is one operator-supplied {name, active_rule_kinds, regex,
// run_on_success, template} tuple.
type UserAction struct {
	Name string
	ActiveRuleKinds []string
	Regex *regexp.Regexp
	RunOnSuccess bool
	Template string
}

func (a UserAction) appliesTo(ruleKind string) bool {
	if len(a.ActiveRuleKinds) == 0 {
		return true
	}
	for _, k:= range a.ActiveRuleKinds {
		if k == ruleKind {
			return true
		}
	}
	return false
}

// ShellRunner executes a formatted user-action command and returns its
// combined output.
type ShellRunner func(ctx context.Context, command string) (string, error)

// MaxAdditionsPerPass caps how many dependencies one action-failure pass
// may add.
const MaxAdditionsPerPass = 5

// HasBuildFileFunc probes whether a package directory has a BUILD file on
// disk.
type HasBuildFileFunc func(repoRoot, pkgPath string) bool

// Driver implements the auto-repair processors. One Driver is built per
// repair invocation and handles every hydrated event the build produces
// across all retry attempts.
type Driver struct {
	Editor Editor
	Index Index
	Forbidden *ForbiddenTable
	UserActions []UserAction
	Shell ShellRunner
	RepoRoot string
	HasBuildFile HasBuildFileFunc

	sess *session

	kindsMu sync.Mutex
	kinds map[string]string // target -> last-known rule kind
}

// NewDriver wires a Driver with its collaborators. forbidden may be nil to
// use no restrictions beyond the built-in defaults callers pass explicitly.
func NewDriver(editor Editor, index Index, forbidden *ForbiddenTable, repoRoot string) *Driver {
	return &Driver{
		Editor: editor,
		Index: index,
		Forbidden: forbidden,
		Shell: defaultShellRunner,
		RepoRoot: repoRoot,
		HasBuildFile: buildfile.HasBuildFile,
		sess: newSession(),
		kinds: make(map[string]string),
	}
}

// Ledger returns the accumulated story ledger for this driver's session.
func (d *Driver) Ledger() []Story { return d.sess.Ledger.Entries() }

func (d *Driver) rememberKind(target, kind string) {
	if target == "" || kind == "" {
		return
	}
	d.kindsMu.Lock()
	d.kinds[target] = kind
	d.kindsMu.Unlock()
}

func (d *Driver) ruleKind(target string) string {
	d.kindsMu.Lock()
	defer d.kindsMu.Unlock()
	return d.kinds[target]
}

// HandleEvent dispatches one hydrated event to the relevant processors in
// parallel. epoch is the current retry attempt's
// monotonic counter, recorded on every story this event produces.
func (d *Driver) HandleEvent(ctx context.Context, epoch int, ev bep.HydratedEvent) error {
	g, ctx:= errgroup.WithContext(ctx)

	switch {
	case ev.ActionFailed != nil:
		outcome:= *ev.ActionFailed
		d.rememberKind(outcome.Label, outcome.Kind)
		g.Go(func() error { return d.processMissingDependency(ctx, epoch, outcome) })
		g.Go(func() error { return d.processUserActions(ctx, epoch, outcome.Label, outcome.Kind, false, outcome) })
	case ev.ActionSuccess != nil:
		outcome:= *ev.ActionSuccess
		d.rememberKind(outcome.Label, outcome.Kind)
		g.Go(func() error { return d.processUserActions(ctx, epoch, outcome.Label, outcome.Kind, true, outcome) })
	case ev.BazelAbort != nil:
		abort:= *ev.BazelAbort
		g.Go(func() error { return d.processAbort(ctx, epoch, abort) })
	case ev.Progress != nil:
		progress:= *ev.Progress
		g.Go(func() error { return d.processProgress(ctx, epoch, progress) })
	case ev.TargetComplete != nil:
		tc:= *ev.TargetComplete
		d.rememberKind(tc.Label, tc.Kind)
		if tc.Success {
			d.sess.Ledger.record(tc.Label, epoch, StoryAction{Success: true})
		}
	}

	return g.Wait()
}

func defaultShellRunner(ctx context.Context, command string) (string, error) {
	cmd:= exec.CommandContext(ctx, "sh", "-c", command)
	out, err:= cmd.CombinedOutput()
	return string(out), err
}

func requestKey(req diagnostics.ActionRequest) string {
	if req.Suffix != "" {
		return "suffix:" + req.Suffix
	}
	return "prefix:" + req.ClassName
}

// processMissingDependency implements "Missing-dependency
// processing".
func (d *Driver) processMissingDependency(ctx context.Context, epoch int, outcome bep.ActionOutcome) error {
	target:= outcome.Label
	if target == "" {
		return nil
	}
	st:= d.sess.stateFor(target)
	d.sess.markSeen(target)

	currentDeps, err:= d.Editor.PrintDeps(ctx, target)
	if err != nil {
		return fmt.Errorf("printing deps for %s: %w", target, err)
	}

	st.mu.Lock()
	for _, dep:= range currentDeps {
		st.ignoreDeps[dep] = true
	}
	st.ignoreDeps[target] = true
	ignoreSnapshot:= make(map[string]bool, len(st.ignoreDeps))
	for k:= range st.ignoreDeps {
		ignoreSnapshot[k] = true
	}
	st.mu.Unlock()

	var requests []diagnostics.ActionRequest
	requests = append(requests, diagnostics.ScalaRequests(fileText(outcome.Stderr))...)
	requests = append(requests, diagnostics.JavaRequests(fileText(outcome.Stderr))...)
	requests = append(requests, diagnostics.ScalaRequests(fileText(outcome.Stdout))...)
	requests = append(requests, diagnostics.JavaRequests(fileText(outcome.Stdout))...)
	if len(requests) == 0 {
		return nil
	}

	expanded:= diagnostics.ExpandAndDedup(requests)
	additions:= 0
	currentDepsSet:= collections.ToSet(currentDeps)

	for _, req:= range expanded {
		key:= requestKey(req)

		st.mu.Lock()
		alreadyProposed:= st.proposedKeys[key]
		st.proposedKeys[key] = true
		priorChoice:= st.chosenByReq[key]
		st.mu.Unlock()
		if alreadyProposed {
			continue
		}

		if priorChoice != "" && currentDepsSet.Contains(priorChoice) {
			if err:= d.Editor.RemoveDependency(ctx, target, priorChoice); err != nil {
				return fmt.Errorf("backtracking %s from %s: %w", priorChoice, target, err)
			}
			d.sess.Ledger.record(target, epoch, StoryAction{RemovedDependency: &WhatWhy{
				What: priorChoice,
				Why: "backtracking a previous guess for " + key,
			}})
			delete(currentDepsSet, priorChoice)
		}

		var candidates []candidateindex.Candidate
		if req.Suffix != "" {
			candidates = d.Index.LookupSuffix(req.Suffix)
		} else {
			candidates = d.Index.LookupOrGuess(req.ClassName, req.ExactOnly)
		}

		kind:= d.ruleKind(target)
		var chosen string
		for _, c:= range candidates {
			if ignoreSnapshot[c.Target] {
				continue
			}
			if c.Target == target {
				continue
			}
			if !d.potentiallyValid(kind, c.Target) {
				continue
			}
			chosen = c.Target
			break
		}
		if chosen == "" {
			continue
		}

		if additions >= MaxAdditionsPerPass {
			d.sess.Ledger.record(target, epoch, StoryAction{WouldHaveAdded: &WhatWhy{
				What: chosen,
				Why: "five-addition cap reached for this action-failure pass",
			}})
			continue
		}

		if err:= d.Editor.AddDependency(ctx, target, chosen); err != nil {
			return fmt.Errorf("adding %s to %s: %w", chosen, target, err)
		}
		d.sess.Ledger.record(target, epoch, StoryAction{AddedDependency: &WhatWhy{
			What: chosen,
			Why: fmt.Sprintf("resolves missing-symbol request %s", key),
		}})
		st.mu.Lock()
		st.chosenByReq[key] = chosen
		st.mu.Unlock()
		currentDepsSet.Add(chosen)
		additions++
	}
	return nil
}

// potentiallyValid reports whether dep is a usable candidate: not in the
// forbidden set for the rule kind, and (if in-repo) backed by an on-disk
// BUILD file.
func (d *Driver) potentiallyValid(ruleKind, dep string) bool {
	if d.Forbidden.Forbidden(ruleKind, dep) {
		return false
	}
	if !strings.HasPrefix(dep, "//") {
		return true
	}
	colon:= strings.IndexByte(dep, ':')
	pkgPath:= dep[2:]
	if colon >= 0 {
		pkgPath = dep[2:colon]
	}
	if d.HasBuildFile == nil {
		return true
	}
	return d.HasBuildFile(d.RepoRoot, pkgPath)
}

// processAbort implements "Build-abort processing".
func (d *Driver) processAbort(ctx context.Context, epoch int, abort bep.BazelAbort) error {
	for _, edit:= range diagnostics.FromAbort(abort.Reason, abort.Description) {
		if err:= d.applyEdit(ctx, epoch, edit); err != nil {
			return err
		}
	}
	return nil
}

// processProgress applies the progress-text structural edits, including
// the cycle-unwinding rule, which needs each target's current ignore list.
func (d *Driver) processProgress(ctx context.Context, epoch int, progress bep.Progress) error {
	text:= progress.Stderr
	for _, edit:= range diagnostics.FromProgress(text) {
		if err:= d.applyEdit(ctx, epoch, edit); err != nil {
			return err
		}
	}
	for _, edit:= range diagnostics.FromCycle(text, d.priorIgnoreList) {
		if err:= d.applyEdit(ctx, epoch, edit); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) priorIgnoreList(target string) map[string]bool {
	st:= d.sess.stateFor(target)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.ignoreDeps
}

func (d *Driver) applyEdit(ctx context.Context, epoch int, edit diagnostics.EditProposal) error {
	switch {
	case edit.Remove != nil:
		r:= edit.Remove
		if err:= d.Editor.RemoveDependency(ctx, r.Target, r.Dependency); err != nil {
			return fmt.Errorf("removing %s from %s: %w", r.Dependency, r.Target, err)
		}
		d.sess.Ledger.record(r.Target, epoch, StoryAction{RemovedDependency: &WhatWhy{What: r.Dependency, Why: r.Reason}})
	case edit.RemoveDepsLike != nil:
		r:= edit.RemoveDepsLike
		removed, err:= d.Editor.RemoveDependenciesLike(ctx, r.Target, r.PackagePath)
		if err != nil {
			return fmt.Errorf("removing deps like %s from %s: %w", r.PackagePath, r.Target, err)
		}
		for _, dep:= range removed {
			d.sess.Ledger.record(r.Target, epoch, StoryAction{RemovedDependency: &WhatWhy{What: dep, Why: r.Reason}})
		}
	}
	return nil
}

// processUserActions implements "User-defined-action
// processing".
func (d *Driver) processUserActions(ctx context.Context, epoch int, target, ruleKind string, success bool, outcome bep.ActionOutcome) error {
	if len(d.UserActions) == 0 {
		return nil
	}
	if !success {
		// always eligible for run_on_success == false actions
	} else if !anyRunsOnSuccess(d.UserActions) {
		return nil
	}

	text:= fileText(outcome.Stdout) + "\n" + fileText(outcome.Stderr)
	for _, action:= range d.UserActions {
		if success && !action.RunOnSuccess {
			continue
		}
		if !action.appliesTo(ruleKind) {
			continue
		}
		if action.Regex == nil {
			continue
		}
		for _, line:= range strings.Split(text, "\n") {
			m:= action.Regex.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			command:= formatTemplate(action.Template, m)
			result, err:= d.Shell(ctx, command)
			if err != nil {
				result = fmt.Sprintf("error: %v", err)
			}
			d.sess.Ledger.record(target, epoch, StoryAction{RanUserAction: &RanUserAction{
				Name: action.Name,
				Why: "matched " + action.Regex.String(),
				Command: command,
				Result: result,
			}})
		}
	}
	return nil
}

func anyRunsOnSuccess(actions []UserAction) bool {
	for _, a:= range actions {
		if a.RunOnSuccess {
			return true
		}
	}
	return false
}

var templatePlaceholder = regexp.MustCompile(`\{(\d+)\}`)

// formatTemplate substitutes curly-brace positional placeholders ({0},
// {1}, ...) with regex capture groups, where {0} is the whole match.
func formatTemplate(template string, groups []string) string {
	return templatePlaceholder.ReplaceAllStringFunc(template, func(ph string) string {
		idxStr:= templatePlaceholder.FindStringSubmatch(ph)[1]
		idx, err:= strconv.Atoi(idxStr)
		if err != nil || idx >= len(groups) {
			return ph
		}
		return groups[idx]
	})
}

func fileText(f *bepproto.File) string {
	if f == nil || !f.HasContents {
		return ""
	}
	return string(f.Contents)
}
