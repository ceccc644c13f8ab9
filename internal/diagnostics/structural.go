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

package diagnostics

import (
	"regexp"
	"strings"

	"github.com/bazelfe-go/bazelfe/internal/label"
)

// EditProposal is a structural edit a diagnostic rule proposes, prior to
// being applied by the auto-repair driver via the build-file editor.
type EditProposal struct {
	Remove *RemoveDependency
	// RemoveDepsLike asks the caller to remove every dependency whose
	// string contains the given package path, rather than naming one
	// dependency directly.
	RemoveDepsLike *RemoveDepsLike
}

type RemoveDependency struct {
	Target string
	Dependency string
	Reason string
}

type RemoveDepsLike struct {
	Target string
	PackagePath string
	Reason string
}

var (
	targetDoesNotExist = regexp.MustCompile(`in deps attribute of.* rule ([^:]+:[^:]+): target '([^']+)' does not exist`)
	notVisible = regexp.MustCompile(`in.* rule ([^:]+:[^:]+): target '([^']+)' is not visible from target`)

	targetNotInPackageDidYouMean = regexp.MustCompile(`no such target '([^']+)': target '[^']+' not declared in package '[^']+'.*did you mean.*referenced by '([^']+)'`)
	targetNotInPackageNoSuggest = regexp.MustCompile(`no such target '([^']+)': target '[^']+' not declared in package '[^']+'.*referenced by '([^']+)'`)
	targetNotInPackageGeneric = regexp.MustCompile(`target '([^']+)' not declared in package.*referenced by '([^']+)'`)

	noSuchPackage = regexp.MustCompile(`no such package '([^']+)': BUILD file not found`)
	referencedBy = regexp.MustCompile(`referenced by '([^']+)'`)

	cycleLine = regexp.MustCompile(`^\s*[.\|` + "`" + `][-> ]*\s*(//\S+)\s*$`)
)

// FromAbort derives structural edits from a BazelAbort event. Only the
// AnalysisFailure reason is handled for the "does not exist" rule; other
// abort reasons are intentionally left unhandled.
func FromAbort(reason, description string) []EditProposal {
	if reason != "AnalysisFailure" {
		return nil
	}
	if m:= targetDoesNotExist.FindStringSubmatch(description); m != nil {
		return []EditProposal{{Remove: &RemoveDependency{
			Target: label.Sanitize(m[1]),
			Dependency: label.Sanitize(m[2]),
			Reason: "dependency target does not exist",
		}}}
	}
	if m:= notVisible.FindStringSubmatch(description); m != nil {
		return []EditProposal{{Remove: &RemoveDependency{
			Target: label.Sanitize(m[1]),
			Dependency: label.Sanitize(m[2]),
			Reason: "dependency target is not visible",
		}}}
	}
	return nil
}

// FromProgress derives structural edits from progress text: the three
// "target not in package" variants and the "no such package" two-line
// pattern. text is the full captured Progress.stderr for one event;
// callers may invoke this per-event rather than per-line since the
// no-such-package rule spans multiple lines.
func FromProgress(text string) []EditProposal {
	var out []EditProposal
	out = append(out, fromTargetNotInPackage(text)...)
	out = append(out, fromNoSuchPackage(text)...)
	return out
}

func fromTargetNotInPackage(text string) []EditProposal {
	for _, re:= range []*regexp.Regexp{targetNotInPackageDidYouMean, targetNotInPackageNoSuggest, targetNotInPackageGeneric} {
		if m:= re.FindStringSubmatch(text); m != nil {
			return []EditProposal{{Remove: &RemoveDependency{
				Target: label.Sanitize(m[2]),
				Dependency: label.Sanitize(m[1]),
				Reason: "target not declared in package",
			}}}
		}
	}
	return nil
}

func fromNoSuchPackage(text string) []EditProposal {
	m:= noSuchPackage.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	ref:= referencedBy.FindStringSubmatch(text)
	if ref == nil {
		return nil
	}
	return []EditProposal{{RemoveDepsLike: &RemoveDepsLike{
		Target: label.Sanitize(ref[1]),
		PackagePath: m[1],
		Reason: "no such package: BUILD file not found",
	}}}
}

// FromCycle implements the cycle-unwinding rule: a multi-line block
// bounded by ".->", "|", and "`--" markers pairing successive labels. For
// each pair (A, B) where a prior ignore-list for A already contains B, it
// proposes removing B from A (undoing the addition that most recently
// caused the cycle). priorIgnoreList maps a target to the set of
// dependencies it has previously been told to avoid.
func FromCycle(text string, priorIgnoreList func(target string) map[string]bool) []EditProposal {
	var labels []string
	for _, line:= range strings.Split(text, "\n") {
		if m:= cycleLine.FindStringSubmatch(line); m != nil {
			labels = append(labels, label.Sanitize(m[1]))
		}
	}
	var out []EditProposal
	for i:= 0; i+1 < len(labels); i++ {
		a, b:= labels[i], labels[i+1]
		ignored:= priorIgnoreList(a)
		if ignored != nil && ignored[b] {
			out = append(out, EditProposal{Remove: &RemoveDependency{
				Target: a,
				Dependency: b,
				Reason: "cycle in dependency graph: unwinding prior addition",
			}})
		}
	}
	return out
}
