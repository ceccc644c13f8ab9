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

// Package repair implements the auto-repair driver: it dispatches hydrated
// events to the missing-dependency, build-abort and user-defined-action
// processors and applies edits through the build-file editor. The bounded
// retry loop that spawns the build tool lives in cmd/bazel-wrapper.
package repair

import "strings"

// ForbiddenTable is the per-rule-kind forbidden-dependency set. It's
// config, not a constant: the operator may extend or override it, so it's
// a value threaded through the Driver rather than a package-level map.
type ForbiddenTable struct {
	// byRuleKind maps a rule kind to the set of dependency labels (or
	// label substrings) that rule kind implicitly provides and must never
	// be added as an explicit dependency.
	byRuleKind map[string][]string
}

// DefaultForbiddenTable returns the built-in forbidden set:
// scala_library implicitly provides the Scala standard library.
func DefaultForbiddenTable() *ForbiddenTable {
	return &ForbiddenTable{
		byRuleKind: map[string][]string{
			"scala_library": {"//3rdparty/jvm/org/scala-lang:scala_library"},
			"scala_test": {"//3rdparty/jvm/org/scala-lang:scala_library"},
		},
	}
}

// Forbidden reports whether dep is forbidden for a target of the given
// rule kind.
func (f *ForbiddenTable) Forbidden(ruleKind, dep string) bool {
	if f == nil {
		return false
	}
	for _, forbidden:= range f.byRuleKind[ruleKind] {
		if dep == forbidden || strings.Contains(dep, forbidden) {
			return true
		}
	}
	return false
}

// Set replaces (or adds) the forbidden list for a rule kind, letting an
// operator's configuration extend the defaults.
func (f *ForbiddenTable) Set(ruleKind string, deps []string) {
	if f.byRuleKind == nil {
		f.byRuleKind = make(map[string][]string)
	}
	f.byRuleKind[ruleKind] = deps
}
