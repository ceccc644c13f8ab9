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

// Package diagnostics implements the failure diagnostics family: pattern matchers turning captured action output and abort/progress
// text into edit proposals or missing-symbol requests.
package diagnostics

import (
	"cmp"
	"slices"
	"strings"
)

// ActionRequest is "the source appears to need a dependency" signal a
// per-language parser emits from compiler error output.
type ActionRequest struct {
	// Exactly one of Prefix/Suffix is non-empty.
	ClassName string // Prefix form: fully-qualified class/symbol name
	ExactOnly bool // Prefix form: don't fall back to guessed targets
	Suffix string // Suffix form: match any provided class-name ending in this
	Priority int
	SrcFn string // identifies which parser/rule produced this request
}

func (r ActionRequest) isSuffix() bool { return r.Suffix != "" }

// parentPrefixOffset and parentPrefixStep set the priority arithmetic for
// the expansion chain: the first parent prefix gets priority -50 (not
// relative to the request's own priority) and each further level one less.
const (
	parentPrefixOffset = -50
	parentPrefixStep = -1
)

// ExpandPrefixChain generates the descending chain of parent prefixes for a
// non-exact Prefix request: com.example.foo.Bar -> com.example.foo (at
// priority -50), then com.example (at priority -51), stopping before
// a single-label prefix (never below "com|net|org.<x>", i.e. at least 2
// dot-separated segments remain).
func ExpandPrefixChain(req ActionRequest) []ActionRequest {
	if req.isSuffix() || req.ExactOnly {
		return []ActionRequest{req}
	}
	out:= []ActionRequest{req}
	segments:= strings.Split(req.ClassName, ".")
	priority:= parentPrefixOffset
	for len(segments) > 2 {
		segments = segments[:len(segments)-1]
		out = append(out, ActionRequest{
			ClassName: strings.Join(segments, "."),
			ExactOnly: false,
			Priority: priority,
			SrcFn: req.SrcFn,
		})
		priority += parentPrefixStep
	}
	return out
}

// ExpandAndDedup applies ExpandPrefixChain to every request, subsuming
// less-specific prefixes that duplicate a more specific one (keeping the
// highest priority seen for each key), and returns the result sorted by
// priority descending.
func ExpandAndDedup(requests []ActionRequest) []ActionRequest {
	type key struct {
		className string
		suffix string
	}
	best:= make(map[key]ActionRequest)
	var order []key
	for _, req:= range requests {
		for _, expanded:= range ExpandPrefixChain(req) {
			k:= key{className: expanded.ClassName, suffix: expanded.Suffix}
			existing, ok:= best[k]
			if !ok {
				order = append(order, k)
				best[k] = expanded
				continue
			}
			if expanded.Priority > existing.Priority {
				best[k] = expanded
			} else if expanded.Priority == existing.Priority && expanded.ExactOnly && !existing.ExactOnly {
				best[k] = expanded
			}
		}
	}
	out:= make([]ActionRequest, 0, len(order))
	for _, k:= range order {
		out = append(out, best[k])
	}
	slices.SortStableFunc(out, func(a, b ActionRequest) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	return out
}
