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

package candidateindex

import "strings"

// SourceRoots are the recognized source-root directories guesses are
// anchored at, in preference order. "src/main/scala" comes first because
// the original tool was primarily used on Scala/Java monorepos.
var SourceRoots = []string{"src/main/scala", "src/main/java"}

// GuessTargets implements the guess-fallback policy: for a class name
// "a.b.c.Name", drop the final segment, replace dots with slashes, prepend
// each recognized source root, and use the last directory as the target
// name. Guesses always carry priority zero.
func GuessTargets(className string) []Candidate {
	segments:= strings.Split(className, ".")
	if len(segments) < 2 {
		return nil
	}
	pkgSegments:= segments[:len(segments)-1]
	pkgPath:= strings.Join(pkgSegments, "/")
	targetName:= pkgSegments[len(pkgSegments)-1]

	out:= make([]Candidate, 0, len(SourceRoots))
	for _, root:= range SourceRoots {
		out = append(out, Candidate{
			Target: "//" + root + "/" + pkgPath + ":" + targetName,
			Priority: 0,
		})
	}
	return out
}

// LookupOrGuess implements the full Prefix-request resolution: if the
// exact key has entries, return them; otherwise, unless the request is
// exact_only, synthesize guesses.
func (t *Table) LookupOrGuess(className string, exactOnly bool) []Candidate {
	if found:= t.Lookup(className); len(found) > 0 {
		return found
	}
	if exactOnly {
		return nil
	}
	return GuessTargets(className)
}
