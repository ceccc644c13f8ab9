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

// Package label implements the canonical Bazel label normalization used
// throughout the BEP hydration and auto-repair engine. Labels surfaced from
// compiler diagnostics are frequently produced by macros and need
// sanitizing before they can be compared, inserted into the candidate index,
// or handed to the build-file editor.
package label

import (
	"path"
	"strings"

	bzllabel "github.com/bazelbuild/bazel-gazelle/label"
)

// autoGenMarker is the suffix Bazel macros commonly append to generated
// target names (e.g. scalafmt, proto codegen shims). Anything from this
// marker onwards is considered synthetic and is dropped during
// normalization so that repair decisions are made against the
// user-authored target, not a macro-generated alias of it.
const autoGenMarker = "_auto_gen_"

// Sanitize normalizes a raw target label string as printed by Bazel
// diagnostics: it strips any auto-generated macro suffix from the target
// name, and if no ":" is present it appends ":<basename>" so the label is
// always a complete "//pkg:name" form.
//
// See original_source/bazelfe-core/src/label_utils/mod.rs (sanitize_label)
// for the exact behavior this reproduces.
func Sanitize(raw string) string {
	pkgPart, namePart, hasColon:= strings.Cut(raw, ":")
	if !hasColon {
		pkgPart = raw
		namePart = path.Base(raw)
	}
	if idx:= strings.Index(namePart, autoGenMarker); idx >= 0 {
		namePart = namePart[:idx]
	}
	return pkgPart + ":" + namePart
}

// Parse parses a sanitized label string into bazel-gazelle's Label type,
// which is reused here (rather than reinventing label parsing) for its
// well-tested handling of repository and relative-package forms.
func Parse(raw string) (bzllabel.Label, error) {
	return bzllabel.Parse(Sanitize(raw))
}

// PackagePath returns the slash-separated package directory a label lives
// in, e.g. "a/b/c" for "//a/b/c:x".
func PackagePath(l bzllabel.Label) string {
	return l.Pkg
}
