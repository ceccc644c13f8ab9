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

package bazelproc

import (
	"strconv"
	"strings"
)

// ActionOption is one entry in the deduplicated option sequence the option
// catalog generator emits for a given action.
type ActionOption struct {
	Name string
	TakesValue bool
}

// Catalog is the option catalog consumed by Parse: for each known verb,
// which options it accepts. Generating this catalog from `<tool> help` /
// `<tool> help <verb> --short` is explicitly out of scope; the
// catalog itself is just data here, normally loaded from the on-disk
// format the generator produces.
type Catalog struct {
	// Verbs maps a lowercase raw verb ("build", "analyze-profile") to its
	// CamelCase enum name ("Build", "AnalyzeProfile").
	Verbs map[string]string
	// CustomVerbs names operator-defined verbs dispatched to a collaborator
	// (e.g. "test_file", "build_file") rather than passed straight through.
	CustomVerbs map[string]bool
	// Options maps an action's enum name to its permitted option set. The
	// generator's on-disk format references options by a per-action
	// integer index; this in-memory catalog simplifies that to a direct
	// name->option map since the index indirection is just an on-disk
	// compaction detail.
	Options map[string][]ActionOption
	// StartupOptions is the deduplicated startup option sequence.
	StartupOptions []ActionOption
}

func (c *Catalog) resolveAction(verb string) Action {
	if c == nil {
		return Action{Kind: ActionBuiltIn, Name: toCamelCase(verb)}
	}
	if c.CustomVerbs[verb] {
		return Action{Kind: ActionCustom, Name: verb}
	}
	if name, ok:= c.Verbs[verb]; ok {
		return Action{Kind: ActionBuiltIn, Name: name}
	}
	return Action{Kind: ActionBuiltIn, Name: toCamelCase(verb)}
}

func (c *Catalog) lookupOption(action Action, name string) *ActionOption {
	if c == nil {
		return nil
	}
	for _, opt:= range c.Options[action.Name] {
		if opt.Name == name {
			o:= opt
			return &o
		}
	}
	return nil
}

// toCamelCase converts a raw verb like "analyze-profile" into the enum
// name "AnalyzeProfile".
func toCamelCase(verb string) string {
	parts:= strings.Split(verb, "-")
	var b strings.Builder
	for _, p:= range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// InjectedFlags are appended to every tool invocation unless the user
// already set them. color=yes is injected whether or not a terminal is
// attached, so passthrough output stays colorized; like the other flags it
// is skipped when the user already passed --color.
func InjectedFlags(besPort int) []string {
	return []string{
		fmtBesBackend(besPort),
		"--bes_timeout=300000ms",
		"--legacy_important_outputs=false",
		"--experimental_build_event_upload_strategy=local",
		"--build_event_text_file_path_conversion=true",
		"--color=yes",
	}
}

func fmtBesBackend(port int) string {
	return "--bes_backend=grpc://127.0.0.1:" + strconv.Itoa(port)
}

// MergeInjectedFlags appends the injected flags whose option name the user
// hasn't already supplied, preserving option ordering of the user's own
// flags first.
func MergeInjectedFlags(userFlags []string, besPort int) []string {
	present:= make(map[string]bool)
	for _, f:= range userFlags {
		present[flagName(f)] = true
	}
	out:= append([]string(nil), userFlags...)
	for _, f:= range InjectedFlags(besPort) {
		if !present[flagName(f)] {
			out = append(out, f)
		}
	}
	return out
}

func flagName(flag string) string {
	flag = strings.TrimPrefix(flag, "--")
	if eq:= strings.IndexByte(flag, '='); eq >= 0 {
		flag = flag[:eq]
	}
	return flag
}
