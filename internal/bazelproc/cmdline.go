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

// Package bazelproc implements the "misc glue" around spawning the build
// tool: command line parsing against the option catalog, injected BES flags, and TTY-aware
// subprocess spawning.
package bazelproc

import "strings"

// ActionKind distinguishes a known built-in verb from an operator-defined
// custom verb.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionBuiltIn
	ActionCustom
)

// Action names the verb the command line invokes.
type Action struct {
	Kind ActionKind
	Name string // enum-style name, e.g. "Build", "Test", "AnalyzeProfile"
}

// CommandLine is a parsed bazel command line.
type CommandLine struct {
	ToolPath string
	StartupOptions []string
	Action Action
	ActionOptions []string
	RemainingArgs []string
}

// CommandLineParseError reports a malformed command line: a missing tool path, or a value-bearing option
// with no value.
type CommandLineParseError struct {
	Message string
}

func (e *CommandLineParseError) Error() string { return e.Message }

// Parse splits argv into a CommandLine given the option catalog, which
// tells Parse which action options take a value. argv[0] is the tool
// path; everything after it is parsed.
//
// This intentionally does not implement the full Bazel startup/command/
// args grammar — that's the option catalog generator's job. It
// recognizes a startup-options prefix, one verb, and then the verb's
// options followed by positional remaining args, which is what the
// auto-repair driver and test-file resolver need to rewrite.
func Parse(argv []string, catalog *Catalog) (*CommandLine, error) {
	if len(argv) == 0 {
		return nil, &CommandLineParseError{Message: "missing tool path"}
	}
	cl:= &CommandLine{ToolPath: argv[0]}
	rest:= argv[1:]

	i:= 0
	for i < len(rest) && strings.HasPrefix(rest[i], "--") && cl.Action.Kind == ActionNone {
		cl.StartupOptions = append(cl.StartupOptions, rest[i])
		i++
	}

	if i >= len(rest) {
		return cl, nil
	}
	verb:= rest[i]
	i++
	cl.Action = catalog.resolveAction(verb)

	var actionOpt *ActionOption
	for i < len(rest) {
		arg:= rest[i]
		if actionOpt != nil {
			cl.ActionOptions = append(cl.ActionOptions, arg)
			actionOpt = nil
			i++
			continue
		}
		if strings.HasPrefix(arg, "--") && catalog != nil {
			name:= strings.TrimPrefix(arg, "--")
			if eq:= strings.IndexByte(name, '='); eq >= 0 {
				name = name[:eq]
			}
			if opt:= catalog.lookupOption(cl.Action, name); opt != nil {
				cl.ActionOptions = append(cl.ActionOptions, arg)
				if opt.TakesValue && !strings.Contains(arg, "=") {
					actionOpt = opt
				}
				i++
				continue
			}
		}
		break
	}
	if actionOpt != nil {
		return nil, &CommandLineParseError{Message: "missing value for option requiring an argument"}
	}
	cl.RemainingArgs = append(cl.RemainingArgs, rest[i:]...)
	return cl, nil
}

// WithRemainingArgs returns a copy of cl with remaining_args replaced,
// used by the test-file-to-target resolver and the custom-verb rewriter.
func (cl *CommandLine) WithRemainingArgs(args []string) *CommandLine {
	out:= *cl
	out.RemainingArgs = args
	return &out
}

// Argv reconstructs the full subprocess argument vector.
func (cl *CommandLine) Argv() []string {
	argv:= []string{cl.ToolPath}
	argv = append(argv, cl.StartupOptions...)
	if cl.Action.Kind != ActionNone {
		argv = append(argv, strings.ToLower(cl.Action.Name))
	}
	argv = append(argv, cl.ActionOptions...)
	argv = append(argv, cl.RemainingArgs...)
	return argv
}
