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

// Package buildfile implements the build-file editor collaborator: a
// subprocess interface for reading and mutating BUILD/BUILD.bazel files.
// This module never parses or edits build files directly — edits are
// always delegated to buildozer (bazelbuild/buildtools).
//
// We invoke buildozer's compiled binary as a subprocess rather than
// importing buildtools' edit package directly, so error reporting follows
// buildozer's own exit-code contract rather than a Go error type.
package buildfile

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Error wraps a nonzero exit from the build-file editor, carrying captured
// stdout/stderr for the story ledger.
type Error struct {
	Command []string
	Stdout string
	Stderr string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("build-file editor command %v failed: %v (stderr: %s)", e.Command, e.Err, strings.TrimSpace(e.Stderr))
}

func (e *Error) Unwrap() error { return e.Err }

// Editor runs buildozer commands against the workspace at Dir.
type Editor struct {
	Dir string
	Path string // path to the buildozer binary; defaults to "buildozer"
}

// New creates an Editor rooted at dir, using buildozer from PATH.
func New(dir string) *Editor {
	return &Editor{Dir: dir, Path: "buildozer"}
}

func (e *Editor) binary() string {
	if e.Path != "" {
		return e.Path
	}
	return "buildozer"
}

func (e *Editor) run(ctx context.Context, args...string) (string, error) {
	cmd:= exec.CommandContext(ctx, e.binary(), args...)
	cmd.Dir = e.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err:= cmd.Run()
	if err != nil {
		return stdout.String(), &Error{
			Command: append([]string{e.binary()}, args...),
			Stdout: stdout.String(),
			Stderr: stderr.String(),
			Err: err,
		}
	}
	return stdout.String(), nil
}

// PrintDeps returns the current value of the deps attribute for target.
func (e *Editor) PrintDeps(ctx context.Context, target string) ([]string, error) {
	out, err:= e.run(ctx, "print deps", target)
	if err != nil {
		return nil, err
	}
	out = strings.TrimSpace(out)
	if out == "" || out == "(missing)" {
		return nil, nil
	}
	return strings.Fields(out), nil
}

// AddDependency appends dep to target's deps attribute. buildozer reports "no changes made" via a distinct
// exit code (3) when the dep is already present; that's treated as
// success here since the desired end state is achieved either way.
func (e *Editor) AddDependency(ctx context.Context, target, dep string) error {
	_, err:= e.run(ctx, fmt.Sprintf("add deps %s", dep), target)
	return ignoreNoChangesMade(err)
}

// RemoveDependency removes dep from target's deps attribute.
func (e *Editor) RemoveDependency(ctx context.Context, target, dep string) error {
	_, err:= e.run(ctx, fmt.Sprintf("remove deps %s", dep), target)
	return ignoreNoChangesMade(err)
}

// RemoveDependenciesLike removes every dependency of target whose label
// string contains substr.
func (e *Editor) RemoveDependenciesLike(ctx context.Context, target, substr string) ([]string, error) {
	deps, err:= e.PrintDeps(ctx, target)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, dep:= range deps {
		if strings.Contains(dep, substr) {
			if err:= e.RemoveDependency(ctx, target, dep); err != nil {
				return removed, err
			}
			removed = append(removed, dep)
		}
	}
	return removed, nil
}

func ignoreNoChangesMade(err error) error {
	var be *Error
	if err == nil {
		return nil
	}
	if as, ok:= err.(*Error); ok {
		be = as
		if exitErr, ok:= be.Err.(*exec.ExitError); ok && exitErr.ExitCode() == 3 {
			return nil
		}
	}
	return err
}

// HasBuildFile reports whether dir (a repo-root-relative package path, e.g.
// "a/b/c" for label "//a/b/c:x") contains a BUILD or BUILD.bazel file,
// implementing the "potentially-valid target" disk probe.
func HasBuildFile(repoRoot, pkgPath string) bool {
	dir:= filepath.Join(repoRoot, pkgPath)
	for _, name:= range []string{"BUILD.bazel", "BUILD"} {
		if st, err:= os.Stat(filepath.Join(dir, name)); err == nil && !st.IsDir() {
			return true
		}
	}
	return false
}
