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

// Package testtarget resolves a source file path to the smallest enclosing
// test/build target, by walking up to the nearest BUILD file
// and running a "bazel query owner(...)" subprocess.
//
// An --output=proto form exists but unmarshals into a generated blaze_query
// proto package that lives only inside bazelbuild/bazel's own build (there
// is no standalone fetchable Go module for it, unlike the REAPI and
// ByteStream protos this module imports directly elsewhere). Rather than
// hand-rolling a fake wire-format proto type for this one query, this
// resolver asks for --output=label instead, which is plain
// newline-delimited text and needs no proto package at all.
package testtarget

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// QueryRunner executes a bazel query and returns its stdout lines. Production
// code uses subprocessRunner; tests substitute a fake.
type QueryRunner func(cwd, query string) ([]string, error)

func subprocessRunner(cwd, query string) ([]string, error) {
	var stdout, stderr bytes.Buffer
	cmd:= exec.Command("bazel", "query", query, "--output=label", "--incompatible_disallow_empty_glob=false")
	cmd.Dir = cwd
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err:= cmd.Run(); err != nil {
		return nil, fmt.Errorf("bazel query %q failed: %w (stderr: %s)", query, err, strings.TrimSpace(stderr.String()))
	}
	var lines []string
	for _, line:= range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// NearestBuildFileDir walks up from the directory containing filePath
// (relative to repoRoot) until it finds a BUILD or BUILD.bazel file,
// returning the repo-root-relative directory path.
func NearestBuildFileDir(repoRoot, filePath string) (string, bool) {
	dir:= filepath.Dir(filePath)
	for {
		abs:= filepath.Join(repoRoot, dir)
		for _, name:= range []string{"BUILD.bazel", "BUILD"} {
			if st, err:= os.Stat(filepath.Join(abs, name)); err == nil && !st.IsDir() {
				return dir, true
			}
		}
		if dir == "." || dir == string(filepath.Separator) {
			return "", false
		}
		parent:= filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// Rank is the requested rule-kind hint used to break ties among owner
// results.
type Rank int

const (
	RankAny Rank = iota
	RankTest
	RankLibrary
)

// Resolve finds the target owning filePath and chooses the best match for
// the requested rank. baseName is the file's base name without extension,
// used for colon-suffix similarity scoring.
func Resolve(runner QueryRunner, cwd, relPath string, rank Rank) (string, error) {
	if runner == nil {
		runner = subprocessRunner
	}
	query:= fmt.Sprintf("owner(%s)", relPath)
	labels, err:= runner(cwd, query)
	if err != nil {
		return "", err
	}
	if len(labels) == 0 {
		return "", fmt.Errorf("no target owns %q", relPath)
	}
	if len(labels) == 1 {
		return labels[0], nil
	}

	baseName:= strings.TrimSuffix(filepath.Base(relPath), filepath.Ext(relPath))
	sort.SliceStable(labels, func(i, j int) bool {
		return lessCandidate(labels[i], labels[j], baseName, rank)
	})
	return labels[0], nil
}

func lessCandidate(a, b, baseName string, rank Rank) bool {
	ra, rb:= rankScore(a, rank), rankScore(b, rank)
	if ra != rb {
		return ra > rb
	}
	sa, sb:= suffixScore(a, baseName), suffixScore(b, baseName)
	if sa != sb {
		return sa > sb
	}
	return len(a) < len(b)
}

// rankScore gives a higher score to labels whose colon-suffix looks like a
// test target when RankTest is requested (or a non-test target for
// RankLibrary), based on the common "_test" naming convention.
func rankScore(label string, rank Rank) int {
	if rank == RankAny {
		return 0
	}
	name:= colonSuffix(label)
	isTest:= strings.Contains(name, "test") || strings.Contains(name, "Test")
	if rank == RankTest && isTest {
		return 1
	}
	if rank == RankLibrary && !isTest {
		return 1
	}
	return 0
}

// suffixScore measures how closely a label's colon-suffix matches baseName:
// higher is closer (exact match scores highest).
func suffixScore(label, baseName string) int {
	name:= colonSuffix(label)
	if name == baseName {
		return 1000
	}
	common:= 0
	for i:= 0; i < len(name) && i < len(baseName); i++ {
		if name[len(name)-1-i] != baseName[len(baseName)-1-i] {
			break
		}
		common++
	}
	return common
}

func colonSuffix(label string) string {
	if i:= strings.LastIndexByte(label, ':'); i >= 0 {
		return label[i+1:]
	}
	return label
}
