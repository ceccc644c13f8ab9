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

// Package jvmindex implements the JVM class indexer: a second consumer of
// the hydrated build-event stream (alongside the auto-repair driver) that
// watches completed targets of allowed rule kinds, scans their output
// jars for.class entries, and records each class name as a candidate
// index entry pointing at the target that produced it.
package jvmindex

import (
	"archive/zip"
	"context"
	"log"
	"regexp"
	"strings"

	"github.com/bazelfe-go/bazelfe/internal/bep"
	"github.com/bazelfe-go/bazelfe/internal/candidateindex"
	"github.com/bazelfe-go/bazelfe/internal/collections"
)

// DefaultPriority is the priority new jvm-indexer entries are inserted
// with; it sits below any manually curated or higher-confidence entry but
// above a bare guess (which always carries priority zero).
const DefaultPriority = 10

// Indexer folds TargetComplete hydrated events of an allowed rule kind
// into Table: one class-name -> target entry per.class file found in the
// target's output jars.
type Indexer struct {
	Table *candidateindex.Table
	AllowedRuleKinds map[string]bool
}

// New creates an Indexer that only indexes targets whose rule kind is in
// allowedRuleKinds (e.g. "scala_library", "java_library").
func New(table *candidateindex.Table, allowedRuleKinds []string) *Indexer {
	allowed:= make(map[string]bool, len(allowedRuleKinds))
	for _, k:= range allowedRuleKinds {
		allowed[k] = true
	}
	return &Indexer{Table: table, AllowedRuleKinds: allowed}
}

// Consume drains events, indexing each TargetComplete whose rule kind is
// allowed, until the channel closes or ctx is done.
func (ix *Indexer) Consume(ctx context.Context, events <-chan bep.HydratedEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok:= <-events:
			if !ok {
				return
			}
			if ev.TargetComplete != nil {
				ix.indexTarget(*ev.TargetComplete)
			}
		}
	}
}

func (ix *Indexer) indexTarget(tc bep.TargetComplete) {
	if !tc.Success || !ix.AllowedRuleKinds[tc.Kind] {
		return
	}

	var classes []string
	for _, f:= range tc.OutputFiles {
		path, ok:= filePathFromURI(f.URI)
		if !ok {
			continue
		}
		names, err:= ExtractClassNames(path)
		if err != nil {
			log.Printf("jvmindex: scanning %s for %s: %v", path, tc.Label, err)
			continue
		}
		classes = append(classes, names...)
	}
	if len(classes) == 0 {
		return
	}

	classes = TransformFileNamesIntoClassNames(classes)
	for _, class:= range classes {
		ix.Table.InsertWithID(class, tc.Label, DefaultPriority)
	}
}

func filePathFromURI(uri string) (string, bool) {
	const prefix = "file://"
	if !strings.HasPrefix(uri, prefix) {
		return "", false
	}
	return strings.TrimPrefix(uri, prefix), true
}

// ExtractClassNames opens the jar (or any zip-format archive) at path and
// returns the name of every ".class" entry, unmodified.
func ExtractClassNames(path string) ([]string, error) {
	r, err:= zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var names []string
	for _, f:= range r.File {
		if strings.HasSuffix(f.Name, ".class") {
			names = append(names, f.Name)
		}
	}
	return names, nil
}

var suffixAnonClasses = regexp.MustCompile(`(\$\d*)?\.class$`)

// TransformFileNamesIntoClassNames turns zip entry names like
// "scala/reflect/internal/SymbolPairs$Cursor$$anon$1.class" into importable
// class names like "scala.reflect.internal.SymbolPairs.Cursor", dropping
// anonymous-class and anonymous-function suffixes, then sorts and
// deduplicates the result.
func TransformFileNamesIntoClassNames(names []string) []string {
	seen:= make(collections.Set[string], len(names))
	for _, name:= range names {
		if !strings.HasSuffix(name, ".class") {
			continue
		}
		trimmed:= suffixAnonClasses.ReplaceAllString(name, "")
		trimmed = removeFrom(trimmed, "$$")
		class:= strings.NewReplacer("$", ".", "/", ".").Replace(trimmed)
		if class == "" {
			continue
		}
		seen.Add(class)
	}
	return seen.SortedValues(strings.Compare)
}

func removeFrom(haystack, needle string) string {
	if idx:= strings.Index(haystack, needle); idx >= 0 {
		return haystack[:idx]
	}
	return haystack
}
