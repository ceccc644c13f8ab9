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

// Package config loads the structured settings file: the command-line
// rewriter table, the error-processor (user action) list, the
// success-story toggle, and the cloud-backend block. The recognized key
// set is fixed, so the loader rejects unknown keys rather than silently
// ignoring them.
package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"
)

// RewriteRule maps a glob-matched path to the rank the test-file resolver should prefer.
type RewriteRule struct {
	Pattern string `toml:"pattern"`
	Rank string `toml:"rank"`
}

// ErrorProcessor is the on-disk form of a user-defined action.
type ErrorProcessor struct {
	Name string `toml:"name"`
	ActiveRuleKinds []string `toml:"active_rule_kinds"`
	Regex string `toml:"regex"`
	RunOnSuccess bool `toml:"run_on_success"`
	Template string `toml:"template"`
}

// CloudBackend configures the object-store and Redis tiers.
type CloudBackend struct {
	ObjectStoreRegion string `toml:"object_store_region"`
	ObjectStoreBucket string `toml:"object_store_bucket"`
	ObjectStorePrefix string `toml:"object_store_prefix"`
	RedisHost string `toml:"redis_host"`
	WorkingPathRoot string `toml:"working_path_root"`
}

// Config is the top-level structured settings file.
type Config struct {
	CommandLineRewriter struct {
		Rules []RewriteRule `toml:"rules"`
	} `toml:"command_line_rewriter"`
	ErrorProcessors []ErrorProcessor `toml:"error_processors"`
	DisableActionStoriesOnSuccess bool `toml:"disable_action_stories_on_success"`
	CloudBackend CloudBackend `toml:"cloud_backend"`
}

// Load reads and parses path, rejecting any key outside the recognized
// set.
func Load(path string) (*Config, error) {
	data, err:= os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes TOML config bytes with strict unknown-field rejection.
func Parse(data []byte) (*Config, error) {
	dec:= toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var cfg Config
	if err:= dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// CompiledErrorProcessor is an ErrorProcessor with its regex compiled,
// ready for the auto-repair driver to consume directly.
type CompiledErrorProcessor struct {
	Name string
	ActiveRuleKinds []string
	Regex *regexp.Regexp
	RunOnSuccess bool
	Template string
}

// MatchRewriteRule returns the first rule whose pattern matches path
// (doublestar glob semantics), used to pick a rank hint when dispatching
// a custom test_file/build_file verb.
func (c *Config) MatchRewriteRule(path string) (RewriteRule, bool) {
	for _, rule:= range c.CommandLineRewriter.Rules {
		if ok, err:= doublestar.Match(rule.Pattern, path); err == nil && ok {
			return rule, true
		}
	}
	return RewriteRule{}, false
}

// CompileErrorProcessors compiles every configured regex, failing fast on
// the first invalid pattern rather than letting a typo surface only when
// a matching build failure finally occurs.
func (c *Config) CompileErrorProcessors() ([]CompiledErrorProcessor, error) {
	out:= make([]CompiledErrorProcessor, 0, len(c.ErrorProcessors))
	for _, p:= range c.ErrorProcessors {
		re, err:= regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("compiling error_processors[%q].regex: %w", p.Name, err)
		}
		out = append(out, CompiledErrorProcessor{
			Name: p.Name,
			ActiveRuleKinds: p.ActiveRuleKinds,
			Regex: re,
			RunOnSuccess: p.RunOnSuccess,
			Template: p.Template,
		})
	}
	return out, nil
}
