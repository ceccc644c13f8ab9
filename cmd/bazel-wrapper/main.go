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

// bazel-wrapper transparently invokes a build tool, feeding its Build Event
// Protocol stream through the auto-repair driver so that missing
// dependencies, aborted builds and operator-defined failure patterns get
// fixed and retried without the caller noticing, up to a bounded number of
// attempts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"

	"github.com/bazelfe-go/bazelfe/internal/bazelproc"
	"github.com/bazelfe-go/bazelfe/internal/bep"
	"github.com/bazelfe-go/bazelfe/internal/bepproto"
	"github.com/bazelfe-go/bazelfe/internal/buildfile"
	"github.com/bazelfe-go/bazelfe/internal/candidateindex"
	"github.com/bazelfe-go/bazelfe/internal/config"
	"github.com/bazelfe-go/bazelfe/internal/repair"
	"github.com/bazelfe-go/bazelfe/internal/signalctl"
	"github.com/bazelfe-go/bazelfe/internal/testtarget"
)

// besPortLow and besPortHigh bound the random port window the ingest
// server's bind address is picked from.
const (
	besPortLow = 40000
	besPortHigh = 43000

	maxRetryAttempts = 60
)

func main() {
	toolPath:= flag.String("tool_path", "bazel", "path to the build tool binary the wrapper invokes")
	configPath:= flag.String("config", "", "path to the TOML settings file (command_line_rewriter, error_processors, cloud_backend)")
	indexPath:= flag.String("index", "", "path to a persisted candidate index; created empty if absent")
	repoRoot:= flag.String("repo_root", "", "repository root; defaults to the working directory")
	besPort:= flag.Int("bes_port", 0, "fixed BES ingest port; 0 picks a random port in [40000, 43000)")
	flag.Parse()

	root:= *repoRoot
	if root == "" {
		wd, err:= os.Getwd()
		if err != nil {
			log.Fatalf("determining working directory: %v", err)
		}
		root = wd
	}

	cfg:= &config.Config{}
	if *configPath != "" {
		loaded, err:= config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config %s: %v", *configPath, err)
		}
		cfg = loaded
	}

	index:= candidateindex.New()
	if *indexPath != "" {
		if f, err:= os.Open(*indexPath); err == nil {
			decoded, err:= candidateindex.Decode(f)
			f.Close()
			if err != nil {
				log.Fatalf("decoding candidate index %s: %v", *indexPath, err)
			}
			index = decoded
		} else if !os.IsNotExist(err) {
			log.Fatalf("opening candidate index %s: %v", *indexPath, err)
		}
	}

	userActions, err:= compileUserActions(cfg)
	if err != nil {
		log.Fatalf("compiling error_processors: %v", err)
	}

	editor:= buildfile.New(root)
	driver:= repair.NewDriver(editor, index, repair.DefaultForbiddenTable(), root)
	driver.UserActions = userActions

	signalctl.Install(bazelproc.ActivePIDGet, nil)

	ingest:= bep.NewIngestServer()
	listener, port, err:= listenForIngest(*besPort)
	if err != nil {
		log.Fatalf("binding BEP ingest server: %v", err)
	}
	grpcServer:= grpc.NewServer()
	bepproto.RegisterPublishBuildEventServer(grpcServer, ingest)
	go func() {
		if err:= grpcServer.Serve(listener); err != nil {
			log.Printf("bep ingest server stopped: %v", err)
		}
	}()
	defer grpcServer.Stop()

	argv:= flag.Args()
	if len(argv) == 0 {
		log.Fatalf("no build tool arguments supplied")
	}
	argv = append([]string{*toolPath}, argv...)

	cl, err:= bazelproc.Parse(argv, &bazelproc.Catalog{CustomVerbs: map[string]bool{"test_file": true, "build_file": true}})
	if err != nil {
		log.Fatalf("parsing command line: %v", err)
	}

	if cl.Action.Kind == bazelproc.ActionCustom {
		rank:= testtarget.RankAny
		switch cl.Action.Name {
		case "test_file":
			rank = testtarget.RankTest
		case "build_file":
			rank = testtarget.RankLibrary
		}
		if rule, ok:= cfg.MatchRewriteRule(firstArg(cl.RemainingArgs)); ok {
			rank = rankFromString(rule.Rank)
		}
		label, err:= resolveCustomVerb(cl, root, rank)
		if err != nil {
			log.Fatalf("resolving %s target: %v", cl.Action.Name, err)
		}
		action:= bazelproc.ActionBuiltIn
		actionName:= "Build"
		if cl.Action.Name == "test_file" {
			actionName = "Test"
		}
		cl.Action = bazelproc.Action{Kind: action, Name: actionName}
		cl = cl.WithRemainingArgs([]string{label})
	}

	exitCode:= runRetryLoop(ingest, driver, cl, port)

	if *indexPath != "" && index.Mutated() {
		if err:= index.WriteFile(*indexPath); err != nil {
			log.Printf("persisting candidate index: %v", err)
		}
	}

	printLedger(driver.Ledger(), cfg.DisableActionStoriesOnSuccess, exitCode)
	os.Exit(exitCode)
}

// runRetryLoop spawns the build tool, consumes hydrated events, waits for
// exit, and stops once the tool succeeds or an iteration made no edits.
func runRetryLoop(ingest *bep.IngestServer, driver *repair.Driver, cl *bazelproc.CommandLine, besPort int) int {
	epoch:= 0
	exitCode:= 1
	for epoch < maxRetryAttempts {
		epoch++
		sessionID:= fmt.Sprintf("epoch-%d", epoch)
		sess:= ingest.StartSession(sessionID)
		events:= sess.Broadcaster.Subscribe(256)

		done:= make(chan struct{})
		editsThisIteration:= 0
		go func() {
			defer close(done)
			for ev:= range events {
				before:= len(driver.Ledger())
				if err:= driver.HandleEvent(context.Background(), epoch, ev); err != nil {
					log.Printf("repair: handling event: %v", err)
				}
				editsThisIteration += len(driver.Ledger()) - before
			}
		}()

		argv:= bazelproc.MergeInjectedFlags(cl.Argv(), besPort)
		code, err:= bazelproc.Spawn(argv, "", os.Stdout, os.Stderr)
		<-done
		if err != nil {
			log.Fatalf("spawning build tool: %v", err)
		}
		exitCode = code

		if exitCode == 0 || editsThisIteration == 0 {
			break
		}
	}
	return exitCode
}

func compileUserActions(cfg *config.Config) ([]repair.UserAction, error) {
	compiled, err:= cfg.CompileErrorProcessors()
	if err != nil {
		return nil, err
	}
	out:= make([]repair.UserAction, 0, len(compiled))
	for _, c:= range compiled {
		out = append(out, repair.UserAction{
			Name: c.Name,
			ActiveRuleKinds: c.ActiveRuleKinds,
			Regex: c.Regex,
			RunOnSuccess: c.RunOnSuccess,
			Template: c.Template,
		})
	}
	return out, nil
}

func resolveCustomVerb(cl *bazelproc.CommandLine, root string, rank testtarget.Rank) (string, error) {
	if len(cl.RemainingArgs) != 1 {
		return "", fmt.Errorf("custom verb %s requires exactly one file argument", cl.Action.Name)
	}
	filePath:= cl.RemainingArgs[0]
	if _, ok:= testtarget.NearestBuildFileDir(root, filePath); !ok {
		return "", fmt.Errorf("no BUILD file found above %s", filePath)
	}
	relPath, err:= filepath.Rel(root, filepath.Join(root, filePath))
	if err != nil {
		relPath = filePath
	}
	return testtarget.Resolve(nil, root, relPath, rank)
}

func rankFromString(s string) testtarget.Rank {
	switch s {
	case "test":
		return testtarget.RankTest
	case "library":
		return testtarget.RankLibrary
	default:
		return testtarget.RankAny
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// listenForIngest binds the BEP ingest server to 127.0.0.1, on a fixed
// port if requested, otherwise a random port in [40000, 43000).
func listenForIngest(fixedPort int) (net.Listener, int, error) {
	if fixedPort != 0 {
		l, err:= net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", fixedPort))
		if err != nil {
			return nil, 0, err
		}
		return l, fixedPort, nil
	}

	rng:= rand.New(rand.NewSource(time.Now().UnixNano()))
	for attempt:= 0; attempt < 20; attempt++ {
		port:= besPortLow + rng.Intn(besPortHigh-besPortLow)
		l, err:= net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return l, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no free port found in [%d, %d)", besPortLow, besPortHigh)
}

func printLedger(entries []repair.Story, suppressOnSuccess bool, exitCode int) {
	if suppressOnSuccess && exitCode == 0 {
		return
	}
	if len(entries) == 0 {
		return
	}
	log.Printf("auto-repair story (%d entries):", len(entries))
	for _, e:= range entries {
		switch {
		case e.Action.AddedDependency != nil:
			log.Printf(" [epoch %d] %s: added %s (%s)", e.Epoch, e.Target, e.Action.AddedDependency.What, e.Action.AddedDependency.Why)
		case e.Action.RemovedDependency != nil:
			log.Printf(" [epoch %d] %s: removed %s (%s)", e.Epoch, e.Target, e.Action.RemovedDependency.What, e.Action.RemovedDependency.Why)
		case e.Action.WouldHaveAdded != nil:
			log.Printf(" [epoch %d] %s: would have added %s (%s)", e.Epoch, e.Target, e.Action.WouldHaveAdded.What, e.Action.WouldHaveAdded.Why)
		case e.Action.RanUserAction != nil:
			log.Printf(" [epoch %d] %s: ran %s -> %s", e.Epoch, e.Target, e.Action.RanUserAction.Name, e.Action.RanUserAction.Result)
		}
	}
}
