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

// jvm-indexer runs a standalone BEP ingest endpoint dedicated to
// populating the candidate index: it watches every TargetComplete event
// for targets of the configured rule kinds, scans their output jars for
// class files, and persists the resulting class-name -> target mappings.
// It's meant to be pointed at by a build's --bes_backend the same way
// bazel-wrapper is, for builds run purely to harvest index entries.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/bazelfe-go/bazelfe/internal/bep"
	"github.com/bazelfe-go/bazelfe/internal/bepproto"
	"github.com/bazelfe-go/bazelfe/internal/candidateindex"
	"github.com/bazelfe-go/bazelfe/internal/jvmindex"
)

func main() {
	bindAddr:= flag.String("bind_addr", "127.0.0.1:0", "address the BEP ingest server listens on")
	indexPath:= flag.String("index", "jvm.ccidx", "path to the persisted candidate index; loaded if present, (re)written on each build completion and on shutdown")
	ruleKinds:= flag.String("rule_kinds", "scala_library,java_library", "comma-separated rule kinds whose output jars get scanned")
	flag.Parse()

	allowed:= splitNonEmpty(*ruleKinds)
	if len(allowed) == 0 {
		log.Fatalf("rule_kinds must name at least one rule kind")
	}

	table:= candidateindex.New()
	if f, err:= os.Open(*indexPath); err == nil {
		decoded, decErr:= candidateindex.Decode(f)
		f.Close()
		if decErr != nil {
			log.Fatalf("decoding candidate index %s: %v", *indexPath, decErr)
		}
		table = decoded
		log.Printf("jvm-indexer: loaded existing index from %s", *indexPath)
	} else if !os.IsNotExist(err) {
		log.Fatalf("opening candidate index %s: %v", *indexPath, err)
	}

	indexer:= jvmindex.New(table, allowed)

	listener, err:= net.Listen("tcp", *bindAddr)
	if err != nil {
		log.Fatalf("binding %s: %v", *bindAddr, err)
	}
	log.Printf("jvm-indexer: BEP ingest listening on %s", listener.Addr())

	ingest:= bep.NewIngestServer()
	grpcServer:= grpc.NewServer()
	bepproto.RegisterPublishBuildEventServer(grpcServer, ingest)

	ctx, cancel:= context.WithCancel(context.Background())
	sigCh:= make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("jvm-indexer: shutting down")
		cancel()
		grpcServer.GracefulStop()
	}()

	go watchSessions(ctx, ingest, indexer, table, *indexPath)

	if err:= grpcServer.Serve(listener); err != nil {
		log.Printf("jvm-indexer: gRPC server stopped: %v", err)
	}

	if table.Mutated() {
		if err:= table.WriteFile(*indexPath); err != nil {
			log.Fatalf("persisting candidate index on shutdown: %v", err)
		}
		log.Printf("jvm-indexer: persisted index to %s", *indexPath)
	}
}

// watchSessions starts an ingest session whenever none is active (one per
// build the BES backend receives) and feeds each one's hydrated stream to
// the indexer, persisting the table once a build's stream completes.
func watchSessions(ctx context.Context, ingest *bep.IngestServer, indexer *jvmindex.Indexer, table *candidateindex.Table, indexPath string) {
	var last *bep.Session
	ticker:= time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess:= ingest.CurrentSession()
			if sess == nil {
				sess = ingest.StartSession("jvm-indexer-" + time.Now().Format(time.RFC3339Nano))
			}
			if sess == last {
				continue
			}
			last = sess
			events:= sess.Broadcaster.Subscribe(256)
			go func(s *bep.Session) {
				indexer.Consume(ctx, events)
				if table.Mutated() {
					if err:= table.WriteFile(indexPath); err != nil {
						log.Printf("jvm-indexer: persisting index after build %s: %v", s.ID, err)
						return
					}
					log.Printf("jvm-indexer: persisted index after build %s", s.ID)
				}
			}(sess)
		}
	}
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part:= range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
