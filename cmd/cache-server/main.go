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

// cache-server runs the tiered content-addressed cache: a Remote Execution
// API CAS/ActionCache/ByteStream service over gRPC, and a plain HTTP
// surface for direct blob access, health checks, and the upstream mirror.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"google.golang.org/genproto/googleapis/bytestream"
	"google.golang.org/grpc"

	"github.com/bazelfe-go/bazelfe/internal/actioncache"
	bscache "github.com/bazelfe-go/bazelfe/internal/bytestream"
	"github.com/bazelfe-go/bazelfe/internal/buildindex"
	"github.com/bazelfe-go/bazelfe/internal/cas"
	"github.com/bazelfe-go/bazelfe/internal/config"
	"github.com/bazelfe-go/bazelfe/internal/httpapi"
	"github.com/bazelfe-go/bazelfe/internal/mirror"
)

func main() {
	configPath:= flag.String("config", "", "path to the TOML settings file (cloud_backend block configures Redis/object-store)")
	workDir:= flag.String("work_dir", "", "working directory for local CAS storage and temp files; defaults to a cache-server subdirectory of the OS temp dir")
	grpcAddr:= flag.String("grpc_addr", "127.0.0.1:8980", "bind address for the gRPC cache service")
	httpAddr:= flag.String("http_addr", "127.0.0.1:8981", "bind address for the HTTP surface")
	chunkSize:= flag.Int("upload_chunk_size", 4<<20, "chunk size used when streaming uploads to the object store")
	flag.Parse()

	cfg:= &config.Config{}
	if *configPath != "" {
		loaded, err:= config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config %s: %v", *configPath, err)
		}
		cfg = loaded
	}

	root:= *workDir
	if root == "" {
		root = cfg.CloudBackend.WorkingPathRoot
	}
	if root == "" {
		root = filepath.Join(os.TempDir(), "bazelfe-cache-server")
	}
	if err:= os.MkdirAll(root, 0o755); err != nil {
		log.Fatalf("creating working directory %s: %v", root, err)
	}

	local, err:= cas.OpenLocal(filepath.Join(root, "cas-index.db"), filepath.Join(root, "blobs"))
	if err != nil {
		log.Fatalf("opening local CAS index: %v", err)
	}
	defer local.Close()

	var redisClient, actionRedisClient *redis.Client
	if cfg.CloudBackend.RedisHost != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.CloudBackend.RedisHost})
		defer redisClient.Close()
		// Action results live in their own logical database, apart from the CAS.
		actionRedisClient = redis.NewClient(&redis.Options{Addr: cfg.CloudBackend.RedisHost, DB: 1})
		defer actionRedisClient.Close()
	}

	var redisTier *cas.RedisTier
	if redisClient != nil {
		redisTier = cas.NewRedisTier(redisClient)
	}

	var objectStore *cas.ObjectStore
	if cfg.CloudBackend.ObjectStoreBucket != "" {
		ctx, cancel:= context.WithTimeout(context.Background(), 30*time.Second)
		gcsClient, err:= storage.NewClient(ctx)
		cancel()
		if err != nil {
			log.Fatalf("creating object-store client: %v", err)
		}
		objectStore = cas.NewObjectStore(gcsClient, cfg.CloudBackend.ObjectStoreBucket, cfg.CloudBackend.ObjectStorePrefix)
	}

	store:= &cas.Store{
		Local: local,
		Redis: redisTier,
		Object: objectStore,
		WorkDir: root,
		ChunkSize: *chunkSize,
	}

	actionStore, err:= actioncache.Open(filepath.Join(root, "action-cache.db"), actionRedisClient, store)
	if err != nil {
		log.Fatalf("opening action cache: %v", err)
	}
	defer actionStore.Close()

	index, err:= buildindex.Open(filepath.Join(root, "build-index.db"))
	if err != nil {
		log.Fatalf("opening build index: %v", err)
	}
	defer index.Close()

	fetcher:= mirror.NewFetcher(http.DefaultClient, root)

	grpcListener, err:= net.Listen("tcp", *grpcAddr)
	if err != nil {
		log.Fatalf("binding gRPC listener %s: %v", *grpcAddr, err)
	}
	grpcServer:= grpc.NewServer()
	repb.RegisterContentAddressableStorageServer(grpcServer, cas.NewGRPCService(store))
	repb.RegisterActionCacheServer(grpcServer, actioncache.NewGRPCService(actionStore))
	bytestream.RegisterByteStreamServer(grpcServer, bscache.NewService(store))
	go func() {
		log.Printf("cache-server: gRPC listening on %s", *grpcAddr)
		if err:= grpcServer.Serve(grpcListener); err != nil {
			log.Printf("gRPC server stopped: %v", err)
		}
	}()
	defer grpcServer.Stop()

	httpServer:= httpapi.NewServer(store, index, root, fetcher)
	log.Printf("cache-server: HTTP listening on %s", *httpAddr)
	if err:= http.ListenAndServe(*httpAddr, httpServer.Handler()); err != nil {
		log.Fatalf("HTTP server stopped: %v", err)
	}
}
