// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// imagecache starts an HTTP server that renders regions and previews of a
// source image through a cached pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PaulARoy/azurestoragecache"
	"github.com/die-net/lrucache"
	"github.com/die-net/lrucache/twotier"
	aia "github.com/fcjr/aia-transport-go"
	"github.com/gomodule/redigo/redis"
	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
	rediscache "github.com/gregjones/httpcache/redis"
	"github.com/joho/godotenv"
	"github.com/peterbourgon/diskv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"willnorris.com/go/imagecache"
	"willnorris.com/go/imagecache/internal/drivecache"
	"willnorris.com/go/imagecache/internal/gcscache"
	"willnorris.com/go/imagecache/internal/miniocache"
	"willnorris.com/go/imagecache/internal/s3cache"
	"willnorris.com/go/imagecache/internal/ttldiskcache"
	"willnorris.com/go/imagecache/pipeline"
	"willnorris.com/go/imagecache/third_party/envy"
)

const defaultMemorySize = 100

var addr = flag.String("addr", "localhost:8080", "TCP address to listen on")
var source = flag.String("source", "", "URL of the source image to render")
var cache tieredCache
var latency = flag.Duration("latency", 0, "delay before passing on change notifications, merging any that arrive meanwhile (max 10s)")
var ignoreROI = flag.Bool("ignoreROI", false, "ignore the region of interest of requests when deciding whether to flush the cache")
var previewSize = flag.Int("previewSize", pipeline.DefaultPreviewSize, "bounding box of preview renderings, in pixels")
var timeout = flag.Duration("timeout", 0, "time limit for requests served by this server")
var cleanupInterval = flag.Duration("cleanupInterval", time.Hour, "how often to remove expired entries from ttl disk caches")
var verbose = flag.Bool("verbose", false, "print verbose logging messages")

func init() {
	flag.Var(&cache, "cache", "location to cache source images (memory, file path, file:/path?ttl=1h, redis://, s3://, gcs://, azure://, minio://, drive://folderID)")
}

// loadEnvFiles adds the variables in the named files (".env" if none) to the
// environment.  Variables already set are left alone, and missing files are
// ignored.
func loadEnvFiles(names ...string) error {
	err := godotenv.Load(names...)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func main() {
	if err := loadEnvFiles(); err != nil {
		log.Fatalf("error reading .env: %v", err)
	}
	fromEnv := envy.Parse("IMAGECACHE")
	flag.Parse()
	if *verbose && len(fromEnv) > 0 {
		log.Printf("flags set from environment: %v", fromEnv)
	}

	transport, err := aia.NewTransport()
	if err != nil {
		log.Fatalf("error creating transport: %v", err)
	}
	var sourceCache imagecache.Cache = imagecache.NopCache
	if cache.Cache != nil {
		sourceCache = cache.Cache
	}
	client := &http.Client{
		Transport: &httpcache.Transport{
			Transport:           transport,
			Cache:               sourceCache,
			MarkCachedResponses: true,
		},
	}

	loader := pipeline.NewLoader(client)
	loader.PreviewSize = *previewSize
	adjust := pipeline.NewAdjust(loader)

	rc := imagecache.New(adjust)
	rc.SetLatency(*latency)
	rc.SetIgnoreROI(*ignoreROI)
	rc.Verbose = *verbose
	defer rc.Close()

	rc.Subscribe(func(mask imagecache.ChangeMask) {
		if *verbose {
			log.Printf("rendering changed: %v", mask)
		}
	})

	if *source != "" {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := loader.Load(ctx, *source)
		cancel()
		if err != nil {
			log.Fatalf("error loading source: %v", err)
		}
	}

	for _, c := range cache.ttlCaches {
		go cleanup(c, *cleanupInterval)
	}

	h := imagecache.NewHandler(rc)
	h.Timeout = *timeout
	h.Verbose = *verbose

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /adjust", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p, err := pipeline.ParseParams(adjust.Params(), r.Form)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		adjust.SetParams(p)
		fmt.Fprintln(w, p)
	})
	mux.HandleFunc("POST /reload", func(w http.ResponseWriter, r *http.Request) {
		if err := loader.Reload(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /flush", func(w http.ResponseWriter, r *http.Request) {
		rc.Flush()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("/", h)

	server := &http.Server{
		Addr:    *addr,
		Handler: mux,

		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	fmt.Printf("imagecache listening on %s\n", server.Addr)
	log.Fatal(server.ListenAndServe())
}

func cleanup(c *ttldiskcache.Cache, interval time.Duration) {
	if interval <= 0 {
		return
	}
	for range time.Tick(interval) {
		if n := c.CleanupExpired(); n > 0 && *verbose {
			log.Printf("removed %d expired source images", n)
		}
	}
}

// tieredCache allows specifying multiple caches via flags, which will create
// tiered caches using the twotier package.
type tieredCache struct {
	imagecache.Cache

	// ttlCaches are periodically cleaned up.
	ttlCaches []*ttldiskcache.Cache
}

func (tc *tieredCache) String() string {
	return fmt.Sprint(tc.Cache)
}

func (tc *tieredCache) Set(value string) error {
	for _, v := range strings.Fields(value) {
		c, err := parseCache(v)
		if err != nil {
			return err
		}
		if c == nil {
			continue
		}
		if t, ok := c.(*ttldiskcache.Cache); ok {
			tc.ttlCaches = append(tc.ttlCaches, t)
		}

		if tc.Cache == nil {
			tc.Cache = c
		} else {
			tc.Cache = twotier.New(tc.Cache, c)
		}
	}
	return nil
}

// parseCache parses c returns the specified Cache implementation.
func parseCache(c string) (imagecache.Cache, error) {
	if c == "" {
		return nil, nil
	}

	if c == "memory" {
		c = fmt.Sprintf("memory:%d", defaultMemorySize)
	}

	u, err := url.Parse(c)
	if err != nil {
		return nil, fmt.Errorf("error parsing cache flag: %w", err)
	}

	switch u.Scheme {
	case "azure":
		return azurestoragecache.New("", "", u.Host)
	case "drive":
		return drivecache.New(context.Background(), u.Host)
	case "gcs":
		return gcscache.New(context.Background(), u.Host, strings.TrimPrefix(u.Path, "/"))
	case "memory":
		return lruCache(u.Opaque)
	case "minio":
		return miniocache.New(u.String())
	case "redis":
		conn, err := redis.DialURL(u.String(), redis.DialPassword(os.Getenv("REDIS_PASSWORD")))
		if err != nil {
			return nil, err
		}
		return rediscache.NewWithClient(conn), nil
	case "s3":
		return s3cache.New(u.String())
	case "file":
		if v := u.Query().Get("ttl"); v != "" {
			ttl, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("error parsing cache ttl: %w", err)
			}
			return ttldiskcache.New(u.Path, ttl), nil
		}
		return diskCache(u.Path), nil
	default:
		return diskCache(c), nil
	}
}

// lruCache creates an LRU Cache with the specified options of the form
// "maxSize:maxAge".  maxSize is specified in megabytes, maxAge is a duration.
func lruCache(options string) (*lrucache.LruCache, error) {
	parts := strings.SplitN(options, ":", 2)
	size, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, err
	}

	var age time.Duration
	if len(parts) > 1 {
		age, err = time.ParseDuration(parts[1])
		if err != nil {
			return nil, err
		}
	}

	return lrucache.New(size*1e6, int64(age.Seconds())), nil
}

func diskCache(path string) *diskcache.Cache {
	d := diskv.New(diskv.Options{
		BasePath: path,

		// For file "c0ffee", store file as "c0/ff/c0ffee"
		Transform: func(s string) []string { return []string{s[0:2], s[2:4]} },
	})
	return diskcache.NewWithDiskv(d)
}
