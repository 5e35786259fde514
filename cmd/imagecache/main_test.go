// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/die-net/lrucache"
	"github.com/die-net/lrucache/twotier"
	"github.com/gregjones/httpcache/diskcache"
	"willnorris.com/go/imagecache/internal/miniocache"
	"willnorris.com/go/imagecache/internal/ttldiskcache"
)

func TestParseCache(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		value   string
		want    interface{} // zero value of the expected cache type
		wantErr bool
	}{
		{"", nil, false},
		{"memory", (*lrucache.LruCache)(nil), false},
		{"memory:50:1h", (*lrucache.LruCache)(nil), false},
		{"memory:big", nil, true},
		{"memory:50:forever", nil, true},
		{"file://" + filepath.Join(dir, "a"), (*diskcache.Cache)(nil), false},
		{"file://" + filepath.Join(dir, "b") + "?ttl=1h", (*ttldiskcache.Cache)(nil), false},
		{"file://" + filepath.Join(dir, "c") + "?ttl=soon", nil, true},
		{filepath.Join(dir, "d"), (*diskcache.Cache)(nil), false},
		{"minio://localhost:9000/bucket/prefix", (*miniocache.Cache)(nil), false},
		{"minio://localhost:9000/", nil, true},
	}

	for _, tt := range tests {
		c, err := parseCache(tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseCache(%q) returned error %v, want error: %v", tt.value, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			continue
		}
		if tt.want == nil {
			if c != nil {
				t.Errorf("parseCache(%q) returned %T, want nil", tt.value, c)
			}
			continue
		}
		if got, want := reflect.TypeOf(c), reflect.TypeOf(tt.want); got != want {
			t.Errorf("parseCache(%q) returned %v, want %v", tt.value, got, want)
		}
	}
}

func TestTieredCache(t *testing.T) {
	dir := t.TempDir()
	var tc tieredCache
	if err := tc.Set("memory file://" + dir + "?ttl=1h"); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if _, ok := tc.Cache.(*twotier.TwoTier); !ok {
		t.Errorf("tiered cache is %T, want *twotier.TwoTier", tc.Cache)
	}
	if len(tc.ttlCaches) != 1 {
		t.Errorf("got %d ttl caches, want 1", len(tc.ttlCaches))
	}

	tc.Cache.Set("k", []byte("v"))
	if got, ok := tc.Cache.Get("k"); !ok || string(got) != "v" {
		t.Errorf("Get returned (%q, %v), want (%q, true)", got, ok, "v")
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, ".env")
	data := "IMAGECACHE_TEST_SOURCE=http://example.com/a.png\nIMAGECACHE_TEST_LATENCY=1s\n"
	if err := os.WriteFile(name, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IMAGECACHE_TEST_LATENCY", "2s")
	t.Cleanup(func() { os.Unsetenv("IMAGECACHE_TEST_SOURCE") })

	if err := loadEnvFiles(name); err != nil {
		t.Fatalf("loadEnvFiles returned error: %v", err)
	}
	if got, want := os.Getenv("IMAGECACHE_TEST_SOURCE"), "http://example.com/a.png"; got != want {
		t.Errorf("IMAGECACHE_TEST_SOURCE = %q, want %q", got, want)
	}
	if got, want := os.Getenv("IMAGECACHE_TEST_LATENCY"), "2s"; got != want {
		t.Errorf("existing IMAGECACHE_TEST_LATENCY = %q, want %q", got, want)
	}

	if err := loadEnvFiles(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("loadEnvFiles of missing file returned error: %v", err)
	}
}
