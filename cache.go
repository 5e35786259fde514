// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package imagecache

import "github.com/gregjones/httpcache"

// Cache stores the raw bytes of source images fetched by a pipeline's
// loader, keyed by URL.  It is the same interface as httpcache.Cache, so any
// httpcache implementation can be used.  Rendered results are never stored
// in a Cache; a ResultCache holds those in memory.
type Cache interface {
	Get(key string) (responseBytes []byte, ok bool)
	Set(key string, responseBytes []byte)
	Delete(key string)
}

var _ httpcache.Cache = Cache(nil)

// NopCache is a no-op cache implementation.
var NopCache = new(nopCache)

type nopCache struct{}

func (c nopCache) Get(string) ([]byte, bool) { return nil, false }
func (c nopCache) Set(string, []byte)        {}
func (c nopCache) Delete(string)             {}
