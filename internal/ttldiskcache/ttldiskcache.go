// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// Package ttldiskcache provides a disk cache for source images whose entries
// expire after a fixed time to live.
package ttldiskcache

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/gregjones/httpcache/diskcache"
	"github.com/peterbourgon/diskv"
)

// Cache wraps an httpcache disk cache, recording an expiry time for every
// entry in a second diskv store under the "_expiry" directory.
type Cache struct {
	data   *diskcache.Cache
	store  *diskv.Diskv // the store underlying data
	expiry *diskv.Diskv
	ttl    time.Duration

	// cleanup is held while expired entries are removed, so that only one
	// process sharing basePath cleans up at a time.
	cleanup *flock.Flock

	mu  sync.RWMutex
	now func() time.Time
}

// shard stores file "c0ffee" as "c0/ff/c0ffee".
func shard(s string) []string { return []string{s[0:2], s[2:4]} }

// New creates a Cache storing files under basePath whose entries expire
// after ttl.
func New(basePath string, ttl time.Duration) *Cache {
	data := diskv.New(diskv.Options{
		BasePath:  basePath,
		Transform: shard,
	})
	expiry := diskv.New(diskv.Options{
		BasePath:  filepath.Join(basePath, "_expiry"),
		Transform: shard,
	})

	return &Cache{
		data:    diskcache.NewWithDiskv(data),
		store:   data,
		expiry:  expiry,
		ttl:     ttl,
		cleanup: flock.New(filepath.Join(basePath, "cleanup.lock")),
		now:     time.Now,
	}
}

// Get returns the data stored for key, if present and not expired.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	expired := c.expired(hashKey(key))
	c.mu.RUnlock()

	if expired {
		c.Delete(key)
		return nil, false
	}
	return c.data.Get(key)
}

// Set stores data for key, to expire after the cache's time to live.
func (c *Cache) Set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl).Unix()
	if err := c.expiry.Write(hashKey(key), []byte(strconv.FormatInt(expires, 10))); err != nil {
		log.Printf("error saving cache expiry: %v", err)
		return
	}
	c.data.Set(key, data)
}

// Delete removes key and its expiry time.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data.Delete(key)
	c.erase(hashKey(key))
}

// expired reports whether the entry stored under the hashed key h has
// expired.  Entries without an expiry time never expire.
func (c *Cache) expired(h string) bool {
	b, err := c.expiry.Read(h)
	if err != nil {
		return false
	}
	expires, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		log.Printf("error decoding cache expiry: %v", err)
		return false
	}
	return c.now().After(time.Unix(expires, 0))
}

func (c *Cache) erase(h string) {
	if !c.expiry.Has(h) {
		return
	}
	if err := c.expiry.Erase(h); err != nil {
		log.Printf("error deleting cache expiry: %v", err)
	}
}

// CleanupExpired removes all expired entries from the cache and returns how
// many were removed.  If another process is already cleaning up the same
// directory, CleanupExpired returns 0 without doing anything.
func (c *Cache) CleanupExpired() int {
	if err := os.MkdirAll(filepath.Dir(c.cleanup.Path()), 0o755); err != nil {
		log.Printf("error creating cache directory: %v", err)
		return 0
	}
	locked, err := c.cleanup.TryLock()
	if err != nil {
		log.Printf("error locking cache for cleanup: %v", err)
		return 0
	}
	if !locked {
		return 0
	}
	defer c.cleanup.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	for h := range c.expiry.Keys(nil) {
		if c.expired(h) {
			expired = append(expired, h)
		}
	}

	// diskcache stores entries under the same hashed key, so they can be
	// erased without knowing the original key.
	for _, h := range expired {
		if c.store.Has(h) {
			if err := c.store.Erase(h); err != nil {
				log.Printf("error deleting cache entry: %v", err)
			}
		}
		c.erase(h)
	}
	return len(expired)
}

func hashKey(key string) string {
	h := md5.New()
	_, _ = io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}
