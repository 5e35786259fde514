// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// Package imagecache provides a result cache for a single stage of an image
// pipeline.  For typical use of assembling a pipeline and serving it over
// HTTP, see cmd/imagecache/main.go.
package imagecache // import "willnorris.com/go/imagecache"

import (
	"context"
	"fmt"
	"image"
	"log"
	"sync"
	"time"
)

// MaxLatency is the longest change propagation latency a ResultCache accepts.
const MaxLatency = 10 * time.Second

// ResultCache caches the most recent full and preview renderings of an
// upstream Producer.
//
// Both tiers share a single scope: the region of interest that was requested
// when the cache was last populated, and whether the cached results were
// rendered in quick mode.  Any request the cached scope cannot satisfy flushes
// both tiers.
//
// Change notifications from the upstream producer flush the cache if pixel
// data changed, and are passed on to the cache's own subscribers, optionally
// delayed and merged over a latency window.
type ResultCache struct {
	// Logger is used to log cache decisions and change propagation.  If nil,
	// the standard logger is used.
	Logger *log.Logger

	// Verbose logs every request, flush and change propagation.
	Verbose bool

	upstream       Producer
	cancelUpstream func()
	changed        Signal
	fetchTimes     fetchTracker

	// afterFunc schedules f to run after d.  Replaced in tests.
	afterFunc func(d time.Duration, f func()) stopper

	mu        sync.Mutex
	slots     [2]image.Image // indexed by Tier
	lastROI   *Rect
	quick     bool
	ignoreROI bool
	latency   time.Duration
	gen       uint64 // incremented whenever the cached scope changes

	pending ChangeMask
	timer   stopper
	timerID uint64

	closed bool
	stats  Stats
}

var (
	_ Producer = (*ResultCache)(nil)
	_ Notifier = (*ResultCache)(nil)
)

// stopper is the part of *time.Timer used by ResultCache.
type stopper interface {
	Stop() bool
}

// Stats are running totals for a ResultCache.
type Stats struct {
	Hits         uint64 // requests served from cache
	Fetches      uint64 // requests delegated upstream
	Discarded    uint64 // upstream results dropped because of a racing flush
	Flushes      uint64
	Propagations uint64 // change notifications passed downstream
}

// New returns a ResultCache in front of upstream.  If upstream is also a
// Notifier, the cache subscribes to its change notifications until Close is
// called.
func New(upstream Producer) *ResultCache {
	c := &ResultCache{
		upstream: upstream,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
	if n, ok := upstream.(Notifier); ok {
		c.cancelUpstream = n.Subscribe(c.Changed)
	}
	return c
}

// Fetch returns the requested rendering, from cache when the cached scope
// satisfies req and from the upstream producer otherwise.  Upstream errors are
// returned unchanged and nothing is cached.
func (c *ResultCache) Fetch(ctx context.Context, req Request) (*Response, error) {
	if req.Tier != Full && req.Tier != Preview {
		return nil, fmt.Errorf("imagecache: unknown tier %d", req.Tier)
	}

	c.mu.Lock()
	c.scope(req)
	if img := c.slots[req.Tier]; img != nil {
		c.stats.Hits++
		resp := &Response{Image: img, Quick: c.quick}
		c.mu.Unlock()

		requestServedFromCacheCount.WithLabelValues(req.Tier.String()).Inc()
		if c.Verbose {
			c.logf("imagecache: %v served from cache (quick: %v)", req, resp.Quick)
		}
		return resp, nil
	}
	c.stats.Fetches++
	gen := c.gen
	c.mu.Unlock()

	upstreamFetchCount.WithLabelValues(req.Tier.String()).Inc()
	if c.Verbose {
		c.logf("imagecache: fetching %v from upstream", req)
	}
	start := time.Now()
	resp, err := c.upstream.Fetch(ctx, req)
	elapsed := time.Since(start)
	upstreamFetchSummary.Observe(elapsed.Seconds())
	c.fetchTimes.record(req.Tier, elapsed)
	if err != nil {
		upstreamFetchErrors.Inc()
		return resp, err
	}
	if resp == nil {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen || c.closed {
		// the scope changed while the fetch was in flight; the result may
		// already be stale, so hand it to this caller only.
		c.stats.Discarded++
		discardedFetchCount.Inc()
		c.logf("imagecache: discarding %v result, scope changed during fetch", req.Tier)
		return &Response{Image: resp.Image, Quick: resp.Quick}, nil
	}
	if c.slots[req.Tier] != nil && !(c.quick && !resp.Quick) {
		// another fetch for this tier finished first, possibly for a
		// different region or quality, so keep it and answer with our own.
		return &Response{Image: resp.Image, Quick: resp.Quick}, nil
	}
	if c.quick && !resp.Quick {
		// full quality replaces any quick renderings
		c.slots = [2]image.Image{}
		c.quick = false
	}
	c.slots[req.Tier] = resp.Image
	c.quick = c.quick || resp.Quick
	return &Response{Image: resp.Image, Quick: resp.Quick}, nil
}

// scope flushes the cache if its current contents cannot satisfy req, and
// records req's region of interest as the cached scope if none is set.
// c.mu must be held.
func (c *ResultCache) scope(req Request) {
	// a quick result is never good enough for a full quality request
	if c.quick && !req.Quick {
		c.flush(flushQuality)
	}

	if !c.ignoreROI && req.ROI != nil {
		if c.lastROI != nil && !c.lastROI.Contains(*req.ROI) {
			c.flush(flushROI)
		}
		if c.lastROI == nil {
			roi := *req.ROI
			c.lastROI = &roi
			c.gen++ // unscoped fetches still in flight no longer fit
		}
	}

	if req.ROI == nil && c.lastROI != nil {
		c.flush(flushUnscoped)
	}
}

// Flush drops both cached renderings and the cached scope.
func (c *ResultCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flush(flushExplicit)
}

// flush must be called with c.mu held.
func (c *ResultCache) flush(reason string) {
	c.slots = [2]image.Image{}
	c.lastROI = nil
	c.quick = false
	c.gen++
	c.stats.Flushes++
	flushCount.WithLabelValues(reason).Inc()
	if c.Verbose {
		c.logf("imagecache: flushed (%s)", reason)
	}
}

// Changed handles a change notification from the upstream producer.  If
// mask includes ChangedPixelData, the cache is flushed before Changed
// returns.  The notification is then passed to subscribers, either
// immediately or, if a latency is set, merged with any other notifications
// that arrive before the latency elapses.
func (c *ResultCache) Changed(mask ChangeMask) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if mask&ChangedPixelData != 0 {
		c.flush(flushChanged)
	}

	if c.latency <= 0 {
		c.mu.Unlock()
		c.propagate(mask)
		return
	}

	c.pending |= mask
	if c.timer == nil {
		c.timerID++
		id := c.timerID
		c.timer = c.afterFunc(c.latency, func() { c.fire(id) })
	}
	c.mu.Unlock()
}

// fire propagates the changes collected during the latency window of the
// timer identified by id.
func (c *ResultCache) fire(id uint64) {
	c.mu.Lock()
	if c.timer == nil || c.timerID != id {
		c.mu.Unlock()
		return
	}
	mask := c.pending
	c.pending = 0
	c.timer = nil
	c.mu.Unlock()

	c.propagate(mask)
}

func (c *ResultCache) propagate(mask ChangeMask) {
	c.mu.Lock()
	c.stats.Propagations++
	c.mu.Unlock()

	changePropagationCount.Inc()
	if c.Verbose {
		c.logf("imagecache: propagating change: %v", mask)
	}
	c.changed.Emit(mask)
}

// Subscribe registers fn to receive the cache's change notifications.
func (c *ResultCache) Subscribe(fn func(ChangeMask)) func() {
	return c.changed.Subscribe(fn)
}

// Close releases the cached renderings, cancels any pending change
// propagation and unsubscribes from the upstream producer.  Close always
// returns nil.
func (c *ResultCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = 0
	c.flush(flushExplicit)
	cancel := c.cancelUpstream
	c.cancelUpstream = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// SetLatency sets how long change notifications are held back and merged
// before being passed on.  d is truncated to milliseconds and clamped to
// [0, MaxLatency].  Zero passes every notification on immediately.
func (c *ResultCache) SetLatency(d time.Duration) {
	d = d.Truncate(time.Millisecond)
	if d < 0 {
		d = 0
	}
	if d > MaxLatency {
		d = MaxLatency
	}
	c.mu.Lock()
	c.latency = d
	c.mu.Unlock()
}

// Latency returns the change propagation latency.
func (c *ResultCache) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// SetIgnoreROI sets whether the region of interest of requests is ignored.
// The new value applies to subsequent requests; the cache is not flushed.
func (c *ResultCache) SetIgnoreROI(ignore bool) {
	c.mu.Lock()
	c.ignoreROI = ignore
	c.mu.Unlock()
}

// IgnoreROI reports whether the region of interest of requests is ignored.
func (c *ResultCache) IgnoreROI() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ignoreROI
}

// LastROI returns the region of interest that scopes the cached renderings.
func (c *ResultCache) LastROI() (Rect, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastROI == nil {
		return Rect{}, false
	}
	return *c.lastROI, true
}

// Quick reports whether the cached renderings were produced in quick mode.
func (c *ResultCache) Quick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quick
}

// Cached reports whether a rendering for tier is cached.
func (c *ResultCache) Cached(tier Tier) bool {
	if tier != Full && tier != Preview {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots[tier] != nil
}

// FetchTimes summarizes the durations of upstream fetches for tier.
func (c *ResultCache) FetchTimes(tier Tier) FetchTimes {
	if tier != Full && tier != Preview {
		return FetchTimes{}
	}
	return c.fetchTimes.times(tier)
}

// Stats returns the cache's running totals.
func (c *ResultCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *ResultCache) logf(format string, v ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(format, v...)
	} else {
		log.Printf(format, v...)
	}
}
