// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package imagecache

import (
	"context"
	"fmt"
	"image"
	"slices"
	"strings"
	"sync"
)

// Tier identifies which resolution of a rendered image is requested.
type Tier int

const (
	// Full is the full-resolution rendering.
	Full Tier = iota
	// Preview is the reduced, display sized rendering.
	Preview
)

func (t Tier) String() string {
	switch t {
	case Full:
		return "full"
	case Preview:
		return "preview"
	}
	return "unknown"
}

// ChangeMask describes what changed in a producer's output.
type ChangeMask uint32

const (
	ChangedPixelData ChangeMask = 1 << iota
	ChangedDimensions
	ChangedProfile

	ChangedAll = ChangedPixelData | ChangedDimensions | ChangedProfile
)

func (m ChangeMask) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	if m&ChangedPixelData != 0 {
		parts = append(parts, "pixeldata")
	}
	if m&ChangedDimensions != 0 {
		parts = append(parts, "dimensions")
	}
	if m&ChangedProfile != 0 {
		parts = append(parts, "profile")
	}
	if rest := m &^ ChangedAll; rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// Request is a request for a rendered image.
type Request struct {
	// ROI is the region of interest in source image coordinates.  A nil
	// ROI requests the whole image.
	ROI *Rect

	// Quick requests a fast, approximate rendering.
	Quick bool

	Tier Tier
}

func (r Request) String() string {
	roi := "all"
	if r.ROI != nil {
		roi = r.ROI.String()
	}
	return fmt.Sprintf("%v roi=%s quick=%t", r.Tier, roi, r.Quick)
}

// Response carries a rendered image.  The image is shared; callers must
// not modify it.
type Response struct {
	Image image.Image

	// Quick reports whether Image was rendered in quick mode.
	Quick bool
}

// A Producer renders images on demand.
type Producer interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// A Notifier announces changes to a producer's output.
type Notifier interface {
	// Subscribe registers fn to be called with the change mask every
	// time the output changes.  The returned func removes fn.
	Subscribe(fn func(ChangeMask)) (cancel func())
}

// Signal is a set of change listeners.  The zero value is ready to use.
type Signal struct {
	mu        sync.Mutex
	next      int
	listeners []listener
}

type listener struct {
	id int
	fn func(ChangeMask)
}

// Subscribe implements Notifier.
func (s *Signal) Subscribe(fn func(ChangeMask)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.listeners = append(s.listeners, listener{id, fn})

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *Signal) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = slices.DeleteFunc(s.listeners, func(l listener) bool { return l.id == id })
}

// Emit calls every listener with mask, in subscription order.  Listeners
// are called without holding the signal's lock, so they may subscribe or
// cancel.
func (s *Signal) Emit(mask ChangeMask) {
	s.mu.Lock()
	ls := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, l := range ls {
		l.fn(mask)
	}
}
