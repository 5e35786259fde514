// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package imagecache

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// relativeAccuracy of the fetch time quantiles.
const relativeAccuracy = 0.01

// FetchTimes summarizes how long upstream fetches took, in milliseconds.
type FetchTimes struct {
	Count uint64  `json:"count"`
	P50   float64 `json:"p50_ms"`
	P90   float64 `json:"p90_ms"`
	P99   float64 `json:"p99_ms"`
	Max   float64 `json:"max_ms"`
}

func (ft FetchTimes) String() string {
	if ft.Count == 0 {
		return "no data"
	}
	return fmt.Sprintf("n=%d p50=%.2fms p90=%.2fms p99=%.2fms max=%.2fms",
		ft.Count, ft.P50, ft.P90, ft.P99, ft.Max)
}

// fetchTracker records upstream fetch durations per tier.
type fetchTracker struct {
	// accuracy of new sketches.  If zero, relativeAccuracy is used.
	accuracy float64

	mu       sync.Mutex
	sketches [2]*ddsketch.DDSketch
}

func (t *fetchTracker) record(tier Tier, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.sketches[tier]
	if s == nil {
		accuracy := t.accuracy
		if accuracy == 0 {
			accuracy = relativeAccuracy
		}
		var err error
		s, err = ddsketch.LogUnboundedDenseDDSketch(accuracy)
		if err != nil {
			log.Printf("imagecache: error creating fetch time sketch: %v", err)
			return
		}
		t.sketches[tier] = s
	}
	s.Add(float64(d.Microseconds()) / 1000.0)
}

func (t *fetchTracker) times(tier Tier) FetchTimes {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.sketches[tier]
	if s == nil || s.IsEmpty() {
		return FetchTimes{}
	}
	ft := FetchTimes{Count: uint64(s.GetCount())}
	ft.P50, _ = s.GetValueAtQuantile(0.50)
	ft.P90, _ = s.GetValueAtQuantile(0.90)
	ft.P99, _ = s.GetValueAtQuantile(0.99)
	ft.Max, _ = s.GetMaxValue()
	return ft
}
