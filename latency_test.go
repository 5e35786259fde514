// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package imagecache

import (
	"io"
	"log"
	"math"
	"os"
	"testing"
	"time"
)

func TestFetchTracker(t *testing.T) {
	var tr fetchTracker
	if got := tr.times(Full); got != (FetchTimes{}) {
		t.Errorf("times() of empty tracker = %+v, want zero", got)
	}

	for i := 1; i <= 100; i++ {
		tr.record(Full, time.Duration(i)*time.Millisecond)
	}
	tr.record(Preview, 5*time.Millisecond)

	got := tr.times(Full)
	if got.Count != 100 {
		t.Errorf("Count = %d, want 100", got.Count)
	}
	tests := []struct {
		name      string
		got, want float64
	}{
		{"p50", got.P50, 50},
		{"p90", got.P90, 90},
		{"p99", got.P99, 99},
		{"max", got.Max, 100},
	}
	for _, tt := range tests {
		if math.Abs(tt.got-tt.want) > tt.want*0.02 {
			t.Errorf("%s = %v, want %v within 2%%", tt.name, tt.got, tt.want)
		}
	}

	if got := tr.times(Preview); got.Count != 1 {
		t.Errorf("preview Count = %d, want 1", got.Count)
	}
}

func TestFetchTracker_InvalidAccuracy(t *testing.T) {
	log.SetOutput(io.Discard)
	defer log.SetOutput(os.Stderr)

	tr := fetchTracker{accuracy: 2}
	tr.record(Full, time.Millisecond)
	if got := tr.times(Full); got != (FetchTimes{}) {
		t.Errorf("times() = %+v, want zero when no sketch could be made", got)
	}
}

func TestResultCache_FetchTimes(t *testing.T) {
	p := new(fakeProducer)
	c := New(p)

	fetch(t, c, Request{Tier: Preview})
	fetch(t, c, Request{Tier: Preview}) // served from cache, not timed

	if got := c.FetchTimes(Preview).Count; got != 1 {
		t.Errorf("FetchTimes(Preview).Count = %d, want 1", got)
	}
	if got := c.FetchTimes(Full).Count; got != 0 {
		t.Errorf("FetchTimes(Full).Count = %d, want 0", got)
	}
	if got := c.FetchTimes(Tier(9)); got != (FetchTimes{}) {
		t.Errorf("FetchTimes of unknown tier = %+v, want zero", got)
	}
}

func TestFetchTimes_String(t *testing.T) {
	tests := []struct {
		ft   FetchTimes
		want string
	}{
		{FetchTimes{}, "no data"},
		{FetchTimes{Count: 2, P50: 1, P90: 2, P99: 2.5, Max: 3}, "n=2 p50=1.00ms p90=2.00ms p99=2.50ms max=3.00ms"},
	}
	for _, tt := range tests {
		if got := tt.ft.String(); got != tt.want {
			t.Errorf("%#v.String() = %q, want %q", tt.ft, got, tt.want)
		}
	}
}
