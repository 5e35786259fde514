// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package imagecache

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("error reading counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestMetrics(t *testing.T) {
	hits := requestServedFromCacheCount.WithLabelValues("preview")
	fetches := upstreamFetchCount.WithLabelValues("preview")
	roiFlushes := flushCount.WithLabelValues(flushROI)
	changedFlushes := flushCount.WithLabelValues(flushChanged)

	before := map[string]float64{
		"hits":         counterValue(t, hits),
		"fetches":      counterValue(t, fetches),
		"roi":          counterValue(t, roiFlushes),
		"changed":      counterValue(t, changedFlushes),
		"propagations": counterValue(t, changePropagationCount),
	}

	c := New(new(fakeProducer))
	ctx := context.Background()
	c.Fetch(ctx, Request{ROI: roi(0, 0, 10, 10), Tier: Preview})
	c.Fetch(ctx, Request{ROI: roi(0, 0, 5, 5), Tier: Preview})
	c.Fetch(ctx, Request{ROI: roi(20, 20, 5, 5), Tier: Preview})
	c.Changed(ChangedPixelData)

	after := map[string]float64{
		"hits":         counterValue(t, hits),
		"fetches":      counterValue(t, fetches),
		"roi":          counterValue(t, roiFlushes),
		"changed":      counterValue(t, changedFlushes),
		"propagations": counterValue(t, changePropagationCount),
	}
	want := map[string]float64{
		"hits":         1,
		"fetches":      2,
		"roi":          1,
		"changed":      1,
		"propagations": 1,
	}
	for k, w := range want {
		if got := after[k] - before[k]; got != w {
			t.Errorf("%s counter increased by %v, want %v", k, got, w)
		}
	}
}
