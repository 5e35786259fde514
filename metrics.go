// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package imagecache

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestServedFromCacheCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_served_from_cache",
			Help: "Number of requests served from cache.",
		}, []string{"tier"})
	upstreamFetchCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_fetches",
			Help: "Number of requests delegated to the upstream producer.",
		}, []string{"tier"})
	upstreamFetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upstream_fetch_errors",
		Help: "Total upstream fetch failures",
	})
	discardedFetchCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "discarded_fetches",
		Help: "Upstream results not cached because a flush intervened.",
	})
	flushCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_flushes",
			Help: "Number of cache flushes.",
		}, []string{"reason"})
	changePropagationCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "change_propagations",
		Help: "Number of change notifications propagated downstream.",
	})
	upstreamFetchSummary = prometheus.NewSummary(prometheus.SummaryOpts{
		Name: "upstream_fetch_seconds",
		Help: "Time taken by the upstream producer in seconds.",
	})
	httpRequestsResponseTime = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "http",
		Name:      "response_time_seconds",
		Help:      "Request response times",
	})
)

// flush reasons
const (
	flushQuality  = "quality"
	flushROI      = "roi"
	flushUnscoped = "unscoped"
	flushChanged  = "changed"
	flushExplicit = "explicit"
)

func init() {
	prometheus.MustRegister(requestServedFromCacheCount)
	prometheus.MustRegister(upstreamFetchCount)
	prometheus.MustRegister(upstreamFetchErrors)
	prometheus.MustRegister(discardedFetchCount)
	prometheus.MustRegister(flushCount)
	prometheus.MustRegister(changePropagationCount)
	prometheus.MustRegister(upstreamFetchSummary)
	prometheus.MustRegister(httpRequestsResponseTime)
}
