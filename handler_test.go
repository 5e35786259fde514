// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package imagecache

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// producerFunc adapts a function to the Producer interface.
type producerFunc func(context.Context, Request) (*Response, error)

func (f producerFunc) Fetch(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// gridProducer renders a 100x80 image cropped to the requested region.
func gridProducer(_ context.Context, req Request) (*Response, error) {
	r := image.Rect(0, 0, 100, 80)
	if req.ROI != nil {
		r = req.ROI.Bounds().Intersect(r)
	}
	return &Response{Image: image.NewGray(r), Quick: req.Quick}, nil
}

func newTestHandler(p Producer) *Handler {
	h := NewHandler(New(p))
	h.Logger = log.New(io.Discard, "", 0)
	return h
}

func TestHandler_ServeImage(t *testing.T) {
	tests := []struct {
		url         string
		contentType string
		decode      func(io.Reader) (image.Image, error)
		size        image.Point
		quick       bool
	}{
		{"/", "image/png", png.Decode, image.Pt(100, 80), false},
		{"/cx10,cy10,cw20,ch30", "image/png", png.Decode, image.Pt(20, 30), false},
		{"/jpeg,q50?roi=0:0:8x8", "image/jpeg", jpeg.Decode, image.Pt(8, 8), false},
		{"/tiff,quick", "image/tiff", tiff.Decode, image.Pt(100, 80), true},
		{"/bmp,preview", "image/bmp", bmp.Decode, image.Pt(100, 80), false},
	}

	for _, tt := range tests {
		h := newTestHandler(producerFunc(gridProducer))
		req := httptest.NewRequest("GET", tt.url, nil)
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, req)

		if got, want := resp.Code, http.StatusOK; got != want {
			t.Errorf("ServeHTTP(%q) returned status %d, want %d: %s", tt.url, got, want, resp.Body)
			continue
		}
		if got := resp.Header().Get("Content-Type"); got != tt.contentType {
			t.Errorf("ServeHTTP(%q) returned content type %q, want %q", tt.url, got, tt.contentType)
		}
		if got, want := resp.Header().Get("Content-Length"), strconv.Itoa(resp.Body.Len()); got != want {
			t.Errorf("ServeHTTP(%q) returned content length %s, want %s", tt.url, got, want)
		}
		if got := resp.Header().Get("X-Quick") == "1"; got != tt.quick {
			t.Errorf("ServeHTTP(%q) returned quick %v, want %v", tt.url, got, tt.quick)
		}

		m, err := tt.decode(resp.Body)
		if err != nil {
			t.Errorf("ServeHTTP(%q) returned undecodable body: %v", tt.url, err)
			continue
		}
		if got := m.Bounds().Size(); got != tt.size {
			t.Errorf("ServeHTTP(%q) returned image of size %v, want %v", tt.url, got, tt.size)
		}
	}
}

func TestHandler_Errors(t *testing.T) {
	errBoom := errors.New("boom")
	tests := []struct {
		url    string
		p      producerFunc
		status int
	}{
		{"/a/b", gridProducer, http.StatusBadRequest},
		{"/?roi=1:2", gridProducer, http.StatusBadRequest},
		{"/", func(context.Context, Request) (*Response, error) { return nil, errBoom }, http.StatusInternalServerError},
		{"/", func(context.Context, Request) (*Response, error) { return nil, nil }, http.StatusNotFound},
		{"/", func(context.Context, Request) (*Response, error) { return &Response{}, nil }, http.StatusNotFound},
	}

	for _, tt := range tests {
		h := newTestHandler(tt.p)
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, httptest.NewRequest("GET", tt.url, nil))
		if resp.Code != tt.status {
			t.Errorf("ServeHTTP(%q) returned status %d, want %d", tt.url, resp.Code, tt.status)
		}
	}
}

func TestHandler_CachesAcrossRequests(t *testing.T) {
	var fetches int
	h := newTestHandler(producerFunc(func(ctx context.Context, req Request) (*Response, error) {
		fetches++
		return gridProducer(ctx, req)
	}))

	for _, u := range []string{"/cx0,cy0,cw50,ch50", "/cx10,cy10,cw5,ch5", "/cx0,cy0,cw50,ch50,jpeg"} {
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, httptest.NewRequest("GET", u, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("ServeHTTP(%q) returned status %d", u, resp.Code)
		}
	}
	if fetches != 1 {
		t.Errorf("upstream fetched %d times, want 1", fetches)
	}
}

func TestHandler_Timeout(t *testing.T) {
	h := newTestHandler(producerFunc(func(ctx context.Context, req Request) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	h.Timeout = 10 * time.Millisecond

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest("GET", "/", nil))
	if got, want := resp.Code, http.StatusServiceUnavailable; got != want {
		t.Errorf("ServeHTTP returned status %d, want %d", got, want)
	}
	if h.Cache.Cached(Full) {
		t.Errorf("timed out request cached a result")
	}
}

func TestHandler_Favicon(t *testing.T) {
	var fetches int
	h := newTestHandler(producerFunc(func(ctx context.Context, req Request) (*Response, error) {
		fetches++
		return gridProducer(ctx, req)
	}))

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest("GET", "/favicon.ico", nil))
	if resp.Code != http.StatusOK || resp.Body.Len() != 0 {
		t.Errorf("favicon request returned %d with %d bytes", resp.Code, resp.Body.Len())
	}
	if fetches != 0 {
		t.Errorf("favicon request fetched from upstream")
	}
}

func TestHandler_Status(t *testing.T) {
	h := newTestHandler(producerFunc(gridProducer))
	h.Cache.SetLatency(250 * time.Millisecond)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/cx1,cy2,cw3,ch4,preview,quick", nil))

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest("GET", "/status", nil))
	if got, want := resp.Header().Get("Content-Type"), "application/json"; got != want {
		t.Errorf("status content type = %q, want %q", got, want)
	}

	var st status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("error decoding status: %v", err)
	}
	if st.PreviewFetches.Count != 1 || st.FullFetches.Count != 0 {
		t.Errorf("status fetch times = %+v, %+v; want one preview fetch", st.FullFetches, st.PreviewFetches)
	}
	want := status{
		Preview:   true,
		ROI:       "1:2:3x4",
		Quick:     true,
		LatencyMS: 250,
		Stats:     Stats{Fetches: 1},

		PreviewFetches: st.PreviewFetches,
	}
	if st != want {
		t.Errorf("status = %+v, want %+v", st, want)
	}
}
