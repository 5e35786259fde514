// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package imagecache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Handler serves renderings from a ResultCache over HTTP.
type Handler struct {
	Cache *ResultCache

	// Timeout specifies a time limit for requests served by this handler.
	// If zero, no timeout is enforced.
	Timeout time.Duration

	// The Logger used by the handler.  If nil, log messages will be written
	// to the standard logger.
	Logger *log.Logger

	// Verbose specifies whether to log every request.
	Verbose bool
}

// NewHandler constructs a new Handler serving renderings from c.
func NewHandler(c *ResultCache) *Handler {
	return &Handler{Cache: c}
}

// ServeHTTP handles rendering requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/favicon.ico":
		return // ignore favicon requests
	case "/status":
		h.serveStatus(w)
		return
	}

	var handler http.Handler = http.HandlerFunc(h.serveImage)
	if h.Timeout > 0 {
		handler = http.TimeoutHandler(handler, h.Timeout, "Gateway timeout waiting for rendering")
	}

	timer := time.Now()
	handler.ServeHTTP(w, r)
	httpRequestsResponseTime.Observe(time.Since(timer).Seconds())
}

func (h *Handler) serveImage(w http.ResponseWriter, r *http.Request) {
	opt, err := NewRequest(r)
	if err != nil {
		msg := fmt.Sprintf("invalid request: %v", err)
		h.logf("%s", msg)
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	resp, err := h.Cache.Fetch(r.Context(), opt.Request())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		msg := fmt.Sprintf("error rendering image: %v", err)
		h.logf("%s", msg)
		http.Error(w, msg, http.StatusInternalServerError)
		return
	}
	if resp == nil || resp.Image == nil {
		http.Error(w, "no image available", http.StatusNotFound)
		return
	}

	if h.Verbose {
		h.logf("request: %s (quick: %v)", optionsString(opt), resp.Quick)
	}

	buf := new(bytes.Buffer)
	contentType, err := encode(buf, resp.Image, opt)
	if err != nil {
		msg := fmt.Sprintf("error encoding image: %v", err)
		h.logf("%s", msg)
		http.Error(w, msg, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if resp.Quick {
		w.Header().Set("X-Quick", "1")
	}
	io.Copy(w, buf)
}

// encode writes m to w in the format requested by opt, and returns its
// content type.
func encode(w io.Writer, m image.Image, opt Options) (string, error) {
	switch opt.Format {
	case optFormatJPEG:
		quality := opt.Quality
		if quality == 0 {
			quality = defaultQuality
		}
		return "image/jpeg", jpeg.Encode(w, m, &jpeg.Options{Quality: quality})
	case optFormatTIFF:
		return "image/tiff", tiff.Encode(w, m, &tiff.Options{Compression: tiff.Deflate})
	case optFormatBMP:
		return "image/bmp", bmp.Encode(w, m)
	default:
		return "image/png", png.Encode(w, m)
	}
}

type status struct {
	Full      bool   `json:"full"`
	Preview   bool   `json:"preview"`
	ROI       string `json:"roi,omitempty"`
	Quick     bool   `json:"quick"`
	LatencyMS int64  `json:"latency_ms"`
	IgnoreROI bool   `json:"ignore_roi"`
	Stats     Stats  `json:"stats"`

	FullFetches    FetchTimes `json:"full_fetches"`
	PreviewFetches FetchTimes `json:"preview_fetches"`
}

func (h *Handler) serveStatus(w http.ResponseWriter) {
	c := h.Cache
	st := status{
		Full:      c.Cached(Full),
		Preview:   c.Cached(Preview),
		Quick:     c.Quick(),
		LatencyMS: c.Latency().Milliseconds(),
		IgnoreROI: c.IgnoreROI(),
		Stats:     c.Stats(),

		FullFetches:    c.FetchTimes(Full),
		PreviewFetches: c.FetchTimes(Preview),
	}
	if roi, ok := c.LastROI(); ok {
		st.ROI = roi.String()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		h.logf("error encoding status: %v", err)
	}
}

func (h *Handler) logf(format string, v ...interface{}) {
	if h.Logger != nil {
		h.Logger.Printf(format, v...)
	} else {
		log.Printf(format, v...)
	}
}
