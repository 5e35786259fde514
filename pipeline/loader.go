// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// Package pipeline provides image producers that can be placed in front of
// an imagecache.ResultCache.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
	"willnorris.com/go/imagecache"
)

// ErrNoSource is returned by Loader.Fetch before a source image is loaded.
var ErrNoSource = errors.New("pipeline: no source image loaded")

// Loader is the first stage of a pipeline.  It holds a decoded source image
// and renders regions and previews of it.
type Loader struct {
	imagecache.Signal

	// Client is used to fetch source images.  If nil, http.DefaultClient is
	// used.
	Client *http.Client

	// PreviewSize bounds the width and height of preview renderings.  If
	// zero, DefaultPreviewSize is used.
	PreviewSize int

	// The Logger used by the loader.  If nil, log messages will be written
	// to the standard logger.
	Logger *log.Logger

	loads singleflight.Group // keyed by URL

	mu  sync.RWMutex
	src image.Image
	url string
}

// NewLoader constructs a new Loader.  The provided http Client will be used
// to fetch source images.
func NewLoader(client *http.Client) *Loader {
	return &Loader{Client: client, PreviewSize: DefaultPreviewSize}
}

// Load fetches and decodes the image at u and makes it the loader's source
// image.  Concurrent loads of the same URL share a single fetch.
func (l *Loader) Load(ctx context.Context, u string) error {
	_, err, _ := l.loads.Do(u, func() (interface{}, error) {
		return nil, l.load(ctx, u)
	})
	return err
}

func (l *Loader) load(ctx context.Context, u string) error {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("pipeline: error fetching source image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pipeline: source %q returned status: %v", u, resp.Status)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("pipeline: error reading source image: %w", err)
	}
	m, format, err := Decode(b)
	if err != nil {
		return fmt.Errorf("pipeline: error decoding source image: %w", err)
	}

	l.logf("loaded %s source %q (%dx%d)", format, u, m.Bounds().Dx(), m.Bounds().Dy())
	l.set(m, u)
	return nil
}

// Reload fetches the most recently loaded URL again.
func (l *Loader) Reload(ctx context.Context) error {
	l.mu.RLock()
	u := l.url
	l.mu.RUnlock()
	if u == "" {
		return ErrNoSource
	}
	return l.Load(ctx, u)
}

// SetImage makes m the loader's source image.
func (l *Loader) SetImage(m image.Image) {
	l.set(m, "")
}

func (l *Loader) set(m image.Image, u string) {
	l.mu.Lock()
	mask := imagecache.ChangedPixelData
	if l.src == nil || !l.src.Bounds().Eq(m.Bounds()) {
		mask |= imagecache.ChangedDimensions
	}
	l.src = m
	if u != "" {
		l.url = u
	}
	l.mu.Unlock()

	l.Emit(mask)
}

// Fetch implements imagecache.Producer.
func (l *Loader) Fetch(ctx context.Context, req imagecache.Request) (*imagecache.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	src := l.src
	l.mu.RUnlock()
	if src == nil {
		return nil, ErrNoSource
	}

	size := l.PreviewSize
	if size == 0 {
		size = DefaultPreviewSize
	}
	return &imagecache.Response{
		Image: render(src, req, size),
		Quick: req.Quick,
	}, nil
}

func (l *Loader) logf(format string, v ...interface{}) {
	if l.Logger != nil {
		l.Logger.Printf(format, v...)
	} else {
		log.Printf(format, v...)
	}
}
