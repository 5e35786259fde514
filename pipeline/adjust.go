// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	bildadjust "github.com/anthonynsimon/bild/adjust"
	"github.com/disintegration/imaging"
	"willnorris.com/go/imagecache"
)

// Params are the tone adjustments applied by an Adjust stage.  The zero
// value leaves images unchanged.
type Params struct {
	Brightness float64 // percentage, -100 to 100
	Contrast   float64 // percentage, -100 to 100
	Saturation float64 // percentage, -100 to 100
	Gamma      float64 // 1.0 (or 0) leaves the image unchanged
	Hue        int     // rotation in degrees, -180 to 180
}

func (p Params) neutral() bool {
	return p.Brightness == 0 && p.Contrast == 0 && p.Saturation == 0 &&
		(p.Gamma == 0 || p.Gamma == 1) && p.Hue == 0
}

func (p Params) String() string {
	return fmt.Sprintf("brightness=%v contrast=%v saturation=%v gamma=%v hue=%v",
		p.Brightness, p.Contrast, p.Saturation, p.Gamma, p.Hue)
}

// ParseParams updates p with the values present in v.  Keys are
// "brightness", "contrast", "saturation", "gamma" and "hue".
func ParseParams(p Params, v url.Values) (Params, error) {
	fields := []struct {
		key string
		dst *float64
		min float64
		max float64
	}{
		{"brightness", &p.Brightness, -100, 100},
		{"contrast", &p.Contrast, -100, 100},
		{"saturation", &p.Saturation, -100, 100},
		{"gamma", &p.Gamma, 0, 10},
	}
	for _, f := range fields {
		s := v.Get(f.key)
		if s == "" {
			continue
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return p, fmt.Errorf("pipeline: invalid %s: %w", f.key, err)
		}
		if n < f.min || n > f.max {
			return p, fmt.Errorf("pipeline: %s %v out of range [%v, %v]", f.key, n, f.min, f.max)
		}
		*f.dst = n
	}

	if s := v.Get("hue"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return p, fmt.Errorf("pipeline: invalid hue: %w", err)
		}
		if n < -180 || n > 180 {
			return p, fmt.Errorf("pipeline: hue %v out of range [-180, 180]", n)
		}
		p.Hue = n
	}
	return p, nil
}

// Adjust is a pipeline stage applying tone adjustments to the renderings
// of its upstream producer.  Changes to its parameters are announced to
// subscribers as pixel data changes; upstream changes are passed through.
type Adjust struct {
	imagecache.Signal

	upstream imagecache.Producer
	cancel   func()

	mu     sync.RWMutex
	params Params
}

// NewAdjust returns an Adjust stage rendering from upstream.
func NewAdjust(upstream imagecache.Producer) *Adjust {
	a := &Adjust{upstream: upstream}
	if n, ok := upstream.(imagecache.Notifier); ok {
		a.cancel = n.Subscribe(a.Emit)
	}
	return a
}

// Params returns the current adjustments.
func (a *Adjust) Params() Params {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.params
}

// SetParams replaces the current adjustments.  Subscribers are notified if
// p differs from the current adjustments.
func (a *Adjust) SetParams(p Params) {
	a.mu.Lock()
	if a.params == p {
		a.mu.Unlock()
		return
	}
	a.params = p
	a.mu.Unlock()

	a.Emit(imagecache.ChangedPixelData)
}

// Fetch implements imagecache.Producer.
func (a *Adjust) Fetch(ctx context.Context, req imagecache.Request) (*imagecache.Response, error) {
	resp, err := a.upstream.Fetch(ctx, req)
	if err != nil || resp == nil || resp.Image == nil {
		return resp, err
	}

	p := a.Params()
	if p.neutral() {
		return resp, nil
	}

	m := resp.Image
	if p.Gamma != 0 && p.Gamma != 1 {
		m = imaging.AdjustGamma(m, p.Gamma)
	}
	if p.Brightness != 0 {
		m = imaging.AdjustBrightness(m, p.Brightness)
	}
	if p.Contrast != 0 {
		m = imaging.AdjustContrast(m, p.Contrast)
	}
	if p.Saturation != 0 {
		m = imaging.AdjustSaturation(m, p.Saturation)
	}
	if p.Hue != 0 {
		m = bildadjust.Hue(m, p.Hue)
	}
	return &imagecache.Response{Image: m, Quick: resp.Quick}, nil
}

// Close unsubscribes from the upstream producer.
func (a *Adjust) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}
