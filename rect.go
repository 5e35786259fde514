// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package imagecache

import (
	"fmt"
	"image"
	"strconv"
	"strings"
)

// Rect is a region of interest in source image coordinates.  Rectangles are
// opaque values: they are never clamped to image bounds, and zero or negative
// sizes are allowed.
type Rect struct {
	X, Y          int
	Width, Height int
}

// Contains reports whether inner lies entirely within r.  Edges are
// inclusive, so a rectangle always contains itself.
func (r Rect) Contains(inner Rect) bool {
	return inner.X >= r.X &&
		inner.X+inner.Width <= r.X+r.Width &&
		inner.Y >= r.Y &&
		inner.Y+inner.Height <= r.Y+r.Height
}

// Bounds returns r as an image.Rectangle.
func (r Rect) Bounds() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// String returns r in the form "x:y:wxh", as accepted by ParseRect.
func (r Rect) String() string {
	return fmt.Sprintf("%d:%d:%dx%d", r.X, r.Y, r.Width, r.Height)
}

// ParseRect parses a rectangle of the form "x:y:wxh".
func ParseRect(s string) (Rect, error) {
	var r Rect
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return r, fmt.Errorf("rect %q: want x:y:wxh", s)
	}
	size := strings.SplitN(parts[2], "x", 2)
	if len(size) != 2 {
		return r, fmt.Errorf("rect %q: size must be wxh", s)
	}

	var err error
	fields := []struct {
		dst *int
		s   string
	}{
		{&r.X, parts[0]},
		{&r.Y, parts[1]},
		{&r.Width, size[0]},
		{&r.Height, size[1]},
	}
	for _, f := range fields {
		if *f.dst, err = strconv.Atoi(f.s); err != nil {
			return Rect{}, fmt.Errorf("rect %q: %w", s, err)
		}
	}
	return r, nil
}
