// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"image"

	"github.com/disintegration/imaging"
	"willnorris.com/go/imagecache"
)

// DefaultPreviewSize is the default bounding box, in pixels, of preview
// renderings.
const DefaultPreviewSize = 1024

// render produces the rendering of src described by req.  The region of
// interest is cropped out first; zero sized or out of bounds regions result
// in an empty image.  Preview renderings are then scaled down to fit within
// previewSize pixels in each dimension, never up.  Quick renderings use a
// cheaper resampling filter.
func render(src image.Image, req imagecache.Request, previewSize int) image.Image {
	m := src
	if req.ROI != nil {
		m = imaging.Crop(src, req.ROI.Bounds())
	}

	if req.Tier == imagecache.Preview && previewSize > 0 {
		b := m.Bounds()
		if b.Dx() > previewSize || b.Dy() > previewSize {
			m = imaging.Fit(m, previewSize, previewSize, resampleFilter(req.Quick))
		}
	}
	return m
}

func resampleFilter(quick bool) imaging.ResampleFilter {
	if quick {
		return imaging.Box
	}
	return imaging.Lanczos
}
