// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"bytes"
	"image"
	_ "image/gif" // register gif format
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp" // register bmp format
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decode decodes an encoded image in any of the supported formats (bmp, gif,
// jpeg, png, tiff, or webp).  Images carrying an EXIF orientation are
// rotated and flipped so that the returned image is upright.
func Decode(b []byte) (image.Image, string, error) {
	m, format, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, format, err
	}

	if format == "jpeg" || format == "tiff" {
		m = orient(m, exifOrientation(bytes.NewReader(b)))
	}
	return m, format, nil
}

// EXIF orientation values; see
// https://magnushoff.com/articles/jpeg-orientation/
const (
	topLeft     = 1
	topRight    = 2
	bottomRight = 3
	bottomLeft  = 4
	leftTop     = 5
	rightTop    = 6
	rightBottom = 7
	leftBottom  = 8
)

// exifOrientation returns the EXIF orientation of the image in r, or 0 if
// it has none.
func exifOrientation(r io.Reader) int {
	x, err := exif.Decode(r)
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	o, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return o
}

// orient transforms m so that an image with EXIF orientation o is upright.
func orient(m image.Image, o int) image.Image {
	switch o {
	case topRight:
		return imaging.FlipH(m)
	case bottomRight:
		return imaging.Rotate180(m)
	case bottomLeft:
		return imaging.FlipV(m)
	case leftTop:
		return imaging.Transpose(m)
	case rightTop:
		return imaging.Rotate270(m)
	case rightBottom:
		return imaging.Transverse(m)
	case leftBottom:
		return imaging.Rotate90(m)
	}
	return m
}
