// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package imagecache

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	optQuick       = "quick"
	optPreview     = "preview"
	optFormatJPEG  = "jpeg"
	optFormatPNG   = "png"
	optFormatTIFF  = "tiff"
	optFormatBMP   = "bmp"
	optQualityPfx  = "q"
	optCropX       = "cx"
	optCropY       = "cy"
	optCropWidth   = "cw"
	optCropHeight  = "ch"
	defaultQuality = 95
)

// RequestError reports a malformed request.
type RequestError struct {
	Message string
	Path    string
}

func (e RequestError) Error() string {
	return fmt.Sprintf("malformed request %q: %s", e.Path, e.Message)
}

// Options specifies which rendering a consumer requests and how it should
// be encoded.
//
// # Region of interest
//
// The region of interest is specified with the cx, cy, cw, and ch options, in
// source image pixels.  If all four are zero, the whole image is requested.
//
// # Quick
//
// The "quick" option requests a fast, approximate rendering.  A cached full
// quality rendering may be returned instead.
//
// # Preview
//
// The "preview" option requests the reduced, display sized rendering.
//
// # Format and Quality
//
// The "jpeg", "png", "tiff" and "bmp" options select the output encoding,
// "png" being the default.  For jpeg, "q" followed by a number between 1 and
// 100 sets the quality.
//
// Options are separated by commas; the last instance of an option wins and
// unknown options are ignored:
//
//	cx10,cy10,cw200,ch100       - 200x100 region at 10,10
//	preview,quick               - quick preview of the whole image
//	cx0,cy0,cw64,ch64,jpeg,q80  - 64x64 jpeg at quality 80
type Options struct {
	CropX      int
	CropY      int
	CropWidth  int
	CropHeight int

	Quick   bool
	Preview bool

	Format  string
	Quality int
}

var emptyOptions = Options{}

func (o Options) String() string {
	opts := []string{}
	if o.Scoped() {
		opts = append(opts,
			optCropX+strconv.Itoa(o.CropX),
			optCropY+strconv.Itoa(o.CropY),
			optCropWidth+strconv.Itoa(o.CropWidth),
			optCropHeight+strconv.Itoa(o.CropHeight))
	}
	if o.Quick {
		opts = append(opts, optQuick)
	}
	if o.Preview {
		opts = append(opts, optPreview)
	}
	if o.Format != "" {
		opts = append(opts, o.Format)
	}
	if o.Quality != 0 {
		opts = append(opts, fmt.Sprintf("%s%d", optQualityPfx, o.Quality))
	}
	return strings.Join(opts, ",")
}

// Scoped reports whether o requests a region of interest rather than the
// whole image.
func (o Options) Scoped() bool {
	return o.CropX != 0 || o.CropY != 0 || o.CropWidth != 0 || o.CropHeight != 0
}

// ROI returns the requested region of interest, or nil for the whole image.
func (o Options) ROI() *Rect {
	if !o.Scoped() {
		return nil
	}
	return &Rect{X: o.CropX, Y: o.CropY, Width: o.CropWidth, Height: o.CropHeight}
}

// Request returns the cache request described by o.
func (o Options) Request() Request {
	req := Request{ROI: o.ROI(), Quick: o.Quick, Tier: Full}
	if o.Preview {
		req.Tier = Preview
	}
	return req
}

// ParseOptions parses str as a list of comma separated options.  See
// Options for the supported values.
func ParseOptions(str string) Options {
	var options Options

	for _, opt := range strings.Split(str, ",") {
		switch {
		case len(opt) == 0:
			// do nothing
		case opt == optQuick:
			options.Quick = true
		case opt == optPreview:
			options.Preview = true
		case opt == optFormatJPEG, opt == optFormatPNG, opt == optFormatTIFF, opt == optFormatBMP:
			options.Format = opt
		case strings.HasPrefix(opt, optCropX):
			options.CropX, _ = strconv.Atoi(strings.TrimPrefix(opt, optCropX))
		case strings.HasPrefix(opt, optCropY):
			options.CropY, _ = strconv.Atoi(strings.TrimPrefix(opt, optCropY))
		case strings.HasPrefix(opt, optCropWidth):
			options.CropWidth, _ = strconv.Atoi(strings.TrimPrefix(opt, optCropWidth))
		case strings.HasPrefix(opt, optCropHeight):
			options.CropHeight, _ = strconv.Atoi(strings.TrimPrefix(opt, optCropHeight))
		case strings.HasPrefix(opt, optQualityPfx):
			value := strings.TrimPrefix(opt, optQualityPfx)
			if q, err := strconv.Atoi(value); err == nil && q > 0 && q <= 100 {
				options.Quality = q
			}
		}
	}

	return options
}

// NewRequest parses an http.Request into Options.  The request path is
// expected to be of the form "/{options}"; the query string may also carry
// a region of interest as "roi=x:y:wxh", which overrides any crop options.
func NewRequest(r *http.Request) (Options, error) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if strings.Contains(path, "/") {
		return emptyOptions, RequestError{"too many path segments", r.URL.Path}
	}
	opt := ParseOptions(path)

	if v := r.URL.Query().Get("roi"); v != "" {
		roi, err := ParseRect(v)
		if err != nil {
			return emptyOptions, RequestError{err.Error(), r.URL.Path}
		}
		opt.CropX, opt.CropY = roi.X, roi.Y
		opt.CropWidth, opt.CropHeight = roi.Width, roi.Height
	}
	return opt, nil
}

// optionsString is used in log messages.
func optionsString(opt Options) string {
	buf := new(bytes.Buffer)
	buf.WriteString(opt.Request().String())
	if opt.Format != "" {
		fmt.Fprintf(buf, " format=%s", opt.Format)
	}
	return buf.String()
}
