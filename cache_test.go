// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package imagecache

import "testing"

func TestNopCache(t *testing.T) {
	NopCache.Set("foo", []byte("bar"))

	data, ok := NopCache.Get("foo")
	if data != nil {
		t.Errorf("NopCache.Get returned non-nil data")
	}
	if ok != false {
		t.Errorf("NopCache.Get returned ok = true, should always be false.")
	}

	// nothing to test on this method other than to verify it exists
	NopCache.Delete("foo")
}
