// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package gcscache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"cloud.google.com/go/storage"
)

// mockBucket is an in-memory bucketHandle.
type mockBucket struct {
	objects  map[string][]byte
	readErr  error
	writeErr error
}

func newMockBucket() *mockBucket {
	return &mockBucket{objects: make(map[string][]byte)}
}

func (b *mockBucket) Object(name string) objectHandle {
	return &mockObject{bucket: b, name: name}
}

type mockObject struct {
	bucket *mockBucket
	name   string
}

func (o *mockObject) NewReader(context.Context) (io.ReadCloser, error) {
	if o.bucket.readErr != nil {
		return nil, o.bucket.readErr
	}
	data, ok := o.bucket.objects[o.name]
	if !ok {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (o *mockObject) NewWriter(context.Context) io.WriteCloser {
	return &mockWriter{object: o}
}

func (o *mockObject) Delete(context.Context) error {
	if _, ok := o.bucket.objects[o.name]; !ok {
		return storage.ErrObjectNotExist
	}
	delete(o.bucket.objects, o.name)
	return nil
}

// mockWriter commits its buffer to the bucket on Close, as GCS does.
type mockWriter struct {
	object *mockObject
	buf    bytes.Buffer
}

func (w *mockWriter) Write(p []byte) (int, error) {
	if err := w.object.bucket.writeErr; err != nil {
		return 0, err
	}
	return w.buf.Write(p)
}

func (w *mockWriter) Close() error {
	if err := w.object.bucket.writeErr; err != nil {
		return err
	}
	w.object.bucket.objects[w.object.name] = w.buf.Bytes()
	return nil
}

func TestCache(t *testing.T) {
	bucket := newMockBucket()
	c := &Cache{bucket: bucket, prefix: "sources"}

	if _, ok := c.Get("http://example.com/a.png"); ok {
		t.Error("Get on empty cache returned ok = true")
	}

	c.Set("http://example.com/a.png", []byte("a"))
	got, ok := c.Get("http://example.com/a.png")
	if !ok || string(got) != "a" {
		t.Errorf("Get returned (%q, %v), want (%q, true)", got, ok, "a")
	}

	want := "sources/" + keyToFilename("http://example.com/a.png")
	if _, ok := bucket.objects[want]; !ok {
		t.Errorf("object not stored as %q: %v", want, bucket.objects)
	}

	c.Delete("http://example.com/a.png")
	if _, ok := c.Get("http://example.com/a.png"); ok {
		t.Error("Get after Delete returned ok = true")
	}

	// deleting a missing object is not an error worth logging, and must not panic
	c.Delete("http://example.com/a.png")
}

func TestCacheErrors(t *testing.T) {
	bucket := newMockBucket()
	c := &Cache{bucket: bucket}

	bucket.writeErr = errors.New("write failed")
	c.Set("k", []byte("v"))
	if len(bucket.objects) != 0 {
		t.Errorf("failed write stored objects: %v", bucket.objects)
	}

	bucket.writeErr = nil
	c.Set("k", []byte("v"))
	bucket.readErr = errors.New("read failed")
	if _, ok := c.Get("k"); ok {
		t.Error("Get with read error returned ok = true")
	}
}

func TestKeyToFilename(t *testing.T) {
	tests := []struct {
		key, want string
	}{
		{"", "d41d8cd98f00b204e9800998ecf8427e"},
		{"http://example.com/", "a6bf1757fff057f266b697df9cf176fd"},
	}
	for _, tt := range tests {
		if got := keyToFilename(tt.key); got != tt.want {
			t.Errorf("keyToFilename(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
