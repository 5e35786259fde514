// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// Package gcscache provides an imagecache.Cache implementation that stores
// source images on Google Cloud Storage.
package gcscache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"path"
	"time"

	"cloud.google.com/go/storage"
)

// defaultTimeout bounds each storage operation.
const defaultTimeout = 30 * time.Second

// objectHandle is the part of *storage.ObjectHandle used by Cache.
type objectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) io.WriteCloser
	Delete(ctx context.Context) error
}

// bucketHandle is the part of *storage.BucketHandle used by Cache.
type bucketHandle interface {
	Object(name string) objectHandle
}

type gcsBucket struct {
	*storage.BucketHandle
}

func (b gcsBucket) Object(name string) objectHandle {
	return gcsObject{b.BucketHandle.Object(name)}
}

type gcsObject struct {
	*storage.ObjectHandle
}

func (o gcsObject) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return o.ObjectHandle.NewReader(ctx)
}

func (o gcsObject) NewWriter(ctx context.Context) io.WriteCloser {
	return o.ObjectHandle.NewWriter(ctx)
}

// Cache stores source images as objects in a GCS bucket.
type Cache struct {
	bucket bucketHandle
	prefix string
}

func (c *Cache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	r, err := c.object(key).NewReader(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrObjectNotExist) {
			log.Printf("error reading from gcs: %v", err)
		}
		return nil, false
	}
	defer r.Close()

	value, err := io.ReadAll(r)
	if err != nil {
		log.Printf("error reading from gcs: %v", err)
		return nil, false
	}
	return value, true
}

func (c *Cache) Set(key string, value []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	w := c.object(key).NewWriter(ctx)
	if _, err := w.Write(value); err != nil {
		log.Printf("error writing to gcs: %v", err)
	}
	if err := w.Close(); err != nil {
		log.Printf("error closing gcs object writer: %v", err)
	}
}

func (c *Cache) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := c.object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		log.Printf("error deleting gcs object: %v", err)
	}
}

func (c *Cache) object(key string) objectHandle {
	return c.bucket.Object(path.Join(c.prefix, keyToFilename(key)))
}

func keyToFilename(key string) string {
	h := md5.New()
	_, _ = io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}

// New constructs a Cache storing files in the specified GCS bucket.  If prefix
// is not empty, objects will be prefixed with that path. Credentials should
// be specified using one of the mechanisms supported for Application Default
// Credentials (see https://cloud.google.com/docs/authentication/production)
func New(ctx context.Context, bucket, prefix string) (*Cache, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}

	return &Cache{
		prefix: prefix,
		bucket: gcsBucket{client.Bucket(bucket)},
	}, nil
}
