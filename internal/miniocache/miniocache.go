// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// Package miniocache provides a source image cache that stores values in a
// MinIO (or other S3 compatible) bucket.
package miniocache

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const timeout = 30 * time.Second

// Cache stores source images as objects named by the md5 hash of their
// cache key.
type Cache struct {
	client         *minio.Client
	bucket, prefix string
	region         string

	// createBucket creates the bucket on first write if it does not exist.
	createBucket bool
	initOnce     sync.Once
	initErr      error
}

// Get implements imagecache.Cache.
func (c *Cache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	obj, err := c.client.GetObject(ctx, c.bucket, c.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		log.Printf("miniocache: error fetching object: %v", err)
		return nil, false
	}
	defer obj.Close()

	value, err := io.ReadAll(obj)
	if err != nil {
		if code := minio.ToErrorResponse(err).Code; code != "NoSuchKey" && code != "NoSuchBucket" {
			log.Printf("miniocache: error reading object: %v", err)
		}
		return nil, false
	}
	return value, true
}

// Set implements imagecache.Cache.
func (c *Cache) Set(key string, value []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := c.ensureBucket(ctx); err != nil {
		log.Printf("miniocache: error creating bucket %q: %v", c.bucket, err)
		return
	}
	_, err := c.client.PutObject(ctx, c.bucket, c.objectName(key),
		bytes.NewReader(value), int64(len(value)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		log.Printf("miniocache: error writing object: %v", err)
	}
}

// Delete implements imagecache.Cache.
func (c *Cache) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := c.client.RemoveObject(ctx, c.bucket, c.objectName(key), minio.RemoveObjectOptions{}); err != nil {
		log.Printf("miniocache: error deleting object: %v", err)
	}
}

func (c *Cache) ensureBucket(ctx context.Context) error {
	if !c.createBucket {
		return nil
	}
	c.initOnce.Do(func() {
		exists, err := c.client.BucketExists(ctx, c.bucket)
		if err != nil || exists {
			c.initErr = err
			return
		}
		c.initErr = c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: c.region})
	})
	return c.initErr
}

func (c *Cache) objectName(key string) string {
	return path.Join(c.prefix, keyToFilename(key))
}

func keyToFilename(key string) string {
	h := md5.New()
	_, _ = io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}

// New constructs a Cache from a URL of the form
// "minio://[accessKey:secretKey@]host[:port]/bucket[/prefix]".  Supported
// query parameters are "secure" (use https, default true), "region"
// (default us-east-1) and "create" (create the bucket if missing).
func New(s string) (*Cache, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("miniocache: error parsing URL: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("miniocache: endpoint is required")
	}

	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	bucket := parts[0]
	if bucket == "" {
		return nil, fmt.Errorf("miniocache: bucket is required")
	}
	var prefix string
	if len(parts) > 1 {
		prefix = parts[1]
	}

	q := u.Query()
	secure := true
	if v := q.Get("secure"); v != "" {
		if secure, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("miniocache: invalid secure value: %w", err)
		}
	}
	region := q.Get("region")
	if region == "" {
		region = "us-east-1"
	}
	create, _ := strconv.ParseBool(q.Get("create"))

	var creds *credentials.Credentials
	if u.User != nil {
		secret, _ := u.User.Password()
		creds = credentials.NewStaticV4(u.User.Username(), secret, "")
	} else {
		creds = credentials.NewEnvMinio()
	}

	client, err := minio.New(u.Host, &minio.Options{
		Creds:  creds,
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("miniocache: error creating client: %w", err)
	}

	return &Cache{
		client:       client,
		bucket:       bucket,
		prefix:       prefix,
		region:       region,
		createBucket: create,
	}, nil
}
