// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// Package s3cache provides an imagecache.Cache implementation that stores
// source images on Amazon S3 or an S3 compatible service.
package s3cache

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// metaExpiry is the user metadata key holding an object's expiry time.
const metaExpiry = "Expiry"

// defaultTimeout bounds each S3 operation.
const defaultTimeout = 30 * time.Second

// Cache stores source images as S3 objects.  Expiry times are kept in
// object metadata, so cached bytes are stored unwrapped.
type Cache struct {
	s3iface.S3API
	bucket, prefix string
	ttl            time.Duration

	now func() time.Time
}

func (c *Cache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	name := c.objectName(key)
	resp, err := c.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &name,
	})
	if err != nil {
		var aerr awserr.Error
		if !errors.As(err, &aerr) || aerr.Code() != s3.ErrCodeNoSuchKey {
			log.Printf("error fetching from s3: %v", err)
		}
		return nil, false
	}
	defer resp.Body.Close()

	if expiry, ok := c.expiry(resp.Metadata); ok && c.now().After(expiry) {
		c.Delete(key)
		return nil, false
	}

	value, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("error reading from s3: %v", err)
		return nil, false
	}
	return value, true
}

func (c *Cache) Set(key string, value []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	name := c.objectName(key)
	input := &s3.PutObjectInput{
		Body:   aws.ReadSeekCloser(bytes.NewReader(value)),
		Bucket: &c.bucket,
		Key:    &name,
	}
	if c.ttl > 0 {
		input.Metadata = map[string]*string{
			metaExpiry: aws.String(c.now().Add(c.ttl).UTC().Format(time.RFC3339)),
		}
	}

	if _, err := c.PutObjectWithContext(ctx, input); err != nil {
		log.Printf("error writing to s3: %v", err)
	}
}

func (c *Cache) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	name := c.objectName(key)
	_, err := c.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: &c.bucket,
		Key:    &name,
	})
	if err != nil {
		log.Printf("error deleting from s3: %v", err)
	}
}

func (c *Cache) objectName(key string) string {
	return path.Join(c.prefix, keyToFilename(key))
}

// expiry returns the expiry time recorded in metadata, if any.
func (c *Cache) expiry(metadata map[string]*string) (time.Time, bool) {
	v, ok := metadata[metaExpiry]
	if !ok || v == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, *v)
	if err != nil {
		log.Printf("error parsing s3 object expiry %q: %v", *v, err)
		return time.Time{}, false
	}
	return t, true
}

func keyToFilename(key string) string {
	h := md5.New()
	_, _ = io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}

// New constructs a Cache configured using the provided URL string.  URL
// should be of the form: "s3://region/bucket/optional-path-prefix".  The
// query parameters "endpoint", "disableSSL" and "s3ForcePathStyle" allow
// using S3 compatible services, and "ttl" sets how long cached objects
// stay valid (for example "ttl=24h").
func New(s string) (*Cache, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}

	region := u.Host
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	bucket := parts[0]
	var prefix string
	if len(parts) > 1 {
		prefix = parts[1]
	}

	var ttl time.Duration
	if v := u.Query().Get("ttl"); v != "" {
		if ttl, err = time.ParseDuration(v); err != nil {
			return nil, err
		}
	}

	config := aws.NewConfig().WithRegion(region)
	if v := u.Query().Get("endpoint"); v != "" {
		config = config.WithEndpoint(v)
	}
	if v := u.Query().Get("disableSSL"); v == "1" {
		config = config.WithDisableSSL(true)
	}
	if v := u.Query().Get("s3ForcePathStyle"); v == "1" {
		config = config.WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(config)
	if err != nil {
		return nil, err
	}

	return &Cache{
		S3API:  s3.New(sess),
		bucket: bucket,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}
