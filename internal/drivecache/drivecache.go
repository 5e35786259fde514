// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// Package drivecache provides a source image cache that stores files in a
// Google Drive folder.
package drivecache

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const timeout = 30 * time.Second

var errFileNotFound = errors.New("drivecache: file not found")

// Cache stores source images as files in a single Drive folder, named by the
// md5 hash of their cache key.
type Cache struct {
	parentID string
	files    *drive.FilesService
}

// Get implements imagecache.Cache.
func (c *Cache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	id, err := c.fileID(ctx, key)
	if err != nil {
		if !errors.Is(err, errFileNotFound) {
			log.Printf("drivecache: error finding file: %v", err)
		}
		return nil, false
	}
	resp, err := c.files.Get(id).Context(ctx).Download()
	if err != nil {
		log.Printf("drivecache: error downloading file: %v", err)
		return nil, false
	}
	defer resp.Body.Close()

	value, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("drivecache: error reading file: %v", err)
		return nil, false
	}
	return value, true
}

// Set implements imagecache.Cache.
func (c *Cache) Set(key string, value []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := c.files.Create(&drive.File{
		Name:    keyToFilename(key),
		Parents: []string{c.parentID},
	}).Media(bytes.NewReader(value)).Context(ctx).Do()
	if err != nil {
		log.Printf("drivecache: error creating file: %v", err)
	}
}

// Delete implements imagecache.Cache.
func (c *Cache) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	id, err := c.fileID(ctx, key)
	if err != nil {
		if !errors.Is(err, errFileNotFound) {
			log.Printf("drivecache: error finding file: %v", err)
		}
		return
	}
	if err := c.files.Delete(id).Context(ctx).Do(); err != nil {
		log.Printf("drivecache: error deleting file: %v", err)
	}
}

func (c *Cache) fileID(ctx context.Context, key string) (string, error) {
	list, err := c.files.List().Q(query(c.parentID, keyToFilename(key))).
		Fields("files(id)").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(list.Files) == 0 {
		return "", errFileNotFound
	}
	return list.Files[0].Id, nil
}

// query returns the Drive search query for the file name in folder parent.
func query(parent, name string) string {
	esc := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return fmt.Sprintf("'%s' in parents and name = '%s' and trashed = false",
		esc.Replace(parent), esc.Replace(name))
}

func keyToFilename(key string) string {
	h := md5.New()
	_, _ = io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}

// New constructs a Cache storing files in the Drive folder folderID.  The
// folder must already exist.
func New(ctx context.Context, folderID string, opts ...option.ClientOption) (*Cache, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := svc.Files.Get(folderID).Fields("id").Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("drivecache: error finding folder %q: %w", folderID, err)
	}

	return &Cache{
		parentID: folderID,
		files:    svc.Files,
	}, nil
}
