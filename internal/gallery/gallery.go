// Package gallery is the media ingestion and reconciliation core: it turns
// uploads into stored objects plus metadata rows, answers album listings
// merged across the metadata store and the storage backends, and removes
// assets from both.
package gallery

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/gallery/service/internal/media"
	"github.com/gallery/service/internal/storage"
)

var (
	// ErrAlbumRequired is returned when an album name is empty after trimming.
	ErrAlbumRequired = errors.New("album name is required")
	// ErrNoFiles is returned by Ingest when called without files.
	ErrNoFiles = errors.New("no files to ingest")
	// ErrEmptyFile is the per-file error for a zero-byte upload.
	ErrEmptyFile = errors.New("file is empty")
	// ErrInvalidLocator is returned by Register for anything but an absolute http(s) URL.
	ErrInvalidLocator = errors.New("locator must be an absolute http or https URL")
)

// AssetStore is the metadata store the core reads and writes. Both
// asset.Repository and asset.SQLiteRepository implement it.
type AssetStore interface {
	Insert(ctx context.Context, a media.Asset) (media.Asset, bool, error)
	Get(ctx context.Context, ref string) (media.Asset, error)
	Delete(ctx context.Context, ref string) error
	FindByAlbum(ctx context.Context, album string, vis media.Visibility) ([]media.Asset, error)
	ListAlbums(ctx context.Context, vis media.Visibility) ([]media.Album, error)
}

// ListingCache holds native backend listings for a short time. Writers purge
// it so a listing never hides an upload or resurrects a delete made through
// this process. A nil *ListingCache caches nothing.
type ListingCache struct {
	lru *expirable.LRU[string, []storage.Object]
}

// NewListingCache returns a cache of at most size listings, each kept for ttl.
func NewListingCache(size int, ttl time.Duration) *ListingCache {
	return &ListingCache{lru: expirable.NewLRU[string, []storage.Object](size, nil, ttl)}
}

func (c *ListingCache) get(key string) ([]storage.Object, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

func (c *ListingCache) add(key string, objs []storage.Object) {
	if c == nil {
		return
	}
	c.lru.Add(key, objs)
}

// Purge drops every cached listing.
func (c *ListingCache) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}
