// Package storage defines the backends that hold media bytes and the
// selector that falls back between them.
// Each backend is addressed by a backend-relative path and hands back a
// locator: the absolute URL a browser can fetch.
package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

// Kind identifies a backend variant.
type Kind string

const (
	KindObjectStore Kind = "object_store"
	KindCDN         Kind = "cdn"
	KindLocal       Kind = "local"
)

// ParseKind accepts the configuration spelling of a backend kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindObjectStore, "s3", "minio":
		return KindObjectStore, true
	case KindCDN, "cloudinary":
		return KindCDN, true
	case KindLocal, "filesystem":
		return KindLocal, true
	default:
		return "", false
	}
}

var (
	// ErrInvalidPath is returned for empty paths and paths escaping the backend root.
	ErrInvalidPath = errors.New("invalid storage path")
	// ErrNoLocator is returned when a backend reports success without a usable locator.
	ErrNoLocator = errors.New("backend returned no locator")
	// ErrAllBackendsFailed is returned by the Selector when no backend accepted a write.
	ErrAllBackendsFailed = errors.New("all storage backends failed")
)

// Object describes one stored object.
type Object struct {
	Kind    Kind
	Path    string
	Locator string
	// ObjectID is the reference Delete expects: the path for path-addressed
	// backends, the vendor-assigned id for the CDN.
	ObjectID  string
	CreatedAt time.Time
}

// Backend is implemented by every storage variant.
type Backend interface {
	Kind() Kind
	// Put writes data under path, replacing any existing object.
	Put(ctx context.Context, path string, data []byte, contentType string) (Object, error)
	// Delete removes the object identified by ref. A missing object is not an error.
	Delete(ctx context.Context, ref string) error
	// PathFromLocator recovers the path of a locator this backend produced.
	PathFromLocator(locator string) (string, bool)
}

// Lister is implemented by backends that can enumerate their objects.
type Lister interface {
	List(ctx context.Context, prefix string) ([]Object, error)
}

// escapePath URL-escapes each segment of a slash-separated path.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// locatorPath inverts base + "/" + escapePath(p).
func locatorPath(base, locator string) (string, bool) {
	if base == "" {
		return "", false
	}
	rest, ok := strings.CutPrefix(locator, base+"/")
	if !ok || rest == "" {
		return "", false
	}
	p, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	return p, true
}

// cleanPath rejects absolute paths and any ".." or empty segment.
func cleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ErrInvalidPath
		}
	}
	return p, nil
}
