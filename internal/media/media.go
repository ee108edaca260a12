// Package media holds the gallery's data model: stored assets, their
// visibility, and the albums derived from them.
package media

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Visibility controls who can list an asset. It is fixed at creation.
type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

// ErrInvalidVisibility is returned when a visibility string is not recognized.
var ErrInvalidVisibility = errors.New("visibility must be public or private")

// ParseVisibility accepts "public"/"private" (any case). An empty string is public.
func ParseVisibility(s string) (Visibility, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Public):
		return Public, nil
	case string(Private):
		return Private, nil
	default:
		return "", ErrInvalidVisibility
	}
}

// Valid reports whether v is one of the known visibilities.
func (v Visibility) Valid() bool {
	return v == Public || v == Private
}

// Asset is one stored media item.
type Asset struct {
	ID          string     `json:"id"`
	AlbumName   string     `json:"album"`
	AlbumKey    string     `json:"-"`
	Locator     string     `json:"url"`
	Visibility  Visibility `json:"visibility"`
	Backend     string     `json:"backend"`
	ObjectRef   string     `json:"-"`
	ContentType string     `json:"contentType,omitempty"`
	SizeBytes   int64      `json:"sizeBytes,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Album is derived from the assets sharing an album key and visibility.
type Album struct {
	Name  string `json:"name"`
	Key   string `json:"-"`
	Cover string `json:"cover"`
}

// BackendExternal marks assets whose bytes live outside the gallery's backends.
const BackendExternal = "external"

// AlbumKey is the comparison form of an album name: case-folded with runs of
// whitespace collapsed to one space and the ends trimmed.
func AlbumKey(name string) string {
	return cases.Fold().String(strings.Join(strings.Fields(name), " "))
}

// CleanAlbumName trims and collapses whitespace without changing case.
func CleanAlbumName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
