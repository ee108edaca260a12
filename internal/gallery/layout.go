package gallery

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
	"unicode"

	"github.com/gallery/service/internal/media"
)

const (
	maxBaseLen = 64
	hashLen    = 12
)

var extByContentType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
	"image/tiff": ".tif",
}

// ObjectPath returns the backend-relative path an upload is stored under:
// "<visibility>/<album segment>/<file name>". The path depends only on its
// inputs, so storing the same bytes again addresses the same object.
func ObjectPath(vis media.Visibility, album, fileName string, data []byte, contentType string) string {
	return AlbumDir(vis, album) + "/" + FileName(fileName, data, contentType)
}

// AlbumDir is the directory holding an album's objects.
func AlbumDir(vis media.Visibility, album string) string {
	return string(vis) + "/" + AlbumSegment(album)
}

// AlbumSegment is the single path segment an album's objects live under:
// the cleaned album name with separators and control characters replaced.
func AlbumSegment(album string) string {
	s := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return '_'
		}
		return r
	}, media.CleanAlbumName(album))
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// FileName builds a storage file name from the client's file name and the
// stored bytes: the sanitized base name, the first 12 hex digits of the
// bytes' SHA-256, and an extension for contentType.
func FileName(original string, data []byte, contentType string) string {
	original = strings.ReplaceAll(original, "\\", "/")
	ext := path.Ext(original)
	base := strings.TrimSuffix(path.Base(original), ext)

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= maxBaseLen {
			break
		}
	}
	clean := b.String()
	if strings.Trim(clean, "_") == "" {
		clean = "file"
	}

	sum := sha256.Sum256(data)
	return clean + "_" + hex.EncodeToString(sum[:])[:hashLen] + extension(contentType, ext)
}

func extension(contentType, original string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	if ext, ok := extByContentType[strings.TrimSpace(strings.ToLower(ct))]; ok {
		return ext
	}
	original = strings.ToLower(original)
	if len(original) > 1 && len(original) <= 6 && strings.TrimLeft(original[1:], "abcdefghijklmnopqrstuvwxyz0123456789") == "" {
		return original
	}
	return ".bin"
}

// ParsePath splits a path produced by ObjectPath. Paths of other shapes, such
// as story images, report false.
func ParsePath(p string) (vis media.Visibility, albumSegment, file string, ok bool) {
	parts := strings.SplitN(p, "/", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" || strings.Contains(parts[2], "/") {
		return "", "", "", false
	}
	switch media.Visibility(parts[0]) {
	case media.Public, media.Private:
		return media.Visibility(parts[0]), parts[1], parts[2], true
	default:
		return "", "", "", false
	}
}

// mergeKey is the key under which repository albums and native album folders
// are matched.
func mergeKey(album string) string {
	return media.AlbumKey(AlbumSegment(album))
}
