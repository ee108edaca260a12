package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Local is the last-resort backend: files under a service-owned root
// directory, served back by the API under a static URL prefix.
type Local struct {
	root       string
	publicBase string
}

// NewLocal creates root if needed. publicBase is the URL the API serves root
// under, e.g. "http://localhost:8080/static/uploads".
func NewLocal(root, publicBase string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", abs, err)
	}
	return &Local{root: abs, publicBase: strings.TrimRight(publicBase, "/")}, nil
}

// Root returns the absolute upload directory.
func (l *Local) Root() string { return l.root }

// Kind implements Backend.
func (l *Local) Kind() Kind { return KindLocal }

// Put writes data to a temp file, syncs it and renames it into place, so a
// failed write never leaves a partial object at p.
func (l *Local) Put(_ context.Context, p string, data []byte, _ string) (Object, error) {
	full, clean, err := l.resolve(p)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return Object{}, fmt.Errorf("create dir for %s: %w", clean, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return Object{}, fmt.Errorf("write %s: %w", clean, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return Object{}, fmt.Errorf("fsync %s: %w", clean, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return Object{}, fmt.Errorf("close %s: %w", clean, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return Object{}, fmt.Errorf("chmod %s: %w", clean, err)
	}
	if err := os.Rename(tmpPath, full); err != nil {
		os.Remove(tmpPath)
		return Object{}, fmt.Errorf("rename %s: %w", clean, err)
	}

	info, err := os.Stat(full)
	if err != nil {
		return Object{}, fmt.Errorf("stat %s: %w", clean, err)
	}
	return Object{
		Kind:      KindLocal,
		Path:      clean,
		Locator:   l.PublicURL(clean),
		ObjectID:  clean,
		CreatedAt: info.ModTime(),
	}, nil
}

// Delete removes the file at p. A missing file is not an error.
func (l *Local) Delete(_ context.Context, p string) error {
	full, clean, err := l.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", clean, err)
	}
	return nil
}

// PublicURL returns the static URL of p.
func (l *Local) PublicURL(p string) string {
	return l.publicBase + "/" + escapePath(p)
}

// PathFromLocator implements Backend.
func (l *Local) PathFromLocator(locator string) (string, bool) {
	p, ok := locatorPath(l.publicBase, locator)
	if !ok {
		return "", false
	}
	if _, _, err := l.resolve(p); err != nil {
		return "", false
	}
	return p, true
}

// List walks the files under prefix. Temp files of in-flight writes are skipped.
func (l *Local) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	err := filepath.WalkDir(l.root, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(l.root, full)
		if err != nil {
			return err
		}
		p := filepath.ToSlash(rel)
		if !strings.HasPrefix(p, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Object{
			Kind:      KindLocal,
			Path:      p,
			Locator:   l.PublicURL(p),
			ObjectID:  p,
			CreatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// resolve maps a slash path to a file under root, rejecting anything that
// would land outside it.
func (l *Local) resolve(p string) (string, string, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return "", "", err
	}
	clean = path.Clean(clean)
	full := filepath.Join(l.root, filepath.FromSlash(clean))
	if !strings.HasPrefix(full, l.root+string(filepath.Separator)) {
		return "", "", ErrInvalidPath
	}
	return full, clean, nil
}
