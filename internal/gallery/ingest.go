package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/gallery/service/internal/imageproc"
	"github.com/gallery/service/internal/media"
	"github.com/gallery/service/internal/storage"
)

// File is one upload in an ingest batch.
type File struct {
	Name        string
	Data        []byte
	ContentType string
}

// Result reports the outcome of one file. Err is nil on success.
type Result struct {
	FileName string `json:"fileName"`
	AssetID  string `json:"id,omitempty"`
	Locator  string `json:"url,omitempty"`
	Backend  string `json:"backend,omitempty"`
	Err      error  `json:"-"`
}

// Uploaded counts the successful results.
func Uploaded(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err == nil {
			n++
		}
	}
	return n
}

// IngestConfig holds the ingest limits.
type IngestConfig struct {
	MaxBytes     int
	MaxDimension int
	Workers      int
}

type ingestOptions struct {
	order []storage.Kind
}

// IngestOption adjusts a single Ingest call.
type IngestOption func(*ingestOptions)

// WithBackendOrder overrides the selector's default preference order.
func WithBackendOrder(kinds ...storage.Kind) IngestOption {
	return func(o *ingestOptions) { o.order = kinds }
}

// Ingester normalizes, stores and records uploads.
type Ingester struct {
	store      AssetStore
	selector   *storage.Selector
	normalizer *imageproc.Normalizer
	cache      *ListingCache
	cfg        IngestConfig
	log        *slog.Logger
}

// NewIngester wires an Ingester. cache may be nil.
func NewIngester(store AssetStore, selector *storage.Selector, normalizer *imageproc.Normalizer, cache *ListingCache, cfg IngestConfig, log *slog.Logger) *Ingester {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Ingester{
		store:      store,
		selector:   selector,
		normalizer: normalizer,
		cache:      cache,
		cfg:        cfg,
		log:        log.With(slog.String("component", "ingester")),
	}
}

// Ingest stores files into album. It returns an error only when the request
// itself is invalid; each file's outcome is in the result at the file's
// index, and a failed file never stops the others.
func (s *Ingester) Ingest(ctx context.Context, album string, vis media.Visibility, files []File, opts ...IngestOption) ([]Result, error) {
	name := media.CleanAlbumName(album)
	if name == "" {
		return nil, ErrAlbumRequired
	}
	if !vis.Valid() {
		return nil, media.ErrInvalidVisibility
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	var o ingestOptions
	for _, opt := range opts {
		opt(&o)
	}

	results := make([]Result, len(files))
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			results[i] = s.ingestOne(ctx, name, vis, f, o.order)
			return nil
		})
	}
	_ = g.Wait()

	uploaded := Uploaded(results)
	if uploaded > 0 {
		s.cache.Purge()
	}
	s.log.Info("ingest finished",
		slog.String("album", name),
		slog.String("visibility", string(vis)),
		slog.Int("uploaded", uploaded),
		slog.Int("total", len(files)))
	return results, nil
}

func (s *Ingester) ingestOne(ctx context.Context, album string, vis media.Visibility, f File, order []storage.Kind) Result {
	res := Result{FileName: f.Name}
	stored, err := s.StoreFile(ctx, AlbumDir(vis, album), f, order)
	if errors.Is(err, ErrEmptyFile) {
		ingestFiles.WithLabelValues("empty").Inc()
		res.Err = err
		return res
	}
	if err != nil {
		ingestFiles.WithLabelValues("store_failed").Inc()
		s.log.Error("store failed", slog.String("file", f.Name), slog.Any("error", err))
		res.Err = err
		return res
	}

	obj := stored.Object
	a, created, err := s.store.Insert(ctx, media.Asset{
		AlbumName:   album,
		Locator:     obj.Locator,
		Visibility:  vis,
		Backend:     string(obj.Kind),
		ObjectRef:   obj.ObjectID,
		ContentType: stored.ContentType,
		SizeBytes:   stored.Size,
	})
	if err != nil {
		ingestFiles.WithLabelValues("record_failed").Inc()
		orphanedObjects.Inc()
		s.log.Warn("object stored but metadata insert failed, object is orphaned",
			slog.String("file", f.Name),
			slog.String("backend", string(obj.Kind)),
			slog.String("locator", obj.Locator),
			slog.Any("error", err))
		res.Err = fmt.Errorf("record %s: %w", f.Name, err)
		return res
	}

	ingestFiles.WithLabelValues("ok").Inc()
	if !created {
		s.log.Debug("asset already recorded", slog.String("locator", a.Locator), slog.String("id", a.ID))
	}
	res.AssetID = a.ID
	res.Locator = a.Locator
	res.Backend = a.Backend
	return res
}

// Stored describes a normalized file written to a backend.
type Stored struct {
	Object      storage.Object
	ContentType string
	Size        int64
}

// StoreFile normalizes f and writes it under dir through the selector,
// without recording any metadata. An empty order uses the default.
func (s *Ingester) StoreFile(ctx context.Context, dir string, f File, order []storage.Kind) (Stored, error) {
	if len(f.Data) == 0 {
		return Stored{}, ErrEmptyFile
	}

	out := s.normalizer.Normalize(f.Data, s.cfg.MaxBytes, s.cfg.MaxDimension)
	contentType := out.ContentType
	if out.Normalized {
		normalizeAttempts.Observe(float64(out.Attempts))
	} else if contentType == "application/octet-stream" && f.ContentType != "" {
		contentType = f.ContentType
	}

	p := dir + "/" + FileName(f.Name, out.Data, contentType)
	obj, err := s.selector.Store(ctx, p, out.Data, contentType, order)
	if err != nil {
		return Stored{}, fmt.Errorf("store %s: %w", f.Name, err)
	}
	storedBytes.Observe(float64(len(out.Data)))
	return Stored{Object: obj, ContentType: contentType, Size: int64(len(out.Data))}, nil
}

// Register records an asset hosted outside the gallery's backends. It is
// idempotent on the URL.
func (s *Ingester) Register(ctx context.Context, album string, vis media.Visibility, locator string) (media.Asset, bool, error) {
	name := media.CleanAlbumName(album)
	if name == "" {
		return media.Asset{}, false, ErrAlbumRequired
	}
	if !vis.Valid() {
		return media.Asset{}, false, media.ErrInvalidVisibility
	}
	locator = strings.TrimSpace(locator)
	u, err := url.Parse(locator)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return media.Asset{}, false, ErrInvalidLocator
	}

	a, created, err := s.store.Insert(ctx, media.Asset{
		AlbumName:   name,
		Locator:     locator,
		Visibility:  vis,
		Backend:     media.BackendExternal,
		ContentType: mimeFromPath(u.Path),
	})
	if err != nil {
		return media.Asset{}, false, fmt.Errorf("register %s: %w", locator, err)
	}
	if created {
		s.cache.Purge()
	}
	return a, created, nil
}

func mimeFromPath(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if ext == ".jpeg" {
		return imageproc.ContentTypeJPEG
	}
	for ct, e := range extByContentType {
		if e == ext {
			return ct
		}
	}
	return ""
}
