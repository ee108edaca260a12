// Package app wires configuration, storage and the metadata store into the
// gallery services shared by the API server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gallery/service/internal/asset"
	"github.com/gallery/service/internal/config"
	"github.com/gallery/service/internal/db"
	"github.com/gallery/service/internal/gallery"
	"github.com/gallery/service/internal/imageproc"
	"github.com/gallery/service/internal/storage"
	"github.com/gallery/service/internal/story"
)

// ErrNoBackends is returned when no storage backend could be configured.
var ErrNoBackends = errors.New("no storage backend configured")

// App is the wired set of gallery services.
type App struct {
	Config     *config.Config
	Log        *slog.Logger
	Selector   *storage.Selector
	Local      *storage.Local
	Cache      *gallery.ListingCache
	Ingester   *gallery.Ingester
	Aggregator *gallery.Aggregator
	Reconciler *gallery.Reconciler
	// Stories is nil with the SQLite metadata driver.
	Stories *story.Service

	closers []func()
}

// Build connects the metadata store, constructs every backend whose
// credentials are configured and wires the services on top.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	store, stories, err := a.openMetadata(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	backends, err := a.openBackends(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	order, err := ParseKinds(cfg.BackendOrder)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("BACKEND_ORDER: %w", err)
	}
	storyOrder, err := ParseKinds(cfg.StoryBackendOrder)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("STORY_BACKEND_ORDER: %w", err)
	}
	native, err := ParseKinds(cfg.NativeListing)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("NATIVE_LISTING: %w", err)
	}

	a.Selector = storage.NewSelector(log, order, cfg.BackendTimeout, backends...)
	a.Cache = gallery.NewListingCache(cfg.ListingCacheSize, cfg.ListingCacheTTL)

	normalizer := imageproc.NewNormalizer(imageproc.Options{
		QualityStart: cfg.QualityStart,
		QualityFloor: cfg.QualityFloor,
		QualityStep:  cfg.QualityStep,
		ShrinkRatio:  cfg.ShrinkRatio,
		MinDimension: cfg.MinDimension,
	})
	a.Ingester = gallery.NewIngester(store, a.Selector, normalizer, a.Cache, gallery.IngestConfig{
		MaxBytes:     cfg.MaxUploadBytes,
		MaxDimension: cfg.MaxDimension,
		Workers:      cfg.IngestWorkers,
	}, log)
	a.Aggregator = gallery.NewAggregator(store, a.Selector, native, a.Cache, log)
	a.Reconciler = gallery.NewReconciler(store, a.Selector, a.Cache, log)

	if stories != nil {
		a.Stories = story.NewService(stories, a.Ingester, a.Reconciler, storyOrder, cfg.IngestWorkers, log)
	}
	return a, nil
}

// Close releases the metadata store connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openMetadata(ctx context.Context) (gallery.AssetStore, story.Store, error) {
	switch a.Config.MetadataDriver {
	case "postgres", "":
		if err := db.Migrate(a.Config.DatabaseURL, a.Log); err != nil {
			return nil, nil, fmt.Errorf("database migration failed: %w", err)
		}
		pool, err := db.Connect(ctx, a.Config.DatabaseURL, a.Log)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		return asset.NewRepository(pool), story.NewRepository(pool), nil
	case "sqlite":
		repo, err := asset.OpenSQLite(ctx, a.Config.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func() { _ = repo.Close() })
		a.Log.Info("using sqlite metadata store, stories are disabled", slog.String("path", a.Config.SQLitePath))
		return repo, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown METADATA_DRIVER %q", a.Config.MetadataDriver)
	}
}

func (a *App) openBackends(ctx context.Context) ([]storage.Backend, error) {
	cfg := a.Config
	var backends []storage.Backend

	if cfg.ObjectStoreEnabled() {
		s, err := storage.NewObjectStore(ctx, storage.ObjectStoreConfig{
			Endpoint:   cfg.StorageEndpoint,
			AccessKey:  cfg.StorageAccessKey,
			SecretKey:  cfg.StorageSecretKey,
			Bucket:     cfg.StorageBucket,
			UseSSL:     cfg.StorageUseSSL,
			PublicBase: cfg.StoragePublicBase,
		}, a.Log)
		if err != nil {
			// Uploads fall back to the remaining backends.
			a.Log.Error("object storage init failed", slog.Any("error", err))
		} else {
			backends = append(backends, s)
		}
	}

	if cfg.CDNEnabled() {
		c, err := storage.NewCDN(storage.CDNConfig{
			CloudName:  cfg.CDNCloudName,
			APIKey:     cfg.CDNAPIKey,
			APISecret:  cfg.CDNAPISecret,
			RootFolder: cfg.CDNRootFolder,
			AdminRPS:   cfg.CDNAdminRPS,
		})
		if err != nil {
			a.Log.Error("cdn init failed", slog.Any("error", err))
		} else {
			backends = append(backends, c)
		}
	}

	if cfg.LocalUploadDir != "" {
		l, err := storage.NewLocal(cfg.LocalUploadDir, cfg.LocalPublicBase)
		if err != nil {
			return nil, err
		}
		a.Local = l
		backends = append(backends, l)
	}

	if len(backends) == 0 {
		return nil, ErrNoBackends
	}
	for _, b := range backends {
		a.Log.Info("storage backend ready", slog.String("backend", string(b.Kind())))
	}
	return backends, nil
}

// ParseKinds converts backend names to kinds, rejecting unknown names.
func ParseKinds(names []string) ([]storage.Kind, error) {
	kinds := make([]storage.Kind, 0, len(names))
	for _, n := range names {
		k, ok := storage.ParseKind(n)
		if !ok {
			return nil, fmt.Errorf("unknown storage backend %q", n)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
