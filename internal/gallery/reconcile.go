package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gallery/service/internal/asset"
	"github.com/gallery/service/internal/media"
	"github.com/gallery/service/internal/storage"
)

// DeleteReport summarizes a delete request. Missing counts identifiers that
// matched no row, which callers treat as already deleted.
type DeleteReport struct {
	Deleted  int      `json:"deleted"`
	Missing  int      `json:"missing"`
	Failures []string `json:"failures"`
}

type deleteOutcome int

const (
	outcomeDeleted deleteOutcome = iota
	outcomeMissing
	outcomeFailed
)

// Reconciler removes assets from the metadata store and, best effort, from
// the backend that holds their bytes.
type Reconciler struct {
	store    AssetStore
	selector *storage.Selector
	cache    *ListingCache
	log      *slog.Logger
}

// NewReconciler wires a Reconciler. cache may be nil.
func NewReconciler(store AssetStore, selector *storage.Selector, cache *ListingCache, log *slog.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		selector: selector,
		cache:    cache,
		log:      log.With(slog.String("component", "reconciler")),
	}
}

// Delete removes each identifier (asset id or locator) of album. An
// identifier whose row belongs to another album or visibility is reported as
// a failure and left untouched.
func (r *Reconciler) Delete(ctx context.Context, identifiers []string, album string, vis media.Visibility) (DeleteReport, error) {
	name := media.CleanAlbumName(album)
	if name == "" {
		return DeleteReport{}, ErrAlbumRequired
	}
	if !vis.Valid() {
		return DeleteReport{}, media.ErrInvalidVisibility
	}

	key := media.AlbumKey(name)
	report := DeleteReport{Failures: []string{}}
	for _, id := range identifiers {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		switch r.deleteOne(ctx, id, key, vis) {
		case outcomeDeleted:
			report.Deleted++
			deleteOutcomes.WithLabelValues("deleted").Inc()
		case outcomeMissing:
			report.Missing++
			deleteOutcomes.WithLabelValues("missing").Inc()
		default:
			report.Failures = append(report.Failures, id)
			deleteOutcomes.WithLabelValues("failed").Inc()
		}
	}

	if report.Deleted > 0 {
		r.cache.Purge()
	}
	r.log.Info("delete finished",
		slog.String("album", name),
		slog.String("visibility", string(vis)),
		slog.Int("deleted", report.Deleted),
		slog.Int("missing", report.Missing),
		slog.Int("failed", len(report.Failures)))
	return report, nil
}

// DeleteAlbum removes every recorded asset of album.
func (r *Reconciler) DeleteAlbum(ctx context.Context, album string, vis media.Visibility) (DeleteReport, error) {
	name := media.CleanAlbumName(album)
	if name == "" {
		return DeleteReport{}, ErrAlbumRequired
	}
	if !vis.Valid() {
		return DeleteReport{}, media.ErrInvalidVisibility
	}
	rows, err := r.store.FindByAlbum(ctx, name, vis)
	if err != nil {
		return DeleteReport{}, fmt.Errorf("list album %q: %w", name, err)
	}
	ids := make([]string, 0, len(rows))
	for _, a := range rows {
		ids = append(ids, a.ID)
	}
	return r.Delete(ctx, ids, name, vis)
}

func (r *Reconciler) deleteOne(ctx context.Context, ref, albumKey string, vis media.Visibility) deleteOutcome {
	log := r.log.With(slog.String("ref", ref))

	a, err := r.store.Get(ctx, ref)
	if errors.Is(err, asset.ErrNotFound) {
		log.Debug("asset already gone")
		return outcomeMissing
	}
	if err != nil {
		log.Error("resolve asset failed", slog.Any("error", err))
		return outcomeFailed
	}
	if a.AlbumKey != albumKey || a.Visibility != vis {
		log.Warn("asset outside requested album, not deleting",
			slog.String("asset_album", a.AlbumName),
			slog.String("asset_visibility", string(a.Visibility)))
		return outcomeFailed
	}

	if err := r.RemoveObject(ctx, a.Backend, a.Locator, a.ObjectRef); err != nil {
		log.Warn("object removal failed, removing row anyway",
			slog.String("backend", a.Backend),
			slog.String("locator", a.Locator),
			slog.Any("error", err))
	}

	if err := r.store.Delete(ctx, a.ID); err != nil {
		log.Error("remove row failed", slog.Any("error", err))
		return outcomeFailed
	}
	return outcomeDeleted
}

// RemoveObject deletes the stored bytes behind a locator. backend is the kind
// recorded with the row; for rows without a usable kind every registered
// backend is asked whether it produced the locator. Externally hosted
// assets have nothing to remove.
func (r *Reconciler) RemoveObject(ctx context.Context, backend, locator, ref string) error {
	if backend == media.BackendExternal {
		return nil
	}

	if kind, ok := storage.ParseKind(backend); ok {
		b, ok := r.selector.Backend(kind)
		if !ok {
			objectRemovals.WithLabelValues(string(kind), "unavailable").Inc()
			return fmt.Errorf("backend %s is not configured", kind)
		}
		target := ref
		if p, ok := b.PathFromLocator(locator); ok {
			target = p
		}
		if target == "" {
			objectRemovals.WithLabelValues(string(kind), "no_ref").Inc()
			return fmt.Errorf("no path or object id for %s", locator)
		}
		return r.remove(ctx, b, target)
	}

	for _, b := range r.selector.Backends() {
		if p, ok := b.PathFromLocator(locator); ok {
			return r.remove(ctx, b, p)
		}
	}
	objectRemovals.WithLabelValues("unknown", "unmatched").Inc()
	return fmt.Errorf("no backend recognizes %s", locator)
}

func (r *Reconciler) remove(ctx context.Context, b storage.Backend, ref string) error {
	if err := b.Delete(ctx, ref); err != nil {
		objectRemovals.WithLabelValues(string(b.Kind()), "error").Inc()
		return fmt.Errorf("%s delete %q: %w", b.Kind(), ref, err)
	}
	objectRemovals.WithLabelValues(string(b.Kind()), "ok").Inc()
	return nil
}
