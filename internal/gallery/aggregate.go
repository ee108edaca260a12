package gallery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/gallery/service/internal/media"
	"github.com/gallery/service/internal/storage"
)

type nativeSource struct {
	kind   storage.Kind
	lister storage.Lister
}

// Aggregator answers album listings from the metadata store merged with the
// folders of backends that can list their own contents.
type Aggregator struct {
	store   AssetStore
	sources []nativeSource
	cache   *ListingCache
	log     *slog.Logger
}

// NewAggregator wires an Aggregator. native names the backend kinds to
// enumerate, in cover-preference order; kinds that are not registered with
// the selector or cannot list are ignored.
func NewAggregator(store AssetStore, selector *storage.Selector, native []storage.Kind, cache *ListingCache, log *slog.Logger) *Aggregator {
	log = log.With(slog.String("component", "aggregator"))
	var sources []nativeSource
	for _, k := range native {
		b, ok := selector.Backend(k)
		if !ok {
			log.Warn("native listing backend not configured", slog.String("backend", string(k)))
			continue
		}
		l, ok := b.(storage.Lister)
		if !ok {
			log.Warn("backend cannot list objects", slog.String("backend", string(k)))
			continue
		}
		sources = append(sources, nativeSource{kind: k, lister: l})
	}
	return &Aggregator{store: store, sources: sources, cache: cache, log: log}
}

// ListAlbums returns the albums of one visibility, one entry per album key,
// sorted by key.
func (a *Aggregator) ListAlbums(ctx context.Context, vis media.Visibility) ([]media.Album, error) {
	if !vis.Valid() {
		return nil, media.ErrInvalidVisibility
	}
	rows, err := a.store.ListAlbums(ctx, vis)
	if err != nil {
		return nil, fmt.Errorf("list albums: %w", err)
	}

	type entry struct {
		album       media.Album
		nativeCover string
	}
	merged := make(map[string]*entry, len(rows))
	// Several album keys can share one folder ("a/b" and "a_b" both live
	// under a_b), so folders map to every album stored there.
	byFolder := make(map[string][]*entry, len(rows))
	for _, al := range rows {
		if al.Key == "" {
			al.Key = media.AlbumKey(al.Name)
		}
		if _, ok := merged[al.Key]; ok {
			continue
		}
		e := &entry{album: al}
		merged[al.Key] = e
		fk := mergeKey(al.Name)
		byFolder[fk] = append(byFolder[fk], e)
	}

	for _, src := range a.sources {
		for _, obj := range a.native(ctx, src, vis) {
			_, seg, _, ok := ParsePath(obj.Path)
			if !ok {
				continue
			}
			fk := media.AlbumKey(seg)
			entries, ok := byFolder[fk]
			if !ok {
				e, ok := merged[fk]
				if !ok {
					e = &entry{album: media.Album{Name: seg, Key: fk}}
					merged[fk] = e
				}
				entries = []*entry{e}
				byFolder[fk] = entries
			}
			for _, e := range entries {
				if e.nativeCover == "" {
					e.nativeCover = obj.Locator
				}
			}
		}
	}

	out := make([]media.Album, 0, len(merged))
	for _, e := range merged {
		al := e.album
		if e.nativeCover != "" {
			al.Cover = e.nativeCover
		}
		out = append(out, al)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ListAssets returns the assets of one album, newest first. Objects found in
// both the metadata store and a backend listing appear once, as the stored row.
func (a *Aggregator) ListAssets(ctx context.Context, album string, vis media.Visibility) ([]media.Asset, error) {
	name := media.CleanAlbumName(album)
	if name == "" {
		return nil, ErrAlbumRequired
	}
	if !vis.Valid() {
		return nil, media.ErrInvalidVisibility
	}

	rows, err := a.store.FindByAlbum(ctx, name, vis)
	if err != nil {
		return nil, fmt.Errorf("list assets of %q: %w", name, err)
	}

	seenLocator := make(map[string]bool, len(rows))
	seenRef := make(map[string]bool, len(rows))
	for _, r := range rows {
		seenLocator[r.Locator] = true
		if r.ObjectRef != "" {
			seenRef[r.Backend+"\x00"+r.ObjectRef] = true
		}
	}

	out := rows
	key := mergeKey(name)
	for _, src := range a.sources {
		for _, obj := range a.native(ctx, src, vis) {
			_, seg, _, ok := ParsePath(obj.Path)
			if !ok || media.AlbumKey(seg) != key {
				continue
			}
			if seenLocator[obj.Locator] || seenRef[string(src.kind)+"\x00"+obj.ObjectID] {
				continue
			}
			seenLocator[obj.Locator] = true
			out = append(out, media.Asset{
				AlbumName:  name,
				AlbumKey:   media.AlbumKey(name),
				Locator:    obj.Locator,
				Visibility: vis,
				Backend:    string(src.kind),
				ObjectRef:  obj.ObjectID,
				CreatedAt:  obj.CreatedAt,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// native returns the listing of src under the visibility prefix. A failing
// source is logged and contributes nothing.
func (a *Aggregator) native(ctx context.Context, src nativeSource, vis media.Visibility) []storage.Object {
	prefix := string(vis) + "/"
	key := string(src.kind) + ":" + prefix
	if objs, ok := a.cache.get(key); ok {
		nativeListings.WithLabelValues(string(src.kind), "hit").Inc()
		return objs
	}

	objs, err := src.lister.List(ctx, prefix)
	if err != nil {
		nativeListings.WithLabelValues(string(src.kind), "error").Inc()
		a.log.Warn("native listing failed, using metadata only",
			slog.String("backend", string(src.kind)),
			slog.String("prefix", prefix),
			slog.Any("error", err))
		return nil
	}
	nativeListings.WithLabelValues(string(src.kind), "miss").Inc()
	a.cache.add(key, objs)
	return objs
}
