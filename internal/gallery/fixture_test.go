package gallery

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gallery/service/internal/asset"
	"github.com/gallery/service/internal/imageproc"
	"github.com/gallery/service/internal/logger"
	"github.com/gallery/service/internal/media"
	"github.com/gallery/service/internal/storage"
)

// memBackend is an in-memory path-addressed backend.
type memBackend struct {
	kind    storage.Kind
	base    string
	mu      sync.Mutex
	objects map[string][]byte
	created map[string]time.Time
	failOn  func(path string) bool
	listErr error
	lists   int
	deletes []string
}

func newMemBackend(kind storage.Kind) *memBackend {
	return &memBackend{
		kind:    kind,
		base:    "https://" + strings.ReplaceAll(string(kind), "_", "-") + ".example.com",
		objects: map[string][]byte{},
		created: map[string]time.Time{},
	}
}

func (b *memBackend) Kind() storage.Kind { return b.kind }

func (b *memBackend) locator(p string) string {
	return b.base + "/" + (&url.URL{Path: p}).EscapedPath()
}

func (b *memBackend) Put(_ context.Context, p string, data []byte, _ string) (storage.Object, error) {
	if b.failOn != nil && b.failOn(p) {
		return storage.Object{}, errors.New(string(b.kind) + " rejected " + p)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[p] = data
	if _, ok := b.created[p]; !ok {
		b.created[p] = time.Now()
	}
	return storage.Object{Kind: b.kind, Path: p, Locator: b.locator(p), ObjectID: p, CreatedAt: b.created[p]}, nil
}

func (b *memBackend) Delete(_ context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, ref)
	delete(b.objects, ref)
	delete(b.created, ref)
	return nil
}

func (b *memBackend) PathFromLocator(locator string) (string, bool) {
	rest, ok := strings.CutPrefix(locator, b.base+"/")
	if !ok {
		return "", false
	}
	p, err := url.PathUnescape(rest)
	return p, err == nil
}

func (b *memBackend) List(_ context.Context, prefix string) ([]storage.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lists++
	if b.listErr != nil {
		return nil, b.listErr
	}
	var out []storage.Object
	for p := range b.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, storage.Object{Kind: b.kind, Path: p, Locator: b.locator(p), ObjectID: p, CreatedAt: b.created[p]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (b *memBackend) has(p string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[p]
	return ok
}

// seed places an object directly, as if written by another tool.
func (b *memBackend) seed(p string, at time.Time) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[p] = []byte(p)
	b.created[p] = at
	return b.locator(p)
}

type fixture struct {
	repo       *asset.SQLiteRepository
	remote     *memBackend
	local      *memBackend
	selector   *storage.Selector
	cache      *ListingCache
	ingester   *Ingester
	aggregator *Aggregator
	reconciler *Reconciler
}

// newFixture wires the core over SQLite and two in-memory backends. native
// lists the kinds enumerated by the aggregator.
func newFixture(t *testing.T, native ...storage.Kind) *fixture {
	t.Helper()
	repo, err := asset.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "gallery.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	log := logger.Discard()
	remote := newMemBackend(storage.KindObjectStore)
	local := newMemBackend(storage.KindLocal)
	sel := storage.NewSelector(log, []storage.Kind{storage.KindObjectStore, storage.KindLocal}, time.Second, remote, local)
	cache := NewListingCache(16, time.Minute)

	return &fixture{
		repo:     repo,
		remote:   remote,
		local:    local,
		selector: sel,
		cache:    cache,
		ingester: NewIngester(repo, sel, imageproc.NewNormalizer(imageproc.DefaultOptions()), cache,
			IngestConfig{MaxBytes: 3 << 20, MaxDimension: 3000, Workers: 4}, log),
		aggregator: NewAggregator(repo, sel, native, cache, log),
		reconciler: NewReconciler(repo, sel, cache, log),
	}
}

// photo encodes a small solid-color JPEG; distinct shades give distinct bytes.
func photo(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: 255 - shade, B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// failingStore wraps an AssetStore and fails every Insert.
type failingStore struct {
	AssetStore
}

func (failingStore) Insert(context.Context, media.Asset) (media.Asset, bool, error) {
	return media.Asset{}, false, errors.New("database is locked")
}
