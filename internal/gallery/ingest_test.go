package gallery

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gallery/service/internal/imageproc"
	"github.com/gallery/service/internal/logger"
	"github.com/gallery/service/internal/media"
	"github.com/gallery/service/internal/storage"
)

func TestIngestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	files := []File{{Name: "a.jpg", Data: photo(t, 1)}}

	_, err := f.ingester.Ingest(ctx, "   ", media.Public, files)
	assert.ErrorIs(t, err, ErrAlbumRequired)
	_, err = f.ingester.Ingest(ctx, "beach", media.Visibility("friends"), files)
	assert.ErrorIs(t, err, media.ErrInvalidVisibility)
	_, err = f.ingester.Ingest(ctx, "beach", media.Public, nil)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestIngestBatchIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The second file is rejected by every backend.
	reject := func(p string) bool { return strings.Contains(p, "/cursed_") }
	f.remote.failOn = reject
	f.local.failOn = reject

	results, err := f.ingester.Ingest(ctx, "beach", media.Public, []File{
		{Name: "one.jpg", Data: photo(t, 10)},
		{Name: "cursed.jpg", Data: photo(t, 20)},
		{Name: "three.jpg", Data: photo(t, 30)},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "one.jpg", results[0].FileName)
	assert.Equal(t, "cursed.jpg", results[1].FileName)
	assert.Equal(t, "three.jpg", results[2].FileName)

	require.NoError(t, results[0].Err)
	require.NoError(t, results[2].Err)
	assert.ErrorIs(t, results[1].Err, storage.ErrAllBackendsFailed)
	assert.Equal(t, 2, Uploaded(results))

	for _, i := range []int{0, 2} {
		a, err := f.repo.Get(ctx, results[i].AssetID)
		require.NoError(t, err)
		assert.Equal(t, results[i].Locator, a.Locator)
		assert.Equal(t, string(storage.KindObjectStore), a.Backend)
	}
	assets, err := f.repo.FindByAlbum(ctx, "beach", media.Public)
	require.NoError(t, err)
	assert.Len(t, assets, 2)
}

func TestIngestFallsBackToLocal(t *testing.T) {
	f := newFixture(t)
	f.remote.failOn = func(string) bool { return true }

	results, err := f.ingester.Ingest(context.Background(), "beach", media.Public, []File{{Name: "a.jpg", Data: photo(t, 1)}})
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	assert.Equal(t, string(storage.KindLocal), results[0].Backend)
	assert.True(t, strings.HasPrefix(results[0].Locator, f.local.base))
}

func TestIngestBackendOrderOverride(t *testing.T) {
	f := newFixture(t)

	results, err := f.ingester.Ingest(context.Background(), "beach", media.Public,
		[]File{{Name: "a.jpg", Data: photo(t, 1)}}, WithBackendOrder(storage.KindLocal))
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	assert.Equal(t, string(storage.KindLocal), results[0].Backend)
	assert.Empty(t, f.remote.objects)
}

func TestIngestRetryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	files := []File{{Name: "a.jpg", Data: photo(t, 1)}}

	first, err := f.ingester.Ingest(ctx, "beach", media.Public, files)
	require.NoError(t, err)
	second, err := f.ingester.Ingest(ctx, "beach", media.Public, files)
	require.NoError(t, err)

	require.NoError(t, second[0].Err)
	assert.Equal(t, first[0].AssetID, second[0].AssetID)
	assert.Equal(t, first[0].Locator, second[0].Locator)

	assets, err := f.repo.FindByAlbum(ctx, "beach", media.Public)
	require.NoError(t, err)
	assert.Len(t, assets, 1)
}

func TestIngestPerFileErrors(t *testing.T) {
	f := newFixture(t)

	results, err := f.ingester.Ingest(context.Background(), "docs", media.Private, []File{
		{Name: "empty.jpg"},
		{Name: "notes.txt", Data: []byte("plain text is stored as-is"), ContentType: "text/plain"},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, ErrEmptyFile)
	require.NoError(t, results[1].Err)

	p, ok := f.remote.PathFromLocator(results[1].Locator)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(p, "private/docs/notes_"))
	assert.Equal(t, []byte("plain text is stored as-is"), f.remote.objects[p])
}

func TestIngestOrphanIsReported(t *testing.T) {
	f := newFixture(t)
	ing := NewIngester(failingStore{f.repo}, f.selector, imageproc.NewNormalizer(imageproc.DefaultOptions()), nil,
		IngestConfig{MaxBytes: 3 << 20, MaxDimension: 3000}, logger.Discard())

	results, err := ing.Ingest(context.Background(), "beach", media.Public, []File{{Name: "a.jpg", Data: photo(t, 1)}})
	require.NoError(t, err)
	require.ErrorContains(t, results[0].Err, "database is locked")
	assert.Len(t, f.remote.objects, 1, "the stored object is left in place")
}

func TestIngestConcurrentBatchKeepsOrder(t *testing.T) {
	f := newFixture(t)
	files := make([]File, 12)
	for i := range files {
		files[i] = File{Name: "p" + string(rune('a'+i)) + ".jpg", Data: photo(t, uint8(i*20))}
	}

	results, err := f.ingester.Ingest(context.Background(), "big", media.Public, files)
	require.NoError(t, err)
	require.Len(t, results, len(files))
	for i, r := range results {
		assert.Equal(t, files[i].Name, r.FileName)
		assert.NoError(t, r.Err)
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, created, err := f.ingester.Register(ctx, "Links", media.Public, "https://elsewhere.example.org/pic.PNG")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, media.BackendExternal, a.Backend)
	assert.Equal(t, "image/png", a.ContentType)

	again, created, err := f.ingester.Register(ctx, "Links", media.Public, "https://elsewhere.example.org/pic.PNG")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, again.ID)

	for _, bad := range []string{"", "not a url", "/relative/path.jpg", "ftp://host/x.jpg", "https://"} {
		_, _, err := f.ingester.Register(ctx, "Links", media.Public, bad)
		assert.ErrorIs(t, err, ErrInvalidLocator, bad)
	}
}

func TestIngestRespectsAttemptTimeout(t *testing.T) {
	f := newFixture(t)
	slow := &blockingBackend{memBackend: newMemBackend(storage.KindCDN)}
	sel := storage.NewSelector(logger.Discard(), []storage.Kind{storage.KindCDN, storage.KindLocal}, 20*time.Millisecond, slow, f.local)
	ing := NewIngester(f.repo, sel, imageproc.NewNormalizer(imageproc.DefaultOptions()), nil,
		IngestConfig{MaxBytes: 3 << 20, MaxDimension: 3000, Workers: 2}, logger.Discard())

	results, err := ing.Ingest(context.Background(), "beach", media.Public, []File{
		{Name: "a.jpg", Data: photo(t, 1)},
		{Name: "b.jpg", Data: photo(t, 2)},
	})
	require.NoError(t, err)
	for _, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, string(storage.KindLocal), r.Backend)
	}
}

// blockingBackend never completes a Put before its context ends.
type blockingBackend struct {
	*memBackend
}

func (b *blockingBackend) Put(ctx context.Context, _ string, _ []byte, _ string) (storage.Object, error) {
	<-ctx.Done()
	return storage.Object{}, ctx.Err()
}
