package asset

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gallery/service/internal/db"
	"github.com/gallery/service/internal/logger"
	"github.com/gallery/service/internal/media"
)

// setupPostgres starts a Postgres container and applies the migrations.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION is not set")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("gallery_test"),
		postgres.WithUsername("gallery"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	log := logger.Discard()
	require.NoError(t, db.Migrate(dsn, log))

	pool, err := db.Connect(ctx, dsn, log)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresRepository(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewRepository(pool)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.Insert(ctx, media.Asset{
				AlbumName: "Straße", Locator: "https://cdn/same.jpg", Visibility: media.Public, Backend: "local",
			})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created, "the unique constraint admits exactly one row per locator")

	for i := 0; i < 2; i++ {
		_, _, err := repo.Insert(ctx, media.Asset{
			AlbumName: "STRASSE", Locator: fmt.Sprintf("https://cdn/%d.jpg", i), Visibility: media.Public, Backend: "local",
		})
		require.NoError(t, err)
	}

	assets, err := repo.FindByAlbum(ctx, "strasse", media.Public)
	require.NoError(t, err)
	require.Len(t, assets, 3)
	assert.Equal(t, "https://cdn/1.jpg", assets[0].Locator)

	albums, err := repo.ListAlbums(ctx, media.Public)
	require.NoError(t, err)
	require.Len(t, albums, 1)
	assert.Equal(t, "Straße", albums[0].Name)
	assert.Equal(t, "https://cdn/same.jpg", albums[0].Cover)

	got, err := repo.Get(ctx, assets[0].ID)
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, got.ID))
	require.NoError(t, repo.Delete(ctx, got.ID))
	_, err = repo.Get(ctx, got.Locator)
	assert.ErrorIs(t, err, ErrNotFound)
}
