// Package asset persists media asset metadata.
package asset

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gallery/service/internal/media"
)

// ErrNotFound is returned when no asset matches an id or locator.
var ErrNotFound = errors.New("asset not found")

// DBTX is the subset of *pgxpool.Pool the repository needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const assetColumns = `id::text, album_name, album_key, locator, visibility, backend, object_ref, content_type, size_bytes, created_at`

// Repository handles media asset rows in Postgres.
type Repository struct {
	db DBTX
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

// Insert records a. The album key is derived from the album name. When the
// locator is already recorded nothing is written and the existing row is
// returned with created set to false.
func (r *Repository) Insert(ctx context.Context, a media.Asset) (media.Asset, bool, error) {
	a.AlbumName = media.CleanAlbumName(a.AlbumName)
	a.AlbumKey = media.AlbumKey(a.AlbumName)

	out, err := scanAsset(r.db.QueryRow(ctx,
		`INSERT INTO media_assets (album_name, album_key, locator, visibility, backend, object_ref, content_type, size_bytes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (locator) DO NOTHING
		 RETURNING `+assetColumns,
		a.AlbumName, a.AlbumKey, a.Locator, string(a.Visibility), a.Backend, a.ObjectRef, a.ContentType, a.SizeBytes,
	))
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return media.Asset{}, false, fmt.Errorf("insert asset: %w", err)
	}

	existing, err := r.getByLocator(ctx, a.Locator)
	if err != nil {
		return media.Asset{}, false, fmt.Errorf("insert asset: load existing: %w", err)
	}
	return existing, false, nil
}

// Get fetches an asset by id or locator.
func (r *Repository) Get(ctx context.Context, ref string) (media.Asset, error) {
	if id, ok := parseID(ref); ok {
		a, err := scanAsset(r.db.QueryRow(ctx,
			`SELECT `+assetColumns+` FROM media_assets WHERE id = $1`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return media.Asset{}, ErrNotFound
		}
		if err != nil {
			return media.Asset{}, fmt.Errorf("get asset by id: %w", err)
		}
		return a, nil
	}
	return r.getByLocator(ctx, ref)
}

func (r *Repository) getByLocator(ctx context.Context, locator string) (media.Asset, error) {
	a, err := scanAsset(r.db.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM media_assets WHERE locator = $1`, locator))
	if errors.Is(err, pgx.ErrNoRows) {
		return media.Asset{}, ErrNotFound
	}
	if err != nil {
		return media.Asset{}, fmt.Errorf("get asset by locator: %w", err)
	}
	return a, nil
}

// Delete removes the asset with the given id or locator. Deleting a row that
// does not exist is not an error.
func (r *Repository) Delete(ctx context.Context, ref string) error {
	var err error
	if id, ok := parseID(ref); ok {
		_, err = r.db.Exec(ctx, `DELETE FROM media_assets WHERE id = $1`, id)
	} else {
		_, err = r.db.Exec(ctx, `DELETE FROM media_assets WHERE locator = $1`, ref)
	}
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	return nil
}

// FindByAlbum lists the assets of an album, newest first.
func (r *Repository) FindByAlbum(ctx context.Context, album string, vis media.Visibility) ([]media.Asset, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+assetColumns+`
		 FROM media_assets
		 WHERE album_key = $1 AND visibility = $2
		 ORDER BY created_at DESC, id`,
		media.AlbumKey(album), string(vis),
	)
	if err != nil {
		return nil, fmt.Errorf("find assets by album: %w", err)
	}
	defer rows.Close()

	var out []media.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find assets by album: %w", err)
	}
	return out, nil
}

// ListAlbums returns one entry per album key, named and covered by the
// album's oldest asset, ordered by key.
func (r *Repository) ListAlbums(ctx context.Context, vis media.Visibility) ([]media.Album, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (album_key) album_key, album_name, locator
		 FROM media_assets
		 WHERE visibility = $1
		 ORDER BY album_key, created_at ASC, id`,
		string(vis),
	)
	if err != nil {
		return nil, fmt.Errorf("list albums: %w", err)
	}
	defer rows.Close()

	var out []media.Album
	for rows.Next() {
		var al media.Album
		if err := rows.Scan(&al.Key, &al.Name, &al.Cover); err != nil {
			return nil, fmt.Errorf("scan album: %w", err)
		}
		out = append(out, al)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list albums: %w", err)
	}
	return out, nil
}

func scanAsset(row pgx.Row) (media.Asset, error) {
	var (
		a   media.Asset
		vis string
	)
	err := row.Scan(&a.ID, &a.AlbumName, &a.AlbumKey, &a.Locator, &vis, &a.Backend,
		&a.ObjectRef, &a.ContentType, &a.SizeBytes, &a.CreatedAt)
	if err != nil {
		return media.Asset{}, err
	}
	a.Visibility = media.Visibility(vis)
	return a, nil
}

// parseID reports whether ref is an asset id rather than a locator.
func parseID(ref string) (string, bool) {
	id, err := uuid.Parse(ref)
	if err != nil {
		return "", false
	}
	return id.String(), true
}
