package asset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gallery/service/internal/media"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS media_assets (
    id           TEXT PRIMARY KEY,
    album_name   TEXT NOT NULL,
    album_key    TEXT NOT NULL,
    locator      TEXT NOT NULL UNIQUE,
    visibility   TEXT NOT NULL CHECK (visibility IN ('public', 'private')),
    backend      TEXT NOT NULL,
    object_ref   TEXT NOT NULL DEFAULT '',
    content_type TEXT NOT NULL DEFAULT '',
    size_bytes   INTEGER NOT NULL DEFAULT 0,
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_media_assets_album ON media_assets (visibility, album_key, created_at);
`

const sqliteColumns = `id, album_name, album_key, locator, visibility, backend, object_ref, content_type, size_bytes, created_at`

// SQLiteRepository stores asset rows in an embedded SQLite database. It has
// the same semantics as Repository and suits single-host deployments.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database file at path and
// applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteRepository{db: db, now: time.Now}, nil
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Insert implements the same contract as Repository.Insert.
func (r *SQLiteRepository) Insert(ctx context.Context, a media.Asset) (media.Asset, bool, error) {
	a.AlbumName = media.CleanAlbumName(a.AlbumName)
	a.AlbumKey = media.AlbumKey(a.AlbumName)
	a.ID = uuid.NewString()
	a.CreatedAt = r.now().UTC()

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO media_assets (`+sqliteColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (locator) DO NOTHING`,
		a.ID, a.AlbumName, a.AlbumKey, a.Locator, string(a.Visibility), a.Backend,
		a.ObjectRef, a.ContentType, a.SizeBytes, a.CreatedAt.UnixNano(),
	)
	if err != nil {
		return media.Asset{}, false, fmt.Errorf("insert asset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return media.Asset{}, false, fmt.Errorf("insert asset: %w", err)
	}
	if n == 1 {
		return a, true, nil
	}

	existing, err := r.get(ctx, "locator", a.Locator)
	if err != nil {
		return media.Asset{}, false, fmt.Errorf("insert asset: load existing: %w", err)
	}
	return existing, false, nil
}

// Get fetches an asset by id or locator.
func (r *SQLiteRepository) Get(ctx context.Context, ref string) (media.Asset, error) {
	if id, ok := parseID(ref); ok {
		return r.get(ctx, "id", id)
	}
	return r.get(ctx, "locator", ref)
}

func (r *SQLiteRepository) get(ctx context.Context, column, value string) (media.Asset, error) {
	a, err := scanSQLiteAsset(r.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM media_assets WHERE `+column+` = ?`, value))
	if errors.Is(err, sql.ErrNoRows) {
		return media.Asset{}, ErrNotFound
	}
	if err != nil {
		return media.Asset{}, fmt.Errorf("get asset by %s: %w", column, err)
	}
	return a, nil
}

// Delete removes the asset with the given id or locator. Deleting a row that
// does not exist is not an error.
func (r *SQLiteRepository) Delete(ctx context.Context, ref string) error {
	var err error
	if id, ok := parseID(ref); ok {
		_, err = r.db.ExecContext(ctx, `DELETE FROM media_assets WHERE id = ?`, id)
	} else {
		_, err = r.db.ExecContext(ctx, `DELETE FROM media_assets WHERE locator = ?`, ref)
	}
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	return nil
}

// FindByAlbum lists the assets of an album, newest first.
func (r *SQLiteRepository) FindByAlbum(ctx context.Context, album string, vis media.Visibility) ([]media.Asset, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+`
		 FROM media_assets
		 WHERE album_key = ? AND visibility = ?
		 ORDER BY created_at DESC, id`,
		media.AlbumKey(album), string(vis),
	)
	if err != nil {
		return nil, fmt.Errorf("find assets by album: %w", err)
	}
	defer rows.Close()

	var out []media.Asset
	for rows.Next() {
		a, err := scanSQLiteAsset(rows)
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
func (r *SQLiteRepository) ListAlbums(ctx context.Context, vis media.Visibility) ([]media.Album, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.album_key, a.album_name, a.locator
		 FROM media_assets a
		 WHERE a.visibility = ? AND a.id = (
		     SELECT b.id FROM media_assets b
		     WHERE b.visibility = a.visibility AND b.album_key = a.album_key
		     ORDER BY b.created_at ASC, b.id ASC
		     LIMIT 1)
		 ORDER BY a.album_key`,
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

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAsset(row scanner) (media.Asset, error) {
	var (
		a       media.Asset
		vis     string
		created int64
	)
	err := row.Scan(&a.ID, &a.AlbumName, &a.AlbumKey, &a.Locator, &vis, &a.Backend,
		&a.ObjectRef, &a.ContentType, &a.SizeBytes, &created)
	if err != nil {
		return media.Asset{}, err
	}
	a.Visibility = media.Visibility(vis)
	a.CreatedAt = time.Unix(0, created).UTC()
	return a, nil
}
