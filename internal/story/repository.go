// Package story manages short illustrated stories: a text and an ordered set
// of images stored through the gallery's backends.
package story

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Story is one published story.
type Story struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	Images    []Image   `json:"images"`
}

// Image is one picture of a story.
type Image struct {
	ID        string `json:"id"`
	StoryID   string `json:"-"`
	Position  int    `json:"position"`
	Locator   string `json:"url"`
	Backend   string `json:"backend"`
	ObjectRef string `json:"-"`
}

// ErrNotFound is returned when a story does not exist.
var ErrNotFound = errors.New("story not found")

// DB is the subset of *pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles story rows in Postgres.
type Repository struct {
	db DB
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a story and its images in one transaction.
func (r *Repository) Create(ctx context.Context, text string, images []Image) (Story, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Story{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	s := Story{}
	err = tx.QueryRow(ctx,
		`INSERT INTO stories (text) VALUES ($1) RETURNING id::text, text, created_at`,
		text,
	).Scan(&s.ID, &s.Text, &s.CreatedAt)
	if err != nil {
		return Story{}, fmt.Errorf("create story: %w", err)
	}

	s.Images = make([]Image, 0, len(images))
	for _, img := range images {
		saved, err := appendImage(ctx, tx, s.ID, img)
		if err != nil {
			return Story{}, err
		}
		s.Images = append(s.Images, saved)
	}

	if err := tx.Commit(ctx); err != nil {
		return Story{}, fmt.Errorf("commit story: %w", err)
	}
	return s, nil
}

// Update replaces the text when text is non-nil, removes the listed images
// and appends new ones, in one transaction. It returns the removed images.
func (r *Repository) Update(ctx context.Context, id string, text *string, removeIDs []string, add []Image) ([]Image, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stories WHERE id = $1 FOR UPDATE)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("lock story: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	if text != nil {
		if _, err := tx.Exec(ctx, `UPDATE stories SET text = $2 WHERE id = $1`, id, *text); err != nil {
			return nil, fmt.Errorf("update story text: %w", err)
		}
	}

	var removed []Image
	if ids := validIDs(removeIDs); len(ids) > 0 {
		rows, err := tx.Query(ctx,
			`DELETE FROM story_images WHERE story_id = $1 AND id = ANY($2::uuid[])
			 RETURNING id::text, story_id::text, position, locator, backend, object_ref`,
			id, ids)
		if err != nil {
			return nil, fmt.Errorf("remove story images: %w", err)
		}
		removed, err = collectImages(rows)
		if err != nil {
			return nil, fmt.Errorf("remove story images: %w", err)
		}
	}

	for _, img := range add {
		if _, err := appendImage(ctx, tx, id, img); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit story: %w", err)
	}
	return removed, nil
}

// Get fetches a story with its images.
func (r *Repository) Get(ctx context.Context, id string) (Story, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Story{}, ErrNotFound
	}
	s := Story{}
	err := r.db.QueryRow(ctx,
		`SELECT id::text, text, created_at FROM stories WHERE id = $1`, id,
	).Scan(&s.ID, &s.Text, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Story{}, ErrNotFound
	}
	if err != nil {
		return Story{}, fmt.Errorf("get story: %w", err)
	}

	images, err := r.images(ctx, []string{s.ID})
	if err != nil {
		return Story{}, err
	}
	s.Images = images[s.ID]
	if s.Images == nil {
		s.Images = []Image{}
	}
	return s, nil
}

// List returns stories newest first.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Story, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id::text, text, created_at FROM stories
		 ORDER BY created_at DESC, id
		 LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	stories := []Story{}
	var ids []string
	for rows.Next() {
		var s Story
		if err := rows.Scan(&s.ID, &s.Text, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		stories = append(stories, s)
		ids = append(ids, s.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	if len(ids) == 0 {
		return stories, nil
	}

	images, err := r.images(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range stories {
		stories[i].Images = images[stories[i].ID]
		if stories[i].Images == nil {
			stories[i].Images = []Image{}
		}
	}
	return stories, nil
}

// Delete removes a story and its image rows and returns the removed images.
// Deleting a missing story returns ErrNotFound.
func (r *Repository) Delete(ctx context.Context, id string) ([]Image, error) {
	s, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM stories WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete story: %w", err)
	}
	return s.Images, nil
}

func (r *Repository) images(ctx context.Context, storyIDs []string) (map[string][]Image, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id::text, story_id::text, position, locator, backend, object_ref
		 FROM story_images
		 WHERE story_id = ANY($1::uuid[])
		 ORDER BY story_id, position`,
		storyIDs)
	if err != nil {
		return nil, fmt.Errorf("list story images: %w", err)
	}
	list, err := collectImages(rows)
	if err != nil {
		return nil, fmt.Errorf("list story images: %w", err)
	}
	out := make(map[string][]Image, len(storyIDs))
	for _, img := range list {
		out[img.StoryID] = append(out[img.StoryID], img)
	}
	return out, nil
}

func appendImage(ctx context.Context, q querier, storyID string, img Image) (Image, error) {
	img.StoryID = storyID
	err := q.QueryRow(ctx,
		`INSERT INTO story_images (story_id, position, locator, backend, object_ref)
		 VALUES ($1, (SELECT COALESCE(MAX(position) + 1, 0) FROM story_images WHERE story_id = $1), $2, $3, $4)
		 RETURNING id::text, position`,
		storyID, img.Locator, img.Backend, img.ObjectRef,
	).Scan(&img.ID, &img.Position)
	if err != nil {
		return Image{}, fmt.Errorf("add story image: %w", err)
	}
	return img, nil
}

func collectImages(rows pgx.Rows) ([]Image, error) {
	defer rows.Close()
	var out []Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.ID, &img.StoryID, &img.Position, &img.Locator, &img.Backend, &img.ObjectRef); err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

func validIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if u, err := uuid.Parse(id); err == nil {
			out = append(out, u.String())
		}
	}
	return out
}
