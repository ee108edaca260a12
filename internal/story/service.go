package story

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gallery/service/internal/gallery"
	"github.com/gallery/service/internal/storage"
)

const (
	// Dir is the backend directory story images are written under. Each
	// write batch gets its own subdirectory, so stories never share objects.
	Dir = "stories"

	maxTextLen = 10000
	maxImages  = 20
)

var (
	ErrEmptyStory    = errors.New("story needs text or at least one image")
	ErrTextTooLong   = errors.New("story text is too long")
	ErrTooManyImages = errors.New("too many images in one story")
)

// Store persists stories.
type Store interface {
	Create(ctx context.Context, text string, images []Image) (Story, error)
	Update(ctx context.Context, id string, text *string, removeIDs []string, add []Image) ([]Image, error)
	Get(ctx context.Context, id string) (Story, error)
	List(ctx context.Context, limit, offset int) ([]Story, error)
	Delete(ctx context.Context, id string) ([]Image, error)
}

// ObjectWriter writes normalized files to a storage backend.
type ObjectWriter interface {
	StoreFile(ctx context.Context, dir string, f gallery.File, order []storage.Kind) (gallery.Stored, error)
}

// ObjectRemover deletes a stored object.
type ObjectRemover interface {
	RemoveObject(ctx context.Context, backend, locator, ref string) error
}

// Service coordinates story rows and their stored images.
type Service struct {
	store   Store
	writer  ObjectWriter
	remover ObjectRemover
	order   []storage.Kind
	workers int
	log     *slog.Logger
}

// NewService creates a Service. order is the backend order for story images.
func NewService(store Store, writer ObjectWriter, remover ObjectRemover, order []storage.Kind, workers int, log *slog.Logger) *Service {
	if workers <= 0 {
		workers = 1
	}
	return &Service{
		store:   store,
		writer:  writer,
		remover: remover,
		order:   order,
		workers: workers,
		log:     log.With(slog.String("component", "story")),
	}
}

// Create stores every image and then records the story. Any failed image
// fails the whole story; images already written are removed again.
func (s *Service) Create(ctx context.Context, text string, files []gallery.File) (Story, error) {
	text = strings.TrimSpace(text)
	if err := validate(text, len(files)); err != nil {
		return Story{}, err
	}

	images, err := s.storeAll(ctx, files)
	if err != nil {
		return Story{}, err
	}

	st, err := s.store.Create(ctx, text, images)
	if err != nil {
		s.discard(ctx, images)
		return Story{}, fmt.Errorf("create story: %w", err)
	}
	s.log.Info("story created", slog.String("id", st.ID), slog.Int("images", len(st.Images)))
	return st, nil
}

// Update edits a story. A nil text leaves the text unchanged. Removed images
// are deleted from their backends after the rows are gone.
func (s *Service) Update(ctx context.Context, id string, text *string, removeIDs []string, files []gallery.File) (Story, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return Story{}, err
	}

	newText := current.Text
	if text != nil {
		t := strings.TrimSpace(*text)
		text, newText = &t, t
	}
	remaining := len(current.Images) + len(files)
	for _, img := range current.Images {
		for _, rid := range removeIDs {
			if img.ID == rid {
				remaining--
				break
			}
		}
	}
	if err := validate(newText, remaining); err != nil {
		return Story{}, err
	}

	images, err := s.storeAll(ctx, files)
	if err != nil {
		return Story{}, err
	}

	removed, err := s.store.Update(ctx, id, text, removeIDs, images)
	if err != nil {
		s.discard(ctx, images)
		return Story{}, err
	}
	s.discard(ctx, removed)

	return s.store.Get(ctx, id)
}

// List returns stories newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Story, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, limit, offset)
}

// Get returns one story.
func (s *Service) Get(ctx context.Context, id string) (Story, error) {
	return s.store.Get(ctx, id)
}

// Delete removes the story rows and then its images.
func (s *Service) Delete(ctx context.Context, id string) error {
	images, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.discard(ctx, images)
	s.log.Info("story deleted", slog.String("id", id), slog.Int("images", len(images)))
	return nil
}

func (s *Service) storeAll(ctx context.Context, files []gallery.File) ([]Image, error) {
	images := make([]Image, len(files))
	dir := path.Join(Dir, uuid.NewString())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			stored, err := s.writer.StoreFile(gctx, dir, f, s.order)
			if err != nil {
				return err
			}
			images[i] = Image{
				Locator:   stored.Object.Locator,
				Backend:   string(stored.Object.Kind),
				ObjectRef: stored.Object.ObjectID,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var written []Image
		for _, img := range images {
			if img.Locator != "" {
				written = append(written, img)
			}
		}
		s.discard(ctx, written)
		return nil, err
	}
	return images, nil
}

// discard removes objects best-effort. Failures leave orphans and are logged.
func (s *Service) discard(ctx context.Context, images []Image) {
	for _, img := range images {
		if err := s.remover.RemoveObject(ctx, img.Backend, img.Locator, img.ObjectRef); err != nil {
			s.log.Warn("story image not removed, object is orphaned",
				slog.String("locator", img.Locator),
				slog.String("backend", img.Backend),
				slog.Any("error", err))
		}
	}
}

func validate(text string, images int) error {
	switch {
	case text == "" && images == 0:
		return ErrEmptyStory
	case len(text) > maxTextLen:
		return ErrTextTooLong
	case images > maxImages:
		return ErrTooManyImages
	}
	return nil
}
