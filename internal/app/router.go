package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gallery/service/internal/gallery"
	appMiddleware "github.com/gallery/service/internal/middleware"
	"github.com/gallery/service/internal/story"
)

// StaticPrefix is the URL path the local backend's files are served under.
const StaticPrefix = "/static/uploads"

// Router builds the HTTP routes.
func (a *App) Router() http.Handler {
	galleryHandler := gallery.NewHandler(a.Ingester, a.Aggregator, a.Reconciler, a.Config.MaxRequestBytes)
	requireOwner := appMiddleware.RequireOwner(a.Config.JWTSecret)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger(a.Log))
	r.Use(appMiddleware.Metrics)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	if a.Local != nil {
		files := http.StripPrefix(StaticPrefix, http.FileServer(http.Dir(a.Local.Root())))
		r.Handle(StaticPrefix+"/*", files)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/albums", galleryHandler.ListPublicAlbums)
		r.Get("/albums/{album}/assets", galleryHandler.ListPublicAssets)

		r.Group(func(r chi.Router) {
			r.Use(requireOwner)
			r.Post("/albums/{album}/assets", galleryHandler.Upload)
			r.Delete("/albums/{album}/assets", galleryHandler.DeleteAssets)
			r.Delete("/albums/{album}", galleryHandler.DeleteAlbum)
			r.Post("/assets", galleryHandler.Register)
			r.Get("/private/albums", galleryHandler.ListPrivateAlbums)
			r.Get("/private/albums/{album}/assets", galleryHandler.ListPrivateAssets)
		})

		if a.Stories != nil {
			storyHandler := story.NewHandler(a.Stories, a.Config.MaxRequestBytes)
			r.Route("/stories", func(r chi.Router) {
				r.Get("/", storyHandler.List)
				r.Get("/{id}", storyHandler.Get)
				r.With(requireOwner).Post("/", storyHandler.Create)
				r.With(requireOwner).Patch("/{id}", storyHandler.Update)
				r.With(requireOwner).Delete("/{id}", storyHandler.Delete)
			})
		}
	})

	return r
}
