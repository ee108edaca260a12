package gallery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_ingest_files_total",
		Help: "Files processed by ingest, by outcome.",
	}, []string{"outcome"})

	storedBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gallery_ingest_stored_bytes",
		Help:    "Size of stored objects after normalization.",
		Buckets: prometheus.ExponentialBuckets(16<<10, 2, 10),
	})

	normalizeAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gallery_normalize_encode_attempts",
		Help:    "JPEG encodes needed to fit an image into the budget.",
		Buckets: []float64{1, 2, 4, 8, 16, 32},
	})

	orphanedObjects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_orphaned_objects_total",
		Help: "Objects written to a backend whose metadata insert failed.",
	})

	deleteOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_delete_identifiers_total",
		Help: "Identifiers processed by the deletion reconciler, by outcome.",
	}, []string{"outcome"})

	objectRemovals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_object_removals_total",
		Help: "Best-effort backend object removals, by backend and outcome.",
	}, []string{"backend", "outcome"})

	nativeListings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_native_listings_total",
		Help: "Backend-native listings, by backend and outcome (hit, miss, error).",
	}, []string{"backend", "outcome"})
)
