package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var backendAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gallery_backend_attempts_total",
	Help: "Storage backend write attempts by backend and outcome.",
}, []string{"backend", "outcome"})

const cleanupTimeout = 10 * time.Second

// Selector writes through backends in preference order, falling back on failure.
type Selector struct {
	backends map[Kind]Backend
	order    []Kind
	timeout  time.Duration
	log      *slog.Logger
}

// NewSelector registers backends and the default preference order. Kinds in
// order without a registered backend are skipped at store time. A zero
// timeout leaves attempts bounded only by the caller's context.
func NewSelector(log *slog.Logger, order []Kind, timeout time.Duration, backends ...Backend) *Selector {
	m := make(map[Kind]Backend, len(backends))
	for _, b := range backends {
		if b != nil {
			m[b.Kind()] = b
		}
	}
	return &Selector{
		backends: m,
		order:    order,
		timeout:  timeout,
		log:      log.With(slog.String("component", "selector")),
	}
}

// Backend returns the registered backend of kind k.
func (s *Selector) Backend(k Kind) (Backend, bool) {
	b, ok := s.backends[k]
	return b, ok
}

// Backends returns the registered backends in default preference order,
// followed by any registered backend the order leaves out.
func (s *Selector) Backends() []Backend {
	seen := make(map[Kind]bool, len(s.backends))
	out := make([]Backend, 0, len(s.backends))
	for _, k := range s.order {
		if b, ok := s.backends[k]; ok && !seen[k] {
			seen[k] = true
			out = append(out, b)
		}
	}
	for _, k := range []Kind{KindObjectStore, KindCDN, KindLocal} {
		if b, ok := s.backends[k]; ok && !seen[k] {
			seen[k] = true
			out = append(out, b)
		}
	}
	return out
}

// Store tries each backend of order (the default order when empty) until one
// returns a usable locator. A registered Local backend is always tried last
// when order leaves it out. It fails only when every attempt failed.
func (s *Selector) Store(ctx context.Context, path string, data []byte, contentType string, order []Kind) (Object, error) {
	if len(order) == 0 {
		order = s.order
	}

	var errs []error
	for _, kind := range withLocalLast(order) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		b, ok := s.backends[kind]
		if !ok {
			s.log.Debug("backend not configured, skipping", slog.String("backend", string(kind)))
			continue
		}

		obj, err := s.attempt(ctx, b, path, data, contentType)
		if err != nil {
			backendAttempts.WithLabelValues(string(kind), "error").Inc()
			s.log.Warn("backend write failed, falling back",
				slog.String("backend", string(kind)),
				slog.String("path", path),
				slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}

		backendAttempts.WithLabelValues(string(kind), "ok").Inc()
		return obj, nil
	}

	return Object{}, errors.Join(append([]error{ErrAllBackendsFailed}, errs...)...)
}

func withLocalLast(order []Kind) []Kind {
	for _, k := range order {
		if k == KindLocal {
			return order
		}
	}
	out := make([]Kind, 0, len(order)+1)
	out = append(out, order...)
	return append(out, KindLocal)
}

// attempt runs one Put under the per-attempt timeout. A Put that reports
// success without a locator is rolled back and counted as a failure.
func (s *Selector) attempt(ctx context.Context, b Backend, path string, data []byte, contentType string) (Object, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	obj, err := b.Put(ctx, path, data, contentType)
	if err != nil {
		return Object{}, err
	}
	if obj.Locator == "" {
		ref := obj.ObjectID
		if ref == "" {
			ref = path
		}
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if delErr := b.Delete(cctx, ref); delErr != nil {
			s.log.Warn("cleanup of unusable write failed",
				slog.String("backend", string(b.Kind())),
				slog.String("path", path),
				slog.Any("error", delErr))
		}
		return Object{}, ErrNoLocator
	}
	if obj.Kind == "" {
		obj.Kind = b.Kind()
	}
	return obj, nil
}
