// Package service implements duplicate handling across constellations:
// maybe-same voting, legacy pair reconciliation and automatic or curated
// merges into a single survivor.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"icstore/internal/constellation/metrics"
	"icstore/internal/constellation/models"
	constellation "icstore/internal/constellation/service"
	dErrors "icstore/pkg/domain-errors"
	"icstore/pkg/platform/sentinel"
	"icstore/pkg/requestcontext"
)

const tracerName = "icstore/merge"

// Store extends the constellation store with the maybe-same tables. It must
// be the same store the constellation service writes through so a merge and
// its pair updates commit in one transaction.
type Store interface {
	constellation.Store

	GetMaybeSame(ctx context.Context, icID1, icID2 int64) (*models.MaybeSame, error)
	// UpsertMaybeSame requires ICID1 < ICID2.
	UpsertMaybeSame(ctx context.Context, m models.MaybeSame) error
	// ListMaybeSame lists pairs with status, or every pair for "".
	ListMaybeSame(ctx context.Context, status models.MaybeSameStatus) ([]models.MaybeSame, error)
	ListMaybeSameFor(ctx context.Context, icID int64) ([]models.MaybeSame, error)

	// ListLegacyMaybeSame returns the directional rows not yet migrated.
	ListLegacyMaybeSame(ctx context.Context) ([]models.LegacyMaybeSame, error)
	MarkLegacyMigrated(ctx context.Context, ids []int64) error
}

// Service merges constellations and tracks duplicate suggestions.
type Service struct {
	store          Store
	constellations *constellation.Service
	metrics        *metrics.Metrics
	logger         *slog.Logger
	tracer         trace.Tracer
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// New constructs the merge service on top of the constellation service.
func New(store Store, constellations *constellation.Service, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("merge store is required")
	}
	if constellations == nil {
		return nil, errors.New("constellation service is required")
	}
	s := &Service{
		store:          store,
		constellations: constellations,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:         otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func requireActor(ctx context.Context) (requestcontext.ActorInfo, error) {
	actor := requestcontext.Actor(ctx)
	if actor.IsZero() {
		return actor, dErrors.New(dErrors.CodeUnauthorized, "actor required")
	}
	return actor, nil
}

func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	var coder dErrors.Coder
	if errors.As(err, &coder) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, what+" not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, what+" was modified concurrently")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, what+" timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to access "+what)
	}
}
