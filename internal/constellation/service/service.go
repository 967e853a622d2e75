// Package service implements the versioned record store API: snapshot
// reads, the operation applier and the status state machine.
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
	"icstore/internal/constellation/ports"
	dErrors "icstore/pkg/domain-errors"
	"icstore/pkg/platform/sentinel"
	"icstore/pkg/requestcontext"
)

const tracerName = "icstore/constellation"

// Service exposes checkout, commit, status changes and snapshot reads.
type Service struct {
	store   Store
	vocab   ports.VocabularyLookup
	indexer ports.Indexer
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
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

// WithVocabulary enables term validation for vocabulary-backed entities.
func WithVocabulary(v ports.VocabularyLookup) Option {
	return func(s *Service) { s.vocab = v }
}

// WithIndexer sets the post-commit indexer hook.
func WithIndexer(i ports.Indexer) Option {
	return func(s *Service) { s.indexer = i }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// New constructs the service.
func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("constellation store is required")
	}
	s := &Service{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Store returns the backing store for collaborators sharing its transactions.
func (s *Service) Store() Store { return s.store }

func requireActor(ctx context.Context) (requestcontext.ActorInfo, error) {
	actor := requestcontext.Actor(ctx)
	if actor.IsZero() {
		return actor, dErrors.New(dErrors.CodeUnauthorized, "actor required")
	}
	return actor, nil
}

// translate maps store sentinels to domain errors, passing coded errors through.
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

// notify hands a committed version to the indexer. Failures are logged only.
func (s *Service) notify(ctx context.Context, icID, version int64) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.Notify(context.WithoutCancel(ctx), icID, version); err != nil {
		s.metrics.IncrementIndexerNotification("failed")
		s.logger.WarnContext(ctx, "indexer notification failed",
			"ic_id", icID,
			"version", version,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return
	}
	s.metrics.IncrementIndexerNotification("sent")
}

// NotifyIndexer is used by collaborators committing through the shared store.
func (s *Service) NotifyIndexer(ctx context.Context, icID, version int64) {
	s.notify(ctx, icID, version)
}

// lockForEdit locks the head and checks that actor holds the editing lock.
func (s *Service) lockForEdit(ctx context.Context, icID int64, actor string, operation string) (*models.Head, error) {
	head, err := s.store.LockHead(ctx, icID)
	if err != nil {
		return nil, translate(err, "constellation")
	}
	if head.Status != models.StatusLockedEditing {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "constellation %d is not checked out (status %s)", icID, head.Status)
	}
	if head.LockHolder != actor {
		s.metrics.IncrementLockConflict(operation)
		return nil, &models.AlreadyLockedError{ICID: icID, Holder: head.LockHolder}
	}
	return head, nil
}
