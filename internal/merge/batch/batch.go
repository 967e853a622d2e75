// Package batch drives offline duplicate detection: exact matches on folded
// names form candidate groups, and each group is merged automatically. A
// failing group is recorded and the batch moves on.
package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"icstore/internal/constellation/metrics"
	"icstore/internal/constellation/models"
	dErrors "icstore/pkg/domain-errors"
	"icstore/pkg/requestcontext"
)

const defaultConcurrency = 4

// NameSource lists the live names of every active constellation.
type NameSource interface {
	CurrentNames(ctx context.Context) ([]models.NameRow, error)
}

// Merger merges one candidate group.
type Merger interface {
	AutoMerge(ctx context.Context, icIDs []int64, note string) (*models.MergeResult, error)
}

// Runner runs batch merges.
type Runner struct {
	names       NameSource
	merger      Merger
	concurrency int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Option configures the Runner.
type Option func(*Runner)

// WithConcurrency bounds how many groups merge at once.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New constructs a Runner.
func New(names NameSource, merger Merger, opts ...Option) (*Runner, error) {
	if names == nil {
		return nil, errors.New("name source is required")
	}
	if merger == nil {
		return nil, errors.New("merger is required")
	}
	r := &Runner{
		names:       names,
		merger:      merger,
		concurrency: defaultConcurrency,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run scans the name index and merges every candidate group.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	names, err := r.names.CurrentNames(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to scan name index")
	}
	groups := FindGroups(names)
	r.logger.InfoContext(ctx, "duplicate candidates found",
		"names", len(names),
		"groups", len(groups),
	)
	return r.Merge(ctx, groups, ""), nil
}

// Retry re-runs only the groups that failed in a previous report.
func (r *Runner) Retry(ctx context.Context, previous *Report) *Report {
	return r.Merge(ctx, previous.FailedICIDs(), previous.RunID)
}

// Merge merges each group independently. Groups must be disjoint so
// concurrent merges never wait on each other's locks.
func (r *Runner) Merge(ctx context.Context, groups [][]int64, retryOf string) *Report {
	report := &Report{
		RunID:     uuid.NewString(),
		RetryOf:   retryOf,
		StartedAt: requestcontext.Now(ctx),
		Groups:    len(groups),
	}
	note := "batch duplicate merge " + report.RunID

	type outcome struct {
		result *models.MergeResult
		err    error
	}
	outcomes := make([]outcome, len(groups))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, ids := range groups {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = outcome{err: dErrors.Wrap(err, dErrors.CodeTimeout, "batch cancelled")}
				return nil
			}
			res, err := r.merger.AutoMerge(ctx, ids, note)
			outcomes[i] = outcome{result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		ids := groups[i]
		if o.err != nil {
			r.metrics.IncrementBatchGroup("failed")
			r.logger.WarnContext(ctx, "batch group failed",
				"run_id", report.RunID,
				"ic_ids", ids,
				"error", o.err,
			)
			report.Failed = append(report.Failed, FailedGroup{
				ICIDs:  ids,
				Code:   string(dErrors.CodeOf(o.err)),
				Reason: o.err.Error(),
			})
			continue
		}
		r.metrics.IncrementBatchGroup("merged")
		report.Merged = append(report.Merged, MergedGroup{
			ICIDs:      ids,
			SurvivorID: o.result.SurvivorID,
			Version:    o.result.Version,
			Skipped:    o.result.Skipped,
		})
	}
	report.FinishedAt = time.Now().UTC()

	r.logger.InfoContext(ctx, "batch merge finished",
		"run_id", report.RunID,
		"groups", report.Groups,
		"merged", len(report.Merged),
		"failed", len(report.Failed),
	)
	return report
}
