package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"icstore/internal/constellation/models"
	dErrors "icstore/pkg/domain-errors"
	"icstore/pkg/platform/sentinel"
)

// maxRedirectHops bounds redirect chains. Merges compress paths, so real
// chains have a single hop.
const maxRedirectHops = 16

// Resolve follows the redirect table from icID to the current survivor.
func (s *Service) Resolve(ctx context.Context, icID int64) (int64, error) {
	current := icID
	for range maxRedirectHops {
		r, err := s.store.Redirect(ctx, current)
		if errors.Is(err, sentinel.ErrNotFound) {
			if _, err := s.store.Head(ctx, current); err != nil {
				return 0, translate(err, "constellation")
			}
			return current, nil
		}
		if err != nil {
			return 0, translate(err, "redirect")
		}
		current = r.ToICID
	}
	return 0, dErrors.Newf(dErrors.CodeInvariantError, "redirect chain from %d exceeds %d hops", icID, maxRedirectHops)
}

// ResolveArk returns the current survivor for an ARK identifier.
func (s *Service) ResolveArk(ctx context.Context, ark string) (int64, error) {
	if ark == "" {
		return 0, &models.ValidationError{Field: "ark_id", Reason: "is required"}
	}
	icID, err := s.store.FindByArk(ctx, ark)
	if err != nil {
		return 0, translate(err, "ark")
	}
	return s.Resolve(ctx, icID)
}

// Read returns the snapshot of icID at version. Version 0 means the latest
// version of the current survivor; explicit versions read icID as stored so
// merged-away records stay auditable. Every entity is resolved against the
// same upper bound, and a given version always yields the same snapshot.
func (s *Service) Read(ctx context.Context, icID, version int64) (*models.Constellation, error) {
	ctx, span := s.tracer.Start(ctx, "constellation.Read", trace.WithAttributes(
		attribute.Int64("ic_id", icID),
		attribute.Int64("version", version),
	))
	defer span.End()

	if version < 0 {
		return nil, &models.ValidationError{Field: "version", Reason: "must not be negative"}
	}
	if version == 0 {
		resolved, err := s.Resolve(ctx, icID)
		if err != nil {
			return nil, err
		}
		head, err := s.store.Head(ctx, resolved)
		if err != nil {
			return nil, translate(err, "constellation")
		}
		return s.SnapshotOf(ctx, head)
	}

	head, err := s.store.Head(ctx, icID)
	if err != nil {
		return nil, translate(err, "constellation")
	}
	if version > head.Version {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "constellation %d has no version %d", icID, version)
	}
	entry, err := s.store.HistoryAt(ctx, icID, version)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("constellation %d version %d", icID, version))
	}
	return s.build(ctx, icID, models.Head{
		ICID:       icID,
		Version:    entry.Version,
		Status:     entry.Status,
		ArkID:      entry.ArkID,
		EntityType: entry.EntityType,
	})
}

// ReadPublished returns the latest published snapshot of the current survivor.
func (s *Service) ReadPublished(ctx context.Context, icID int64) (*models.Constellation, error) {
	resolved, err := s.Resolve(ctx, icID)
	if err != nil {
		return nil, err
	}
	entry, err := s.store.LatestWithStatus(ctx, resolved, models.StatusPublished)
	if err != nil {
		return nil, translate(err, "published version")
	}
	return s.Read(ctx, resolved, entry.Version)
}

// History lists the version-history ledger of icID, oldest first.
func (s *Service) History(ctx context.Context, icID int64) ([]models.HistoryEntry, error) {
	if _, err := s.store.Head(ctx, icID); err != nil {
		return nil, translate(err, "constellation")
	}
	entries, err := s.store.History(ctx, icID)
	if err != nil {
		return nil, translate(err, "history")
	}
	return entries, nil
}

// SnapshotOf resolves the full constellation at the head's version. Inside
// a transaction it sees the transaction's own writes.
func (s *Service) SnapshotOf(ctx context.Context, head *models.Head) (*models.Constellation, error) {
	c, err := s.build(ctx, head.ICID, *head)
	if err != nil {
		return nil, err
	}
	c.LockHolder = head.LockHolder
	return c, nil
}

func (s *Service) build(ctx context.Context, icID int64, at models.Head) (*models.Constellation, error) {
	entities, err := Snapshot(ctx, s.store, icID, at.Version)
	if err != nil {
		return nil, translate(err, "snapshot")
	}
	c := &models.Constellation{
		ICID:       icID,
		Version:    at.Version,
		ArkID:      at.ArkID,
		EntityType: at.EntityType,
		Status:     at.Status,
	}
	for _, e := range entities {
		if err := c.Add(e); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvariantError, "stored snapshot is malformed")
		}
	}
	return c, nil
}
