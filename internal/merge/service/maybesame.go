package service

import (
	"context"
	"errors"
	"fmt"

	"icstore/internal/constellation/models"
	dErrors "icstore/pkg/domain-errors"
	"icstore/pkg/platform/sentinel"
	"icstore/pkg/requestcontext"
)

// ProposeMaybeSame records that two constellations may describe the same
// identity. Proposing a pair that already exists, in either orientation,
// returns the stored pair unchanged.
func (s *Service) ProposeMaybeSame(ctx context.Context, a, b int64, note string) (*models.MaybeSame, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id1, id2, err := models.CanonicalPair(a, b)
	if err != nil {
		return nil, err
	}

	var result *models.MaybeSame
	created := false
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		for _, id := range []int64{id1, id2} {
			if _, err := s.store.Head(ctx, id); err != nil {
				return translate(err, fmt.Sprintf("constellation %d", id))
			}
		}
		existing, err := s.store.GetMaybeSame(ctx, id1, id2)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
		now := requestcontext.Now(ctx)
		m := models.MaybeSame{
			ICID1:     id1,
			ICID2:     id2,
			Status:    models.MaybeSamePending,
			Note:      note,
			Actor:     actor.ID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.UpsertMaybeSame(ctx, m); err != nil {
			return err
		}
		result = &m
		created = true
		return nil
	})
	if err != nil {
		return nil, translate(err, "maybe-same pair")
	}
	if created {
		s.logger.InfoContext(ctx, "maybe-same proposed",
			"ic_id1", id1,
			"ic_id2", id2,
			"actor", actor.ID,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return result, nil
}

// SetMaybeSameStatus records a vote on an existing pair.
func (s *Service) SetMaybeSameStatus(ctx context.Context, a, b int64, status models.MaybeSameStatus, note string) (*models.MaybeSame, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown maybe-same status %q", status)}
	}
	id1, id2, err := models.CanonicalPair(a, b)
	if err != nil {
		return nil, err
	}

	var result *models.MaybeSame
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		m, err := s.store.GetMaybeSame(ctx, id1, id2)
		if err != nil {
			return err
		}
		m.Status = status
		if note != "" {
			m.Note = note
		}
		m.Actor = actor.ID
		m.UpdatedAt = requestcontext.Now(ctx)
		if err := s.store.UpsertMaybeSame(ctx, *m); err != nil {
			return err
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, translate(err, "maybe-same pair")
	}
	s.logger.InfoContext(ctx, "maybe-same status changed",
		"ic_id1", id1,
		"ic_id2", id2,
		"status", status,
		"actor", actor.ID,
	)
	return result, nil
}

// ListMaybeSame lists pairs with the given status; "" lists every pair.
func (s *Service) ListMaybeSame(ctx context.Context, status models.MaybeSameStatus) ([]models.MaybeSame, error) {
	if status != "" && !status.IsValid() {
		return nil, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown maybe-same status %q", status)}
	}
	pairs, err := s.store.ListMaybeSame(ctx, status)
	if err != nil {
		return nil, translate(err, "maybe-same pairs")
	}
	return pairs, nil
}

// ListMaybeSameFor lists every pair that mentions icID.
func (s *Service) ListMaybeSameFor(ctx context.Context, icID int64) ([]models.MaybeSame, error) {
	pairs, err := s.store.ListMaybeSameFor(ctx, icID)
	if err != nil {
		return nil, translate(err, "maybe-same pairs")
	}
	return pairs, nil
}

// ReconcileResult counts the outcome of a legacy reconciliation pass.
type ReconcileResult struct {
	Migrated int `json:"migrated" yaml:"migrated"`
	Created  int `json:"created" yaml:"created"`
	Merged   int `json:"merged_into_existing" yaml:"merged_into_existing"`
	Invalid  int `json:"invalid" yaml:"invalid"`
}

// ReconcileLegacy folds the directional legacy suggestions into canonical
// pairs. Both orientations of a pair collapse into one row, and every legacy
// row is marked migrated in the same transaction so a rerun does nothing.
func (s *Service) ReconcileLegacy(ctx context.Context) (*ReconcileResult, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{}
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		legacy, err := s.store.ListLegacyMaybeSame(ctx)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(legacy))
		now := requestcontext.Now(ctx)
		for _, l := range legacy {
			ids = append(ids, l.ID)
			id1, id2, err := models.CanonicalPair(l.FromICID, l.ToICID)
			if err != nil {
				result.Invalid++
				s.logger.WarnContext(ctx, "legacy maybe-same row is not a valid pair",
					"legacy_id", l.ID,
					"from_ic_id", l.FromICID,
					"to_ic_id", l.ToICID,
				)
				continue
			}
			_, err = s.store.GetMaybeSame(ctx, id1, id2)
			if err == nil {
				result.Merged++
				continue
			}
			if !errors.Is(err, sentinel.ErrNotFound) {
				return err
			}
			if err := s.store.UpsertMaybeSame(ctx, models.MaybeSame{
				ICID1:     id1,
				ICID2:     id2,
				Status:    models.MaybeSamePending,
				Note:      l.Note,
				Actor:     actor.ID,
				CreatedAt: now,
				UpdatedAt: now,
			}); err != nil {
				return err
			}
			result.Created++
		}
		if len(ids) == 0 {
			return nil
		}
		result.Migrated = len(ids)
		return s.store.MarkLegacyMigrated(ctx, ids)
	})
	if err != nil {
		return nil, translate(err, "legacy maybe-same rows")
	}
	s.logger.InfoContext(ctx, "legacy maybe-same reconciled",
		"migrated", result.Migrated,
		"created", result.Created,
		"merged_into_existing", result.Merged,
		"invalid", result.Invalid,
		"actor", actor.ID,
	)
	return result, nil
}

// confirmPairs marks every stored pair among ids as confirmed.
func (s *Service) confirmPairs(ctx context.Context, ids []int64, actor string) error {
	now := requestcontext.Now(ctx)
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			id1, id2, err := models.CanonicalPair(ids[i], ids[j])
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInvariantError, "merge participants must be distinct")
			}
			m, err := s.store.GetMaybeSame(ctx, id1, id2)
			if errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if m.Status == models.MaybeSameConfirmed {
				continue
			}
			m.Status = models.MaybeSameConfirmed
			m.Actor = actor
			m.UpdatedAt = now
			if err := s.store.UpsertMaybeSame(ctx, *m); err != nil {
				return err
			}
		}
	}
	return nil
}
