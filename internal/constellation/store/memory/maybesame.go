package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"icstore/internal/constellation/models"
	"icstore/pkg/platform/sentinel"
)

func (s *Store) GetMaybeSame(ctx context.Context, icID1, icID2 int64) (*models.MaybeSame, error) {
	k := pairKey{icID1, icID2}
	if t, ok := txFrom(ctx); ok {
		if m, staged := t.maybeSame[k]; staged {
			return &m, nil
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.maybeSame[k]
	if !ok {
		return nil, fmt.Errorf("maybe-same %d/%d: %w", icID1, icID2, sentinel.ErrNotFound)
	}
	return &m, nil
}

func (s *Store) UpsertMaybeSame(ctx context.Context, m models.MaybeSame) error {
	if m.ICID1 >= m.ICID2 {
		return fmt.Errorf("maybe-same %d/%d not in canonical order: %w", m.ICID1, m.ICID2, sentinel.ErrInvalidState)
	}
	return s.stage(ctx, func(t *tx) { t.maybeSame[pairKey{m.ICID1, m.ICID2}] = m })
}

func (s *Store) allMaybeSame(ctx context.Context) []models.MaybeSame {
	merged := make(map[pairKey]models.MaybeSame)
	s.mu.RLock()
	for k, m := range s.maybeSame {
		merged[k] = m
	}
	s.mu.RUnlock()
	if t, ok := txFrom(ctx); ok {
		for k, m := range t.maybeSame {
			merged[k] = m
		}
	}
	out := make([]models.MaybeSame, 0, len(merged))
	for _, m := range merged {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ICID1 != out[j].ICID1 {
			return out[i].ICID1 < out[j].ICID1
		}
		return out[i].ICID2 < out[j].ICID2
	})
	return out
}

// ListMaybeSame lists pairs with the given status, or every pair for "".
func (s *Store) ListMaybeSame(ctx context.Context, status models.MaybeSameStatus) ([]models.MaybeSame, error) {
	var out []models.MaybeSame
	for _, m := range s.allMaybeSame(ctx) {
		if status == "" || m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) ListMaybeSameFor(ctx context.Context, icID int64) ([]models.MaybeSame, error) {
	var out []models.MaybeSame
	for _, m := range s.allMaybeSame(ctx) {
		if m.ICID1 == icID || m.ICID2 == icID {
			out = append(out, m)
		}
	}
	return out, nil
}

// AddLegacyMaybeSame records a directional legacy suggestion.
func (s *Store) AddLegacyMaybeSame(_ context.Context, l models.LegacyMaybeSame) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = s.legacySeq.Add(1)
	s.legacy = append(s.legacy, l)
	return l.ID, nil
}

func (s *Store) ListLegacyMaybeSame(ctx context.Context) ([]models.LegacyMaybeSame, error) {
	var migrated []int64
	if t, ok := txFrom(ctx); ok {
		migrated = t.migrated
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.LegacyMaybeSame
	for _, l := range s.legacy {
		if !l.Migrated && !slices.Contains(migrated, l.ID) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Store) MarkLegacyMigrated(ctx context.Context, ids []int64) error {
	return s.stage(ctx, func(t *tx) { t.migrated = append(t.migrated, ids...) })
}
