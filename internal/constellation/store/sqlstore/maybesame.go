package sqlstore

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"icstore/internal/constellation/models"
	"icstore/pkg/platform/sentinel"
)

const maybeSameColumns = `ic_id1, ic_id2, status, note, actor, created_at, updated_at`

func scanMaybeSame(row scanner) (*models.MaybeSame, error) {
	var m models.MaybeSame
	if err := row.Scan(&m.ICID1, &m.ICID2, &m.Status, &m.Note, &m.Actor, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) GetMaybeSame(ctx context.Context, icID1, icID2 int64) (*models.MaybeSame, error) {
	m, err := scanMaybeSame(s.queryRow(ctx, `
		SELECT `+maybeSameColumns+` FROM maybe_same WHERE ic_id1 = ? AND ic_id2 = ?`, icID1, icID2))
	if err != nil {
		return nil, mapError(fmt.Errorf("maybe-same %d/%d: %w", icID1, icID2, err))
	}
	return m, nil
}

func (s *Store) UpsertMaybeSame(ctx context.Context, m models.MaybeSame) error {
	if m.ICID1 >= m.ICID2 {
		return fmt.Errorf("maybe-same %d/%d not in canonical order: %w", m.ICID1, m.ICID2, sentinel.ErrInvalidState)
	}
	_, err := s.exec(ctx, `
		INSERT INTO maybe_same (`+maybeSameColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ic_id1, ic_id2) DO UPDATE SET
			status = excluded.status,
			note = excluded.note,
			actor = excluded.actor,
			updated_at = excluded.updated_at`,
		m.ICID1, m.ICID2, m.Status, m.Note, m.Actor, m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
	)
	if err != nil {
		return mapError(fmt.Errorf("upsert maybe-same %d/%d: %w", m.ICID1, m.ICID2, err))
	}
	return nil
}

func (s *Store) listMaybeSame(ctx context.Context, where string, args ...any) ([]models.MaybeSame, error) {
	rows, err := s.query(ctx, `SELECT `+maybeSameColumns+` FROM maybe_same `+where+` ORDER BY ic_id1, ic_id2`, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("list maybe-same: %w", err))
	}
	defer rows.Close()

	var out []models.MaybeSame
	for rows.Next() {
		m, err := scanMaybeSame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan maybe-same: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// ListMaybeSame lists pairs with the given status, or every pair for "".
func (s *Store) ListMaybeSame(ctx context.Context, status models.MaybeSameStatus) ([]models.MaybeSame, error) {
	if status == "" {
		return s.listMaybeSame(ctx, "")
	}
	return s.listMaybeSame(ctx, "WHERE status = ?", status)
}

func (s *Store) ListMaybeSameFor(ctx context.Context, icID int64) ([]models.MaybeSame, error) {
	return s.listMaybeSame(ctx, "WHERE ic_id1 = ? OR ic_id2 = ?", icID, icID)
}

// AddLegacyMaybeSame records a directional legacy suggestion.
func (s *Store) AddLegacyMaybeSame(ctx context.Context, l models.LegacyMaybeSame) (int64, error) {
	var id int64
	err := s.queryRow(ctx, `
		INSERT INTO maybe_same_legacy (from_ic_id, to_ic_id, note, migrated)
		VALUES (?, ?, ?, ?)
		RETURNING id`,
		l.FromICID, l.ToICID, l.Note, l.Migrated,
	).Scan(&id)
	if err != nil {
		return 0, mapError(fmt.Errorf("add legacy maybe-same: %w", err))
	}
	return id, nil
}

func (s *Store) ListLegacyMaybeSame(ctx context.Context) ([]models.LegacyMaybeSame, error) {
	rows, err := s.query(ctx, `
		SELECT id, from_ic_id, to_ic_id, note, migrated
		FROM maybe_same_legacy WHERE migrated = ? ORDER BY id`, false)
	if err != nil {
		return nil, mapError(fmt.Errorf("list legacy maybe-same: %w", err))
	}
	defer rows.Close()

	var out []models.LegacyMaybeSame
	for rows.Next() {
		var l models.LegacyMaybeSame
		if err := rows.Scan(&l.ID, &l.FromICID, &l.ToICID, &l.Note, &l.Migrated); err != nil {
			return nil, fmt.Errorf("scan legacy maybe-same: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) MarkLegacyMigrated(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	var err error
	if s.dialect == Postgres {
		_, err = s.exec(ctx, `UPDATE maybe_same_legacy SET migrated = ? WHERE id = ANY(?::bigint[])`, true, pq.Array(ids))
	} else {
		args := make([]any, 0, len(ids)+1)
		args = append(args, true)
		for _, id := range ids {
			args = append(args, id)
		}
		_, err = s.exec(ctx, `UPDATE maybe_same_legacy SET migrated = ? WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	}
	if err != nil {
		return mapError(fmt.Errorf("mark legacy maybe-same migrated: %w", err))
	}
	return nil
}
