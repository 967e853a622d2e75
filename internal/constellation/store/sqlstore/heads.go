package sqlstore

import (
	"context"
	"fmt"

	"icstore/internal/constellation/models"
	"icstore/pkg/platform/sentinel"
)

const headColumns = `ic_id, version, status, lock_holder, prior_status, ark_id, entity_type, updated_at`

const historyColumns = `ic_id, version, status, actor, note, ark_id, entity_type, created_at`

func (s *Store) next(ctx context.Context, name string) (int64, error) {
	var v int64
	var err error
	if s.dialect == Postgres {
		err = s.queryRow(ctx, fmt.Sprintf(`SELECT nextval('ic_%s_seq')`, name)).Scan(&v)
	} else {
		err = s.queryRow(ctx, `UPDATE sequences SET value = value + 1 WHERE name = ? RETURNING value`, name).Scan(&v)
	}
	if err != nil {
		return 0, mapError(fmt.Errorf("next %s: %w", name, err))
	}
	return v, nil
}

func (s *Store) NextVersion(ctx context.Context) (int64, error) { return s.next(ctx, "version") }

func (s *Store) NextEntityID(ctx context.Context) (int64, error) { return s.next(ctx, "entity") }

func (s *Store) NextConstellationID(ctx context.Context) (int64, error) {
	return s.next(ctx, "constellation")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHead(row scanner) (*models.Head, error) {
	var h models.Head
	err := row.Scan(&h.ICID, &h.Version, &h.Status, &h.LockHolder, &h.PriorStatus, &h.ArkID, &h.EntityType, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// LockHead reads the head with a row lock held until the transaction ends.
// SQLite serializes writers on its single connection, so no clause is needed.
func (s *Store) LockHead(ctx context.Context, icID int64) (*models.Head, error) {
	query := `SELECT ` + headColumns + ` FROM constellation_heads WHERE ic_id = ?`
	if s.dialect == Postgres {
		query += ` FOR UPDATE`
	}
	head, err := scanHead(s.queryRow(ctx, query, icID))
	if err != nil {
		return nil, mapError(fmt.Errorf("lock constellation %d: %w", icID, err))
	}
	return head, nil
}

func (s *Store) Head(ctx context.Context, icID int64) (*models.Head, error) {
	head, err := scanHead(s.queryRow(ctx, `SELECT `+headColumns+` FROM constellation_heads WHERE ic_id = ?`, icID))
	if err != nil {
		return nil, mapError(fmt.Errorf("get constellation %d: %w", icID, err))
	}
	return head, nil
}

func (s *Store) InsertHead(ctx context.Context, head *models.Head) error {
	_, err := s.exec(ctx, `
		INSERT INTO constellation_heads (`+headColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		head.ICID, head.Version, head.Status, head.LockHolder, head.PriorStatus, head.ArkID, head.EntityType, head.UpdatedAt.UTC(),
	)
	if err != nil {
		return mapError(fmt.Errorf("insert constellation %d: %w", head.ICID, err))
	}
	return nil
}

// UpdateHead is a conditional write: it matches only while the stored
// version equals expectedVersion.
func (s *Store) UpdateHead(ctx context.Context, head *models.Head, expectedVersion int64) error {
	res, err := s.exec(ctx, `
		UPDATE constellation_heads
		SET version = ?, status = ?, lock_holder = ?, prior_status = ?, ark_id = ?, entity_type = ?, updated_at = ?
		WHERE ic_id = ? AND version = ?`,
		head.Version, head.Status, head.LockHolder, head.PriorStatus, head.ArkID, head.EntityType, head.UpdatedAt.UTC(),
		head.ICID, expectedVersion,
	)
	if err != nil {
		return mapError(fmt.Errorf("update constellation %d: %w", head.ICID, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update constellation %d rows affected: %w", head.ICID, err)
	}
	if n == 0 {
		return fmt.Errorf("constellation %d moved past version %d: %w", head.ICID, expectedVersion, sentinel.ErrConflict)
	}
	return nil
}

func (s *Store) AppendHistory(ctx context.Context, e models.HistoryEntry) error {
	_, err := s.exec(ctx, `
		INSERT INTO version_history (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ICID, e.Version, e.Status, e.Actor, e.Note, e.ArkID, e.EntityType, e.CreatedAt.UTC(),
	)
	if err != nil {
		return mapError(fmt.Errorf("append history %d@%d: %w", e.ICID, e.Version, err))
	}
	return nil
}

func scanHistory(row scanner) (*models.HistoryEntry, error) {
	var e models.HistoryEntry
	if err := row.Scan(&e.ICID, &e.Version, &e.Status, &e.Actor, &e.Note, &e.ArkID, &e.EntityType, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) History(ctx context.Context, icID int64) ([]models.HistoryEntry, error) {
	rows, err := s.query(ctx, `SELECT `+historyColumns+` FROM version_history WHERE ic_id = ? ORDER BY version`, icID)
	if err != nil {
		return nil, mapError(fmt.Errorf("list history %d: %w", icID, err))
	}
	defer rows.Close()

	var out []models.HistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) HistoryAt(ctx context.Context, icID, version int64) (*models.HistoryEntry, error) {
	e, err := scanHistory(s.queryRow(ctx, `
		SELECT `+historyColumns+` FROM version_history
		WHERE ic_id = ? AND version <= ?
		ORDER BY version DESC LIMIT 1`, icID, version))
	if err != nil {
		return nil, mapError(fmt.Errorf("history %d@%d: %w", icID, version, err))
	}
	return e, nil
}

func (s *Store) LatestWithStatus(ctx context.Context, icID int64, status models.Status) (*models.HistoryEntry, error) {
	e, err := scanHistory(s.queryRow(ctx, `
		SELECT `+historyColumns+` FROM version_history
		WHERE ic_id = ? AND status = ?
		ORDER BY version DESC LIMIT 1`, icID, status))
	if err != nil {
		return nil, mapError(fmt.Errorf("latest %s version of %d: %w", status, icID, err))
	}
	return e, nil
}

func (s *Store) FindByArk(ctx context.Context, ark string) (int64, error) {
	var icID int64
	err := s.queryRow(ctx, `SELECT ic_id FROM constellation_heads WHERE ark_id = ? ORDER BY ic_id LIMIT 1`, ark).Scan(&icID)
	if err != nil {
		return 0, mapError(fmt.Errorf("find ark %q: %w", ark, err))
	}
	return icID, nil
}
