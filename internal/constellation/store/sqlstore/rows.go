package sqlstore

import (
	"context"
	"fmt"

	"icstore/internal/constellation/models"
)

const rowColumns = `r.entity_id, r.version, r.ic_id, r.parent_id, r.kind, r.deleted, r.payload`

func (s *Store) InsertRows(ctx context.Context, rows []models.Row) error {
	if len(rows) == 0 {
		return nil
	}
	return s.RunInTx(ctx, func(ctx context.Context) error {
		for _, r := range rows {
			_, err := s.exec(ctx, `
				INSERT INTO entity_rows (entity_id, version, ic_id, parent_id, kind, deleted, payload)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				r.EntityID, r.Version, r.ICID, r.ParentID, r.Kind, r.Deleted, r.Payload,
			)
			if err != nil {
				return mapError(fmt.Errorf("insert entity %d@%d: %w", r.EntityID, r.Version, err))
			}
		}
		return nil
	})
}

func scanRow(row scanner) (models.Row, error) {
	var r models.Row
	err := row.Scan(&r.EntityID, &r.Version, &r.ICID, &r.ParentID, &r.Kind, &r.Deleted, &r.Payload)
	return r, err
}

// RowsAt resolves every entity of icID against the same upper bound: the
// row with the greatest version not above version. Tombstones are included.
func (s *Store) RowsAt(ctx context.Context, icID, version int64) ([]models.Row, error) {
	rows, err := s.query(ctx, `
		SELECT `+rowColumns+`
		FROM entity_rows r
		WHERE r.ic_id = ?
		  AND r.version = (
			SELECT MAX(r2.version) FROM entity_rows r2
			WHERE r2.entity_id = r.entity_id AND r2.version <= ?
		  )
		ORDER BY r.entity_id`, icID, version)
	if err != nil {
		return nil, mapError(fmt.Errorf("rows of %d@%d: %w", icID, version, err))
	}
	defer rows.Close()

	var out []models.Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) EntityRowAt(ctx context.Context, entityID, version int64) (*models.Row, error) {
	r, err := scanRow(s.queryRow(ctx, `
		SELECT `+rowColumns+`
		FROM entity_rows r
		WHERE r.entity_id = ? AND r.version <= ?
		ORDER BY r.version DESC LIMIT 1`, entityID, version))
	if err != nil {
		return nil, mapError(fmt.Errorf("entity %d@%d: %w", entityID, version, err))
	}
	return &r, nil
}

// CurrentNames lists the live name entries of every active constellation
// at its head version.
func (s *Store) CurrentNames(ctx context.Context) ([]models.NameRow, error) {
	rows, err := s.query(ctx, `
		SELECT h.ic_id, r.entity_id, r.payload
		FROM constellation_heads h
		JOIN entity_rows r ON r.ic_id = h.ic_id
		WHERE h.status IN (?, ?, ?)
		  AND r.kind = ?
		  AND r.deleted = ?
		  AND r.version = (
			SELECT MAX(r2.version) FROM entity_rows r2
			WHERE r2.entity_id = r.entity_id AND r2.version <= h.version
		  )
		ORDER BY h.ic_id, r.entity_id`,
		models.StatusLockedEditing, models.StatusNeedsReview, models.StatusPublished,
		models.KindNameEntry, false,
	)
	if err != nil {
		return nil, mapError(fmt.Errorf("list current names: %w", err))
	}
	defer rows.Close()

	var out []models.NameRow
	for rows.Next() {
		var n models.NameRow
		var payload []byte
		if err := rows.Scan(&n.ICID, &n.EntryID, &payload); err != nil {
			return nil, fmt.Errorf("scan name row: %w", err)
		}
		e, err := models.DecodePayload(models.KindNameEntry, payload)
		if err != nil {
			return nil, err
		}
		n.Original = e.(*models.NameEntry).Original
		out = append(out, n)
	}
	return out, rows.Err()
}
