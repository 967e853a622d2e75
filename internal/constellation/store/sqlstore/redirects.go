package sqlstore

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"icstore/internal/constellation/models"
)

func (s *Store) Redirect(ctx context.Context, icID int64) (*models.Redirect, error) {
	var r models.Redirect
	err := s.queryRow(ctx, `
		SELECT from_ic_id, to_ic_id, version, created_at
		FROM identity_redirects WHERE from_ic_id = ?`, icID,
	).Scan(&r.FromICID, &r.ToICID, &r.Version, &r.CreatedAt)
	if err != nil {
		return nil, mapError(fmt.Errorf("redirect for %d: %w", icID, err))
	}
	return &r, nil
}

func (s *Store) SetRedirect(ctx context.Context, r models.Redirect) error {
	_, err := s.exec(ctx, `
		INSERT INTO identity_redirects (from_ic_id, to_ic_id, version, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (from_ic_id) DO UPDATE SET
			to_ic_id = excluded.to_ic_id,
			version = excluded.version,
			created_at = excluded.created_at`,
		r.FromICID, r.ToICID, r.Version, r.CreatedAt.UTC(),
	)
	if err != nil {
		return mapError(fmt.Errorf("set redirect %d -> %d: %w", r.FromICID, r.ToICID, err))
	}
	return nil
}

// RetargetRedirects points every redirect that ends at one of from at to,
// keeping redirect chains one hop long.
func (s *Store) RetargetRedirects(ctx context.Context, from []int64, to int64) error {
	if len(from) == 0 {
		return nil
	}
	var err error
	if s.dialect == Postgres {
		_, err = s.exec(ctx, `UPDATE identity_redirects SET to_ic_id = ? WHERE to_ic_id = ANY(?::bigint[])`, to, pq.Array(from))
	} else {
		args := make([]any, 0, len(from)+1)
		args = append(args, to)
		for _, id := range from {
			args = append(args, id)
		}
		_, err = s.exec(ctx, `UPDATE identity_redirects SET to_ic_id = ? WHERE to_ic_id IN (`+placeholders(len(from))+`)`, args...)
	}
	if err != nil {
		return mapError(fmt.Errorf("retarget redirects to %d: %w", to, err))
	}
	return nil
}
