package service

import (
	"context"

	"icstore/internal/constellation/models"
)

// Store persists heads, the version-history ledger, entity version rows and
// the identity-redirect table. Every method takes the transaction from ctx
// when called inside RunInTx.
//
// Missing rows are reported as sentinel.ErrNotFound and lost conditional
// writes as sentinel.ErrConflict.
type Store interface {
	// RunInTx runs fn in one storage transaction. Nested calls join the
	// outer transaction. Locks taken by LockHead are held until fn returns.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	NextVersion(ctx context.Context) (int64, error)
	NextEntityID(ctx context.Context) (int64, error)
	NextConstellationID(ctx context.Context) (int64, error)

	// LockHead reads the head and holds a row lock on it until the
	// surrounding transaction ends.
	LockHead(ctx context.Context, icID int64) (*models.Head, error)
	Head(ctx context.Context, icID int64) (*models.Head, error)
	InsertHead(ctx context.Context, head *models.Head) error
	// UpdateHead writes head only if the stored version still equals expectedVersion.
	UpdateHead(ctx context.Context, head *models.Head, expectedVersion int64) error

	AppendHistory(ctx context.Context, entry models.HistoryEntry) error
	History(ctx context.Context, icID int64) ([]models.HistoryEntry, error)
	// HistoryAt returns the latest ledger entry with version <= version.
	HistoryAt(ctx context.Context, icID, version int64) (*models.HistoryEntry, error)
	LatestWithStatus(ctx context.Context, icID int64, status models.Status) (*models.HistoryEntry, error)

	InsertRows(ctx context.Context, rows []models.Row) error
	// RowsAt returns, for every entity ever owned by icID, the row with the
	// greatest version <= version. Tombstone rows are included.
	RowsAt(ctx context.Context, icID, version int64) ([]models.Row, error)
	EntityRowAt(ctx context.Context, entityID, version int64) (*models.Row, error)
	// CurrentNames lists the live name entries of every active constellation.
	CurrentNames(ctx context.Context) ([]models.NameRow, error)

	Redirect(ctx context.Context, icID int64) (*models.Redirect, error)
	SetRedirect(ctx context.Context, r models.Redirect) error
	// RetargetRedirects points every redirect whose target is in from at to.
	RetargetRedirects(ctx context.Context, from []int64, to int64) error
	FindByArk(ctx context.Context, ark string) (int64, error)
}
