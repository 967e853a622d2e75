package tx

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "tx.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	return db
}

func count(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
	return n
}

func TestRunCommits(t *testing.T) {
	db := openDB(t)
	err := Run(context.Background(), db, func(ctx context.Context) error {
		_, ok := From(ctx)
		assert.True(t, ok)
		_, err := Conn(ctx, db).ExecContext(ctx, `INSERT INTO items (id) VALUES (1)`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, db))
}

func TestRunRollsBackOnError(t *testing.T) {
	db := openDB(t)
	boom := errors.New("boom")
	err := Run(context.Background(), db, func(ctx context.Context) error {
		if _, err := Conn(ctx, db).ExecContext(ctx, `INSERT INTO items (id) VALUES (1)`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, count(t, db))
}

func TestNestedRunJoinsOuterTransaction(t *testing.T) {
	db := openDB(t)
	boom := errors.New("boom")
	err := Run(context.Background(), db, func(ctx context.Context) error {
		outer, _ := From(ctx)
		err := Run(ctx, db, func(ctx context.Context) error {
			inner, _ := From(ctx)
			assert.Same(t, outer, inner)
			_, err := Conn(ctx, db).ExecContext(ctx, `INSERT INTO items (id) VALUES (1)`)
			return err
		})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, count(t, db))
}

func TestConnOutsideTransaction(t *testing.T) {
	db := openDB(t)
	assert.Equal(t, Querier(db), Conn(context.Background(), db))

	_, ok := From(WithTx(context.Background(), nil))
	assert.False(t, ok)
}
