package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"icstore/internal/constellation/models"
	dErrors "icstore/pkg/domain-errors"
	"icstore/pkg/platform/sentinel"
)

type StoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.store = New(WithTxTimeout(time.Second))
	s.ctx = context.Background()
}

func (s *StoreSuite) seedHead(icID, version int64) {
	s.Require().NoError(s.store.InsertHead(s.ctx, &models.Head{
		ICID: icID, Version: version, Status: models.StatusPublished, ArkID: "ark:/99166/" + string(rune('a'+icID)),
	}))
}

func (s *StoreSuite) TestRowsAtResolvesPerEntityMaxVersion() {
	s.Require().NoError(s.store.InsertRows(s.ctx, []models.Row{
		{EntityID: 1, Version: 1, ICID: 7, Kind: models.KindNameEntry, Payload: []byte(`{"original":"Jane Doe"}`)},
		{EntityID: 2, Version: 1, ICID: 7, Kind: models.KindDate, Payload: []byte(`{"from_date":"1900"}`)},
		{EntityID: 1, Version: 3, ICID: 7, Kind: models.KindNameEntry, Payload: []byte(`{"original":"Jane A. Doe"}`)},
		{EntityID: 2, Version: 4, ICID: 7, Kind: models.KindDate, Deleted: true},
		{EntityID: 9, Version: 2, ICID: 8, Kind: models.KindNameEntry, Payload: []byte(`{"original":"Other"}`)},
	}))

	at2, err := s.store.RowsAt(s.ctx, 7, 2)
	s.Require().NoError(err)
	s.Require().Len(at2, 2)
	s.Equal(int64(1), at2[0].Version)
	s.False(at2[1].Deleted)

	at4, err := s.store.RowsAt(s.ctx, 7, 4)
	s.Require().NoError(err)
	s.Require().Len(at4, 2)
	s.Equal(int64(3), at4[0].Version)
	s.True(at4[1].Deleted)

	row, err := s.store.EntityRowAt(s.ctx, 1, 2)
	s.Require().NoError(err)
	s.JSONEq(`{"original":"Jane Doe"}`, string(row.Payload))

	_, err = s.store.EntityRowAt(s.ctx, 1, 0)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestRollbackDiscardsStagedWrites() {
	boom := errors.New("boom")
	err := s.store.RunInTx(s.ctx, func(ctx context.Context) error {
		s.Require().NoError(s.store.InsertHead(ctx, &models.Head{ICID: 1, Version: 1, Status: models.StatusLockedEditing}))
		s.Require().NoError(s.store.InsertRows(ctx, []models.Row{{EntityID: 1, Version: 1, ICID: 1, Kind: models.KindNameEntry}}))

		// visible inside the transaction
		_, err := s.store.Head(ctx, 1)
		s.Require().NoError(err)
		rows, err := s.store.RowsAt(ctx, 1, 1)
		s.Require().NoError(err)
		s.Len(rows, 1)

		// not visible outside it
		_, err = s.store.Head(s.ctx, 1)
		s.ErrorIs(err, sentinel.ErrNotFound)
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.store.Head(s.ctx, 1)
	s.ErrorIs(err, sentinel.ErrNotFound)
	rows, err := s.store.RowsAt(s.ctx, 1, 1)
	s.Require().NoError(err)
	s.Empty(rows)
}

func (s *StoreSuite) TestUpdateHeadIsConditional() {
	s.seedHead(1, 5)

	err := s.store.UpdateHead(s.ctx, &models.Head{ICID: 1, Version: 6, Status: models.StatusLockedEditing}, 4)
	s.ErrorIs(err, sentinel.ErrConflict)

	s.Require().NoError(s.store.UpdateHead(s.ctx, &models.Head{ICID: 1, Version: 6, Status: models.StatusLockedEditing}, 5))
	h, err := s.store.Head(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(int64(6), h.Version)
}

func (s *StoreSuite) TestLockHeadSerializesTransactions() {
	s.seedHead(1, 1)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.store.RunInTx(s.ctx, func(ctx context.Context) error {
			if _, err := s.store.LockHead(ctx, 1); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	ctx, cancel := context.WithTimeout(s.ctx, 50*time.Millisecond)
	defer cancel()
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		_, err := s.store.LockHead(ctx, 1)
		return err
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))

	close(release)
	s.Require().NoError(<-done)

	// lock released after commit
	s.Require().NoError(s.store.RunInTx(s.ctx, func(ctx context.Context) error {
		_, err := s.store.LockHead(ctx, 1)
		return err
	}))
}

func (s *StoreSuite) TestHistoryAtAndLatestWithStatus() {
	for _, e := range []models.HistoryEntry{
		{ICID: 1, Version: 1, Status: models.StatusLockedEditing},
		{ICID: 1, Version: 4, Status: models.StatusPublished},
		{ICID: 1, Version: 9, Status: models.StatusLockedEditing},
	} {
		s.Require().NoError(s.store.AppendHistory(s.ctx, e))
	}

	e, err := s.store.HistoryAt(s.ctx, 1, 8)
	s.Require().NoError(err)
	s.Equal(int64(4), e.Version)

	e, err = s.store.LatestWithStatus(s.ctx, 1, models.StatusPublished)
	s.Require().NoError(err)
	s.Equal(int64(4), e.Version)

	_, err = s.store.LatestWithStatus(s.ctx, 1, models.StatusDeleted)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestRedirectRetarget() {
	s.Require().NoError(s.store.SetRedirect(s.ctx, models.Redirect{FromICID: 3, ToICID: 2}))
	s.Require().NoError(s.store.RunInTx(s.ctx, func(ctx context.Context) error {
		if err := s.store.SetRedirect(ctx, models.Redirect{FromICID: 2, ToICID: 1}); err != nil {
			return err
		}
		return s.store.RetargetRedirects(ctx, []int64{2}, 1)
	}))

	r, err := s.store.Redirect(s.ctx, 3)
	s.Require().NoError(err)
	s.Equal(int64(1), r.ToICID)
}

func (s *StoreSuite) TestCurrentNamesSkipsInactiveAndDeleted() {
	s.seedHead(1, 2)
	s.Require().NoError(s.store.InsertHead(s.ctx, &models.Head{ICID: 2, Version: 2, Status: models.StatusTombstone}))
	s.Require().NoError(s.store.InsertRows(s.ctx, []models.Row{
		{EntityID: 10, Version: 1, ICID: 1, Kind: models.KindNameEntry, Payload: []byte(`{"original":"Mark Twain"}`)},
		{EntityID: 11, Version: 1, ICID: 1, Kind: models.KindNameEntry, Payload: []byte(`{"original":"Old"}`)},
		{EntityID: 11, Version: 2, ICID: 1, Kind: models.KindNameEntry, Deleted: true},
		{EntityID: 20, Version: 1, ICID: 2, Kind: models.KindNameEntry, Payload: []byte(`{"original":"Mark Twain"}`)},
	}))

	names, err := s.store.CurrentNames(s.ctx)
	s.Require().NoError(err)
	s.Equal([]models.NameRow{{ICID: 1, EntryID: 10, Original: "Mark Twain"}}, names)
}

func (s *StoreSuite) TestFindByArk() {
	s.seedHead(1, 1)
	id, err := s.store.FindByArk(s.ctx, "ark:/99166/b")
	s.Require().NoError(err)
	s.Equal(int64(1), id)

	_, err = s.store.FindByArk(s.ctx, "ark:/missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestArkIsUniqueAtCommit() {
	s.seedHead(1, 1)
	head := func(id int64, ark string) *models.Head {
		return &models.Head{ICID: id, Version: id, Status: models.StatusLockedEditing, ArkID: ark}
	}

	err := s.store.InsertHead(s.ctx, head(2, "ark:/99166/b"))
	s.ErrorIs(err, sentinel.ErrConflict)

	s.Require().NoError(s.store.InsertHead(s.ctx, head(3, "")))
	s.Require().NoError(s.store.InsertHead(s.ctx, head(4, "")))

	reread, err := s.store.Head(s.ctx, 1)
	s.Require().NoError(err)
	reread.Version = 2
	s.Require().NoError(s.store.UpdateHead(s.ctx, reread, 1), "rewriting a head keeps its own ark")

	err = s.store.RunInTx(s.ctx, func(ctx context.Context) error {
		_, err := s.store.FindByArk(ctx, "ark:/99166/race")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)

		// another transaction registers the ark first
		s.Require().NoError(s.store.RunInTx(context.Background(), func(other context.Context) error {
			return s.store.InsertHead(other, head(5, "ark:/99166/race"))
		}))

		if err := s.store.InsertRows(ctx, []models.Row{{EntityID: 60, ICID: 6, Version: 6, Kind: models.KindNameEntry}}); err != nil {
			return err
		}
		return s.store.InsertHead(ctx, head(6, "ark:/99166/race"))
	})
	s.ErrorIs(err, sentinel.ErrConflict)

	_, err = s.store.Head(s.ctx, 6)
	s.ErrorIs(err, sentinel.ErrNotFound)
	rows, err := s.store.RowsAt(s.ctx, 6, 10)
	s.Require().NoError(err)
	s.Empty(rows, "a rejected transaction publishes nothing")

	id, err := s.store.FindByArk(s.ctx, "ark:/99166/race")
	s.Require().NoError(err)
	s.Equal(int64(5), id)
}

func TestMaybeSameCanonicalOrder(t *testing.T) {
	st := New()
	ctx := context.Background()

	err := st.UpsertMaybeSame(ctx, models.MaybeSame{ICID1: 5, ICID2: 2})
	require.ErrorIs(t, err, sentinel.ErrInvalidState)

	require.NoError(t, st.UpsertMaybeSame(ctx, models.MaybeSame{ICID1: 2, ICID2: 5, Status: models.MaybeSamePending}))
	require.NoError(t, st.UpsertMaybeSame(ctx, models.MaybeSame{ICID1: 1, ICID2: 2, Status: models.MaybeSameRejected}))

	pending, err := st.ListMaybeSame(ctx, models.MaybeSamePending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	forTwo, err := st.ListMaybeSameFor(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, forTwo, 2)
	assert.Equal(t, int64(1), forTwo[0].ICID1)
}

func TestLegacyMigrationIsStagedInTx(t *testing.T) {
	st := New()
	ctx := context.Background()
	id, err := st.AddLegacyMaybeSame(ctx, models.LegacyMaybeSame{FromICID: 4, ToICID: 3})
	require.NoError(t, err)

	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context) error {
		if err := st.MarkLegacyMigrated(ctx, []int64{id}); err != nil {
			return err
		}
		pending, err := st.ListLegacyMaybeSame(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
		return nil
	}))

	pending, err := st.ListLegacyMaybeSame(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
