package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"icstore/internal/constellation/models"
	"icstore/internal/constellation/ports"
	"icstore/internal/constellation/ports/mocks"
	"icstore/internal/constellation/store/memory"
	dErrors "icstore/pkg/domain-errors"
	"icstore/pkg/platform/sentinel"
	"icstore/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	mockIndexer *mocks.MockIndexer
	mockVocab   *mocks.MockVocabularyLookup
	store       *memory.Store
	service     *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockIndexer = mocks.NewMockIndexer(s.ctrl)
	s.mockVocab = mocks.NewMockVocabularyLookup(s.ctrl)
	s.store = memory.New()

	svc, err := New(s.store, WithIndexer(s.mockIndexer), WithVocabulary(s.mockVocab))
	s.Require().NoError(err)
	s.service = svc

	s.mockIndexer.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func as(actor string) context.Context {
	return requestcontext.WithActor(context.Background(), requestcontext.ActorInfo{ID: actor})
}

func asAdmin(actor string) context.Context {
	return requestcontext.WithActor(context.Background(), requestcontext.ActorInfo{ID: actor, Admin: true})
}

func name(text string, op models.Operation) *models.NameEntry {
	return &models.NameEntry{Header: models.Header{Operation: op}, Original: text}
}

// createPublished creates a record as alice and publishes it.
func (s *ServiceSuite) createPublished(entities ...models.Entity) *models.CommitResult {
	ctx := as("alice")
	res, err := s.service.Create(ctx, CreateRequest{
		EntityType: models.EntityTypePerson,
		Edits:      models.EditSet{Entities: entities},
	})
	s.Require().NoError(err)
	pub, err := s.service.SetStatus(ctx, res.ICID, models.StatusPublished, "")
	s.Require().NoError(err)
	return pub
}

func (s *ServiceSuite) TestCreate() {
	s.Run("validation runs before any version is allocated", func() {
		_, err := s.service.Create(as("alice"), CreateRequest{EntityType: "dragon", Edits: models.EditSet{Entities: []models.Entity{name("X", "")}}})
		var vErr *models.ValidationError
		s.Require().ErrorAs(err, &vErr)
		s.Equal("entity_type", vErr.Field)

		_, err = s.service.Create(as("alice"), CreateRequest{EntityType: models.EntityTypePerson, Edits: models.EditSet{Entities: []models.Entity{
			&models.BiogHist{Text: "no names here"},
		}}})
		s.Require().ErrorAs(err, &vErr)
		s.Equal("names", vErr.Field)

		res, err := s.service.Create(as("alice"), CreateRequest{EntityType: models.EntityTypePerson, Edits: models.EditSet{Entities: []models.Entity{name("Jane Doe", "")}}})
		s.Require().NoError(err)
		s.Equal(int64(1), res.Version)
	})

	s.Run("creator holds the lock", func() {
		res, err := s.service.Create(as("alice"), CreateRequest{EntityType: models.EntityTypeFamily, ArkID: "ark:/99166/fam1", Edits: models.EditSet{Entities: []models.Entity{name("Doe family", "")}}})
		s.Require().NoError(err)
		c, err := s.service.Read(as("bob"), res.ICID, 0)
		s.Require().NoError(err)
		s.Equal(models.StatusLockedEditing, c.Status)
		s.Equal("alice", c.LockHolder)
		s.Equal("ark:/99166/fam1", c.ArkID)
	})

	s.Run("duplicate ark is a conflict", func() {
		_, err := s.service.Create(as("alice"), CreateRequest{EntityType: models.EntityTypeFamily, ArkID: "ark:/99166/fam1", Edits: models.EditSet{Entities: []models.Entity{name("Other", "")}}})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("missing actor is unauthorized", func() {
		_, err := s.service.Create(context.Background(), CreateRequest{EntityType: models.EntityTypePerson})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestEditScenario() {
	pub := s.createPublished(name("Jane Doe", ""))
	ctx := as("alice")

	co, err := s.service.Checkout(ctx, pub.ICID)
	s.Require().NoError(err)
	s.Greater(co.Version, pub.Version)

	v1, err := s.service.Read(ctx, pub.ICID, pub.Version)
	s.Require().NoError(err)
	s.Require().Len(v1.Names, 1)
	nameID := v1.Names[0].ID

	edit := &models.NameEntry{Header: models.Header{ID: nameID, Operation: models.OperationUpdate}, Original: "Jane A. Doe"}
	res, err := s.service.Commit(ctx, CommitRequest{ICID: pub.ICID, BaseVersion: co.Version, Edits: models.EditSet{Entities: []models.Entity{edit}}})
	s.Require().NoError(err)
	s.Equal(models.OutcomeCommitted, res.Outcome)
	s.Equal(1, res.ChangedRows)
	s.Greater(res.Version, co.Version)

	old, err := s.service.Read(ctx, pub.ICID, pub.Version)
	s.Require().NoError(err)
	s.Equal("Jane Doe", old.Names[0].Original)

	latest, err := s.service.Read(ctx, pub.ICID, res.Version)
	s.Require().NoError(err)
	s.Equal("Jane A. Doe", latest.Names[0].Original)
	s.Equal(nameID, latest.Names[0].ID)
	s.Equal(res.Version, latest.Names[0].Version)

	published, err := s.service.ReadPublished(ctx, pub.ICID)
	s.Require().NoError(err)
	s.Equal("Jane Doe", published.Names[0].Original)
}

func (s *ServiceSuite) TestNoOpCommitAllocatesNoVersion() {
	pub := s.createPublished(name("Mark Twain", ""), &models.Occupation{Term: models.Term{Label: "Writer"}})
	ctx := as("alice")
	co, err := s.service.Checkout(ctx, pub.ICID)
	s.Require().NoError(err)

	current, err := s.service.Read(ctx, pub.ICID, 0)
	s.Require().NoError(err)
	before, err := s.service.History(ctx, pub.ICID)
	s.Require().NoError(err)

	edits := models.EditSet{}
	for _, e := range current.Entities() {
		e.Meta().Operation = models.OperationUpdate
		edits.Entities = append(edits.Entities, e)
	}
	res, err := s.service.Commit(ctx, CommitRequest{ICID: pub.ICID, BaseVersion: co.Version, Edits: edits})
	s.Require().NoError(err)
	s.Equal(models.OutcomeNoOp, res.Outcome)
	s.Equal(co.Version, res.Version)

	after, err := s.service.History(ctx, pub.ICID)
	s.Require().NoError(err)
	s.Len(after, len(before))

	reread, err := s.service.Read(ctx, pub.ICID, 0)
	s.Require().NoError(err)
	s.Equal(current.Names[0].Version, reread.Names[0].Version)
}

func (s *ServiceSuite) TestSingleWriter() {
	pub := s.createPublished(name("Jane Doe", ""))

	_, err := s.service.Checkout(as("alice"), pub.ICID)
	s.Require().NoError(err)

	again, err := s.service.Checkout(as("alice"), pub.ICID)
	s.Require().NoError(err)
	s.Equal("alice", again.LockHolder)

	_, err = s.service.Checkout(as("bob"), pub.ICID)
	var locked *models.AlreadyLockedError
	s.Require().ErrorAs(err, &locked)
	s.Equal("alice", locked.Holder)

	_, err = s.service.Commit(as("bob"), CommitRequest{ICID: pub.ICID, BaseVersion: again.Version})
	s.Require().ErrorAs(err, &locked)

	_, err = s.service.SetStatus(as("bob"), pub.ICID, models.StatusPublished, "")
	s.Require().ErrorAs(err, &locked)
}

func (s *ServiceSuite) TestConcurrentCheckoutsHaveOneWinner() {
	pub := s.createPublished(name("Jane Doe", ""))

	curators := []string{"alice", "bob"}
	results := make([]*models.CheckoutResult, len(curators))
	errs := make([]error, len(curators))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, curator := range curators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i], errs[i] = s.service.Checkout(as(curator), pub.ICID)
		}()
	}
	close(start)
	wg.Wait()

	winners := 0
	var winner string
	for i := range curators {
		if errs[i] == nil {
			winners++
			winner = results[i].LockHolder
			continue
		}
		var locked *models.AlreadyLockedError
		s.Require().ErrorAs(errs[i], &locked)
		s.NotEqual(curators[i], locked.Holder)
	}
	s.Equal(1, winners)

	head, err := s.service.Read(as("carol"), pub.ICID, 0)
	s.Require().NoError(err)
	s.Equal(winner, head.LockHolder)
	s.Equal(pub.Version+1, head.Version)
}

func (s *ServiceSuite) TestStaleBaseVersion() {
	pub := s.createPublished(name("Jane Doe", ""))
	ctx := as("alice")
	co, err := s.service.Checkout(ctx, pub.ICID)
	s.Require().NoError(err)

	insert := models.EditSet{Entities: []models.Entity{name("J. Doe", models.OperationInsert)}}
	_, err = s.service.Commit(ctx, CommitRequest{ICID: pub.ICID, BaseVersion: co.Version, Edits: insert})
	s.Require().NoError(err)

	_, err = s.service.Commit(ctx, CommitRequest{ICID: pub.ICID, BaseVersion: co.Version, Edits: insert})
	var stale *models.ConcurrentModificationError
	s.Require().ErrorAs(err, &stale)
	s.Equal(co.Version, stale.BaseVersion)
	s.Greater(stale.CurrentVersion, co.Version)
}

func (s *ServiceSuite) TestCommitRequiresCheckout() {
	pub := s.createPublished(name("Jane Doe", ""))
	_, err := s.service.Commit(as("alice"), CommitRequest{ICID: pub.ICID, BaseVersion: pub.Version})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *ServiceSuite) TestApplierRules() {
	pub := s.createPublished(
		&models.NameEntry{Original: "Samuel Clemens", Components: []*models.NameComponent{{Text: "Samuel"}, {Text: "Clemens"}}},
		name("Mark Twain", ""),
	)
	ctx := as("alice")
	co, err := s.service.Checkout(ctx, pub.ICID)
	s.Require().NoError(err)
	c, err := s.service.Read(ctx, pub.ICID, 0)
	s.Require().NoError(err)
	s.Require().Len(c.Names, 2)
	clemens := c.Names[0]
	s.Require().Len(clemens.Components, 2)

	res, err := s.service.Commit(ctx, CommitRequest{ICID: pub.ICID, BaseVersion: co.Version, Edits: models.EditSet{Entities: []models.Entity{
		// delete cascades to components
		&models.NameEntry{Header: models.Header{ID: clemens.ID, Operation: models.OperationDelete}},
		// delete of something never stored is ignored
		&models.Place{Header: models.Header{ID: 9999, Operation: models.OperationDelete}},
		// update without id is an insert
		&models.Subject{Header: models.Header{Operation: models.OperationUpdate}, Term: models.Term{Label: "Humor"}},
	}}})
	s.Require().NoError(err)
	s.Equal(4, res.ChangedRows)

	after, err := s.service.Read(ctx, pub.ICID, 0)
	s.Require().NoError(err)
	s.Require().Len(after.Names, 1)
	s.Equal("Mark Twain", after.Names[0].Original)
	s.Require().Len(after.Subjects, 1)
	s.NotZero(after.Subjects[0].ID)

	s.Run("cannot remove the last name", func() {
		_, err := s.service.Commit(ctx, CommitRequest{ICID: pub.ICID, BaseVersion: res.Version, Edits: models.EditSet{Entities: []models.Entity{
			&models.NameEntry{Header: models.Header{ID: after.Names[0].ID, Operation: models.OperationDelete}},
		}}})
		var vErr *models.ValidationError
		s.Require().ErrorAs(err, &vErr)
		s.Equal("names", vErr.Field)
	})

	s.Run("updating an unknown id is rejected", func() {
		_, err := s.service.Commit(ctx, CommitRequest{ICID: pub.ICID, BaseVersion: res.Version, Edits: models.EditSet{Entities: []models.Entity{
			&models.NameEntry{Header: models.Header{ID: 424242, Operation: models.OperationUpdate}, Original: "Ghost"},
		}}})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestDeleteKeepsHistoryReadable() {
	pub := s.createPublished(name("Jane Doe", ""), &models.Date{FromDate: "1900"})
	ctx := as("alice")
	_, err := s.service.Checkout(ctx, pub.ICID)
	s.Require().NoError(err)

	del, err := s.service.SetStatus(ctx, pub.ICID, models.StatusDeleted, "duplicate")
	s.Require().NoError(err)
	s.Equal(2, del.ChangedRows)

	gone, err := s.service.Read(ctx, pub.ICID, 0)
	s.Require().NoError(err)
	s.Equal(models.StatusDeleted, gone.Status)
	s.Empty(gone.Entities())

	old, err := s.service.Read(ctx, pub.ICID, pub.Version)
	s.Require().NoError(err)
	s.Equal(models.StatusPublished, old.Status)
	s.Len(old.Entities(), 2)

	s.Run("checkout of a deleted record is refused", func() {
		_, err := s.service.Checkout(ctx, pub.ICID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("resurrect restores the entities", func() {
		_, err := s.service.Resurrect(ctx, pub.ICID, "")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

		res, err := s.service.Resurrect(asAdmin("root"), pub.ICID, "restored")
		s.Require().NoError(err)
		s.Equal(2, res.ChangedRows)

		back, err := s.service.Read(ctx, pub.ICID, 0)
		s.Require().NoError(err)
		s.Equal(models.StatusLockedEditing, back.Status)
		s.Equal("root", back.LockHolder)
		s.Require().Len(back.Names, 1)
		s.Equal(old.Names[0].ID, back.Names[0].ID)
	})
}

func (s *ServiceSuite) TestAdminUnlockRestoresPriorStatus() {
	pub := s.createPublished(name("Jane Doe", ""))
	_, err := s.service.Checkout(as("alice"), pub.ICID)
	s.Require().NoError(err)

	_, err = s.service.Unlock(as("bob"), pub.ICID, "")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.service.Unlock(asAdmin("root"), pub.ICID, "abandoned")
	s.Require().NoError(err)

	c, err := s.service.Read(as("bob"), pub.ICID, 0)
	s.Require().NoError(err)
	s.Equal(models.StatusPublished, c.Status)
	s.Empty(c.LockHolder)

	_, err = s.service.Checkout(as("bob"), pub.ICID)
	s.Require().NoError(err)

	history, err := s.service.History(as("bob"), pub.ICID)
	s.Require().NoError(err)
	statuses := make([]models.Status, len(history))
	for i, h := range history {
		statuses[i] = h.Status
	}
	s.Equal([]models.Status{
		models.StatusLockedEditing, models.StatusPublished,
		models.StatusLockedEditing, models.StatusPublished,
		models.StatusLockedEditing,
	}, statuses)
}

func (s *ServiceSuite) TestRevertEntity() {
	pub := s.createPublished(name("Jane Doe", ""), &models.BiogHist{Text: "Born in Ohio"})
	ctx := as("alice")
	co, err := s.service.Checkout(ctx, pub.ICID)
	s.Require().NoError(err)
	c, err := s.service.Read(ctx, pub.ICID, 0)
	s.Require().NoError(err)

	res, err := s.service.Commit(ctx, CommitRequest{ICID: pub.ICID, BaseVersion: co.Version, Edits: models.EditSet{Entities: []models.Entity{
		&models.NameEntry{Header: models.Header{ID: c.Names[0].ID, Operation: models.OperationUpdate}, Original: "Jane X"},
		&models.BiogHist{Header: models.Header{ID: c.BiogHists[0].ID, Operation: models.OperationUpdate}, Text: "Born in Iowa"},
	}}})
	s.Require().NoError(err)

	rev, err := s.service.RevertEntity(ctx, RevertRequest{ICID: pub.ICID, EntityID: c.Names[0].ID, ToVersion: pub.Version})
	s.Require().NoError(err)
	s.Equal(models.OutcomeCommitted, rev.Outcome)
	s.Equal(1, rev.ChangedRows)

	after, err := s.service.Read(ctx, pub.ICID, 0)
	s.Require().NoError(err)
	s.Equal("Jane Doe", after.Names[0].Original)
	s.Equal("Born in Iowa", after.BiogHists[0].Text)

	again, err := s.service.RevertEntity(ctx, RevertRequest{ICID: pub.ICID, EntityID: c.Names[0].ID, ToVersion: pub.Version})
	s.Require().NoError(err)
	s.Equal(models.OutcomeNoOp, again.Outcome)

	_, err = s.service.RevertEntity(ctx, RevertRequest{ICID: pub.ICID, EntityID: c.Names[0].ID, ToVersion: res.Version + 100})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestSnapshotsAreStable() {
	pub := s.createPublished(name("Jane Doe", ""), &models.Place{Name: "Hannibal"})
	ctx := as("alice")
	co, err := s.service.Checkout(ctx, pub.ICID)
	s.Require().NoError(err)

	first, err := s.service.Read(ctx, pub.ICID, pub.Version)
	s.Require().NoError(err)
	firstJSON, err := json.Marshal(first)
	s.Require().NoError(err)

	_, err = s.service.Commit(ctx, CommitRequest{ICID: pub.ICID, BaseVersion: co.Version, Edits: models.EditSet{Entities: []models.Entity{
		&models.Place{Header: models.Header{Operation: models.OperationInsert}, Name: "Hartford"},
	}}})
	s.Require().NoError(err)

	second, err := s.service.Read(ctx, pub.ICID, pub.Version)
	s.Require().NoError(err)
	secondJSON, err := json.Marshal(second)
	s.Require().NoError(err)
	s.Equal(string(firstJSON), string(secondJSON))

	_, err = s.service.Read(ctx, pub.ICID, 10_000)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestVocabularyTermsAreResolved() {
	s.mockVocab.EXPECT().ResolveTerm(gomock.Any(), "occ:writer").Return(&ports.Term{ID: "occ:writer", Value: "Writer"}, nil)
	s.mockVocab.EXPECT().ResolveTerm(gomock.Any(), "occ:bogus").Return(nil, sentinel.ErrNotFound)

	_, err := s.service.Create(as("alice"), CreateRequest{EntityType: models.EntityTypePerson, Edits: models.EditSet{Entities: []models.Entity{
		name("Mark Twain", ""), &models.Occupation{Term: models.Term{TermID: "occ:writer"}},
	}}})
	s.Require().NoError(err)

	_, err = s.service.Create(as("alice"), CreateRequest{EntityType: models.EntityTypePerson, Edits: models.EditSet{Entities: []models.Entity{
		name("Mark Twain", ""), &models.Occupation{Term: models.Term{TermID: "occ:bogus"}},
	}}})
	var vErr *models.ValidationError
	s.Require().ErrorAs(err, &vErr)
	s.Equal("occupation.term_id", vErr.Field)
}

// slowArkStore widens the gap between the ARK lookup and the insert.
type slowArkStore struct {
	*memory.Store
}

func (s slowArkStore) FindByArk(ctx context.Context, ark string) (int64, error) {
	time.Sleep(20 * time.Millisecond)
	return s.Store.FindByArk(ctx, ark)
}

func TestConcurrentCreatesCannotShareArk(t *testing.T) {
	svc, err := New(slowArkStore{Store: memory.New()})
	if err != nil {
		t.Fatal(err)
	}

	const ark = "ark:/99166/dup"
	errs := make([]error, 2)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = svc.Create(as("alice"), CreateRequest{
				EntityType: models.EntityTypePerson,
				ArkID:      ark,
				Edits:      models.EditSet{Entities: []models.Entity{name("Doe, Jane", "")}},
			})
		}()
	}
	close(start)
	wg.Wait()

	created := 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case !dErrors.HasCode(err, dErrors.CodeConflict):
			t.Fatalf("expected conflict, got %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one create to register %s, got %d", ark, created)
	}
	if _, err := svc.ResolveArk(as("alice"), ark); err != nil {
		t.Fatalf("resolve ark: %v", err)
	}
}

func TestIndexerFailureDoesNotFailCommit(t *testing.T) {
	ctrl := gomock.NewController(t)
	indexer := mocks.NewMockIndexer(ctrl)
	svc, err := New(memory.New(), WithIndexer(indexer))
	if err != nil {
		t.Fatal(err)
	}

	indexer.EXPECT().Notify(gomock.Any(), int64(1), int64(1)).Return(errors.New("broker down"))

	res, err := svc.Create(as("alice"), CreateRequest{EntityType: models.EntityTypePerson, Edits: models.EditSet{Entities: []models.Entity{name("A", "")}}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Version != 1 {
		t.Fatalf("expected version 1, got %d", res.Version)
	}
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(nil)
	if err == nil {
		t.Fatal("expected error for nil store")
	}
}
