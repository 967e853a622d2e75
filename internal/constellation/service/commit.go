package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"icstore/internal/constellation/models"
	dErrors "icstore/pkg/domain-errors"
	"icstore/pkg/platform/sentinel"
	"icstore/pkg/requestcontext"
)

// CreateRequest describes a new constellation.
type CreateRequest struct {
	EntityType models.EntityType
	ArkID      string
	Edits      models.EditSet
	Note       string
}

// CommitRequest is one edit against a checked-out constellation.
type CommitRequest struct {
	ICID        int64
	BaseVersion int64
	Edits       models.EditSet
	Note        string
}

var errNoNames = &models.ValidationError{Field: "names", Reason: "a constellation needs at least one name entry"}

// Create allocates an ic_id and its first version. The creator holds the
// editing lock on the new record.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.CommitResult, error) {
	ctx, span := s.tracer.Start(ctx, "constellation.Create")
	defer span.End()
	defer s.metrics.ObserveOperation("create", time.Now())

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if !req.EntityType.IsValid() {
		return nil, &models.ValidationError{Field: "entity_type", Reason: fmt.Sprintf("must be one of person, corporateBody, family; got %q", req.EntityType)}
	}
	edits := asInserts(req.Edits)
	if err := edits.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkTerms(ctx, edits); err != nil {
		return nil, err
	}
	plan, err := PlanEdits(nil, edits)
	if err != nil {
		return nil, err
	}
	if plan.LiveNames() == 0 {
		return nil, errNoNames
	}

	var result *models.CommitResult
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if req.ArkID != "" {
			existing, err := s.store.FindByArk(ctx, req.ArkID)
			if err == nil {
				return dErrors.Newf(dErrors.CodeConflict, "ark %s already identifies constellation %d", req.ArkID, existing)
			}
			if !errors.Is(err, sentinel.ErrNotFound) {
				return err
			}
		}
		icID, err := s.store.NextConstellationID(ctx)
		if err != nil {
			return err
		}
		version, err := s.store.NextVersion(ctx)
		if err != nil {
			return err
		}
		n, err := WritePlan(ctx, s.store, icID, version, plan)
		if err != nil {
			return err
		}
		now := requestcontext.Now(ctx)
		head := &models.Head{
			ICID:        icID,
			Version:     version,
			Status:      models.StatusLockedEditing,
			LockHolder:  actor.ID,
			PriorStatus: models.StatusNeedsReview,
			ArkID:       req.ArkID,
			EntityType:  req.EntityType,
			UpdatedAt:   now,
		}
		if err := s.store.InsertHead(ctx, head); err != nil {
			return err
		}
		if err := s.store.AppendHistory(ctx, historyEntry(head, actor.ID, req.Note, now)); err != nil {
			return err
		}
		result = &models.CommitResult{ICID: icID, Version: version, Outcome: models.OutcomeCommitted, ChangedRows: n}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if req.ArkID != "" && errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, fmt.Sprintf("ark %s already identifies another constellation", req.ArkID))
		}
		return nil, translate(err, "constellation")
	}

	span.SetAttributes(attribute.Int64("ic_id", result.ICID), attribute.Int64("version", result.Version))
	s.metrics.IncrementCommit(string(result.Outcome), result.ChangedRows)
	s.logger.InfoContext(ctx, "constellation created",
		"ic_id", result.ICID,
		"version", result.Version,
		"actor", actor.ID,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.notify(ctx, result.ICID, result.Version)
	return result, nil
}

// Commit applies an edit-set on top of baseVersion. baseVersion must be the
// current version of a constellation the actor has checked out. An edit that
// changes nothing returns OutcomeNoOp and allocates no version.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (*models.CommitResult, error) {
	ctx, span := s.tracer.Start(ctx, "constellation.Commit", trace.WithAttributes(
		attribute.Int64("ic_id", req.ICID),
		attribute.Int64("base_version", req.BaseVersion),
	))
	defer span.End()
	defer s.metrics.ObserveOperation("commit", time.Now())

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Edits.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkTerms(ctx, req.Edits); err != nil {
		return nil, err
	}

	var result *models.CommitResult
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		head, err := s.lockForEdit(ctx, req.ICID, actor.ID, "commit")
		if err != nil {
			return err
		}
		if head.Version != req.BaseVersion {
			s.metrics.IncrementConcurrentModification()
			return &models.ConcurrentModificationError{ICID: req.ICID, BaseVersion: req.BaseVersion, CurrentVersion: head.Version}
		}
		base, err := Snapshot(ctx, s.store, head.ICID, head.Version)
		if err != nil {
			return err
		}
		plan, err := PlanEdits(base, req.Edits)
		if err != nil {
			return err
		}
		if plan.Empty() {
			result = &models.CommitResult{ICID: head.ICID, Version: head.Version, Outcome: models.OutcomeNoOp}
			return nil
		}
		if plan.LiveNames() == 0 {
			return errNoNames
		}
		n, version, err := s.writeVersion(ctx, head, versionWrite{
			Status: models.StatusLockedEditing,
			Holder: actor.ID,
			Note:   req.Note,
			Plan:   plan,
		})
		if err != nil {
			return err
		}
		result = &models.CommitResult{ICID: head.ICID, Version: version, Outcome: models.OutcomeCommitted, ChangedRows: n}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, translate(err, "constellation")
	}

	s.metrics.IncrementCommit(string(result.Outcome), result.ChangedRows)
	if result.Outcome == models.OutcomeNoOp {
		s.logger.InfoContext(ctx, "commit changed nothing",
			"ic_id", req.ICID,
			"version", result.Version,
			"actor", actor.ID,
		)
		return result, nil
	}
	s.logger.InfoContext(ctx, "constellation committed",
		"ic_id", result.ICID,
		"version", result.Version,
		"changed_rows", result.ChangedRows,
		"actor", actor.ID,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.notify(ctx, result.ICID, result.Version)
	return result, nil
}

// asInserts marks every top-level entity of a new record for insertion.
// Deletes are dropped since nothing is stored yet.
func asInserts(set models.EditSet) models.EditSet {
	out := models.EditSet{Entities: make([]models.Entity, 0, len(set.Entities))}
	for _, e := range set.Entities {
		if e == nil {
			out.Entities = append(out.Entities, e)
			continue
		}
		if e.Meta().Operation.Normalize() == models.OperationDelete {
			continue
		}
		e.Meta().Operation = models.OperationInsert
		out.Entities = append(out.Entities, e)
	}
	return out
}

// CheckTerms validates the vocabulary references of an edit-set committed
// outside this service.
func (s *Service) CheckTerms(ctx context.Context, set models.EditSet) error {
	return s.checkTerms(ctx, set)
}

// checkTerms resolves every vocabulary reference written by the edit-set.
func (s *Service) checkTerms(ctx context.Context, set models.EditSet) error {
	if s.vocab == nil {
		return nil
	}
	var firstErr error
	for _, top := range set.Entities {
		models.WalkWrites(top, func(e models.Entity) {
			if firstErr != nil {
				return
			}
			ref, ok := e.(models.TermReferencer)
			if !ok {
				return
			}
			for _, id := range ref.TermIDs() {
				if _, err := s.vocab.ResolveTerm(ctx, id); err != nil {
					if errors.Is(err, sentinel.ErrNotFound) {
						firstErr = &models.ValidationError{Field: string(e.Kind()) + ".term_id", Reason: fmt.Sprintf("unknown vocabulary term %q", id)}
					} else {
						firstErr = dErrors.Wrap(err, dErrors.CodeInternal, "vocabulary lookup failed")
					}
					return
				}
			}
		})
	}
	return firstErr
}

func historyEntry(head *models.Head, actor, note string, at time.Time) models.HistoryEntry {
	return models.HistoryEntry{
		ICID:       head.ICID,
		Version:    head.Version,
		Status:     head.Status,
		Actor:      actor,
		Note:       note,
		ArkID:      head.ArkID,
		EntityType: head.EntityType,
		CreatedAt:  at,
	}
}
