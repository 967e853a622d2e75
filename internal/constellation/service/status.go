package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"icstore/internal/constellation/models"
	dErrors "icstore/pkg/domain-errors"
	"icstore/pkg/requestcontext"
)

// versionWrite is one status-row write. Version 0 allocates a fresh version.
type versionWrite struct {
	Version int64
	Status  models.Status
	Holder  string
	Note    string
	Plan    *Plan
}

// writeVersion writes the plan rows, moves the head and appends the ledger
// entry. The head must be locked by the surrounding transaction.
func (s *Service) writeVersion(ctx context.Context, head *models.Head, w versionWrite) (int, int64, error) {
	version := w.Version
	if version == 0 {
		v, err := s.store.NextVersion(ctx)
		if err != nil {
			return 0, 0, err
		}
		version = v
	}
	n, err := WritePlan(ctx, s.store, head.ICID, version, w.Plan)
	if err != nil {
		return 0, 0, err
	}

	now := requestcontext.Now(ctx)
	next := *head
	if w.Status == models.StatusLockedEditing && head.Status != models.StatusLockedEditing {
		next.PriorStatus = head.Status
	}
	next.Version = version
	next.Status = w.Status
	next.LockHolder = w.Holder
	next.UpdatedAt = now
	if err := s.store.UpdateHead(ctx, &next, head.Version); err != nil {
		return 0, 0, err
	}
	if err := s.store.AppendHistory(ctx, historyEntry(&next, requestcontext.Actor(ctx).ID, w.Note, now)); err != nil {
		return 0, 0, err
	}
	if w.Status != head.Status {
		s.metrics.IncrementStatusChange(string(w.Status))
	}
	*head = next
	return n, version, nil
}

// WriteMergeVersion records a merge participant at a shared version. The
// head must already be locked in the caller's transaction.
func (s *Service) WriteMergeVersion(ctx context.Context, head *models.Head, version int64, status models.Status, note string, plan *Plan) (int, error) {
	if version <= 0 {
		return 0, dErrors.New(dErrors.CodeInvariantError, "merge version must be allocated")
	}
	holder := ""
	if status == models.StatusLockedEditing {
		holder = head.LockHolder
	}
	n, _, err := s.writeVersion(ctx, head, versionWrite{Version: version, Status: status, Holder: holder, Note: note, Plan: plan})
	return n, err
}

// Checkout takes the editing lock. Checking out a record the actor already
// holds returns the current version without writing.
func (s *Service) Checkout(ctx context.Context, icID int64) (*models.CheckoutResult, error) {
	ctx, span := s.tracer.Start(ctx, "constellation.Checkout", trace.WithAttributes(attribute.Int64("ic_id", icID)))
	defer span.End()
	defer s.metrics.ObserveOperation("checkout", time.Now())

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	var result *models.CheckoutResult
	written := false
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		head, err := s.store.LockHead(ctx, icID)
		if err != nil {
			return err
		}
		switch head.Status {
		case models.StatusLockedEditing:
			if head.LockHolder != actor.ID {
				s.metrics.IncrementLockConflict("checkout")
				return &models.AlreadyLockedError{ICID: icID, Holder: head.LockHolder}
			}
			result = &models.CheckoutResult{ICID: icID, Version: head.Version, LockHolder: actor.ID}
			return nil
		case models.StatusPublished, models.StatusNeedsReview:
			_, version, err := s.writeVersion(ctx, head, versionWrite{Status: models.StatusLockedEditing, Holder: actor.ID, Note: "checkout"})
			if err != nil {
				return err
			}
			written = true
			result = &models.CheckoutResult{ICID: icID, Version: version, LockHolder: actor.ID}
			return nil
		default:
			return &models.InvalidTransitionError{ICID: icID, From: head.Status, To: models.StatusLockedEditing}
		}
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if dErrors.HasCode(err, dErrors.CodeLocked) {
			s.logger.WarnContext(ctx, "checkout refused, record locked",
				"ic_id", icID,
				"actor", actor.ID,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil, translate(err, "constellation")
	}
	if written {
		s.logger.InfoContext(ctx, "constellation checked out",
			"ic_id", icID,
			"version", result.Version,
			"actor", actor.ID,
		)
	}
	return result, nil
}

// SetStatus moves a checked-out record to published, needs_review or
// deleted and releases the lock. Deleting tombstones every sub-entity.
func (s *Service) SetStatus(ctx context.Context, icID int64, to models.Status, note string) (*models.CommitResult, error) {
	ctx, span := s.tracer.Start(ctx, "constellation.SetStatus", trace.WithAttributes(
		attribute.Int64("ic_id", icID),
		attribute.String("status", string(to)),
	))
	defer span.End()
	defer s.metrics.ObserveOperation("set_status", time.Now())

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	switch to {
	case models.StatusPublished, models.StatusNeedsReview, models.StatusDeleted:
	case models.StatusLockedEditing, models.StatusTombstone:
		return nil, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("%s is reached through checkout or merge", to)}
	default:
		return nil, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", to)}
	}

	var result *models.CommitResult
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		head, err := s.lockForEdit(ctx, icID, actor.ID, "status")
		if err != nil {
			return err
		}
		if !models.CanTransition(head.Status, to) {
			return &models.InvalidTransitionError{ICID: icID, From: head.Status, To: to}
		}
		var plan *Plan
		if to == models.StatusDeleted {
			base, err := Snapshot(ctx, s.store, icID, head.Version)
			if err != nil {
				return err
			}
			plan = PlanDeleteAll(base)
		}
		n, version, err := s.writeVersion(ctx, head, versionWrite{Status: to, Note: note, Plan: plan})
		if err != nil {
			return err
		}
		result = &models.CommitResult{ICID: icID, Version: version, Outcome: models.OutcomeCommitted, ChangedRows: n}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, translate(err, "constellation")
	}

	s.logger.InfoContext(ctx, "constellation status changed",
		"ic_id", icID,
		"version", result.Version,
		"status", to,
		"actor", actor.ID,
	)
	s.notify(ctx, icID, result.Version)
	return result, nil
}

// Unlock is the administrative recovery for an abandoned checkout. The record
// returns to the status it held before the lock.
func (s *Service) Unlock(ctx context.Context, icID int64, note string) (*models.CommitResult, error) {
	ctx, span := s.tracer.Start(ctx, "constellation.Unlock", trace.WithAttributes(attribute.Int64("ic_id", icID)))
	defer span.End()

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.Admin {
		return nil, dErrors.New(dErrors.CodeForbidden, "unlock requires an administrator")
	}

	var result *models.CommitResult
	var previousHolder string
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		head, err := s.store.LockHead(ctx, icID)
		if err != nil {
			return err
		}
		if head.Status != models.StatusLockedEditing {
			return dErrors.Newf(dErrors.CodeInvalidState, "constellation %d is not locked (status %s)", icID, head.Status)
		}
		previousHolder = head.LockHolder
		to := head.PriorStatus
		if to != models.StatusPublished && to != models.StatusNeedsReview {
			to = models.StatusNeedsReview
		}
		_, version, err := s.writeVersion(ctx, head, versionWrite{Status: to, Note: note})
		if err != nil {
			return err
		}
		result = &models.CommitResult{ICID: icID, Version: version, Outcome: models.OutcomeCommitted}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, translate(err, "constellation")
	}

	s.logger.WarnContext(ctx, "administrative unlock",
		"ic_id", icID,
		"version", result.Version,
		"previous_holder", previousHolder,
		"actor", actor.ID,
	)
	return result, nil
}

// Resurrect brings a deleted record back as locked_editing for the
// administrator, restoring the entities visible just before the deletion.
func (s *Service) Resurrect(ctx context.Context, icID int64, note string) (*models.CommitResult, error) {
	ctx, span := s.tracer.Start(ctx, "constellation.Resurrect", trace.WithAttributes(attribute.Int64("ic_id", icID)))
	defer span.End()

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.Admin {
		return nil, dErrors.New(dErrors.CodeForbidden, "resurrect requires an administrator")
	}

	var result *models.CommitResult
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		head, err := s.store.LockHead(ctx, icID)
		if err != nil {
			return err
		}
		if head.Status != models.StatusDeleted {
			return &models.InvalidTransitionError{ICID: icID, From: head.Status, To: models.StatusLockedEditing}
		}
		before, err := s.versionBeforeDeletion(ctx, icID)
		if err != nil {
			return err
		}
		plan := &Plan{}
		if before > 0 {
			rows, err := s.store.RowsAt(ctx, icID, before)
			if err != nil {
				return err
			}
			plan = PlanRestore(rows)
		}
		n, version, err := s.writeVersion(ctx, head, versionWrite{Status: models.StatusLockedEditing, Holder: actor.ID, Note: note, Plan: plan})
		if err != nil {
			return err
		}
		result = &models.CommitResult{ICID: icID, Version: version, Outcome: models.OutcomeCommitted, ChangedRows: n}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, translate(err, "constellation")
	}

	s.logger.WarnContext(ctx, "constellation resurrected",
		"ic_id", icID,
		"version", result.Version,
		"restored_rows", result.ChangedRows,
		"actor", actor.ID,
	)
	s.notify(ctx, icID, result.Version)
	return result, nil
}

// versionBeforeDeletion returns the ledger version preceding the latest
// deletion, or 0 if the record was deleted in its first version.
func (s *Service) versionBeforeDeletion(ctx context.Context, icID int64) (int64, error) {
	entries, err := s.store.History(ctx, icID)
	if err != nil {
		return 0, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Status != models.StatusDeleted {
			continue
		}
		if i == 0 {
			return 0, nil
		}
		return entries[i-1].Version, nil
	}
	return 0, dErrors.Newf(dErrors.CodeInvariantError, "constellation %d is deleted but has no deletion entry", icID)
}

// RevertRequest restores one entity to its content at ToVersion.
type RevertRequest struct {
	ICID      int64
	EntityID  int64
	ToVersion int64
	Note      string
}

// RevertEntity writes the entity's row as of ToVersion at a new version,
// independently of its siblings. Reverting to a deleted state cascades to
// the entity's current children.
func (s *Service) RevertEntity(ctx context.Context, req RevertRequest) (*models.CommitResult, error) {
	ctx, span := s.tracer.Start(ctx, "constellation.RevertEntity", trace.WithAttributes(
		attribute.Int64("ic_id", req.ICID),
		attribute.Int64("entity_id", req.EntityID),
		attribute.Int64("to_version", req.ToVersion),
	))
	defer span.End()

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.ToVersion <= 0 {
		return nil, &models.ValidationError{Field: "to_version", Reason: "must be positive"}
	}

	var result *models.CommitResult
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		head, err := s.lockForEdit(ctx, req.ICID, actor.ID, "revert")
		if err != nil {
			return err
		}
		if req.ToVersion >= head.Version {
			return &models.ValidationError{Field: "to_version", Reason: fmt.Sprintf("must be older than the current version %d", head.Version)}
		}
		old, err := s.store.EntityRowAt(ctx, req.EntityID, req.ToVersion)
		if err != nil {
			return err
		}
		if old.ICID != req.ICID {
			return dErrors.Newf(dErrors.CodeNotFound, "entity %d is not part of constellation %d", req.EntityID, req.ICID)
		}
		base, err := Snapshot(ctx, s.store, req.ICID, head.Version)
		if err != nil {
			return err
		}
		plan, err := planRevert(base, old)
		if err != nil {
			return err
		}
		if plan.Empty() {
			result = &models.CommitResult{ICID: req.ICID, Version: head.Version, Outcome: models.OutcomeNoOp}
			return nil
		}
		if plan.LiveNames() == 0 {
			return errNoNames
		}
		n, version, err := s.writeVersion(ctx, head, versionWrite{Status: models.StatusLockedEditing, Holder: actor.ID, Note: req.Note, Plan: plan})
		if err != nil {
			return err
		}
		result = &models.CommitResult{ICID: req.ICID, Version: version, Outcome: models.OutcomeCommitted, ChangedRows: n}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, translate(err, "entity")
	}

	s.metrics.IncrementCommit(string(result.Outcome), result.ChangedRows)
	if result.Outcome == models.OutcomeCommitted {
		s.logger.InfoContext(ctx, "entity reverted",
			"ic_id", req.ICID,
			"entity_id", req.EntityID,
			"to_version", req.ToVersion,
			"version", result.Version,
			"actor", actor.ID,
		)
		s.notify(ctx, req.ICID, result.Version)
	}
	return result, nil
}

func planRevert(base []models.Entity, old *models.Row) (*Plan, error) {
	idx := indexSnapshot(base)
	current, live := idx.entities[old.EntityID]
	plan := &Plan{}

	if old.Deleted {
		if !live {
			return plan, nil
		}
		p := &planner{base: idx, seen: make(map[int64]bool), plan: plan}
		p.cascadeDelete(current)
		plan.liveNames = liveNamesAfter(idx, plan)
		return plan, nil
	}

	restored, err := models.DecodePayload(old.Kind, old.Payload)
	if err != nil {
		return nil, err
	}
	if live && models.SameContent(current, restored) {
		return plan, nil
	}
	if old.ParentID != 0 {
		if _, ok := idx.entities[old.ParentID]; !ok {
			return nil, &models.ValidationError{Field: "entity_id", Reason: fmt.Sprintf("parent entity %d is not present", old.ParentID)}
		}
	}
	plan.changes = append(plan.changes, &change{id: old.EntityID, kind: old.Kind, parentID: old.ParentID, entity: restored})
	plan.liveNames = liveNamesAfter(idx, plan)
	return plan, nil
}
