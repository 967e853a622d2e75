package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"icstore/internal/constellation/models"
	constellation "icstore/internal/constellation/service"
	"icstore/pkg/requestcontext"
)

const (
	modeAuto   = "auto"
	modeManual = "manual"
)

// participant is one locked merge source with its snapshot.
type participant struct {
	head *models.Head
	base []models.Entity
}

type planFunc func(ctx context.Context, survivor participant, sources []participant) (*constellation.Plan, error)

// ManualMergeRequest carries the curator's final edit-set for the survivor.
// Entities taken from other sources are submitted as inserts; entities of
// the survivor are referenced by id.
type ManualMergeRequest struct {
	ICIDs               []int64
	Edits               models.EditSet
	AcknowledgeDiscards bool
	Note                string
}

// AutoMerge merges the constellations into the one with the lowest id. The
// survivor receives every sub-entity of the other sources that it does not
// already hold, compared structurally. Sources that were already merged away
// are skipped with a warning; a merge left with fewer than two active
// constellations fails with a MergeError and writes nothing.
func (s *Service) AutoMerge(ctx context.Context, icIDs []int64, note string) (*models.MergeResult, error) {
	return s.merge(ctx, modeAuto, icIDs, note, func(_ context.Context, survivor participant, sources []participant) (*constellation.Plan, error) {
		return constellation.PlanEdits(survivor.base, unionEdits(survivor, sources))
	})
}

// ManualMerge applies a curated edit-set to the survivor and tombstones the
// other sources. Sub-entities of the sources that the edit-set does not carry
// over are lost from the live record, so the call is refused unless the
// caller acknowledges the discards.
func (s *Service) ManualMerge(ctx context.Context, req ManualMergeRequest) (*models.MergeResult, error) {
	if err := req.Edits.Validate(); err != nil {
		return nil, err
	}
	if err := s.constellations.CheckTerms(ctx, req.Edits); err != nil {
		return nil, err
	}
	return s.merge(ctx, modeManual, req.ICIDs, req.Note, func(ctx context.Context, survivor participant, sources []participant) (*constellation.Plan, error) {
		edits := withMergedRecords(req.Edits, survivor, sources)
		discards := discarded(survivor, sources, edits)
		if len(discards) > 0 && !req.AcknowledgeDiscards {
			return nil, &models.ValidationError{
				Field:  "acknowledge_discards",
				Reason: fmt.Sprintf("%d sub-entities would be discarded; preview the merge and acknowledge", len(discards)),
			}
		}
		plan, err := constellation.PlanEdits(survivor.base, edits)
		if err != nil {
			return nil, err
		}
		if len(discards) > 0 {
			s.logger.WarnContext(ctx, "curated merge discards sub-entities",
				"survivor_ic_id", survivor.head.ICID,
				"discarded", len(discards),
				"actor", requestcontext.Actor(ctx).ID,
			)
		}
		return plan, nil
	})
}

// PreviewManualMerge reports what ManualMerge would discard without taking
// any locks.
func (s *Service) PreviewManualMerge(ctx context.Context, icIDs []int64, edits models.EditSet) (*models.MergePreview, error) {
	if err := edits.Validate(); err != nil {
		return nil, err
	}
	ids, err := distinctIDs(icIDs)
	if err != nil {
		return nil, err
	}
	var active []participant
	var skipped []int64
	for _, id := range ids {
		head, err := s.store.Head(ctx, id)
		if err != nil {
			return nil, translate(err, fmt.Sprintf("constellation %d", id))
		}
		if head.Status == models.StatusTombstone {
			skipped = append(skipped, id)
			continue
		}
		base, err := constellation.Snapshot(ctx, s.store, id, head.Version)
		if err != nil {
			return nil, translate(err, "snapshot")
		}
		active = append(active, participant{head: head, base: base})
	}
	if len(active) < 2 {
		return nil, &models.MergeError{ICIDs: ids, Skipped: skipped, Reason: "fewer than two active constellations remain"}
	}
	survivor, sources := active[0], active[1:]
	return &models.MergePreview{
		SurvivorID: survivor.head.ICID,
		Skipped:    skipped,
		Discarded:  discarded(survivor, sources, withMergedRecords(edits, survivor, sources)),
	}, nil
}

func (s *Service) merge(ctx context.Context, mode string, icIDs []int64, note string, planFn planFunc) (*models.MergeResult, error) {
	ctx, span := s.tracer.Start(ctx, "merge."+mode, trace.WithAttributes(attribute.Int64Slice("ic_ids", icIDs)))
	defer span.End()
	defer s.metrics.ObserveOperation(mode+"_merge", time.Now())

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := distinctIDs(icIDs)
	if err != nil {
		s.metrics.IncrementMerge(mode, "failed")
		return nil, err
	}

	var result *models.MergeResult
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		active, skipped, err := s.lockParticipants(ctx, ids, actor.ID)
		if err != nil {
			return err
		}
		survivor, sources := active[0], active[1:]
		plan, err := planFn(ctx, survivor, sources)
		if err != nil {
			return err
		}
		if plan.LiveNames() == 0 {
			return &models.ValidationError{Field: "names", Reason: "the survivor needs at least one name entry"}
		}

		version, err := s.store.NextVersion(ctx)
		if err != nil {
			return err
		}
		changed, err := s.constellations.WriteMergeVersion(ctx, survivor.head, version, survivor.head.Status, note, plan)
		if err != nil {
			return err
		}

		now := requestcontext.Now(ctx)
		tombstoned := make([]int64, 0, len(sources))
		for _, src := range sources {
			n, err := s.constellations.WriteMergeVersion(ctx, src.head, version, models.StatusTombstone, note, constellation.PlanDeleteAll(src.base))
			if err != nil {
				return err
			}
			changed += n
			if err := s.store.SetRedirect(ctx, models.Redirect{
				FromICID:  src.head.ICID,
				ToICID:    survivor.head.ICID,
				Version:   version,
				CreatedAt: now,
			}); err != nil {
				return err
			}
			tombstoned = append(tombstoned, src.head.ICID)
		}
		if err := s.store.RetargetRedirects(ctx, tombstoned, survivor.head.ICID); err != nil {
			return err
		}
		participants := make([]int64, 0, len(active))
		for _, p := range active {
			participants = append(participants, p.head.ICID)
		}
		if err := s.confirmPairs(ctx, participants, actor.ID); err != nil {
			return err
		}

		result = &models.MergeResult{
			SurvivorID:  survivor.head.ICID,
			Version:     version,
			Tombstoned:  tombstoned,
			Skipped:     skipped,
			ChangedRows: changed,
		}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.metrics.IncrementMerge(mode, "failed")
		s.logger.WarnContext(ctx, "merge failed",
			"mode", mode,
			"ic_ids", ids,
			"actor", actor.ID,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, translate(err, "merge")
	}

	span.SetAttributes(attribute.Int64("survivor_ic_id", result.SurvivorID), attribute.Int64("version", result.Version))
	s.metrics.IncrementMerge(mode, "merged")
	s.logger.InfoContext(ctx, "constellations merged",
		"mode", mode,
		"survivor_ic_id", result.SurvivorID,
		"tombstoned", result.Tombstoned,
		"version", result.Version,
		"changed_rows", result.ChangedRows,
		"actor", actor.ID,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.constellations.NotifyIndexer(ctx, result.SurvivorID, result.Version)
	for _, id := range result.Tombstoned {
		s.constellations.NotifyIndexer(ctx, id, result.Version)
	}
	return result, nil
}

// lockParticipants locks every head in ascending id order and returns the
// active ones, survivor first.
func (s *Service) lockParticipants(ctx context.Context, ids []int64, actor string) ([]participant, []int64, error) {
	var active []participant
	var skipped []int64
	for _, id := range ids {
		head, err := s.store.LockHead(ctx, id)
		if err != nil {
			return nil, nil, translate(err, fmt.Sprintf("constellation %d", id))
		}
		switch {
		case head.Status == models.StatusTombstone:
			skipped = append(skipped, id)
			s.logger.WarnContext(ctx, "merge source already merged away, skipping",
				"ic_id", id,
				"request_id", requestcontext.RequestID(ctx),
			)
			continue
		case head.Status == models.StatusDeleted:
			return nil, nil, &models.MergeError{ICIDs: ids, Reason: fmt.Sprintf("constellation %d is deleted", id)}
		case head.Status == models.StatusLockedEditing && head.LockHolder != actor:
			return nil, nil, &models.MergeError{ICIDs: ids, Reason: fmt.Sprintf("constellation %d is checked out by %s", id, head.LockHolder)}
		}
		base, err := constellation.Snapshot(ctx, s.store, id, head.Version)
		if err != nil {
			return nil, nil, err
		}
		active = append(active, participant{head: head, base: base})
	}
	if len(active) < 2 {
		return nil, nil, &models.MergeError{ICIDs: ids, Skipped: skipped, Reason: "fewer than two active constellations remain"}
	}
	return active, skipped, nil
}

func distinctIDs(icIDs []int64) ([]int64, error) {
	ids := slices.Clone(icIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	for _, id := range ids {
		if id <= 0 {
			return nil, &models.ValidationError{Field: "ic_ids", Reason: "must be positive"}
		}
	}
	if len(ids) < 2 {
		return nil, &models.MergeError{ICIDs: ids, Reason: "a merge needs at least two distinct constellations"}
	}
	return ids, nil
}

// unionEdits inserts every source entity the survivor lacks. Structurally
// equal entities across sources collapse to one.
func unionEdits(survivor participant, sources []participant) models.EditSet {
	present := slices.Clone(survivor.base)
	var set models.EditSet
	add := func(e models.Entity) {
		if containsEqual(present, e) {
			return
		}
		present = append(present, e)
		set.Entities = append(set.Entities, models.AsInsert(e))
	}
	for _, src := range sources {
		for _, e := range src.base {
			add(e)
		}
	}
	for _, rec := range mergedRecords(sources) {
		add(rec)
	}
	return set
}

// withMergedRecords appends the merged-record identifiers a curated
// edit-set does not already carry.
func withMergedRecords(set models.EditSet, survivor participant, sources []participant) models.EditSet {
	out := models.EditSet{Entities: slices.Clone(set.Entities)}
	kept := curatedResult(survivor.base, set)
	for _, rec := range mergedRecords(sources) {
		if !containsEqual(kept, rec) {
			out.Entities = append(out.Entities, rec)
			kept = append(kept, rec)
		}
	}
	return out
}

// mergedRecords links each tombstoned source's ARK to the survivor.
func mergedRecords(sources []participant) []models.Entity {
	var out []models.Entity
	for _, src := range sources {
		if src.head.ArkID == "" {
			continue
		}
		out = append(out, &models.OtherRecordID{
			Header: models.Header{Operation: models.OperationInsert},
			Type:   models.OtherRecordTypeMerged,
			URI:    src.head.ArkID,
		})
	}
	return out
}

// curatedResult approximates the survivor's top-level entities after set
// applies to base.
func curatedResult(base []models.Entity, set models.EditSet) []models.Entity {
	replaced := make(map[int64]models.Entity)
	removed := make(map[int64]bool)
	var added []models.Entity
	for _, e := range set.Entities {
		h := e.Meta()
		switch op := h.Operation.Normalize(); {
		case op == models.OperationDelete:
			if h.ID != 0 {
				removed[h.ID] = true
			}
		case op == models.OperationInsert, op == models.OperationUpdate && h.ID == 0:
			added = append(added, e)
		case op == models.OperationUpdate:
			replaced[h.ID] = e
		}
	}
	kept := make([]models.Entity, 0, len(base)+len(added))
	for _, e := range base {
		id := e.Meta().ID
		if removed[id] {
			continue
		}
		if r, ok := replaced[id]; ok {
			kept = append(kept, r)
			continue
		}
		kept = append(kept, e)
	}
	return append(kept, added...)
}

// discarded lists survivor entities the edit-set deletes and source entities
// with no structurally equal counterpart in the curated result.
func discarded(survivor participant, sources []participant, set models.EditSet) []models.Discard {
	kept := curatedResult(survivor.base, set)
	deleted := make(map[int64]bool)
	for _, e := range set.Entities {
		if e.Meta().Operation.Normalize() == models.OperationDelete {
			deleted[e.Meta().ID] = true
		}
	}
	var out []models.Discard
	for _, e := range survivor.base {
		if deleted[e.Meta().ID] {
			out = append(out, models.Discard{ICID: survivor.head.ICID, Entity: e})
		}
	}
	for _, src := range sources {
		for _, e := range src.base {
			if !containsEqual(kept, e) {
				out = append(out, models.Discard{ICID: src.head.ICID, Entity: e})
			}
		}
	}
	return out
}

func containsEqual(list []models.Entity, e models.Entity) bool {
	return slices.ContainsFunc(list, func(x models.Entity) bool { return models.Equal(x, e, false) })
}
