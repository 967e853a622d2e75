package service

import (
	"context"
	"fmt"

	"icstore/internal/constellation/models"
)

// Plan is the set of version rows one edit produces. It is computed against
// a base snapshot before any version is allocated and is written once.
type Plan struct {
	changes   []*change
	liveNames int
}

type change struct {
	id       int64
	kind     models.Kind
	parentID int64
	parent   *change
	deleted  bool
	entity   models.Entity
	payload  []byte
}

func (c *change) isNew() bool { return c.id == 0 }

// Len returns the number of rows the plan writes.
func (p *Plan) Len() int { return len(p.changes) }

// Empty reports whether the plan writes nothing.
func (p *Plan) Empty() bool { return p == nil || len(p.changes) == 0 }

// LiveNames returns the number of top-level name entries after the plan applies.
func (p *Plan) LiveNames() int { return p.liveNames }

// Deleted returns the ids of existing entities the plan tombstones.
func (p *Plan) Deleted() []int64 {
	var out []int64
	for _, c := range p.changes {
		if c.deleted {
			out = append(out, c.id)
		}
	}
	return out
}

type baseIndex struct {
	entities map[int64]models.Entity
	parents  map[int64]int64
	top      []models.Entity
}

func indexSnapshot(top []models.Entity) baseIndex {
	idx := baseIndex{
		entities: make(map[int64]models.Entity),
		parents:  make(map[int64]int64),
		top:      top,
	}
	var visit func(e models.Entity, parent int64)
	visit = func(e models.Entity, parent int64) {
		id := e.Meta().ID
		idx.entities[id] = e
		idx.parents[id] = parent
		for _, c := range e.Children() {
			visit(c, id)
		}
	}
	for _, e := range top {
		visit(e, 0)
	}
	return idx
}

type planner struct {
	base baseIndex
	seen map[int64]bool
	plan *Plan
}

// PlanEdits resolves an edit-set against the base snapshot. Updates that are
// structurally equal to the stored entity are dropped, deletes cascade to
// stored children, updates without an id become inserts and deletes of
// entities that were never stored are ignored.
func PlanEdits(base []models.Entity, set models.EditSet) (*Plan, error) {
	p := &planner{base: indexSnapshot(base), seen: make(map[int64]bool), plan: &Plan{}}
	for _, e := range set.Entities {
		if err := p.visit(e, 0, nil, false); err != nil {
			return nil, err
		}
	}
	p.plan.liveNames = liveNamesAfter(p.base, p.plan)
	return p.plan, nil
}

func (p *planner) visit(e models.Entity, parentID int64, parent *change, parentNew bool) error {
	h := e.Meta()
	op := h.Operation.Normalize()

	if parentNew {
		if op == models.OperationDelete {
			return nil
		}
		return p.insert(e, 0, parent)
	}

	switch op {
	case models.OperationInsert:
		return p.insert(e, parentID, nil)

	case models.OperationUpdate:
		if h.ID == 0 {
			return p.insert(e, parentID, nil)
		}
		stored, found, err := p.stored(e, parentID)
		if err != nil {
			return err
		}
		if !found {
			return &models.ValidationError{
				Field:  string(e.Kind()) + ".id",
				Reason: fmt.Sprintf("entity %d is not part of this constellation", h.ID),
			}
		}
		if !models.SameContent(stored, e) {
			p.add(&change{id: h.ID, kind: e.Kind(), parentID: parentID, entity: e})
		}
		return p.children(e, h.ID)

	case models.OperationDelete:
		if h.ID == 0 {
			return nil
		}
		stored, found, err := p.stored(e, parentID)
		if err != nil || !found {
			return err
		}
		p.cascadeDelete(stored)
		return nil

	default:
		if h.ID == 0 {
			return nil
		}
		_, found, err := p.stored(e, parentID)
		if err != nil || !found {
			return err
		}
		return p.children(e, h.ID)
	}
}

// stored looks up the base entity for e, checking kind, parent and that the
// id is edited only once.
func (p *planner) stored(e models.Entity, parentID int64) (models.Entity, bool, error) {
	id := e.Meta().ID
	field := string(e.Kind()) + ".id"
	if p.seen[id] {
		return nil, false, &models.ValidationError{Field: field, Reason: fmt.Sprintf("entity %d is edited more than once", id)}
	}
	p.seen[id] = true

	stored, ok := p.base.entities[id]
	if !ok {
		return nil, false, nil
	}
	if stored.Kind() != e.Kind() {
		return nil, false, &models.ValidationError{Field: field, Reason: fmt.Sprintf("entity %d is a %s", id, stored.Kind())}
	}
	if p.base.parents[id] != parentID {
		return nil, false, &models.ValidationError{Field: field, Reason: fmt.Sprintf("entity %d does not belong to parent %d", id, parentID)}
	}
	return stored, true, nil
}

func (p *planner) insert(e models.Entity, parentID int64, parent *change) error {
	c := &change{kind: e.Kind(), parentID: parentID, parent: parent, entity: e}
	p.add(c)
	for _, child := range e.Children() {
		if err := p.visit(child, 0, c, true); err != nil {
			return err
		}
	}
	return nil
}

func (p *planner) children(e models.Entity, id int64) error {
	for _, child := range e.Children() {
		if err := p.visit(child, id, nil, false); err != nil {
			return err
		}
	}
	return nil
}

func (p *planner) cascadeDelete(stored models.Entity) {
	models.Walk(stored, func(x models.Entity) {
		id := x.Meta().ID
		p.seen[id] = true
		p.add(&change{id: id, kind: x.Kind(), parentID: p.base.parents[id], deleted: true})
	})
}

func (p *planner) add(c *change) {
	p.plan.changes = append(p.plan.changes, c)
}

func liveNamesAfter(base baseIndex, plan *Plan) int {
	deleted := make(map[int64]bool)
	for _, c := range plan.changes {
		if c.deleted {
			deleted[c.id] = true
		}
	}
	n := 0
	for _, e := range base.top {
		if e.Kind() == models.KindNameEntry && !deleted[e.Meta().ID] {
			n++
		}
	}
	for _, c := range plan.changes {
		if c.deleted || c.kind != models.KindNameEntry || c.parentID != 0 || c.parent != nil {
			continue
		}
		if _, existed := base.entities[c.id]; !existed {
			n++
		}
	}
	return n
}

// PlanDeleteAll tombstones every entity of the snapshot.
func PlanDeleteAll(base []models.Entity) *Plan {
	p := &planner{base: indexSnapshot(base), seen: make(map[int64]bool), plan: &Plan{}}
	for _, e := range base {
		p.cascadeDelete(e)
	}
	return p.plan
}

// PlanRestore rewrites the live rows of an earlier version at a new version,
// keeping their ids.
func PlanRestore(rows []models.Row) *Plan {
	plan := &Plan{}
	for _, r := range rows {
		if r.Deleted {
			continue
		}
		plan.changes = append(plan.changes, &change{id: r.EntityID, kind: r.Kind, parentID: r.ParentID, payload: r.Payload})
		if r.Kind == models.KindNameEntry && r.ParentID == 0 {
			plan.liveNames++
		}
	}
	return plan
}

// WritePlan allocates ids for new entities and inserts the plan's rows at version.
func WritePlan(ctx context.Context, store Store, icID, version int64, plan *Plan) (int, error) {
	if plan.Empty() {
		return 0, nil
	}
	rows := make([]models.Row, 0, len(plan.changes))
	for _, c := range plan.changes {
		if c.isNew() {
			id, err := store.NextEntityID(ctx)
			if err != nil {
				return 0, err
			}
			c.id = id
		}
		parentID := c.parentID
		if c.parent != nil {
			parentID = c.parent.id
		}
		row := models.Row{EntityID: c.id, Version: version, ICID: icID, ParentID: parentID, Kind: c.kind, Deleted: c.deleted}
		switch {
		case c.deleted:
		case c.entity != nil:
			payload, err := models.EncodePayload(c.entity)
			if err != nil {
				return 0, err
			}
			row.Payload = payload
		default:
			row.Payload = c.payload
		}
		rows = append(rows, row)
	}
	if err := store.InsertRows(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Snapshot resolves the entity forest of icID at version.
func Snapshot(ctx context.Context, store Store, icID, version int64) ([]models.Entity, error) {
	rows, err := store.RowsAt(ctx, icID, version)
	if err != nil {
		return nil, err
	}
	return models.Assemble(rows)
}
