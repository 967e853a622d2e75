package models

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Kind names a sub-entity type. It is persisted with every row.
type Kind string

const (
	KindNameEntry        Kind = "name_entry"
	KindNameComponent    Kind = "name_component"
	KindDate             Kind = "date"
	KindPlace            Kind = "place"
	KindSource           Kind = "source"
	KindSubject          Kind = "subject"
	KindOccupation       Kind = "occupation"
	KindFunction         Kind = "function"
	KindLanguage         Kind = "language"
	KindBiogHist         Kind = "biog_hist"
	KindRelation         Kind = "constellation_relation"
	KindResourceRelation Kind = "resource_relation"
	KindOtherRecordID    Kind = "other_record_id"
	KindControlMetadata  Kind = "control_metadata"
)

// Header is the identity part of every sub-entity. It is ignored by
// non-strict structural equality.
type Header struct {
	ID        int64     `json:"id,omitempty"`
	Version   int64     `json:"version,omitempty"`
	Operation Operation `json:"operation,omitempty"`
}

// Meta returns the header for in-place updates.
func (h *Header) Meta() *Header { return h }

// Entity is implemented by every sub-entity type. Ownership is a tree:
// Children returns the nested entities, Attach adds one while assembling
// a snapshot from rows.
type Entity interface {
	Kind() Kind
	Meta() *Header
	Children() []Entity
	Attach(child Entity) error
	Validate() error
	// shallow returns a copy without children, used for row payloads and
	// per-row change detection.
	shallow() Entity
}

// TermReferencer is implemented by entities pointing at controlled vocabulary.
type TermReferencer interface {
	TermIDs() []string
}

var factories = map[Kind]func() Entity{
	KindNameEntry:        func() Entity { return &NameEntry{} },
	KindNameComponent:    func() Entity { return &NameComponent{} },
	KindDate:             func() Entity { return &Date{} },
	KindPlace:            func() Entity { return &Place{} },
	KindSource:           func() Entity { return &Source{} },
	KindSubject:          func() Entity { return &Subject{} },
	KindOccupation:       func() Entity { return &Occupation{} },
	KindFunction:         func() Entity { return &Function{} },
	KindLanguage:         func() Entity { return &Language{} },
	KindBiogHist:         func() Entity { return &BiogHist{} },
	KindRelation:         func() Entity { return &ConstellationRelation{} },
	KindResourceRelation: func() Entity { return &ResourceRelation{} },
	KindOtherRecordID:    func() Entity { return &OtherRecordID{} },
	KindControlMetadata:  func() Entity { return &ControlMetadata{} },
}

// NewEntity returns an empty entity of the given kind.
func NewEntity(kind Kind) (Entity, error) {
	f, ok := factories[kind]
	if !ok {
		return nil, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown sub-entity kind %q", kind)}
	}
	return f(), nil
}

var (
	looseOpts  = []cmp.Option{cmpopts.IgnoreTypes(Header{}), cmpopts.EquateEmpty()}
	strictOpts = []cmp.Option{cmpopts.IgnoreFields(Header{}, "Operation"), cmpopts.EquateEmpty()}
)

// Equal compares two entities structurally, including nested children.
// Non-strict comparison ignores database identity (id, version, operation)
// at every depth; strict comparison only ignores the operation tag.
func Equal(a, b Entity, strict bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	if strict {
		return cmp.Equal(a, b, strictOpts...)
	}
	return cmp.Equal(a, b, looseOpts...)
}

// SameContent compares only the entity's own fields, ignoring identity and
// children. Children are versioned as their own rows.
func SameContent(a, b Entity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	return cmp.Equal(a.shallow(), b.shallow(), looseOpts...)
}

// EncodePayload serializes the entity's own fields for a version row.
func EncodePayload(e Entity) ([]byte, error) {
	s := e.shallow()
	*s.Meta() = Header{}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Kind(), err)
	}
	return b, nil
}

// DecodePayload rebuilds an entity from a version row payload.
func DecodePayload(kind Kind, payload []byte) (Entity, error) {
	e, err := NewEntity(kind)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, e); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
	}
	return e, nil
}

// Clone deep-copies an entity through its JSON form.
func Clone(e Entity) Entity {
	b, err := json.Marshal(e)
	if err != nil {
		panic(fmt.Errorf("clone %s: %w", e.Kind(), err))
	}
	out, _ := NewEntity(e.Kind())
	if err := json.Unmarshal(b, out); err != nil {
		panic(fmt.Errorf("clone %s: %w", e.Kind(), err))
	}
	return out
}

// AsInsert returns a deep copy of e with every identity cleared and every
// operation set to insert, ready to be added to another constellation.
func AsInsert(e Entity) Entity {
	out := Clone(e)
	Walk(out, func(x Entity) {
		*x.Meta() = Header{Operation: OperationInsert}
	})
	return out
}

// Walk visits e and its descendants depth first.
func Walk(e Entity, fn func(Entity)) {
	fn(e)
	for _, c := range e.Children() {
		Walk(c, fn)
	}
}

// ValidateEdit checks one submitted entity and its children at the boundary,
// before any storage access.
func ValidateEdit(e Entity) error {
	var firstErr error
	Walk(e, func(x Entity) {
		if firstErr != nil {
			return
		}
		h := x.Meta()
		if !h.Operation.IsValid() {
			firstErr = &ValidationError{Field: string(x.Kind()) + ".operation", Reason: fmt.Sprintf("unknown operation %q", h.Operation)}
			return
		}
		if h.ID < 0 {
			firstErr = &ValidationError{Field: string(x.Kind()) + ".id", Reason: "must not be negative"}
		}
	})
	if firstErr != nil {
		return firstErr
	}
	WalkWrites(e, func(x Entity) {
		if firstErr == nil {
			firstErr = x.Validate()
		}
	})
	return firstErr
}

// WalkWrites visits the submitted entities whose content will be written:
// inserts, updates, and every non-deleted descendant of an insert.
func WalkWrites(e Entity, fn func(Entity)) {
	walkWrites(e, false, fn)
}

func walkWrites(e Entity, parentInserted bool, fn func(Entity)) {
	op := e.Meta().Operation.Normalize()
	if op == OperationDelete {
		return
	}
	inserted := parentInserted || op == OperationInsert || (op == OperationUpdate && e.Meta().ID == 0)
	if inserted || op == OperationUpdate {
		fn(e)
	}
	for _, c := range e.Children() {
		walkWrites(c, inserted, fn)
	}
}

// sortByID orders entities by id so assembled snapshots are deterministic.
func sortByID[T Entity](items []T) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Meta().ID < items[j].Meta().ID
	})
}
