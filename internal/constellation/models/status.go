package models

import "slices"

// Status is the publication state of one constellation version.
type Status string

const (
	StatusLockedEditing Status = "locked_editing"
	StatusNeedsReview   Status = "needs_review"
	StatusPublished     Status = "published"
	StatusDeleted       Status = "deleted"
	StatusTombstone     Status = "tombstone"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusLockedEditing, StatusNeedsReview, StatusPublished, StatusDeleted, StatusTombstone:
		return true
	}
	return false
}

// IsTerminal reports whether no transition may leave s.
func (s Status) IsTerminal() bool { return s == StatusTombstone }

// IsActive reports whether a constellation in s can take part in edits or merges.
func (s Status) IsActive() bool {
	return s == StatusLockedEditing || s == StatusNeedsReview || s == StatusPublished
}

// transitions lists every edge of the status state machine. Edges into
// tombstone are only taken by the merge engine.
var transitions = map[Status][]Status{
	StatusPublished:     {StatusLockedEditing, StatusTombstone},
	StatusNeedsReview:   {StatusLockedEditing, StatusTombstone},
	StatusLockedEditing: {StatusLockedEditing, StatusPublished, StatusNeedsReview, StatusDeleted, StatusTombstone},
	StatusDeleted:       {StatusLockedEditing},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// EntityType is the kind of real-world identity a constellation describes.
type EntityType string

const (
	EntityTypePerson        EntityType = "person"
	EntityTypeCorporateBody EntityType = "corporateBody"
	EntityTypeFamily        EntityType = "family"
)

// IsValid reports whether t is a known entity type.
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypePerson, EntityTypeCorporateBody, EntityTypeFamily:
		return true
	}
	return false
}

// Operation is the change requested for one submitted sub-entity.
type Operation string

const (
	OperationNone   Operation = "none"
	OperationInsert Operation = "insert"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Normalize maps the empty operation to none.
func (o Operation) Normalize() Operation {
	if o == "" {
		return OperationNone
	}
	return o
}

// IsValid reports whether o is a known operation (empty counts as none).
func (o Operation) IsValid() bool {
	switch o.Normalize() {
	case OperationNone, OperationInsert, OperationUpdate, OperationDelete:
		return true
	}
	return false
}
