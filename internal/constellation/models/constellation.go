package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Constellation is one resolved snapshot of an identity record.
type Constellation struct {
	ICID       int64      `json:"ic_id"`
	Version    int64      `json:"version"`
	ArkID      string     `json:"ark_id,omitempty"`
	EntityType EntityType `json:"entity_type"`
	Status     Status     `json:"status"`
	LockHolder string     `json:"lock_holder,omitempty"`

	Names             []*NameEntry             `json:"names,omitempty"`
	Dates             []*Date                  `json:"dates,omitempty"`
	Places            []*Place                 `json:"places,omitempty"`
	Sources           []*Source                `json:"sources,omitempty"`
	Subjects          []*Subject               `json:"subjects,omitempty"`
	Occupations       []*Occupation            `json:"occupations,omitempty"`
	Functions         []*Function              `json:"functions,omitempty"`
	Languages         []*Language              `json:"languages,omitempty"`
	BiogHists         []*BiogHist              `json:"biog_hists,omitempty"`
	Relations         []*ConstellationRelation `json:"relations,omitempty"`
	ResourceRelations []*ResourceRelation      `json:"resource_relations,omitempty"`
	OtherRecordIDs    []*OtherRecordID         `json:"other_record_ids,omitempty"`
	ControlMetadata   []*ControlMetadata       `json:"control_metadata,omitempty"`
}

// Entities returns the top-level sub-entities in a stable order.
func (c *Constellation) Entities() []Entity {
	var out []Entity
	for _, e := range c.Names {
		out = append(out, e)
	}
	for _, e := range c.Dates {
		out = append(out, e)
	}
	for _, e := range c.Places {
		out = append(out, e)
	}
	for _, e := range c.Sources {
		out = append(out, e)
	}
	for _, e := range c.Subjects {
		out = append(out, e)
	}
	for _, e := range c.Occupations {
		out = append(out, e)
	}
	for _, e := range c.Functions {
		out = append(out, e)
	}
	for _, e := range c.Languages {
		out = append(out, e)
	}
	for _, e := range c.BiogHists {
		out = append(out, e)
	}
	for _, e := range c.Relations {
		out = append(out, e)
	}
	for _, e := range c.ResourceRelations {
		out = append(out, e)
	}
	for _, e := range c.OtherRecordIDs {
		out = append(out, e)
	}
	for _, e := range c.ControlMetadata {
		out = append(out, e)
	}
	return out
}

// Add appends a top-level entity to its typed collection.
func (c *Constellation) Add(e Entity) error {
	switch v := e.(type) {
	case *NameEntry:
		c.Names = append(c.Names, v)
	case *Date:
		c.Dates = append(c.Dates, v)
	case *Place:
		c.Places = append(c.Places, v)
	case *Source:
		c.Sources = append(c.Sources, v)
	case *Subject:
		c.Subjects = append(c.Subjects, v)
	case *Occupation:
		c.Occupations = append(c.Occupations, v)
	case *Function:
		c.Functions = append(c.Functions, v)
	case *Language:
		c.Languages = append(c.Languages, v)
	case *BiogHist:
		c.BiogHists = append(c.BiogHists, v)
	case *ConstellationRelation:
		c.Relations = append(c.Relations, v)
	case *ResourceRelation:
		c.ResourceRelations = append(c.ResourceRelations, v)
	case *OtherRecordID:
		c.OtherRecordIDs = append(c.OtherRecordIDs, v)
	case *ControlMetadata:
		c.ControlMetadata = append(c.ControlMetadata, v)
	default:
		return fmt.Errorf("%s cannot be a top-level entity", e.Kind())
	}
	return nil
}

// Find returns the entity (at any depth) with the given id.
func (c *Constellation) Find(id int64) Entity {
	var found Entity
	for _, top := range c.Entities() {
		Walk(top, func(e Entity) {
			if found == nil && e.Meta().ID == id {
				found = e
			}
		})
		if found != nil {
			return found
		}
	}
	return nil
}

// Head is the mutable per-constellation pointer. The editing lock lives here
// as data: LockHolder is set while Status is locked_editing.
type Head struct {
	ICID        int64
	Version     int64
	Status      Status
	LockHolder  string
	PriorStatus Status
	ArkID       string
	EntityType  EntityType
	UpdatedAt   time.Time
}

// HistoryEntry is one row of the append-only version-history ledger.
type HistoryEntry struct {
	ICID       int64      `json:"ic_id"`
	Version    int64      `json:"version"`
	Status     Status     `json:"status"`
	Actor      string     `json:"actor"`
	Note       string     `json:"note,omitempty"`
	ArkID      string     `json:"ark_id,omitempty"`
	EntityType EntityType `json:"entity_type"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Row is one stored version of one sub-entity. Rows are never updated.
type Row struct {
	EntityID int64
	Version  int64
	ICID     int64
	ParentID int64
	Kind     Kind
	Deleted  bool
	Payload  []byte
}

// Redirect maps a merged-away constellation to its survivor.
type Redirect struct {
	FromICID  int64
	ToICID    int64
	Version   int64
	CreatedAt time.Time
}

// NameRow is a current name of an active constellation, used by duplicate detection.
type NameRow struct {
	ICID     int64
	EntryID  int64
	Original string
}

// Assemble builds the top-level entity forest from the rows visible at one
// version. Tombstoned rows and orphans of tombstoned parents are dropped.
func Assemble(rows []Row) ([]Entity, error) {
	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EntityID < sorted[j].EntityID })

	byID := make(map[int64]Entity, len(sorted))
	for _, r := range sorted {
		if r.Deleted {
			continue
		}
		e, err := DecodePayload(r.Kind, r.Payload)
		if err != nil {
			return nil, err
		}
		*e.Meta() = Header{ID: r.EntityID, Version: r.Version}
		byID[r.EntityID] = e
	}

	var top []Entity
	for _, r := range sorted {
		e, ok := byID[r.EntityID]
		if !ok {
			continue
		}
		if r.ParentID == 0 {
			top = append(top, e)
			continue
		}
		parent, ok := byID[r.ParentID]
		if !ok {
			continue
		}
		if err := parent.Attach(e); err != nil {
			return nil, fmt.Errorf("assemble entity %d: %w", r.EntityID, err)
		}
	}
	return top, nil
}

// editEnvelope is the tagged-union wire form of one submitted entity.
type editEnvelope struct {
	Kind   Kind            `json:"kind"`
	Entity json.RawMessage `json:"entity"`
}

// EntityList is the wire form of a list of top-level entities: a JSON
// array of {"kind", "entity"} envelopes.
type EntityList []Entity

func (l EntityList) MarshalJSON() ([]byte, error) {
	envs := make([]editEnvelope, 0, len(l))
	for _, e := range l {
		b, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		envs = append(envs, editEnvelope{Kind: e.Kind(), Entity: b})
	}
	return json.Marshal(envs)
}

func (l *EntityList) UnmarshalJSON(data []byte) error {
	var envs []editEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return err
	}
	out := make(EntityList, 0, len(envs))
	for i, env := range envs {
		e, err := DecodePayload(env.Kind, env.Entity)
		if err != nil {
			return fmt.Errorf("entities[%d]: %w", i, err)
		}
		out = append(out, e)
	}
	*l = out
	return nil
}

// EditSet is a list of top-level entities with operation tags. Nested
// children carry their own tags.
type EditSet struct {
	Entities []Entity
}

func (s EditSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Entities EntityList `json:"entities"`
	}{Entities: s.Entities})
}

func (s *EditSet) UnmarshalJSON(data []byte) error {
	var wire struct {
		Entities EntityList `json:"entities"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	s.Entities = wire.Entities
	if s.Entities == nil {
		s.Entities = []Entity{}
	}
	return nil
}

// Validate checks every submitted entity at the boundary.
func (s EditSet) Validate() error {
	for _, e := range s.Entities {
		if e == nil {
			return &ValidationError{Field: "entities", Reason: "must not contain null entries"}
		}
		if e.Kind() == KindNameComponent {
			return &ValidationError{Field: "entities", Reason: "name_component must be nested under a name_entry"}
		}
		if err := ValidateEdit(e); err != nil {
			return err
		}
	}
	return nil
}

// CommitOutcome distinguishes a written version from an edit that changed nothing.
type CommitOutcome string

const (
	OutcomeCommitted CommitOutcome = "committed"
	OutcomeNoOp      CommitOutcome = "no_op"
)

// CommitResult is returned by every write. NoOp results keep the prior version.
type CommitResult struct {
	ICID        int64         `json:"ic_id"`
	Version     int64         `json:"version"`
	Outcome     CommitOutcome `json:"outcome"`
	ChangedRows int           `json:"changed_rows"`
}

// CheckoutResult reports the lock acquired by a checkout.
type CheckoutResult struct {
	ICID       int64  `json:"ic_id"`
	Version    int64  `json:"version"`
	LockHolder string `json:"lock_holder"`
}
