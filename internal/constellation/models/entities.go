package models

import (
	"fmt"
	"strings"
)

// Provenance is embedded by entities that may carry nested control metadata
// (for example a Date citing the source it was taken from).
type Provenance struct {
	Provenance []*ControlMetadata `json:"provenance,omitempty"`
}

func (p *Provenance) provenanceChildren() []Entity {
	out := make([]Entity, 0, len(p.Provenance))
	for _, m := range p.Provenance {
		out = append(out, m)
	}
	return out
}

func (p *Provenance) attachProvenance(parent Kind, child Entity) error {
	m, ok := child.(*ControlMetadata)
	if !ok {
		return fmt.Errorf("%s cannot own %s", parent, child.Kind())
	}
	p.Provenance = append(p.Provenance, m)
	sortByID(p.Provenance)
	return nil
}

func required(kind Kind, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: string(kind) + "." + field, Reason: "is required"}
	}
	return nil
}

func requiredOneOf(kind Kind, fields []string, values ...string) error {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return nil
		}
	}
	return &ValidationError{Field: string(kind) + "." + strings.Join(fields, "|"), Reason: "one of the fields is required"}
}

func nonEmpty(ids ...string) []string {
	var out []string
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// NameEntry is one authorized or variant name of the identity.
type NameEntry struct {
	Header
	Original   string           `json:"original"`
	Preference int              `json:"preference,omitempty"`
	Language   string           `json:"language,omitempty"`
	Script     string           `json:"script,omitempty"`
	Components []*NameComponent `json:"components,omitempty"`
	Provenance
}

func (n *NameEntry) Kind() Kind { return KindNameEntry }

func (n *NameEntry) Children() []Entity {
	out := make([]Entity, 0, len(n.Components)+len(n.Provenance.Provenance))
	for _, c := range n.Components {
		out = append(out, c)
	}
	return append(out, n.provenanceChildren()...)
}

func (n *NameEntry) Attach(child Entity) error {
	if c, ok := child.(*NameComponent); ok {
		n.Components = append(n.Components, c)
		sortByID(n.Components)
		return nil
	}
	return n.attachProvenance(n.Kind(), child)
}

func (n *NameEntry) Validate() error { return required(n.Kind(), "original", n.Original) }

func (n *NameEntry) shallow() Entity {
	cp := *n
	cp.Components = nil
	cp.Provenance = Provenance{}
	return &cp
}

// NameComponent is a typed part of a name (surname, forename, date, ...).
type NameComponent struct {
	Header
	Type  string `json:"type,omitempty"`
	Text  string `json:"text"`
	Order int    `json:"order,omitempty"`
}

func (c *NameComponent) Kind() Kind         { return KindNameComponent }
func (c *NameComponent) Children() []Entity { return nil }
func (c *NameComponent) Validate() error    { return required(c.Kind(), "text", c.Text) }
func (c *NameComponent) Attach(child Entity) error {
	return fmt.Errorf("%s cannot own %s", c.Kind(), child.Kind())
}

func (c *NameComponent) shallow() Entity {
	cp := *c
	return &cp
}

// Date is an existence date or date range.
type Date struct {
	Header
	FromDate string `json:"from_date,omitempty"`
	FromType string `json:"from_type,omitempty"`
	ToDate   string `json:"to_date,omitempty"`
	ToType   string `json:"to_type,omitempty"`
	IsRange  bool   `json:"is_range,omitempty"`
	Note     string `json:"note,omitempty"`
	Provenance
}

func (d *Date) Kind() Kind                { return KindDate }
func (d *Date) Children() []Entity        { return d.provenanceChildren() }
func (d *Date) Attach(child Entity) error { return d.attachProvenance(d.Kind(), child) }

func (d *Date) Validate() error {
	if err := requiredOneOf(d.Kind(), []string{"from_date", "to_date"}, d.FromDate, d.ToDate); err != nil {
		return err
	}
	if !d.IsRange && d.ToDate != "" && d.FromDate != "" {
		return &ValidationError{Field: "date.is_range", Reason: "from and to dates require is_range"}
	}
	return nil
}

func (d *Date) shallow() Entity {
	cp := *d
	cp.Provenance = Provenance{}
	return &cp
}

// Place is a geographic association.
type Place struct {
	Header
	Name   string `json:"name,omitempty"`
	TermID string `json:"term_id,omitempty"`
	Role   string `json:"role,omitempty"`
	Note   string `json:"note,omitempty"`
	Provenance
}

func (p *Place) Kind() Kind                { return KindPlace }
func (p *Place) Children() []Entity        { return p.provenanceChildren() }
func (p *Place) Attach(child Entity) error { return p.attachProvenance(p.Kind(), child) }
func (p *Place) TermIDs() []string         { return nonEmpty(p.TermID) }
func (p *Place) Validate() error {
	return requiredOneOf(p.Kind(), []string{"name", "term_id"}, p.Name, p.TermID)
}

func (p *Place) shallow() Entity {
	cp := *p
	cp.Provenance = Provenance{}
	return &cp
}

// Source is a bibliographic source cited by the constellation.
type Source struct {
	Header
	Citation string `json:"citation,omitempty"`
	URI      string `json:"uri,omitempty"`
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
}

func (s *Source) Kind() Kind         { return KindSource }
func (s *Source) Children() []Entity { return nil }
func (s *Source) Attach(child Entity) error {
	return fmt.Errorf("%s cannot own %s", s.Kind(), child.Kind())
}
func (s *Source) Validate() error {
	return requiredOneOf(s.Kind(), []string{"citation", "uri"}, s.Citation, s.URI)
}

func (s *Source) shallow() Entity {
	cp := *s
	return &cp
}

// Term is the common shape of vocabulary-backed entities.
type Term struct {
	TermID string `json:"term_id,omitempty"`
	Label  string `json:"label,omitempty"`
}

// Subject is a topical heading.
type Subject struct {
	Header
	Term
	Provenance
}

func (s *Subject) Kind() Kind                { return KindSubject }
func (s *Subject) Children() []Entity        { return s.provenanceChildren() }
func (s *Subject) Attach(child Entity) error { return s.attachProvenance(s.Kind(), child) }
func (s *Subject) TermIDs() []string         { return nonEmpty(s.TermID) }
func (s *Subject) Validate() error {
	return requiredOneOf(s.Kind(), []string{"term_id", "label"}, s.TermID, s.Label)
}

func (s *Subject) shallow() Entity {
	cp := *s
	cp.Provenance = Provenance{}
	return &cp
}

// Occupation is an occupation held by a person.
type Occupation struct {
	Header
	Term
	Provenance
}

func (o *Occupation) Kind() Kind                { return KindOccupation }
func (o *Occupation) Children() []Entity        { return o.provenanceChildren() }
func (o *Occupation) Attach(child Entity) error { return o.attachProvenance(o.Kind(), child) }
func (o *Occupation) TermIDs() []string         { return nonEmpty(o.TermID) }
func (o *Occupation) Validate() error {
	return requiredOneOf(o.Kind(), []string{"term_id", "label"}, o.TermID, o.Label)
}

func (o *Occupation) shallow() Entity {
	cp := *o
	cp.Provenance = Provenance{}
	return &cp
}

// Function is an activity performed by a corporate body or family.
type Function struct {
	Header
	Term
	Provenance
}

func (f *Function) Kind() Kind                { return KindFunction }
func (f *Function) Children() []Entity        { return f.provenanceChildren() }
func (f *Function) Attach(child Entity) error { return f.attachProvenance(f.Kind(), child) }
func (f *Function) TermIDs() []string         { return nonEmpty(f.TermID) }
func (f *Function) Validate() error {
	return requiredOneOf(f.Kind(), []string{"term_id", "label"}, f.TermID, f.Label)
}

func (f *Function) shallow() Entity {
	cp := *f
	cp.Provenance = Provenance{}
	return &cp
}

// Language is a language (and optionally script) used by the identity.
type Language struct {
	Header
	Term
	ScriptTermID string `json:"script_term_id,omitempty"`
}

func (l *Language) Kind() Kind         { return KindLanguage }
func (l *Language) Children() []Entity { return nil }
func (l *Language) Attach(child Entity) error {
	return fmt.Errorf("%s cannot own %s", l.Kind(), child.Kind())
}
func (l *Language) TermIDs() []string { return nonEmpty(l.TermID, l.ScriptTermID) }
func (l *Language) Validate() error {
	return requiredOneOf(l.Kind(), []string{"term_id", "label"}, l.TermID, l.Label)
}

func (l *Language) shallow() Entity {
	cp := *l
	return &cp
}

// BiogHist is a biographical or historical note.
type BiogHist struct {
	Header
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	Provenance
}

func (b *BiogHist) Kind() Kind                { return KindBiogHist }
func (b *BiogHist) Children() []Entity        { return b.provenanceChildren() }
func (b *BiogHist) Attach(child Entity) error { return b.attachProvenance(b.Kind(), child) }
func (b *BiogHist) Validate() error           { return required(b.Kind(), "text", b.Text) }

func (b *BiogHist) shallow() Entity {
	cp := *b
	cp.Provenance = Provenance{}
	return &cp
}

// ConstellationRelation links this identity to another constellation.
type ConstellationRelation struct {
	Header
	TargetICID int64  `json:"target_ic_id"`
	TargetArk  string `json:"target_ark,omitempty"`
	Type       string `json:"type"`
	Note       string `json:"note,omitempty"`
	Provenance
}

func (r *ConstellationRelation) Kind() Kind         { return KindRelation }
func (r *ConstellationRelation) Children() []Entity { return r.provenanceChildren() }
func (r *ConstellationRelation) Attach(child Entity) error {
	return r.attachProvenance(r.Kind(), child)
}

func (r *ConstellationRelation) Validate() error {
	if r.TargetICID <= 0 {
		return &ValidationError{Field: "constellation_relation.target_ic_id", Reason: "is required"}
	}
	return required(r.Kind(), "type", r.Type)
}

func (r *ConstellationRelation) shallow() Entity {
	cp := *r
	cp.Provenance = Provenance{}
	return &cp
}

// ResourceRelation links the identity to an archival resource.
type ResourceRelation struct {
	Header
	ResourceURI string `json:"resource_uri,omitempty"`
	Title       string `json:"title,omitempty"`
	Role        string `json:"role,omitempty"`
	Note        string `json:"note,omitempty"`
}

func (r *ResourceRelation) Kind() Kind         { return KindResourceRelation }
func (r *ResourceRelation) Children() []Entity { return nil }
func (r *ResourceRelation) Attach(child Entity) error {
	return fmt.Errorf("%s cannot own %s", r.Kind(), child.Kind())
}
func (r *ResourceRelation) Validate() error {
	return requiredOneOf(r.Kind(), []string{"resource_uri", "title"}, r.ResourceURI, r.Title)
}

func (r *ResourceRelation) shallow() Entity {
	cp := *r
	return &cp
}

// OtherRecordTypeMerged marks an identifier inherited from a merged-away constellation.
const OtherRecordTypeMerged = "MergedRecord"

// OtherRecordID is an external identifier for the same identity.
type OtherRecordID struct {
	Header
	Type string `json:"type,omitempty"`
	URI  string `json:"uri"`
}

func (o *OtherRecordID) Kind() Kind         { return KindOtherRecordID }
func (o *OtherRecordID) Children() []Entity { return nil }
func (o *OtherRecordID) Attach(child Entity) error {
	return fmt.Errorf("%s cannot own %s", o.Kind(), child.Kind())
}
func (o *OtherRecordID) Validate() error { return required(o.Kind(), "uri", o.URI) }

func (o *OtherRecordID) shallow() Entity {
	cp := *o
	return &cp
}

// ControlMetadata records where a statement came from and how it was made.
// It appears top-level or nested as provenance under another entity.
type ControlMetadata struct {
	Header
	SourceCitation  string `json:"source_citation,omitempty"`
	SubCitation     string `json:"sub_citation,omitempty"`
	DescriptiveRule string `json:"descriptive_rule,omitempty"`
	Language        string `json:"language,omitempty"`
	Note            string `json:"note,omitempty"`
}

func (m *ControlMetadata) Kind() Kind         { return KindControlMetadata }
func (m *ControlMetadata) Children() []Entity { return nil }
func (m *ControlMetadata) Attach(child Entity) error {
	return fmt.Errorf("%s cannot own %s", m.Kind(), child.Kind())
}
func (m *ControlMetadata) Validate() error {
	return requiredOneOf(m.Kind(), []string{"source_citation", "note"}, m.SourceCitation, m.Note)
}

func (m *ControlMetadata) shallow() Entity {
	cp := *m
	return &cp
}
