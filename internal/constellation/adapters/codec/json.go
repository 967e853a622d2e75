// Package codec converts external record documents to edit-sets and
// snapshots back to documents.
package codec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"icstore/internal/constellation/models"
	"icstore/internal/constellation/ports"
)

const maxDocumentBytes = 8 << 20

// JSON reads documents of the form
//
//	{"entity_type": "person", "ark_id": "...", "entities": [{"kind": "name_entry", "entity": {...}}]}
//
// and writes snapshots as the constellation's JSON form.
type JSON struct {
	Indent string
}

var _ ports.Codec = JSON{}

func (JSON) Parse(_ context.Context, r io.Reader) (*ports.Document, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if len(raw) > maxDocumentBytes {
		return nil, &models.ValidationError{Field: "document", Reason: "exceeds 8 MiB"}
	}

	var head struct {
		EntityType models.EntityType `json:"entity_type"`
		ArkID      string            `json:"ark_id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, &models.ValidationError{Field: "document", Reason: err.Error()}
	}
	var edits models.EditSet
	if err := json.Unmarshal(raw, &edits); err != nil {
		return nil, &models.ValidationError{Field: "entities", Reason: err.Error()}
	}
	if err := edits.Validate(); err != nil {
		return nil, err
	}
	return &ports.Document{EntityType: head.EntityType, ArkID: head.ArkID, Edits: edits}, nil
}

func (c JSON) Serialize(_ context.Context, w io.Writer, snapshot *models.Constellation) error {
	if snapshot == nil {
		return fmt.Errorf("serialize: nil constellation")
	}
	enc := json.NewEncoder(w)
	if c.Indent != "" {
		enc.SetIndent("", c.Indent)
	}
	if err := enc.Encode(snapshot); err != nil {
		return fmt.Errorf("serialize constellation %d: %w", snapshot.ICID, err)
	}
	return nil
}
