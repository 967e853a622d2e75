package handler

import (
	"strings"

	"icstore/internal/constellation/models"
	dErrors "icstore/pkg/domain-errors"
)

// validatable request bodies check and normalize themselves after decoding.
type validatable interface {
	Validate() error
}

const maxNoteLength = 2000

func validateNote(note *string) error {
	*note = strings.TrimSpace(*note)
	if len(*note) > maxNoteLength {
		return dErrors.Newf(dErrors.CodeValidation, "note must be at most %d characters", maxNoteLength)
	}
	return nil
}

// CreateRequest is the body of POST /constellations.
type CreateRequest struct {
	EntityType models.EntityType `json:"entity_type"`
	ArkID      string            `json:"ark_id"`
	Entities   models.EntityList `json:"entities"`
	Note       string            `json:"note"`
}

func (r *CreateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.ArkID = strings.TrimSpace(r.ArkID)
	if !r.EntityType.IsValid() {
		return &models.ValidationError{Field: "entity_type", Reason: "must be person, corporateBody or family"}
	}
	return validateNote(&r.Note)
}

// CommitRequest is the body of POST /constellations/{icID}/commit.
type CommitRequest struct {
	BaseVersion int64             `json:"base_version"`
	Entities    models.EntityList `json:"entities"`
	Note        string            `json:"note"`
}

func (r *CommitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.BaseVersion <= 0 {
		return &models.ValidationError{Field: "base_version", Reason: "is required"}
	}
	return validateNote(&r.Note)
}

// StatusRequest is the body of POST /constellations/{icID}/status.
type StatusRequest struct {
	Status models.Status `json:"status"`
	Note   string        `json:"note"`
}

func (r *StatusRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if !r.Status.IsValid() {
		return &models.ValidationError{Field: "status", Reason: "unknown status"}
	}
	return validateNote(&r.Note)
}

// NoteRequest carries only a note, for unlock and resurrect.
type NoteRequest struct {
	Note string `json:"note"`
}

func (r *NoteRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return validateNote(&r.Note)
}

// RevertRequest is the body of POST /constellations/{icID}/entities/{entityID}/revert.
type RevertRequest struct {
	ToVersion int64  `json:"to_version"`
	Note      string `json:"note"`
}

func (r *RevertRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.ToVersion <= 0 {
		return &models.ValidationError{Field: "to_version", Reason: "is required"}
	}
	return validateNote(&r.Note)
}

// MergeRequest is the body of POST /merges/auto.
type MergeRequest struct {
	ICIDs []int64 `json:"ic_ids"`
	Note  string  `json:"note"`
}

func (r *MergeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.ICIDs) < 2 {
		return &models.ValidationError{Field: "ic_ids", Reason: "a merge needs at least two constellations"}
	}
	return validateNote(&r.Note)
}

// ManualMergeRequest is the body of POST /merges/manual and /merges/preview.
type ManualMergeRequest struct {
	ICIDs               []int64           `json:"ic_ids"`
	Entities            models.EntityList `json:"entities"`
	AcknowledgeDiscards bool              `json:"acknowledge_discards"`
	Note                string            `json:"note"`
}

func (r *ManualMergeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.ICIDs) < 2 {
		return &models.ValidationError{Field: "ic_ids", Reason: "a merge needs at least two constellations"}
	}
	return validateNote(&r.Note)
}

// ProposeMaybeSameRequest is the body of POST /maybe-same.
type ProposeMaybeSameRequest struct {
	ICID1 int64  `json:"ic_id1"`
	ICID2 int64  `json:"ic_id2"`
	Note  string `json:"note"`
}

func (r *ProposeMaybeSameRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.ICID1 <= 0 || r.ICID2 <= 0 {
		return &models.ValidationError{Field: "ic_id", Reason: "both constellation ids are required"}
	}
	return validateNote(&r.Note)
}

// MaybeSameStatusRequest is the body of PUT /maybe-same/{a}/{b}.
type MaybeSameStatusRequest struct {
	Status models.MaybeSameStatus `json:"status"`
	Note   string                 `json:"note"`
}

func (r *MaybeSameStatusRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if !r.Status.IsValid() {
		return &models.ValidationError{Field: "status", Reason: "must be pending, confirmed or rejected"}
	}
	return validateNote(&r.Note)
}
