package models

import "time"

// MaybeSameStatus is the vote state of a duplicate suggestion.
type MaybeSameStatus string

const (
	MaybeSamePending   MaybeSameStatus = "pending"
	MaybeSameConfirmed MaybeSameStatus = "confirmed"
	MaybeSameRejected  MaybeSameStatus = "rejected"
)

// IsValid reports whether s is a known maybe-same status.
func (s MaybeSameStatus) IsValid() bool {
	switch s {
	case MaybeSamePending, MaybeSameConfirmed, MaybeSameRejected:
		return true
	}
	return false
}

// MaybeSame is a suggestion that two constellations describe the same
// identity. The pair is always stored with ICID1 < ICID2.
type MaybeSame struct {
	ICID1     int64           `json:"ic_id1"`
	ICID2     int64           `json:"ic_id2"`
	Status    MaybeSameStatus `json:"status"`
	Note      string          `json:"note,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CanonicalPair orders a pair of constellation ids. Identical ids are rejected.
func CanonicalPair(a, b int64) (int64, int64, error) {
	if a <= 0 || b <= 0 {
		return 0, 0, &ValidationError{Field: "ic_id", Reason: "must be positive"}
	}
	if a == b {
		return 0, 0, &ValidationError{Field: "ic_id", Reason: "a constellation cannot be paired with itself"}
	}
	if a > b {
		a, b = b, a
	}
	return a, b, nil
}

// LegacyMaybeSame is a directional suggestion from the pre-canonical table.
// Both orientations of the same pair may exist.
type LegacyMaybeSame struct {
	ID       int64
	FromICID int64
	ToICID   int64
	Note     string
	Migrated bool
}
