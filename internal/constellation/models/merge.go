package models

import "encoding/json"

// MergeResult reports a committed merge. Every participant was written at
// Version.
type MergeResult struct {
	SurvivorID  int64   `json:"survivor_ic_id"`
	Version     int64   `json:"version"`
	Tombstoned  []int64 `json:"tombstoned_ic_ids"`
	Skipped     []int64 `json:"skipped_ic_ids,omitempty"`
	ChangedRows int     `json:"changed_rows"`
}

// Discard is a sub-entity a curated merge would not carry into the survivor.
type Discard struct {
	ICID   int64
	Entity Entity
}

// MarshalJSON writes the discard with its kind so clients can render it.
func (d Discard) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ICID   int64  `json:"ic_id"`
		Kind   Kind   `json:"kind"`
		Entity Entity `json:"entity"`
	}{d.ICID, d.Entity.Kind(), d.Entity})
}

// MergePreview lists what a curated merge would discard.
type MergePreview struct {
	SurvivorID int64     `json:"survivor_ic_id"`
	Skipped    []int64   `json:"skipped_ic_ids,omitempty"`
	Discarded  []Discard `json:"discarded"`
}
