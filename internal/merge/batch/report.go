package batch

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Report is the outcome of one batch run. It is written as YAML so an
// operator can review it and feed it back to retry only the failures.
type Report struct {
	RunID      string        `yaml:"run_id"`
	RetryOf    string        `yaml:"retry_of,omitempty"`
	StartedAt  time.Time     `yaml:"started_at"`
	FinishedAt time.Time     `yaml:"finished_at"`
	Groups     int           `yaml:"groups"`
	Merged     []MergedGroup `yaml:"merged"`
	Failed     []FailedGroup `yaml:"failed"`
}

// MergedGroup is a candidate group that merged.
type MergedGroup struct {
	ICIDs      []int64 `yaml:"ic_ids,flow"`
	SurvivorID int64   `yaml:"survivor_ic_id"`
	Version    int64   `yaml:"version"`
	Skipped    []int64 `yaml:"skipped_ic_ids,flow,omitempty"`
}

// FailedGroup is a candidate group whose merge was rolled back.
type FailedGroup struct {
	ICIDs  []int64 `yaml:"ic_ids,flow"`
	Code   string  `yaml:"code"`
	Reason string  `yaml:"reason"`
}

// FailedICIDs returns the candidate sets to re-run.
func (r *Report) FailedICIDs() [][]int64 {
	out := make([][]int64, 0, len(r.Failed))
	for _, f := range r.Failed {
		out = append(out, f.ICIDs)
	}
	return out
}

// WriteReport encodes the report as YAML.
func WriteReport(w io.Writer, r *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode batch report: %w", err)
	}
	return enc.Close()
}

// ReadReport decodes a report written by WriteReport.
func ReadReport(r io.Reader) (*Report, error) {
	var report Report
	if err := yaml.NewDecoder(r).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode batch report: %w", err)
	}
	return &report, nil
}
