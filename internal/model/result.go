package model

import (
	"fmt"
	"time"
)

// MaxResultErrors bounds the human-readable error list of a result.
const MaxResultErrors = 100

// FailedRow identifies an input row that was not persisted. Row is the
// zero-based index into the slice handed to the importer.
type FailedRow struct {
	Reason string `json:"reason"`
	Key    string `json:"key,omitempty"`
	Row    int    `json:"row"`
}

// ReconciliationResult is the outcome of one import run.
type ReconciliationResult struct {
	FailedRows []FailedRow `json:"failed_rows,omitempty"`
	Errors     []string    `json:"errors"`
	Total      int         `json:"total"`
	Inserted   int         `json:"inserted"`
	Updated    int         `json:"updated"`
	Cancelled  bool        `json:"cancelled,omitempty"`

	droppedErrors int
}

// AddError records a human-readable error, keeping at most MaxResultErrors.
func (r *ReconciliationResult) AddError(msg string) {
	if len(r.Errors) < MaxResultErrors {
		r.Errors = append(r.Errors, msg)
		return
	}
	r.droppedErrors++
}

// ErrorList returns the recorded errors, with a trailer for any that were dropped.
func (r *ReconciliationResult) ErrorList() []string {
	out := make([]string, 0, len(r.Errors)+1)
	out = append(out, r.Errors...)
	if r.droppedErrors > 0 {
		out = append(out, fmt.Sprintf("... and %d more", r.droppedErrors))
	}
	return out
}

// Persisted returns the number of rows written.
func (r *ReconciliationResult) Persisted() int {
	return r.Inserted + r.Updated
}

// Success reports whether the run finished with no errors.
func (r *ReconciliationResult) Success() bool {
	return len(r.Errors) == 0 && r.droppedErrors == 0 && !r.Cancelled
}

// ImportSummary is the external shape of an import result.
type ImportSummary struct {
	Errors   []string `json:"errors"`
	Imported int      `json:"imported"`
	Updated  int      `json:"updated"`
	Success  bool     `json:"success"`
}

// Summary converts the result to its external shape.
func (r *ReconciliationResult) Summary() ImportSummary {
	return ImportSummary{
		Success:  r.Success(),
		Imported: r.Inserted,
		Updated:  r.Updated,
		Errors:   r.ErrorList(),
	}
}

// ImportRun is the persisted audit record of one import.
type ImportRun struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	ID         string    `json:"id"`
	SourceFile string    `json:"source_file"`
	Schema     Schema    `json:"schema"`
	Errors     []string  `json:"errors,omitempty"`
	Total      int       `json:"total"`
	Inserted   int       `json:"inserted"`
	Updated    int       `json:"updated"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Cancelled  bool      `json:"cancelled"`
}
