/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  internal domain model from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/r360/key-engine/keys"
)

// =============================================================================
// JOIN TABLE
// =============================================================================

// KeyRowDTO is one row of the published join table.
type KeyRowDTO struct {
	AccountID string `json:"account_id"`
	KeyValue  int64  `json:"key_value"`
}

// MappingDTO is the full published mapping for one key type.
type MappingDTO struct {
	KeyType  string      `json:"key_type"`
	Accounts int         `json:"accounts"`
	Rows     []KeyRowDTO `json:"rows"`
}

// HistoryEntryDTO is one audit row for an account.
type HistoryEntryDTO struct {
	RunID       string `json:"run_id"`
	PublishedAt string `json:"published_at"`
	KeyValue    int64  `json:"key_value"`
}

// =============================================================================
// RUNS
// =============================================================================

// RunRequest is the POST /api/runs body.
type RunRequest struct {
	Accounts []keys.RawAccount `json:"accounts"`
}

// RunResultDTO summarizes one key type's outcome.
type RunResultDTO struct {
	KeyType   string              `json:"key_type"`
	Accounts  int                 `json:"accounts"`
	NextKey   int64               `json:"next_key"`
	Published bool                `json:"published"`
	Stats     keys.ReconcileStats `json:"stats"`
}

// RunReportDTO is the full run outcome.
type RunReportDTO struct {
	RunID     string                  `json:"run_id"`
	StartedAt string                  `json:"started_at"`
	Accounts  int                     `json:"accounts"`
	Dropped   int                     `json:"dropped"`
	Results   map[string]RunResultDTO `json:"results"`
	Failures  map[string]string       `json:"failures,omitempty"`
}

// PublishDTO is one row of the publish log.
type PublishDTO struct {
	RunID       string `json:"run_id"`
	KeyType     string `json:"key_type"`
	PublishedAt string `json:"published_at"`
	Accounts    int    `json:"accounts"`
	NextKey     int64  `json:"next_key"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toRunReportDTO(r *keys.RunReport) RunReportDTO {
	dto := RunReportDTO{
		RunID:     r.RunID,
		StartedAt: r.StartedAt.Format(time.RFC3339),
		Accounts:  r.Accounts,
		Dropped:   r.Dropped,
		Results:   make(map[string]RunResultDTO, len(r.Results)),
	}
	for kt, res := range r.Results {
		dto.Results[string(kt)] = RunResultDTO{
			KeyType:   string(res.KeyType),
			Accounts:  len(res.Assignments),
			NextKey:   int64(res.NextKey),
			Published: res.Published,
			Stats:     res.Stats,
		}
	}
	if len(r.Failures) > 0 {
		dto.Failures = make(map[string]string, len(r.Failures))
		for kt, msg := range r.Failures {
			dto.Failures[string(kt)] = msg
		}
	}
	return dto
}
