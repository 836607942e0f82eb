package models

import "time"

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

type PipelineRun struct {
	ID         string     `json:"id"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`

	PagesTotal      int     `json:"pages_total"`
	PagesFailed     int     `json:"pages_failed"`
	FailedOffsets   []int   `json:"failed_offsets"`
	CompletionRatio float64 `json:"completion_ratio"`
	RowsRetrieved   int     `json:"rows_retrieved"`

	RowsAfterDedup       int `json:"rows_after_dedup"`
	RowsAfterRequired    int `json:"rows_after_required"`
	RowsAfterCoercion    int `json:"rows_after_coercion"`
	RowsAfterCoordinates int `json:"rows_after_coordinates"`
	RowsClean            int `json:"rows_clean"`

	ReferenceAvailable bool    `json:"reference_available"`
	Scorer             string  `json:"scorer"`
	Threshold          float64 `json:"threshold"`
	MappedExact        int     `json:"mapped_exact"`
	MappedFuzzy        int     `json:"mapped_fuzzy"`
	Unknown            int     `json:"unknown"`
	UnmatchedCodes     int     `json:"unmatched_codes"`
}

func (r *PipelineRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
