// Package api contains the JSON structs describing a run's outcome.
// The CLI prints them with --json and the worker and aggregate packages fill them in.
package api

import "time"

// ItemStatus is the final state of one work item.
type ItemStatus string

const (
	// StatusCropped means the item was fetched (or already present) and cropped.
	StatusCropped ItemStatus = "cropped"
	// StatusSkipped means the cropped output already existed.
	StatusSkipped ItemStatus = "skipped"
	// StatusDownloadFailed means the fetch failed; nothing was cropped.
	StatusDownloadFailed ItemStatus = "download_failed"
	// StatusCropFailed means the crop engine failed; the source file was kept.
	StatusCropFailed ItemStatus = "crop_failed"
	// StatusNotRun means the run was cancelled before the item was dispatched.
	StatusNotRun ItemStatus = "not_run"
)

// Failed reports whether the status counts as a failure.
func (s ItemStatus) Failed() bool {
	return s == StatusDownloadFailed || s == StatusCropFailed
}

// ItemResult is the outcome of one (model, scenario, variable, chunk).
type ItemResult struct {
	Key       string     `json:"key"`
	Model     string     `json:"model"`
	Scenario  string     `json:"scenario"`
	Variable  string     `json:"variable"`
	YearStart int        `json:"year_start"`
	YearEnd   int        `json:"year_end"`
	Status    ItemStatus `json:"status"`
	Output    string     `json:"output,omitempty"`
	Bytes     int64      `json:"bytes,omitempty"`
	Duration  float64    `json:"duration_seconds,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// StageResult is the outcome of a post stage (aggregation or combine) for
// one model/scenario directory.
type StageResult struct {
	Model    string `json:"model"`
	Scenario string `json:"scenario"`
	Output   string `json:"output,omitempty"`
	Files    int    `json:"files"`
	Error    string `json:"error,omitempty"`
}

// Summary is the report of one invocation.
type Summary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Total   int `json:"total"`
	Cropped int `json:"cropped"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	NotRun  int `json:"not_run"`

	Items        []ItemResult  `json:"items"`
	Combined     []StageResult `json:"combined,omitempty"`
	Aggregations []StageResult `json:"aggregations,omitempty"`
}

// Add records an item result and updates the counters.
func (s *Summary) Add(r ItemResult) {
	s.Items = append(s.Items, r)
	s.Total++
	switch {
	case r.Status == StatusCropped:
		s.Cropped++
	case r.Status == StatusSkipped:
		s.Skipped++
	case r.Status.Failed():
		s.Failed++
	default:
		s.NotRun++
	}
}

// StageFailures counts failed post-stage entries.
func (s *Summary) StageFailures() int {
	n := 0
	for _, r := range s.Combined {
		if r.Error != "" {
			n++
		}
	}
	for _, r := range s.Aggregations {
		if r.Error != "" {
			n++
		}
	}
	return n
}

// OK reports whether every item and stage succeeded and nothing was left undone.
func (s *Summary) OK() bool {
	return s.Failed == 0 && s.NotRun == 0 && s.StageFailures() == 0
}
