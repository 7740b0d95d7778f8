// internal/pipeline/stats.go
package pipeline

import "time"

// Run status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Step keys in a run summary.
const (
	StepLinkScraping = "link_scraping"
	StepDataScraping = "data_scraping"
	StepDataCleaning = "data_cleaning"
	StepStoreUpdate  = "mongodb_update"
	StepFileCleanup  = "file_cleanup"
)

// RunStats is the summary of one orchestrator invocation. It is created at
// run start, extended as stages complete, and persisted exactly once at run
// end whatever the outcome.
type RunStats struct {
	StartTime       time.Time              `bson:"start_time" json:"start_time"`
	EndTime         time.Time              `bson:"end_time,omitempty" json:"end_time,omitempty"`
	Status          string                 `bson:"status" json:"status"`
	Steps           map[string]interface{} `bson:"steps" json:"steps"`
	DurationSeconds float64                `bson:"duration_seconds" json:"duration_seconds"`
	Error           string                 `bson:"error,omitempty" json:"error,omitempty"`
	VehiclesStored  int                    `bson:"vehicles_stored" json:"vehicles_stored"`
}

func newRunStats(now time.Time) *RunStats {
	return &RunStats{
		StartTime: now,
		Status:    StatusRunning,
		Steps:     make(map[string]interface{}),
	}
}

// finalize stamps the end time and duration.
func (s *RunStats) finalize(status string, now time.Time) {
	s.Status = status
	s.EndTime = now
	s.DurationSeconds = now.Sub(s.StartTime).Seconds()
}
