package model

import "time"

// Stats is the live aggregate snapshot served at snapshot_for_ui (§4.A, §6).
type Stats struct {
	PendingCount    int64 `json:"pending_count"`
	AssignedCount   int64 `json:"assigned_count"`
	ProcessingCount int64 `json:"processing_count"`
	CompletedCount  int64 `json:"completed_count"`
	FailedCount     int64 `json:"failed_count"`
	SkippedCount    int64 `json:"skipped_count"`

	TotalSourceBytes int64 `json:"total_source_bytes"`
	TotalSavedBytes  int64 `json:"total_saved_bytes"`

	WorkersOnline   int `json:"workers_online"`
	WorkersDraining int `json:"workers_draining"`
}

// DailyStats is one rolled-up row in stats_daily (§12 supplement).
type DailyStats struct {
	Day            string `json:"day"` // YYYY-MM-DD
	CompletedCount int64  `json:"completed_count"`
	FailedCount    int64  `json:"failed_count"`
	SkippedCount   int64  `json:"skipped_count"`
	SavedBytes     int64  `json:"saved_bytes"`
	RolledUpAt     time.Time `json:"rolled_up_at"`
}
