package model

import "time"

// WorkerStatus is a worker's liveness/availability state (spec §3, §4.G).
type WorkerStatus string

const (
	WorkerOnline     WorkerStatus = "online"
	WorkerDraining   WorkerStatus = "draining"
	WorkerOffline    WorkerStatus = "offline"
)

// Worker is the coordinator's view of a registered transcode worker.
// It is ephemeral: rows live in the registry's in-memory table, not the
// durable store, and are rebuilt only when a worker registers again after a
// restart; a heartbeat from a worker the registry does not know is rejected.
type Worker struct {
	ID           string       `json:"id"`
	Hostname     string       `json:"hostname"`
	Capabilities []string     `json:"capabilities"`
	Status       WorkerStatus `json:"status"`

	RegisteredAt  time.Time `json:"registered_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`

	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`

	CurrentFileID int64 `json:"current_file_id,omitempty"`

	CompletedCount int64 `json:"completed_count"`
	FailedCount    int64 `json:"failed_count"`
}

// HasCapability reports whether the worker advertised a given capability
// string (e.g. an encoder name or a hardware tag).
func (w *Worker) HasCapability(cap string) bool {
	for _, c := range w.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// IsAvailable reports whether the worker can be handed new work.
func (w *Worker) IsAvailable() bool {
	return w.Status == WorkerOnline && w.CurrentFileID == 0
}

// Assignment is the lease binding a FileRecord to a Worker for the
// duration of one transcode attempt. The LeaseToken guards against a
// reaped assignment being resurrected by a late worker report (spec §9).
type Assignment struct {
	FileID     int64     `json:"file_id"`
	WorkerID   string     `json:"worker_id"`
	LeaseToken string     `json:"lease_token"`
	LeasedAt   time.Time  `json:"leased_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// Expired reports whether the lease has run out as of now.
func (a *Assignment) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
