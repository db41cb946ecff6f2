// Package apitypes holds the JSON request/response shapes of the
// coordinator's RPC surface (spec §6), shared by the HTTP server
// (internal/api) and the worker's HTTP client (internal/workerclient) so
// the two can never drift out of sync with each other.
package apitypes

type RegisterRequest struct {
	WorkerID     string   `json:"worker_id"`
	DisplayName  string   `json:"display_name"`
	Hostname     string   `json:"hostname"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

type RegisterResponse struct {
	Accepted      bool   `json:"accepted"`
	ConfigDigest  string `json:"config_digest"`
	ClusterConfig any    `json:"cluster_config"`
}

type CurrentProgress struct {
	FileID  int64   `json:"file_id"`
	Percent float64 `json:"percent"`
	FPS     float64 `json:"fps"`
	ETA     float64 `json:"eta"`
	Phase   string  `json:"phase"`
}

type HeartbeatRequest struct {
	CPUPercent float64          `json:"cpu"`
	MemPercent float64          `json:"mem"`
	Current    *CurrentProgress `json:"current,omitempty"`
}

type HeartbeatResponse struct {
	CancelLeaseToken string `json:"cancel,omitempty"`
	FadeOut          bool   `json:"fade_out"`
}

type NextResponse struct {
	Assignment *Assignment `json:"assignment,omitempty"`
	NoWork     bool         `json:"no_work,omitempty"`
}

// Assignment is what next_for hands a worker. The worker probes the
// downloaded source itself and runs QualityPolicy locally; the
// coordinator doesn't precompute EncodeParams because it never has the
// source bytes to probe.
type Assignment struct {
	FileID     int64  `json:"file_id"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	LeaseToken string `json:"lease_token"`
}

type ResultAcceptedResponse struct {
	Accepted       bool    `json:"accepted"`
	SavedBytes     int64   `json:"saved_bytes,omitempty"`
	SavingsPercent float64 `json:"savings_percent,omitempty"`
	Rejected       bool    `json:"rejected,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}

type ProgressRequest struct {
	LeaseToken string  `json:"lease_token"`
	Percent    float64 `json:"percent"`
	FPS        float64 `json:"fps"`
	ETASeconds float64 `json:"eta"`
	Phase      string  `json:"phase"`
	Message    string  `json:"message,omitempty"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

// OutcomeKind mirrors model.OutcomeKind for wire purposes, kept separate
// so apitypes has no dependency on the Store's internal model package.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
	OutcomeSkip    OutcomeKind = "skip"
)

type ReportRequest struct {
	LeaseToken string      `json:"lease_token"`
	Outcome    OutcomeKind `json:"outcome"`

	// Success fields.
	OutputSizeBytes int64 `json:"output_size_bytes,omitempty"`

	// Failure fields.
	FailureKind string `json:"failure_kind,omitempty"`
	Message     string `json:"message,omitempty"`

	// Skip fields.
	SkipReason string `json:"skip_reason,omitempty"`
}

type StatusResponse struct {
	Stats   any `json:"stats"`
	Workers any `json:"workers"`
	Files   any `json:"files"`
}
