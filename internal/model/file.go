// Package model defines the durable and in-memory record types shared by
// every component of the coordinator: the file queue state machine, the
// ephemeral worker registry, and the lease-backed assignment that ties
// them together.
package model

import "time"

// Status is a FileRecord's position in its state machine (spec §3, §4.I).
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// HDRKind classifies the dynamic-range metadata a Probe observed.
type HDRKind string

const (
	HDRNone        HDRKind = "none"
	HDR10          HDRKind = "hdr10"
	HDR10Plus      HDRKind = "hdr10plus"
	HDRDolbyVision HDRKind = "dolby_vision"
	HDRUnknown     HDRKind = "unknown"
)

// SkipReason names a terminal, non-error outcome (spec Glossary: Skip vs. Fail).
type SkipReason string

const (
	SkipDynamicHDRUnpreservable   SkipReason = "dynamic_hdr_unpreservable"
	SkipAlreadyEfficient          SkipReason = "already_efficient"
	SkipOutputSmallerThanThreshold SkipReason = "output_smaller_than_threshold"
	SkipNonVideo                  SkipReason = "non_video"
)

// ErrorKind classifies a failure so the coordinator, not the worker,
// decides the state transition (spec §7 propagation policy).
type ErrorKind string

const (
	ErrKindTransferError    ErrorKind = "transfer_error"
	ErrKindProbeTimeout     ErrorKind = "probe_timeout"
	ErrKindEncoderCrash     ErrorKind = "encoder_crash"
	ErrKindWorkerOffline    ErrorKind = "worker_offline"
	ErrKindStaleLease       ErrorKind = "stale_lease"
	ErrKindMalformedSource  ErrorKind = "malformed_source"
	ErrKindDiskFull         ErrorKind = "disk_full"
	ErrKindSafeReplaceFail  ErrorKind = "safe_replace_failed"
	ErrKindStalled          ErrorKind = "stalled"
	ErrKindKilled           ErrorKind = "killed"
)

// Retryable reports whether this error kind sends the file back to
// pending (true, subject to MAX_ATTEMPTS) or to failed (false).
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindTransferError, ErrKindProbeTimeout, ErrKindEncoderCrash,
		ErrKindWorkerOffline, ErrKindStaleLease, ErrKindStalled, ErrKindKilled:
		return true
	default:
		return false
	}
}

// FileRecord is the unit of work (spec §3).
type FileRecord struct {
	ID       int64  `json:"id"`
	Path     string `json:"path"`
	Directory string `json:"directory"`
	Filename string `json:"filename"`
	SizeBytes int64 `json:"size_bytes"`
	MTime     time.Time `json:"mtime"`

	Status Status `json:"status"`

	Priority           int32      `json:"priority"`
	PreferredWorkerID  string     `json:"preferred_worker_id,omitempty"`
	PinnedAt           *time.Time `json:"pinned_at,omitempty"`

	AssignedWorkerID string     `json:"assigned_worker_id,omitempty"`
	AssignedAt       *time.Time `json:"assigned_at,omitempty"`
	LastProgressAt   *time.Time `json:"last_progress_at,omitempty"`
	LeaseToken       string     `json:"lease_token,omitempty"`

	SourceCodec      string  `json:"source_codec,omitempty"`
	SourceResolution string  `json:"source_resolution,omitempty"`
	SourceAudioCodec string  `json:"source_audio_codec,omitempty"`
	SourceBitrate    int64   `json:"source_bitrate,omitempty"`
	HDRKind          HDRKind `json:"hdr_kind"`

	TargetCRF           int `json:"target_crf,omitempty"`
	TargetAudioBitrate  int `json:"target_audio_bitrate,omitempty"`

	OutputSizeBytes int64   `json:"output_size_bytes,omitempty"`
	SavingsBytes    int64   `json:"savings_bytes,omitempty"`
	SavingsPercent  float64 `json:"savings_percent,omitempty"`

	AttemptCount     int        `json:"attempt_count"`
	LastErrorKind    ErrorKind  `json:"last_error_kind,omitempty"`
	LastErrorMessage string     `json:"last_error_message,omitempty"`
	ErrorAt          *time.Time `json:"error_at,omitempty"`
	SkipReason       SkipReason `json:"skip_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the record will not transition without
// operator action.
func (f *FileRecord) IsTerminal() bool {
	return f.Status == StatusCompleted || f.Status == StatusFailed || f.Status == StatusSkipped
}

// IsInFlight reports whether the record currently holds a live assignment.
func (f *FileRecord) IsInFlight() bool {
	return f.Status == StatusAssigned || f.Status == StatusProcessing
}

// Copy returns a shallow copy, safe since FileRecord has no slice/map fields.
func (f *FileRecord) Copy() *FileRecord {
	c := *f
	return &c
}
