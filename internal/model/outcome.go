package model

// OutcomeKind tags the variant held by an Outcome (spec §9 design note:
// a tagged type instead of a string-typed error/status pair).
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
	OutcomeSkip    OutcomeKind = "skip"
)

// SuccessDetail carries the fields a completed transcode reports.
type SuccessDetail struct {
	OutputSizeBytes int64
	SavingsBytes    int64
	SavingsPercent  float64
}

// FailureDetail carries the fields a failed attempt reports.
type FailureDetail struct {
	Kind    ErrorKind
	Message string
}

// SkipDetail carries the reason a file was skipped without attempting work.
type SkipDetail struct {
	Reason SkipReason
}

// Outcome is the result a worker reports for one assignment. Exactly one
// of Success, Failure, Skip is populated, selected by Kind.
type Outcome struct {
	Kind    OutcomeKind
	Success *SuccessDetail
	Failure *FailureDetail
	Skip    *SkipDetail
}

func NewSuccessOutcome(d SuccessDetail) Outcome {
	return Outcome{Kind: OutcomeSuccess, Success: &d}
}

func NewFailureOutcome(d FailureDetail) Outcome {
	return Outcome{Kind: OutcomeFailure, Failure: &d}
}

func NewSkipOutcome(d SkipDetail) Outcome {
	return Outcome{Kind: OutcomeSkip, Skip: &d}
}
