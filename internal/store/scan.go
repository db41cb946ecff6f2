package store

import (
	"database/sql"
	"time"

	"github.com/gwlsn/avfarm/internal/model"
)

// fileColumns lists the files columns in the exact order scanFile expects.
const fileColumns = `
	id, path, directory, filename, size_bytes, mtime,
	status, priority, preferred_worker_id, pinned_at,
	assigned_worker_id, assigned_at, last_progress_at, lease_token,
	source_codec, source_resolution, source_audio_codec, source_bitrate, hdr_kind,
	target_crf, target_audio_bitrate,
	output_size_bytes, savings_bytes, savings_percent,
	attempt_count, last_error_kind, last_error_message, error_at, skip_reason,
	created_at, updated_at, completed_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(row rowScanner) (*model.FileRecord, error) {
	var f model.FileRecord
	var mtime, pinnedAt, assignedAt, lastProgressAt, errorAt, createdAt, updatedAt, completedAt sql.NullString
	var status, hdrKind, errKind, skipReason string

	err := row.Scan(
		&f.ID, &f.Path, &f.Directory, &f.Filename, &f.SizeBytes, &mtime,
		&status, &f.Priority, &f.PreferredWorkerID, &pinnedAt,
		&f.AssignedWorkerID, &assignedAt, &lastProgressAt, &f.LeaseToken,
		&f.SourceCodec, &f.SourceResolution, &f.SourceAudioCodec, &f.SourceBitrate, &hdrKind,
		&f.TargetCRF, &f.TargetAudioBitrate,
		&f.OutputSizeBytes, &f.SavingsBytes, &f.SavingsPercent,
		&f.AttemptCount, &errKind, &f.LastErrorMessage, &errorAt, &skipReason,
		&createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	f.Status = model.Status(status)
	f.HDRKind = model.HDRKind(hdrKind)
	f.LastErrorKind = model.ErrorKind(errKind)
	f.SkipReason = model.SkipReason(skipReason)

	f.MTime = parseTime(mtime.String)
	f.PinnedAt = parseTimePtr(pinnedAt.String)
	f.AssignedAt = parseTimePtr(assignedAt.String)
	f.LastProgressAt = parseTimePtr(lastProgressAt.String)
	f.ErrorAt = parseTimePtr(errorAt.String)
	f.CreatedAt = parseTime(createdAt.String)
	f.UpdatedAt = parseTime(updatedAt.String)
	f.CompletedAt = parseTimePtr(completedAt.String)

	return &f, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
