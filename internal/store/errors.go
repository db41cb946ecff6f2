package store

import (
	"errors"
	"fmt"
)

// Sentinel errors, in the teacher's internal/jobs/errors.go style:
// plain errors.New values, wrapped with fmt.Errorf("%w: ...") at call
// sites that need extra context.
var (
	ErrFileNotFound            = errors.New("file not found")
	ErrStaleLease              = errors.New("lease token does not match current assignment")
	ErrNotPending              = errors.New("file is not pending")
	ErrNotAssignedOrProcessing = errors.New("file is not assigned or processing")
	ErrAssignmentConflict      = errors.New("file was claimed by another worker")
	ErrInsufficientSavings     = errors.New("output does not meet minimum savings threshold")
)

func fileNotFound(id int64) error {
	return fmt.Errorf("%w: id=%d", ErrFileNotFound, id)
}

func staleLease(fileID int64) error {
	return fmt.Errorf("%w: file_id=%d", ErrStaleLease, fileID)
}

func insufficientSavings(fileID int64) error {
	return fmt.Errorf("%w: file_id=%d", ErrInsufficientSavings, fileID)
}
