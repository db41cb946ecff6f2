// Package safereplace performs the atomic swap of a transcoded output into
// its source's place (spec §4.E). It is the sole writer of final video
// paths; every upload accepted through /files/{id}/result funnels through
// here once, while a success reported through /files/{id}/report alone is
// recorded without a swap.
package safereplace

import (
	"fmt"
	"os"
)

// ErrInsufficientSavings means the candidate didn't shrink the file enough
// to justify the swap; the caller should record this as a skip, not retry.
var ErrInsufficientSavings = fmt.Errorf("candidate does not meet minimum savings threshold")

// Replace swaps newPath into originalPath's place, backing the original up
// to originalPath+".bak" first. minSavingsPct is the MIN_SAVINGS_PERCENT
// threshold (0.10 means the new file must be at least 10% smaller).
// testingMode keeps the .bak file around instead of unlinking it, so tests
// can assert on the backup without a second transcode.
func Replace(originalPath, newPath string, minSavingsPct float64, testingMode bool) (bytesSaved int64, err error) {
	origInfo, err := os.Stat(originalPath)
	if err != nil {
		return 0, fmt.Errorf("stat original: %w", err)
	}
	newInfo, err := os.Stat(newPath)
	if err != nil {
		return 0, fmt.Errorf("stat candidate: %w", err)
	}

	maxAllowed := float64(origInfo.Size()) * (1 - minSavingsPct)
	if float64(newInfo.Size()) > maxAllowed {
		return 0, ErrInsufficientSavings
	}

	bakPath := originalPath + ".bak"
	if err := os.Rename(originalPath, bakPath); err != nil {
		return 0, fmt.Errorf("rename original to backup: %w", err)
	}

	if err := os.Rename(newPath, originalPath); err != nil {
		// Rollback: the original never left disk, only its name did.
		if rbErr := os.Rename(bakPath, originalPath); rbErr != nil {
			return 0, fmt.Errorf("rename candidate into place: %w (rollback also failed: %v)", err, rbErr)
		}
		return 0, fmt.Errorf("rename candidate into place: %w", err)
	}

	if !testingMode {
		if err := os.Remove(bakPath); err != nil {
			return 0, fmt.Errorf("unlink backup: %w", err)
		}
	}

	return origInfo.Size() - newInfo.Size(), nil
}

// IsBackupPath reports whether path is a SafeReplace backup file, the
// convention the scanner uses to avoid re-enqueueing an already-processed
// source's leftover .bak sibling.
func IsBackupPath(path string) bool {
	return len(path) > 4 && path[len(path)-4:] == ".bak"
}
