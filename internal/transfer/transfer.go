// Package transfer implements FileTransfer (spec §4.F): the worker side of
// the chunked, resumable byte-stream pair used to pull a source down and
// push a transcoded result back, with BLAKE3 verification on both legs.
package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/gwlsn/avfarm/internal/hashutil"
)

// ContentHashHeader carries the strong content hash the coordinator
// computed for a download, or the worker computed for an upload.
const ContentHashHeader = "X-Content-Hash"

// HashMismatchError is a retryable TransferError per spec §4.F: the
// end-to-end hash didn't match what the sender claimed.
type HashMismatchError struct {
	Want, Got string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("content hash mismatch: want %s, got %s", e.Want, e.Got)
}

// Client performs downloads and uploads against a coordinator base URL.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

// New creates a transfer Client against baseURL (e.g. http://coordinator:8080).
func New(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	return &Client{baseURL: baseURL, http: rc}
}

// Download streams GET /files/{id}/bytes into destPath, resuming from
// destPath's current size if it already exists (partial download from a
// prior attempt). It verifies the end-to-end BLAKE3 hash against the
// X-Content-Hash response header.
func (c *Client) Download(ctx context.Context, fileID int64, leaseToken, destPath string) error {
	offset, err := existingSize(destPath)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/files/%d/bytes?offset=%d", c.baseURL, fileID, offset)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Lease-Token", leaseToken)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("stale lease")
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("download failed: status %d", resp.StatusCode)
	}
	wantHash := resp.Header.Get(ContentHashHeader)

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(destPath, flags, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return err
	}

	if wantHash != "" {
		if err := verifyFileHash(destPath, wantHash); err != nil {
			return err
		}
	}
	return nil
}

// Upload streams srcPath to POST /files/{id}/result, attaching the
// computed content hash and exact byte count as headers the coordinator
// verifies before invoking SafeReplace.
func (c *Client) Upload(ctx context.Context, fileID int64, leaseToken, srcPath string) error {
	hash, size, err := hashAndSize(srcPath)
	if err != nil {
		return err
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()

	url := fmt.Sprintf("%s/files/%d/result", c.baseURL, fileID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, f)
	if err != nil {
		return err
	}
	req.Header.Set("X-Lease-Token", leaseToken)
	req.Header.Set(ContentHashHeader, hash)
	req.Header.Set("X-Output-Size", strconv.FormatInt(size, 10))
	req.ContentLength = size

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("upload rejected: status %d", resp.StatusCode)
	}
	return nil
}

func existingSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func verifyFileHash(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	got, err := hashutil.Sum(f)
	if err != nil {
		return err
	}
	if got != want {
		return &HashMismatchError{Want: want, Got: got}
	}
	return nil
}

func hashAndSize(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	hash, err := hashutil.Sum(f)
	if err != nil {
		return "", 0, err
	}
	return hash, info.Size(), nil
}
