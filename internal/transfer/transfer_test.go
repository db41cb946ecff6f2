package transfer

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gwlsn/avfarm/internal/hashutil"
)

func TestDownload_VerifiesContentHash(t *testing.T) {
	content := "the quick brown fox"
	hash, err := hashutil.Sum(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(ContentHashHeader, hash)
		io.WriteString(w, content)
	}))
	defer srv.Close()

	c := New(srv.URL)
	dest := filepath.Join(t.TempDir(), "out.mkv")
	if err := c.Download(context.Background(), 1, "lease-1", dest); err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != content {
		t.Fatalf("expected %q, got %q", content, string(got))
	}
}

func TestDownload_RejectsHashMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(ContentHashHeader, "deadbeef")
		io.WriteString(w, "some other content")
	}))
	defer srv.Close()

	c := New(srv.URL)
	dest := filepath.Join(t.TempDir(), "out.mkv")
	err := c.Download(context.Background(), 1, "lease-1", dest)
	if err == nil {
		t.Fatalf("expected a hash mismatch error")
	}
	var mismatch *HashMismatchError
	if !asHashMismatch(err, &mismatch) {
		t.Fatalf("expected *HashMismatchError, got %T: %v", err, err)
	}
}

func asHashMismatch(err error, target **HashMismatchError) bool {
	if m, ok := err.(*HashMismatchError); ok {
		*target = m
		return true
	}
	return false
}

func TestUpload_SendsHashAndSizeHeaders(t *testing.T) {
	var gotHash, gotSize string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHash = r.Header.Get(ContentHashHeader)
		gotSize = r.Header.Get("X-Output-Size")
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	src := filepath.Join(t.TempDir(), "result.mkv")
	if err := os.WriteFile(src, []byte("transcoded bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	wantHash, err := hashutil.Sum(strings.NewReader("transcoded bytes"))
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}

	c := New(srv.URL)
	if err := c.Upload(context.Background(), 1, "lease-1", src); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if gotHash != wantHash {
		t.Fatalf("expected hash header %q, got %q", wantHash, gotHash)
	}
	if gotSize != "16" {
		t.Fatalf("expected size header 16, got %q", gotSize)
	}
}
