package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gwlsn/avfarm/internal/apitypes"
	"github.com/gwlsn/avfarm/internal/eventbus"
	"github.com/gwlsn/avfarm/internal/lifecycle"
	"github.com/gwlsn/avfarm/internal/registry"
	"github.com/gwlsn/avfarm/internal/scan"
	"github.com/gwlsn/avfarm/internal/scheduler"
	"github.com/gwlsn/avfarm/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := registry.New(st, 0, 0)
	sch := scheduler.New(st, reg, "oldest_mtime", 0)
	bus := eventbus.New(0)
	lc := lifecycle.New(st, bus, 0, 0)
	sc := scan.New(st, []string{t.TempDir()})

	return New(st, reg, sch, lc, bus, sc, nil), st
}

func TestRegisterThenNext_NoWorkWhenQueueEmpty(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	body := strings.NewReader(`{"worker_id":"w1","hostname":"h1","capabilities":["x264"]}`)
	resp, err := http.Post(srv.URL+"/workers/register", "application/json", body)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp2, err := http.Get(srv.URL + "/workers/w1/next")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	defer resp2.Body.Close()
	var next apitypes.NextResponse
	if err := json.NewDecoder(resp2.Body).Decode(&next); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !next.NoWork {
		t.Fatalf("expected no work on an empty queue, got %+v", next)
	}
}

func TestHeartbeat_UnknownWorkerIs404(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/workers/ghost/heartbeat", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestStatus_ReturnsStatsAndWorkers(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	http.Post(srv.URL+"/workers/register", "application/json", strings.NewReader(`{"worker_id":"w1","hostname":"h1"}`))

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAdminScan_ReportsResult(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/admin/scan", "application/json", nil)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
