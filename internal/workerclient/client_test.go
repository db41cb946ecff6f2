package workerclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gwlsn/avfarm/internal/apitypes"
)

func TestConfig_SetDefaults(t *testing.T) {
	cfg := Config{}
	cfg.setDefaults()
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("expected default poll interval, got %v", cfg.PollInterval)
	}
	if cfg.HeartbeatInterval != 10*time.Second {
		t.Fatalf("expected default heartbeat interval, got %v", cfg.HeartbeatInterval)
	}
	if cfg.WorkDir == "" {
		t.Fatalf("expected a default work dir")
	}
}

func TestRegister_PostsExpectedPayload(t *testing.T) {
	var gotReq apitypes.RegisterRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(apitypes.RegisterResponse{Accepted: true})
	}))
	defer srv.Close()

	w := New(Config{CoordinatorURL: srv.URL, WorkerID: "w1", Hostname: "h1", Capabilities: []string{"x264"}})
	if err := w.register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if gotReq.WorkerID != "w1" || gotReq.Hostname != "h1" {
		t.Fatalf("unexpected request: %+v", gotReq)
	}
}

func TestPollAndProcess_NoWorkIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apitypes.NextResponse{NoWork: true})
	}))
	defer srv.Close()

	w := New(Config{CoordinatorURL: srv.URL, WorkerID: "w1"})
	if err := w.pollAndProcess(context.Background()); err != nil {
		t.Fatalf("expected nil error on no-work response, got %v", err)
	}
	if w.currentFileID != 0 {
		t.Fatalf("expected no assignment to be recorded")
	}
}
