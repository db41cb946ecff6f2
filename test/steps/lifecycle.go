package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cucumber/godog"

	"github.com/gwlsn/avfarm/internal/api"
	"github.com/gwlsn/avfarm/internal/apitypes"
	"github.com/gwlsn/avfarm/internal/config"
	"github.com/gwlsn/avfarm/internal/eventbus"
	"github.com/gwlsn/avfarm/internal/hashutil"
	"github.com/gwlsn/avfarm/internal/lifecycle"
	"github.com/gwlsn/avfarm/internal/model"
	"github.com/gwlsn/avfarm/internal/registry"
	"github.com/gwlsn/avfarm/internal/scan"
	"github.com/gwlsn/avfarm/internal/scheduler"
	"github.com/gwlsn/avfarm/internal/store"
)

// InitializeScenario registers every step of the lifecycle feature against
// a fresh World, torn down again after the scenario finishes.
func InitializeScenario(ctx *godog.ScenarioContext) {
	w := newWorld()
	var srv *httptest.Server

	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		var err error
		w.dir, err = os.MkdirTemp("", "avfarm-bdd-*")
		return c, err
	})

	ctx.After(func(c context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if srv != nil {
			srv.Close()
			srv = nil
		}
		if w.store != nil {
			w.store.Close()
		}
		os.RemoveAll(w.dir)
		*w = *newWorld()
		return c, nil
	})

	buildCoordinator := func(livenessTimeout, sweepInterval, pinGrace time.Duration, minSavingsPercent float64) error {
		dbPath := filepath.Join(w.dir, "avfarm.db")
		st, err := store.NewSQLiteStore(dbPath)
		if err != nil {
			return err
		}
		w.store = st
		w.registry = registry.New(st, livenessTimeout, sweepInterval)
		w.scheduler = scheduler.New(st, w.registry, "oldest_mtime", pinGrace)
		w.bus = eventbus.New(eventbus.DefaultBacklog)
		w.lifecycle = lifecycle.New(st, w.bus, lifecycle.DefaultMaxAttempts, minSavingsPercent)
		w.scanner = scan.New(st, []string{w.dir})
		w.minSavingsPercent = minSavingsPercent
		w.pinGrace = pinGrace

		cfg := config.DefaultCoordinatorConfig()
		cfg.MediaRoots = []string{w.dir}
		cfg.PinGrace = pinGrace
		cfg.MinSavingsPercent = minSavingsPercent
		apiSrv := api.New(st, w.registry, w.scheduler, w.lifecycle, w.bus, w.scanner, cfg)
		apiSrv.SetMinSavingsPercent(minSavingsPercent)
		srv = httptest.NewServer(apiSrv.Router())
		w.srvURL = srv.URL
		return nil
	}

	ctx.Step(`^a coordinator with MIN_SAVINGS_PCT (\d+)$`, func(pct int) error {
		return buildCoordinator(registry.DefaultLivenessTimeout, registry.DefaultSweepInterval, scheduler.DefaultPinGrace, float64(pct))
	})

	ctx.Step(`^a coordinator with a liveness timeout of (\d+)ms and a sweep interval of (\d+)ms$`, func(livenessMS, sweepMS int) error {
		return buildCoordinator(time.Duration(livenessMS)*time.Millisecond, time.Duration(sweepMS)*time.Millisecond, scheduler.DefaultPinGrace, lifecycle.DefaultMinSavingsPercent)
	})

	ctx.Step(`^a coordinator with a pin grace of (\d+)ms$`, func(pinGraceMS int) error {
		return buildCoordinator(registry.DefaultLivenessTimeout, registry.DefaultSweepInterval, time.Duration(pinGraceMS)*time.Millisecond, lifecycle.DefaultMinSavingsPercent)
	})

	ctx.Step(`^a scanned file "([^"]*)" of (\d+) bytes$`, func(relPath string, size int64) error {
		full := filepath.Join(w.dir, filepath.Base(relPath))
		if err := writeFileOfSize(full, size); err != nil {
			return err
		}
		added, err := w.store.UpsertScan(full, size, time.Now())
		if err != nil {
			return err
		}
		if !added {
			return fmt.Errorf("expected a new FileRecord for %s", full)
		}
		f, err := latestFileByPath(w.store, full)
		if err != nil {
			return err
		}
		w.lastFileID = f.ID
		return nil
	})

	ctx.Step(`^the file is pinned to worker "([^"]*)"$`, func(workerID string) error {
		_, err := w.store.SetPreferredWorker(w.lastFileID, workerID)
		return err
	})

	ctx.Step(`^worker "([^"]*)" is registered$`, func(workerID string) error {
		req := apitypes.RegisterRequest{WorkerID: workerID, Hostname: workerID + "-host"}
		var resp apitypes.RegisterResponse
		return w.postJSON("/workers/register", req, &resp)
	})

	ctx.Step(`^"([^"]*)" asks for the next assignment$`, func(workerID string) error {
		return w.pollNext(workerID)
	})

	ctx.Step(`^"([^"]*)" asks for the next assignment immediately$`, func(workerID string) error {
		return w.pollNext(workerID)
	})

	ctx.Step(`^"([^"]*)" is assigned "([^"]*)"$`, func(workerID, relPath string) error {
		lease, ok := w.leaseByWorker[workerID]
		if !ok || lease == "" {
			return fmt.Errorf("%s has no current assignment", workerID)
		}
		f, err := w.store.GetFile(w.lastFileID)
		if err != nil {
			return err
		}
		if f.AssignedWorkerID != workerID {
			return fmt.Errorf("expected %s to hold the assignment, got %q", workerID, f.AssignedWorkerID)
		}
		if filepath.Base(f.Path) != filepath.Base(relPath) {
			return fmt.Errorf("expected assignment for %s, got %s", relPath, f.Path)
		}
		return nil
	})

	ctx.Step(`^"([^"]*)" gets no work$`, func(workerID string) error {
		if lease, ok := w.leaseByWorker[workerID]; ok && lease != "" {
			return fmt.Errorf("expected no assignment for %s, got lease %q", workerID, lease)
		}
		return nil
	})

	ctx.Step(`^"([^"]*)" downloads, transcodes to (\d+) bytes, and uploads the result$`, func(workerID string, outputSize int64) error {
		return w.uploadResult(workerID, outputSize)
	})

	ctx.Step(`^the file is completed with output size (\d+) bytes$`, func(outputSize int64) error {
		f, err := w.store.GetFile(w.lastFileID)
		if err != nil {
			return err
		}
		if f.Status != model.StatusCompleted {
			return fmt.Errorf("expected completed, got %s", f.Status)
		}
		if f.OutputSizeBytes != outputSize {
			return fmt.Errorf("expected output size %d, got %d", outputSize, f.OutputSizeBytes)
		}
		return nil
	})

	ctx.Step(`^the savings percent is at least (\d+)$`, func(floor float64) error {
		f, err := w.store.GetFile(w.lastFileID)
		if err != nil {
			return err
		}
		if f.SavingsPercent < floor {
			return fmt.Errorf("expected savings_percent >= %v, got %v", floor, f.SavingsPercent)
		}
		return nil
	})

	ctx.Step(`^"([^"]*)" stops heartbeating$`, func(workerID string) error {
		// No-op: the fixture simply never sends another heartbeat for
		// workerID, letting the registry's liveness timeout do its work.
		return nil
	})

	ctx.Step(`^the sweeper runs after the liveness timeout elapses$`, func() error {
		stop := make(chan struct{})
		go w.registry.RunSweeper(stop)
		time.Sleep(120 * time.Millisecond)
		close(stop)
		return nil
	})

	ctx.Step(`^the pin grace elapses$`, func() error {
		time.Sleep(w.pinGrace + 30*time.Millisecond)
		return nil
	})

	ctx.Step(`^the file returns to pending with attempt count (\d+)$`, func(attempts int) error {
		f, err := w.store.GetFile(w.lastFileID)
		if err != nil {
			return err
		}
		if f.Status != model.StatusPending {
			return fmt.Errorf("expected pending, got %s", f.Status)
		}
		if f.AttemptCount != attempts {
			return fmt.Errorf("expected attempt_count %d, got %d", attempts, f.AttemptCount)
		}
		return nil
	})

	ctx.Step(`^"([^"]*)" is issued a lease token different from "([^"]*)"'s$`, func(later, earlier string) error {
		if w.leaseByWorker[later] == "" {
			return fmt.Errorf("%s has no lease token", later)
		}
		// earlier's map entry was never overwritten after its assignment was
		// reaped, so it still holds the lease token the reap invalidated.
		if w.leaseByWorker[later] == w.leaseByWorker[earlier] {
			return fmt.Errorf("expected a fresh lease token for %s, got the same one %s held", later, earlier)
		}
		return nil
	})

	ctx.Step(`^"([^"]*)"'s lease token is remembered as "([^"]*)"$`, func(workerID, name string) error {
		lease, ok := w.leaseByWorker[workerID]
		if !ok {
			return fmt.Errorf("%s has no current lease token", workerID)
		}
		w.remembered[name] = lease
		return nil
	})

	ctx.Step(`^"([^"]*)" reports completion using the "([^"]*)" lease token$`, func(workerID, name string) error {
		lease, ok := w.remembered[name]
		if !ok {
			return fmt.Errorf("no lease token remembered as %q", name)
		}
		req := apitypes.ReportRequest{LeaseToken: lease, Outcome: apitypes.OutcomeSuccess, OutputSizeBytes: 1}
		var resp apitypes.OKResponse
		return w.postJSON(fmt.Sprintf("/files/%d/report", w.lastFileID), req, &resp)
	})

	ctx.Step(`^the report is accepted by the transport but changes nothing$`, func() error {
		// A stale lease is a request the HTTP layer handles fully (it never
		// drops the connection) but the Store refuses to apply: the
		// meaningful assertion is the one in the next step, that the file's
		// state is exactly as it was before this call.
		if w.lastStatusCode == 0 {
			return fmt.Errorf("expected a completed HTTP round trip, got none")
		}
		return nil
	})

	ctx.Step(`^the file is still assigned to "([^"]*)"$`, func(workerID string) error {
		f, err := w.store.GetFile(w.lastFileID)
		if err != nil {
			return err
		}
		if f.AssignedWorkerID != workerID {
			return fmt.Errorf("expected %s to still hold the assignment, got %q", workerID, f.AssignedWorkerID)
		}
		return nil
	})

	ctx.Step(`^"([^"]*)" reports a skip with reason "([^"]*)"$`, func(workerID, reason string) error {
		lease := w.leaseByWorker[workerID]
		req := apitypes.ReportRequest{LeaseToken: lease, Outcome: apitypes.OutcomeSkip, SkipReason: reason}
		var resp apitypes.OKResponse
		return w.postJSON(fmt.Sprintf("/files/%d/report", w.lastFileID), req, &resp)
	})

	ctx.Step(`^the file is skipped with reason "([^"]*)"$`, func(reason string) error {
		f, err := w.store.GetFile(w.lastFileID)
		if err != nil {
			return err
		}
		if f.Status != model.StatusSkipped {
			return fmt.Errorf("expected skipped, got %s", f.Status)
		}
		if string(f.SkipReason) != reason {
			return fmt.Errorf("expected skip reason %q, got %q", reason, f.SkipReason)
		}
		return nil
	})

	ctx.Step(`^the upload is rejected for insufficient savings$`, func() error {
		var resp apitypes.ResultAcceptedResponse
		if err := json.Unmarshal(w.lastBody, &resp); err != nil {
			return err
		}
		if !resp.Rejected {
			return fmt.Errorf("expected the upload to be rejected, got %+v", resp)
		}
		return nil
	})

	ctx.Step(`^the original bytes at "([^"]*)" are unchanged$`, func(relPath string) error {
		full := filepath.Join(w.dir, filepath.Base(relPath))
		f, err := w.store.GetFile(w.lastFileID)
		if err != nil {
			return err
		}
		info, err := os.Stat(full)
		if err != nil {
			return err
		}
		if info.Size() != f.SizeBytes {
			return fmt.Errorf("original file size changed: recorded %d, on disk %d", f.SizeBytes, info.Size())
		}
		return nil
	})
}

func (w *World) postJSON(path string, body, out any) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return err
	}
	resp, err := w.client.Post(w.srvURL+path, "application/json", buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	w.lastStatusCode = resp.StatusCode
	w.lastBody, _ = io.ReadAll(resp.Body)
	if out != nil {
		return json.Unmarshal(w.lastBody, out)
	}
	return nil
}

func (w *World) pollNext(workerID string) error {
	resp, err := w.client.Get(fmt.Sprintf("%s/workers/%s/next", w.srvURL, workerID))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var next apitypes.NextResponse
	if err := json.NewDecoder(resp.Body).Decode(&next); err != nil {
		return err
	}
	if next.NoWork || next.Assignment == nil {
		w.leaseByWorker[workerID] = ""
		return nil
	}
	w.leaseByWorker[workerID] = next.Assignment.LeaseToken
	w.lastFileID = next.Assignment.FileID

	// A real worker's control loop heartbeats its current file_id on the
	// next tick after claiming work; the registry only learns what a
	// worker is holding through that heartbeat, so the fixture sends one
	// immediately rather than waiting out a real heartbeat interval.
	hbReq := apitypes.HeartbeatRequest{Current: &apitypes.CurrentProgress{FileID: next.Assignment.FileID}}
	var hbResp apitypes.HeartbeatResponse
	return w.postJSON(fmt.Sprintf("/workers/%s/heartbeat", workerID), hbReq, &hbResp)
}

// uploadResult drives the upload half of the worker contract directly
// against /files/{id}/result, standing in for workerclient.Worker.process
// (which needs a real ffmpeg/ffprobe on PATH this suite doesn't assume).
func (w *World) uploadResult(workerID string, outputSize int64) error {
	lease, ok := w.leaseByWorker[workerID]
	if !ok || lease == "" {
		return fmt.Errorf("%s has no current assignment to upload against", workerID)
	}

	body := bytes.Repeat([]byte{0xAB}, int(outputSize))
	hash, err := hashutil.Sum(bytes.NewReader(body))
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/files/%d/result", w.srvURL, w.lastFileID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-Lease-Token", lease)
	req.Header.Set("X-Content-Hash", hash)
	req.Header.Set("X-Output-Size", strconv.FormatInt(outputSize, 10))

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	w.lastStatusCode = resp.StatusCode
	w.lastBody, _ = io.ReadAll(resp.Body)
	return nil
}

func writeFileOfSize(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(size)
}

func latestFileByPath(s *store.SQLiteStore, path string) (*model.FileRecord, error) {
	_, files, err := s.SnapshotForUI(1000)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if f.Path == path {
			return f, nil
		}
	}
	return nil, fmt.Errorf("no FileRecord found for %s", path)
}

