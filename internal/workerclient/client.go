// Package workerclient is the avworker process's control-plane client: it
// registers with the coordinator, heartbeats, polls for work, and drives a
// claimed file through download -> probe -> QualityPolicy -> transcode ->
// upload -> report (spec §4.D's Transcoder contract end to end).
package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/gwlsn/avfarm/internal/apitypes"
	"github.com/gwlsn/avfarm/internal/ffmpeg"
	"github.com/gwlsn/avfarm/internal/logger"
	"github.com/gwlsn/avfarm/internal/model"
	"github.com/gwlsn/avfarm/internal/quality"
	"github.com/gwlsn/avfarm/internal/transfer"
)

// Config configures one avworker process.
type Config struct {
	CoordinatorURL    string
	WorkerID          string
	Hostname          string
	Capabilities      []string
	WorkDir           string
	FFprobePath       string
	FFmpegPath        string
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}
}

// Worker drives the control loop against one coordinator.
type Worker struct {
	cfg      Config
	http     *http.Client
	transfer *transfer.Client
	prober   *ffmpeg.Prober
	coder    *ffmpeg.Transcoder

	currentFileID int64
	cancelCurrent context.CancelFunc
}

// New creates a Worker. Call Run to start the control loop.
func New(cfg Config) *Worker {
	cfg.setDefaults()
	return &Worker{
		cfg:      cfg,
		http:     &http.Client{Timeout: 30 * time.Second},
		transfer: transfer.New(cfg.CoordinatorURL),
		prober:   ffmpeg.NewProber(cfg.FFprobePath),
		coder:    ffmpeg.NewTranscoder(cfg.FFmpegPath),
	}
}

// Run registers with the coordinator then blocks, heartbeating and polling
// for work until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.register(ctx); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	log := logger.ForWorker(w.cfg.WorkerID)
	log.Info("registered", "coordinator", w.cfg.CoordinatorURL)

	hbTicker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer hbTicker.Stop()

	pollTicker := time.NewTicker(w.cfg.PollInterval)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hbTicker.C:
			if directive, err := w.heartbeat(ctx); err != nil {
				log.Warn("heartbeat failed", "error", err)
			} else if directive.CancelLeaseToken != "" && w.cancelCurrent != nil {
				log.Info("cancelling current assignment on operator directive")
				w.cancelCurrent()
			}
		case <-pollTicker.C:
			if w.currentFileID != 0 {
				continue
			}
			if err := w.pollAndProcess(ctx); err != nil {
				log.Warn("assignment processing failed", "error", err)
			}
		}
	}
}

func (w *Worker) register(ctx context.Context) error {
	req := apitypes.RegisterRequest{
		WorkerID: w.cfg.WorkerID, Hostname: w.cfg.Hostname, Capabilities: w.cfg.Capabilities,
	}
	var resp apitypes.RegisterResponse
	return backoff.Retry(func() error {
		return w.postJSON(ctx, "/workers/register", req, &resp)
	}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5))
}

func (w *Worker) heartbeat(ctx context.Context) (apitypes.HeartbeatResponse, error) {
	req := apitypes.HeartbeatRequest{
		CPUPercent: readCPUPercent(),
		MemPercent: readMemPercent(),
	}
	if w.currentFileID != 0 {
		req.Current = &apitypes.CurrentProgress{FileID: w.currentFileID}
	}
	var resp apitypes.HeartbeatResponse
	err := w.postJSON(ctx, fmt.Sprintf("/workers/%s/heartbeat", w.cfg.WorkerID), req, &resp)
	return resp, err
}

func (w *Worker) pollAndProcess(ctx context.Context) error {
	var next apitypes.NextResponse
	url := fmt.Sprintf("%s/workers/%s/next", w.cfg.CoordinatorURL, w.cfg.WorkerID)
	if err := w.getJSON(ctx, url, &next); err != nil {
		return err
	}
	if next.NoWork || next.Assignment == nil {
		return nil
	}

	jobCtx, cancel := context.WithCancel(ctx)
	w.currentFileID = next.Assignment.FileID
	w.cancelCurrent = cancel
	defer func() {
		cancel()
		w.currentFileID = 0
		w.cancelCurrent = nil
	}()

	return w.process(jobCtx, next.Assignment)
}

// process runs one assignment end to end: download, probe, QualityPolicy,
// transcode, upload, report.
func (w *Worker) process(ctx context.Context, a *apitypes.Assignment) error {
	log := logger.ForWorker(w.cfg.WorkerID).With("file_id", a.FileID)

	sourcePath := filepath.Join(w.cfg.WorkDir, fmt.Sprintf("%d.src%s", a.FileID, filepath.Ext(a.Path)))
	defer os.Remove(sourcePath)

	if err := w.transfer.Download(ctx, a.FileID, a.LeaseToken, sourcePath); err != nil {
		return w.reportFailure(ctx, a, model.ErrKindTransferError, err)
	}

	profile, err := w.prober.Probe(ctx, sourcePath)
	if err != nil {
		kind := model.ErrKindMalformedSource
		if pe, ok := err.(*ffmpeg.ProbeError); ok && pe.Kind == ffmpeg.ProbeErrTimeout {
			kind = model.ErrKindProbeTimeout
		}
		return w.reportFailure(ctx, a, kind, err)
	}

	decision := quality.Evaluate(profile)
	if decision.IsSkip() {
		log.Info("skipping", "reason", decision.Skip)
		return w.reportSkip(ctx, a, model.SkipReason(decision.Skip))
	}

	outputPath := ffmpeg.BuildTempPath(sourcePath, w.cfg.WorkDir)
	defer os.Remove(outputPath)

	lastReport := time.Now()
	result, err := w.coder.Transcode(ctx, sourcePath, outputPath, profile.Duration, decision.Params, profile.Subtitles, func(p ffmpeg.Progress) {
		if time.Since(lastReport) < 200*time.Millisecond {
			return
		}
		lastReport = time.Now()
		w.reportProgress(ctx, a, p)
	})
	if err != nil {
		kind := model.ErrKindEncoderCrash
		if te, ok := err.(*ffmpeg.TranscodeError); ok && te.Kind == ffmpeg.TranscodeErrKilled {
			kind = model.ErrKindKilled
		}
		return w.reportFailure(ctx, a, kind, err)
	}

	if err := w.transfer.Upload(ctx, a.FileID, a.LeaseToken, result.OutputPath); err != nil {
		return w.reportFailure(ctx, a, model.ErrKindTransferError, err)
	}

	log.Info("completed", "output_size", result.OutputSize)
	return nil
}

func (w *Worker) reportProgress(ctx context.Context, a *apitypes.Assignment, p ffmpeg.Progress) {
	req := apitypes.ProgressRequest{
		LeaseToken: a.LeaseToken, Percent: p.Percent, FPS: p.FPS, ETASeconds: p.ETA.Seconds(), Phase: "transcoding",
	}
	var resp apitypes.OKResponse
	if err := w.postJSON(ctx, fmt.Sprintf("/files/%d/progress", a.FileID), req, &resp); err != nil {
		logger.ForWorker(w.cfg.WorkerID).Debug("progress report failed", "error", err)
	}
}

func (w *Worker) reportFailure(ctx context.Context, a *apitypes.Assignment, kind model.ErrorKind, cause error) error {
	req := apitypes.ReportRequest{
		LeaseToken: a.LeaseToken, Outcome: apitypes.OutcomeFailure,
		FailureKind: string(kind), Message: cause.Error(),
	}
	var resp apitypes.OKResponse
	w.postJSON(ctx, fmt.Sprintf("/files/%d/report", a.FileID), req, &resp)
	return cause
}

func (w *Worker) reportSkip(ctx context.Context, a *apitypes.Assignment, reason model.SkipReason) error {
	req := apitypes.ReportRequest{LeaseToken: a.LeaseToken, Outcome: apitypes.OutcomeSkip, SkipReason: string(reason)}
	var resp apitypes.OKResponse
	return w.postJSON(ctx, fmt.Sprintf("/files/%d/report", a.FileID), req, &resp)
}

func (w *Worker) postJSON(ctx context.Context, path string, body, out any) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.CoordinatorURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return w.doJSON(req, out)
}

func (w *Worker) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return w.doJSON(req, out)
}

func (w *Worker) doJSON(req *http.Request, out any) error {
	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("coordinator returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readCPUPercent() float64 {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0
	}
	return percents[0]
}

func readMemPercent() float64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return v.UsedPercent
}
