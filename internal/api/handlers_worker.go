package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gwlsn/avfarm/internal/apitypes"
	"github.com/gwlsn/avfarm/internal/hashutil"
	"github.com/gwlsn/avfarm/internal/logger"
	"github.com/gwlsn/avfarm/internal/model"
	"github.com/gwlsn/avfarm/internal/registry"
	"github.com/gwlsn/avfarm/internal/safereplace"
	"github.com/gwlsn/avfarm/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func fileIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "fileID"), 10, 64)
	return id, err == nil
}

// POST /workers/register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req apitypes.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.registry.Register(registry.Announcement{
		WorkerID:     req.WorkerID,
		Hostname:     req.Hostname,
		Capabilities: req.Capabilities,
	})
	logger.Component("api").Info("worker_registered", "worker_id", req.WorkerID, "hostname", req.Hostname)

	resp := apitypes.RegisterResponse{Accepted: true}
	if s.cfg != nil {
		digest, err := s.cfg.Digest()
		if err != nil {
			logger.Component("api").Warn("config_digest_failed", "err", err)
		} else {
			resp.ConfigDigest = digest
			resp.ClusterConfig = s.cfg
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /workers/{workerID}/heartbeat
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	var req apitypes.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var currentFileID int64
	if req.Current != nil {
		currentFileID = req.Current.FileID
	}
	directive, ok := s.registry.Heartbeat(workerID, registry.Telemetry{
		CPUPercent:    req.CPUPercent,
		MemoryPercent: req.MemPercent,
		CurrentFileID: currentFileID,
	})
	if !ok {
		http.Error(w, "unknown worker", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, apitypes.HeartbeatResponse{
		CancelLeaseToken: directive.CancelLease,
		FadeOut:          directive.ShouldFadeOut,
	})
}

// GET /workers/{workerID}/next
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	f, err := s.scheduler.NextFor(workerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if f == nil {
		writeJSON(w, http.StatusOK, apitypes.NextResponse{NoWork: true})
		return
	}
	writeJSON(w, http.StatusOK, apitypes.NextResponse{Assignment: &apitypes.Assignment{
		FileID:     f.ID,
		Path:       f.Path,
		Size:       f.SizeBytes,
		LeaseToken: f.LeaseToken,
	}})
}

// GET /files/{fileID}/bytes?offset=K
func (s *Server) handleDownloadBytes(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(r)
	if !ok {
		http.Error(w, "bad file id", http.StatusBadRequest)
		return
	}
	f, err := s.store.GetFile(fileID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if f == nil {
		http.NotFound(w, r)
		return
	}

	offset := int64(0)
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, _ = strconv.ParseInt(v, 10, 64)
	}

	src, err := os.Open(f.Path)
	if err != nil {
		http.Error(w, "source unreadable", http.StatusInternalServerError)
		return
	}
	defer src.Close()

	hash, err := hashutil.Sum(src)
	if err != nil {
		http.Error(w, "hash failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set(contentHashHeader, hash)

	if offset > 0 {
		if _, err := src.Seek(offset, io.SeekStart); err != nil {
			http.Error(w, "seek failed", http.StatusInternalServerError)
			return
		}
	} else {
		src.Seek(0, io.SeekStart)
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, src)
}

const contentHashHeader = "X-Content-Hash"

// POST /files/{fileID}/result
func (s *Server) handleUploadResult(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(r)
	if !ok {
		http.Error(w, "bad file id", http.StatusBadRequest)
		return
	}
	leaseToken := r.Header.Get("X-Lease-Token")
	claimedHash := r.Header.Get(contentHashHeader)
	sizeHeader := r.Header.Get("X-Output-Size")

	f, err := s.store.GetFile(fileID)
	if err != nil || f == nil {
		http.Error(w, "unknown file", http.StatusNotFound)
		return
	}
	if f.LeaseToken == "" || f.LeaseToken != leaseToken {
		writeJSON(w, http.StatusConflict, apitypes.ResultAcceptedResponse{Rejected: true, Reason: "stale lease"})
		return
	}

	// Staged in the source's own directory so SafeReplace's rename lands on
	// the same filesystem (a cross-device os.CreateTemp default would turn
	// the final rename into a copy, breaking SafeReplace's atomicity).
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), "avfarm-result-*.mkv")
	if err != nil {
		http.Error(w, "staging failed", http.StatusInternalServerError)
		return
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	n, err := io.Copy(tmp, r.Body)
	if err != nil {
		http.Error(w, "write failed", http.StatusInternalServerError)
		return
	}
	wantSize, _ := strconv.ParseInt(sizeHeader, 10, 64)
	if wantSize != 0 && n != wantSize {
		writeJSON(w, http.StatusConflict, apitypes.ResultAcceptedResponse{Rejected: true, Reason: "size mismatch"})
		return
	}
	tmp.Seek(0, io.SeekStart)
	gotHash, err := hashutil.Sum(tmp)
	if err != nil {
		http.Error(w, "hash failed", http.StatusInternalServerError)
		return
	}
	if claimedHash != "" && gotHash != claimedHash {
		writeJSON(w, http.StatusConflict, apitypes.ResultAcceptedResponse{Rejected: true, Reason: "content hash mismatch"})
		return
	}

	bytesSaved, err := safereplace.Replace(f.Path, tmp.Name(), s.minSavingsPercent/100.0, s.testingMode)
	if err == safereplace.ErrInsufficientSavings {
		outcome := model.NewSkipOutcome(model.SkipDetail{Reason: model.SkipOutputSmallerThanThreshold})
		if err := s.lifecycle.ReportOutcome(fileID, leaseToken, outcome); err != nil {
			writeJSON(w, http.StatusConflict, apitypes.ResultAcceptedResponse{Rejected: true, Reason: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, apitypes.ResultAcceptedResponse{Rejected: true, Reason: "insufficient savings"})
		return
	}
	if err != nil {
		outcome := model.NewFailureOutcome(model.FailureDetail{Kind: model.ErrKindSafeReplaceFail, Message: err.Error()})
		s.lifecycle.ReportOutcome(fileID, leaseToken, outcome)
		writeJSON(w, http.StatusInternalServerError, apitypes.ResultAcceptedResponse{Rejected: true, Reason: err.Error()})
		return
	}

	savingsPercent := 0.0
	if f.SizeBytes > 0 {
		savingsPercent = float64(bytesSaved) / float64(f.SizeBytes) * 100
	}
	outcome := model.NewSuccessOutcome(model.SuccessDetail{OutputSizeBytes: f.SizeBytes - bytesSaved})
	if err := s.lifecycle.ReportOutcome(fileID, leaseToken, outcome); err != nil {
		writeJSON(w, http.StatusConflict, apitypes.ResultAcceptedResponse{Rejected: true, Reason: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, apitypes.ResultAcceptedResponse{
		Accepted: true, SavedBytes: bytesSaved, SavingsPercent: savingsPercent,
	})
}

// POST /files/{fileID}/progress
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(r)
	if !ok {
		http.Error(w, "bad file id", http.StatusBadRequest)
		return
	}
	var req apitypes.ProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	eta := time.Duration(req.ETASeconds * float64(time.Second))
	if err := s.lifecycle.ReportProgress(fileID, req.LeaseToken, req.Percent, req.FPS, eta, req.Message); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, apitypes.OKResponse{OK: true})
}

// POST /files/{fileID}/report
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(r)
	if !ok {
		http.Error(w, "bad file id", http.StatusBadRequest)
		return
	}
	var req apitypes.ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var outcome model.Outcome
	switch req.Outcome {
	case apitypes.OutcomeSuccess:
		outcome = model.NewSuccessOutcome(model.SuccessDetail{OutputSizeBytes: req.OutputSizeBytes})
	case apitypes.OutcomeFailure:
		outcome = model.NewFailureOutcome(model.FailureDetail{Kind: model.ErrorKind(req.FailureKind), Message: req.Message})
	case apitypes.OutcomeSkip:
		outcome = model.NewSkipOutcome(model.SkipDetail{Reason: model.SkipReason(req.SkipReason)})
	default:
		http.Error(w, "unknown outcome", http.StatusBadRequest)
		return
	}

	if err := s.lifecycle.ReportOutcome(fileID, req.LeaseToken, outcome); err != nil {
		if errors.Is(err, store.ErrInsufficientSavings) {
			writeJSON(w, http.StatusOK, apitypes.ResultAcceptedResponse{Rejected: true, Reason: "insufficient savings"})
			return
		}
		if errors.Is(err, store.ErrStaleLease) {
			// A report carrying a reaped assignment's lease changes nothing.
			writeJSON(w, http.StatusOK, apitypes.OKResponse{OK: true})
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, apitypes.OKResponse{OK: true})
}
