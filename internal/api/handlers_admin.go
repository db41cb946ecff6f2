package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gwlsn/avfarm/internal/apitypes"
	"github.com/gwlsn/avfarm/internal/metrics"
	"github.com/gwlsn/avfarm/internal/model"
)

// POST /admin/scan
func (s *Server) handleAdminScan(w http.ResponseWriter, r *http.Request) {
	result, err := s.scanner.Scan()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /admin/files/{fileID}/reset (also serves /retry, identical semantics:
// an operator retry is just a reset back to pending)
func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(r)
	if !ok {
		http.Error(w, "bad file id", http.StatusBadRequest)
		return
	}
	f, err := s.lifecycle.OperatorReset(fileID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleAdminSkip(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(r)
	if !ok {
		http.Error(w, "bad file id", http.StatusBadRequest)
		return
	}
	var req struct {
		Reason model.SkipReason `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = model.SkipNonVideo
	}
	f, err := s.lifecycle.OperatorSkip(fileID, req.Reason)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(r)
	if !ok {
		http.Error(w, "bad file id", http.StatusBadRequest)
		return
	}
	if err := s.lifecycle.OperatorDelete(fileID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, apitypes.OKResponse{OK: true})
}

func (s *Server) handleAdminPriority(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(r)
	if !ok {
		http.Error(w, "bad file id", http.StatusBadRequest)
		return
	}
	var req struct {
		Priority int32 `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	f, err := s.lifecycle.OperatorSetPriority(fileID, req.Priority)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleAdminPreferredWorker(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(r)
	if !ok {
		http.Error(w, "bad file id", http.StatusBadRequest)
		return
	}
	var req struct {
		WorkerID string `json:"worker_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	f, err := s.lifecycle.OperatorSetPreferredWorker(fileID, req.WorkerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleAdminFadeOut(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	var req struct {
		FadeOut bool `json:"fade_out"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	if !s.registry.SetFadeOut(workerID, req.FadeOut) {
		http.Error(w, "unknown worker", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, apitypes.OKResponse{OK: true})
}

func (s *Server) handleAdminCancelCurrent(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	var req struct {
		LeaseToken string `json:"lease_token"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	if !s.registry.CancelCurrent(workerID, req.LeaseToken) {
		http.Error(w, "unknown worker", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, apitypes.OKResponse{OK: true})
}

// GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	topN := 100
	if v := r.URL.Query().Get("top_n"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			topN = n
		}
	}
	stats, files, err := s.store.SnapshotForUI(topN)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	publishQueueDepthGauges(stats)
	workers := s.registry.Snapshot()
	for _, wk := range workers {
		switch wk.Status {
		case model.WorkerOnline:
			stats.WorkersOnline++
		case model.WorkerDraining:
			stats.WorkersDraining++
		}
	}
	writeJSON(w, http.StatusOK, apitypes.StatusResponse{
		Stats:   stats,
		Workers: workers,
		Files:   files,
	})
}

// publishQueueDepthGauges republishes QueueDepth from a Stats snapshot.
// Called from handleStatus rather than on every Store mutation — /status
// is polled often enough (by the dashboard and any scrape client) that a
// dedicated write-path hook would just double the
// bookkeeping for no fresher a number.
func publishQueueDepthGauges(stats model.Stats) {
	metrics.QueueDepth.WithLabelValues("pending").Set(float64(stats.PendingCount))
	metrics.QueueDepth.WithLabelValues("assigned").Set(float64(stats.AssignedCount))
	metrics.QueueDepth.WithLabelValues("processing").Set(float64(stats.ProcessingCount))
	metrics.QueueDepth.WithLabelValues("completed").Set(float64(stats.CompletedCount))
	metrics.QueueDepth.WithLabelValues("failed").Set(float64(stats.FailedCount))
	metrics.QueueDepth.WithLabelValues("skipped").Set(float64(stats.SkippedCount))
}
