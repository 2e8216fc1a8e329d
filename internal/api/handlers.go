package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"chainindex/internal/scanner"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// handleJobs acts as a multiplexer: POST creates a new job, other verbs not allowed.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createJob(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobByID routes GET and DELETE for specific job IDs.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" {
		http.Error(w, "job id missing", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getJob(w, r, id)
	case http.MethodDelete:
		s.cancelJob(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// createJob handles POST /jobs: starts a live scan over [from_block,
// to_block] (defaulting to the cursor's suggested range) or a replay over
// the Raw Store, depending on mode.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ScanRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if req.Mode == "" {
		req.Mode = "live"
	}
	if req.Mode != "live" && req.Mode != "replay" {
		http.Error(w, "mode must be 'live' or 'replay'", http.StatusBadRequest)
		return
	}
	if req.Pages == 0 {
		req.Pages = 500
	}

	jobID := uuid.NewString()
	status := &JobStatus{
		JobID:     jobID,
		Mode:      req.Mode,
		Status:    "queued",
		StartedAt: time.Now(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.jobs[jobID] = &jobEntry{status: status, cancel: cancel}
	s.mu.Unlock()

	go s.runJob(ctx, jobID, req)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(JobResponse{JobID: jobID})
}

// runJob executes the requested scan or replay to completion, updating the
// job's status as it progresses.
func (s *Server) runJob(ctx context.Context, jobID string, req ScanRequest) {
	s.setStatus(jobID, "running", nil)

	onProgress := func(p scanner.Progress) {
		blocksScanned.Add(float64(p.To - p.From + 1))
		eventsDispatched.Add(float64(p.Dispatched))
		s.mu.Lock()
		if entry, ok := s.jobs[jobID]; ok {
			entry.status.LastBlock = p.To
			entry.status.Dispatched += p.Dispatched
		}
		s.mu.Unlock()
	}

	var err error
	switch req.Mode {
	case "replay":
		err = s.scanner.Replay(ctx, req.Pages, onProgress)
	default:
		from, to := req.From, req.To
		if from == 0 {
			from = s.scanner.SuggestedStart()
		}
		if to == 0 {
			to, err = s.scanner.SuggestedEnd(ctx, s.safetyBlocks)
		}
		if err == nil && to >= from {
			err = s.scanner.Scan(ctx, from, to, s.maxChunkSize, onProgress)
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			s.setStatus(jobID, "cancelled", nil)
			return
		}
		s.setStatus(jobID, "error", err)
		return
	}
	s.setStatus(jobID, "finished", nil)
}

func (s *Server) setStatus(jobID, status string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return
	}
	entry.status.Status = status
	if err != nil {
		entry.status.Error = err.Error()
		logrus.Errorf("api: job %s failed: %v", jobID, err)
	}
	if status == "finished" || status == "error" || status == "cancelled" {
		finished := time.Now()
		entry.status.FinishedAt = &finished
	}
}

// getJob handles GET /jobs/{id}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.RLock()
	entry, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry.status)
}

// cancelJob handles DELETE /jobs/{id}.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	entry, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	if entry.cancel != nil {
		entry.cancel()
	}

	w.WriteHeader(http.StatusNoContent)
}
