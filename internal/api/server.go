// Package api exposes the job-runner HTTP surface on top of the Scanner:
// start a live or replay scan, poll its status, cancel it, plus the
// operational /healthz and /metrics endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"chainindex/internal/scanner"
	"chainindex/internal/scannerstate"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	blocksScanned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chainindex_blocks_scanned_total",
		Help: "Total number of blocks processed by any scan or replay job.",
	})
	eventsDispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chainindex_events_dispatched_total",
		Help: "Total number of decoded events (including synthetic transfers) dispatched to handlers.",
	})
)

func init() {
	prometheus.MustRegister(blocksScanned, eventsDispatched)
}

// Server encapsulates the HTTP server, router and job registry.
type Server struct {
	mux     *http.ServeMux
	scanner *scanner.Scanner
	state   *scannerstate.State

	maxChunkSize uint64
	safetyBlocks uint64

	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

type jobEntry struct {
	status *JobStatus
	cancel context.CancelFunc
}

// NewServer builds a server bound to a single Scanner instance. maxChunkSize
// and safetyBlocks mirror sync_cfg.max_chunk_scan_size and
// sync_cfg.chain_reorg_safety_blocks for live jobs started without explicit
// bounds.
func NewServer(sc *scanner.Scanner, state *scannerstate.State, maxChunkSize, safetyBlocks uint64) *Server {
	s := &Server{
		mux:          http.NewServeMux(),
		scanner:      sc,
		state:        state,
		maxChunkSize: maxChunkSize,
		safetyBlocks: safetyBlocks,
		jobs:         make(map[string]*jobEntry),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/jobs", s.handleJobs)
	s.mux.HandleFunc("/jobs/", s.handleJobByID)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.Handle("/metrics", promhttp.Handler())
}

// Run starts the HTTP server on the provided port.
func (s *Server) Run(port string) error {
	addr := fmt.Sprintf(":%s", port)
	handler := s.recoveryMiddleware(s.loggingMiddleware(s.mux))
	logrus.Infof("api: listening on %s", addr)
	return http.ListenAndServe(addr, handler)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logrus.Infof("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logrus.Errorf("api: panic recovered: %v", rec)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","last_scanned_block":%d}`, s.state.LastScannedBlock())
}
