package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mudtide/chatrelay/dlq"
	"github.com/mudtide/chatrelay/metrics"
)

// principalHeader carries the caller identity set by the gateway's auth
// layer. Requests without a recognized admin principal get 403.
const principalHeader = "X-Player-ID"

const defaultDLQListLimit = 50

// BreakerController is the slice of the pipeline the admin surface needs.
type BreakerController interface {
	ResetCircuitBreaker()
	CircuitState() string
}

// AdminChecker reports whether a principal holds the admin role.
type AdminChecker interface {
	IsAdmin(playerID string) bool
}

// Server exposes the operational surface: metric snapshots, dead-letter
// inspection, and the circuit-breaker escape hatch.
type Server struct {
	collector *metrics.Collector
	store     dlq.Store
	breaker   BreakerController
	admins    AdminChecker
	logger    *slog.Logger
}

// ServerOption configures the server
type ServerOption func(*Server)

// WithServerLogger sets the logger
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer builds the admin surface over its collaborators.
func NewServer(collector *metrics.Collector, store dlq.Store, breaker BreakerController, admins AdminChecker, options ...ServerOption) *Server {
	s := &Server{
		collector: collector,
		store:     store,
		breaker:   breaker,
		admins:    admins,
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Handler returns the routed admin mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", s.requireAdmin(s.handleMetrics))
	mux.HandleFunc("GET /metrics/summary", s.requireAdmin(s.handleSummary))
	mux.HandleFunc("POST /metrics/reset", s.requireAdmin(s.handleReset))
	mux.HandleFunc("GET /metrics/dlq", s.requireAdmin(s.handleDLQList))
	mux.HandleFunc("DELETE /metrics/dlq/{locator}", s.requireAdmin(s.handleDLQRemove))
	mux.HandleFunc("POST /metrics/circuit-breaker/reset", s.requireAdmin(s.handleBreakerReset))
	return mux
}

// requireAdmin rejects callers whose principal lacks the admin role.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := r.Header.Get(principalHeader)
		if principal == "" || !s.admins.IsAdmin(principal) {
			s.logger.Warn("admin request rejected",
				"path", r.URL.Path, "principal", principal)
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.Snapshot())
}

// summary is the compact operator view: totals plus breaker state, without
// the per-channel maps and rings of the full snapshot.
type summary struct {
	TotalProcessed   int64     `json:"totalProcessed"`
	TotalFailed      int64     `json:"totalFailed"`
	TotalRetried     int64     `json:"totalRetried"`
	TotalDeadLetters int64     `json:"totalDeadLetters"`
	SuccessRate      float64   `json:"successRate"`
	CircuitState     string    `json:"circuitState"`
	DeadLetterCount  int       `json:"deadLetterCount"`
	TakenAt          time.Time `json:"takenAt"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	snap := s.collector.Snapshot()

	count, err := s.store.Count(r.Context())
	if err != nil {
		s.logger.Error("failed to count dead letters", "error", err)
		count = -1
	}

	writeJSON(w, http.StatusOK, summary{
		TotalProcessed:   snap.ProcessedTotal,
		TotalFailed:      snap.FailedTotal,
		TotalRetried:     snap.RetriedTotal,
		TotalDeadLetters: snap.DeadLetteredTotal,
		SuccessRate:      snap.SuccessRate,
		CircuitState:     s.breaker.CircuitState(),
		DeadLetterCount:  count,
		TakenAt:          snap.TakenAt,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.collector.Reset()
	s.logger.Info("metrics reset", "principal", r.Header.Get(principalHeader))
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleDLQList(w http.ResponseWriter, r *http.Request) {
	limit := defaultDLQListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := s.store.ListPending(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list dead letters", "error", err)
		writeError(w, http.StatusInternalServerError, "dead letter store unavailable")
		return
	}
	if entries == nil {
		entries = []dlq.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleDLQRemove(w http.ResponseWriter, r *http.Request) {
	locator := r.PathValue("locator")

	removed, err := s.store.Remove(r.Context(), locator)
	if err != nil {
		s.logger.Error("failed to remove dead letter", "locator", locator, "error", err)
		writeError(w, http.StatusInternalServerError, "dead letter store unavailable")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "no such dead letter")
		return
	}

	s.logger.Info("dead letter removed",
		"locator", locator, "principal", r.Header.Get(principalHeader))
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "locator": locator})
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	s.breaker.ResetCircuitBreaker()
	s.logger.Info("circuit breaker reset via admin surface",
		"principal", r.Header.Get(principalHeader))
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "reset",
		"state":  s.breaker.CircuitState(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
