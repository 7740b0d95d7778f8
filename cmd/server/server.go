// cmd/server/server.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/carscout/carscout/internal/config"
	"github.com/carscout/carscout/internal/monitoring"
	"github.com/carscout/carscout/internal/pipeline"
	"github.com/carscout/carscout/internal/scheduler"
	"github.com/carscout/carscout/internal/utils"
)

// StatsReader is the slice of the storage layer the API reads from.
type StatsReader interface {
	Connected() bool
	LastRun(ctx context.Context) (bson.M, error)
	RunStats(ctx context.Context, days int) ([]bson.M, error)
	CollectionStats(ctx context.Context) (bson.M, error)
}

// Server is the HTTP control surface: manual triggers, status, statistics,
// and schedule management.
type Server struct {
	cfg          *config.Config
	orchestrator *pipeline.Orchestrator
	store        StatsReader
	scheduler    *scheduler.Scheduler
	metrics      *monitoring.Metrics
	router       *mux.Router
	logger       utils.Logger
}

// NewServer wires the routes.
func NewServer(cfg *config.Config, o *pipeline.Orchestrator, store StatsReader,
	sched *scheduler.Scheduler, metrics *monitoring.Metrics) *Server {

	s := &Server{
		cfg:          cfg,
		orchestrator: o,
		store:        store,
		scheduler:    sched,
		metrics:      metrics,
		router:       mux.NewRouter(),
		logger:       utils.NewComponentLogger("api"),
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/scrape/trigger", s.handleTrigger).Methods(http.MethodPost)
	api.HandleFunc("/scrape/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/scrape/last-run", s.handleLastRun).Methods(http.MethodGet)
	api.HandleFunc("/scrape/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/schedule/update", s.handleScheduleUpdate).Methods(http.MethodPost)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if metrics != nil {
		s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleTrigger starts a run in the background. full_pipeline=false runs
// discovery only. Overlapping triggers are refused, not queued.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator.Running() {
		s.writeError(w, http.StatusConflict, "a pipeline run is already in progress")
		return
	}

	full := true
	if v := r.URL.Query().Get("full_pipeline"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "full_pipeline must be a boolean")
			return
		}
		full = parsed
	}

	go func() {
		ctx := context.Background()
		var err error
		if full {
			_, err = s.orchestrator.RunFull(ctx)
		} else {
			_, err = s.orchestrator.RunLinksOnly(ctx)
		}
		if err != nil {
			s.logger.Errorf("triggered run failed: %v", err)
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":        "started",
		"full_pipeline": full,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"running":         s.orchestrator.Running(),
		"store_connected": s.store.Connected(),
	}
	if s.scheduler != nil {
		payload["next_scheduled_run"] = s.scheduler.NextRun()
		payload["schedule"] = s.scheduler.Schedule()
	}
	if last := s.orchestrator.LastRun(); last != nil {
		payload["last_run_status"] = last.Status
		payload["last_run_started"] = last.StartTime
	}
	s.writeJSON(w, http.StatusOK, payload)
}

// handleLastRun prefers the in-process summary and falls back to the store
// for runs from previous processes.
func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	if last := s.orchestrator.LastRun(); last != nil {
		s.writeJSON(w, http.StatusOK, last)
		return
	}

	doc, err := s.store.LastRun(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read last run")
		return
	}
	if doc == nil {
		s.writeError(w, http.StatusNotFound, "no runs recorded")
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			s.writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = parsed
	}

	runs, err := s.store.RunStats(r.Context(), days)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to aggregate run stats")
		return
	}
	collection, err := s.store.CollectionStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read collection stats")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":       days,
		"daily":      runs,
		"collection": collection,
	})
}

type scheduleRequest struct {
	Hour          *int `json:"hour"`
	Minute        *int `json:"minute"`
	IntervalHours *int `json:"interval_hours"`
}

func (s *Server) handleScheduleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid schedule payload")
		return
	}

	cfg := s.scheduler.Schedule()
	if req.Hour != nil {
		cfg.Hour = *req.Hour
	}
	if req.Minute != nil {
		cfg.Minute = *req.Minute
	}
	if req.IntervalHours != nil {
		cfg.IntervalHours = *req.IntervalHours
	}
	if cfg.Hour < 0 || cfg.Hour > 23 || cfg.Minute < 0 || cfg.Minute > 59 || cfg.IntervalHours < 0 {
		s.writeError(w, http.StatusBadRequest, "schedule out of range")
		return
	}

	s.scheduler.Update(context.Background(), cfg)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"schedule": cfg,
		"next_run": s.scheduler.NextRun(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"time":            time.Now().UTC(),
		"store_connected": s.store.Connected(),
		"running":         s.orchestrator.Running(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Errorf("failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
