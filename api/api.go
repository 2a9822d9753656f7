// Package api exposes the introspection and admin HTTP surface: queue
// statistics, dead letter inspection and replay, manual schedule
// triggering, and drain initiation.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/dlq"
	"github.com/xraph/pulse/engine"
	"github.com/xraph/pulse/id"
)

// Server serves the admin HTTP API over an engine.
type Server struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewServer creates an API server.
func NewServer(e *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: e, logger: logger}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/queues", s.handleQueues)
	r.Get("/dlq", s.handleListDLQ)
	r.Post("/dlq/{entryID}/replay", s.handleReplayDLQ)
	r.Post("/queues/{queue}/jobs/{type}/trigger", s.handleTrigger)
	r.Post("/drain", s.handleDrain)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snaps, err := s.engine.Stats().SnapshotAll(ctx, s.engine.Config().Queues)
	if err != nil {
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	depth, err := s.engine.Stats().DLQDepth(ctx)
	if err != nil {
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"queues":    snaps,
		"dlq_depth": depth,
	})
}

func (s *Server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	opts := dlq.ListOpts{Queue: r.URL.Query().Get("queue")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.error(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		opts.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.error(w, http.StatusBadRequest, errors.New("invalid offset"))
			return
		}
		opts.Offset = n
	}

	entries, err := s.engine.DLQ().Store().ListDLQ(r.Context(), opts)
	if err != nil {
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleReplayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryID"))
	if err != nil {
		s.error(w, http.StatusBadRequest, err)
		return
	}

	j, err := s.engine.DLQ().Replay(r.Context(), entryID)
	if err != nil {
		if errors.Is(err, pulse.ErrDLQNotFound) {
			s.error(w, http.StatusNotFound, err)
			return
		}
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusAccepted, map[string]string{"job_id": j.ID.String()})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	queueName := chi.URLParam(r, "queue")
	jobType := chi.URLParam(r, "type")

	jobID, err := s.engine.TriggerNow(r.Context(), queueName, jobType)
	if err != nil {
		if errors.Is(err, pulse.ErrScheduleNotFound) {
			s.error(w, http.StatusNotFound, err)
			return
		}
		if errors.Is(err, pulse.ErrDraining) {
			s.error(w, http.StatusServiceUnavailable, err)
			return
		}
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusAccepted, map[string]string{"job_id": jobID.String()})
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	// Detach from the request context: drain outlives the HTTP call.
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if err := s.engine.Stop(ctx); err != nil {
			s.logger.Error("drain error", slog.String("error", err.Error()))
		}
	}()
	s.respond(w, http.StatusAccepted, map[string]string{"status": "draining"})
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encode error", slog.String("error", err.Error()))
	}
}

func (s *Server) error(w http.ResponseWriter, status int, err error) {
	s.respond(w, status, map[string]string{"error": err.Error()})
}
