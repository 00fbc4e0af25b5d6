// Package api exposes the HTTP interface for the capture service. It is
// thin plumbing over the orchestration facade; no capture or batching
// logic lives here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tallshot/tallshot/internal/batch"
	"github.com/tallshot/tallshot/internal/capture"
	"github.com/tallshot/tallshot/internal/metrics"
	"github.com/tallshot/tallshot/internal/service"
)

// Server wires HTTP handlers to the orchestration facade.
type Server struct {
	router  chi.Router
	service *service.Service
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc *service.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service: svc,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(5 * time.Minute))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/batches", s.submitBatch)
		r.Get("/batches/{batch_id}", s.getBatchStatus)
		r.Post("/captures", s.captureOne)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitBatchRequest struct {
	IDs         []string `json:"ids"`
	Concurrency int      `json:"concurrency"`
	Retries     int      `json:"retries"`
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req submitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	batchID, err := s.service.SubmitBatch(r.Context(), req.IDs, req.Concurrency, req.Retries)
	if err != nil {
		if capture.KindOf(err) == capture.KindInvalidInput {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("batch submission failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "batch submission failed")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": batchID})
}

func (s *Server) getBatchStatus(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch_id")
	record, err := s.service.BatchStatus(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, batch.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		s.logger.Error("batch status lookup failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "batch status lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"batch": record})
}

type captureOneRequest struct {
	ID         string `json:"id"`
	OutputPath string `json:"output_path"`
}

func (s *Server) captureOne(w http.ResponseWriter, r *http.Request) {
	var req captureOneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res := s.service.CaptureOne(r.Context(), req.ID, req.OutputPath, capture.Options{})
	if !res.Success {
		if capture.KindOf(res.Err) == capture.KindInvalidInput {
			s.writeError(w, http.StatusBadRequest, res.Err.Error())
			return
		}
		s.writeJSON(w, http.StatusBadGateway, map[string]any{
			"id":    req.ID,
			"error": res.Err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":          res.ID,
		"output_path": res.OutputPath,
		"duration_ms": res.Duration.Milliseconds(),
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
