// Package api serves the crawl controller over a JSON HTTP API
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"webspider/pkg/config"
	"webspider/pkg/metrics"
	"webspider/pkg/models"
	"webspider/pkg/utils"
)

const (
	defaultFailuresLimit = 100
	maxRequestBodyBytes  = 1 << 20
)

// Engine is the part of the crawl controller the API drives
type Engine interface {
	Start(cfg config.CrawlConfig) error
	Stop() error
	Status() (models.CrawlStats, models.CrawlState)
	Failures(limit int) ([]models.PageRecord, error)
	Page(rawURL string) (*models.PageRecord, error)
}

// Server exposes an Engine over HTTP
type Server struct {
	engine   Engine
	defaults config.CrawlConfig
	metrics  *metrics.Recorder
	log      *logrus.Entry
	handler  http.Handler
}

// NewServer builds the API. defaults fill the fields a start request omits; rec may be nil.
func NewServer(engine Engine, defaults config.CrawlConfig, rec *metrics.Recorder, log *logrus.Entry) *Server {
	s := &Server{
		engine:   engine,
		defaults: defaults.Clone(),
		metrics:  rec,
		log:      log.WithField("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/crawl/start", s.handleStart)
	mux.HandleFunc("POST /api/crawl/stop", s.handleStop)
	mux.HandleFunc("GET /api/crawl/status", s.handleStatus)
	mux.HandleFunc("GET /api/crawl/failures", s.handleFailures)
	mux.HandleFunc("GET /api/crawl/page", s.handlePage)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	if rec != nil {
		mux.Handle("GET /metrics", rec.Handler())
	}
	s.handler = s.withLogging(mux)
	return s
}

// Handler returns the root handler, middleware included
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("HTTP API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("Shutting down HTTP API...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down HTTP API: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.writeJSONError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	err := s.engine.Start(req.Apply(s.defaults))
	switch {
	case err == nil:
		stats, state := s.engine.Status()
		s.writeJSON(w, http.StatusAccepted, NewStatusResponse(stats, state))
	case errors.Is(err, utils.ErrInvalidConfig):
		s.writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, utils.ErrAlreadyRunning):
		s.writeJSONError(w, err.Error(), http.StatusConflict)
	default:
		s.log.Errorf("Starting crawl: %v", err)
		s.writeJSONError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Stop(); err != nil {
		s.log.Errorf("Stopping crawl: %v", err)
		s.writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	stats, state := s.engine.Status()
	s.writeJSON(w, http.StatusOK, NewStatusResponse(stats, state))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, state := s.engine.Status()
	s.writeJSON(w, http.StatusOK, NewStatusResponse(stats, state))
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	limit := defaultFailuresLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeJSONError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	failures, err := s.engine.Failures(limit)
	if err != nil {
		s.log.Errorf("Listing failures: %v", err)
		s.writeJSONError(w, "failed to read page records", http.StatusInternalServerError)
		return
	}
	if failures == nil {
		failures = []models.PageRecord{}
	}
	s.writeJSON(w, http.StatusOK, FailuresResponse{Count: len(failures), Failures: failures})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		s.writeJSONError(w, "url query parameter is required", http.StatusBadRequest)
		return
	}

	rec, err := s.engine.Page(raw)
	switch {
	case errors.Is(err, utils.ErrInvalidURL):
		s.writeJSONError(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		s.log.Errorf("Looking up page %s: %v", raw, err)
		s.writeJSONError(w, "failed to read page records", http.StatusInternalServerError)
	case rec == nil:
		s.writeJSONError(w, "url was not admitted by the current or last crawl", http.StatusNotFound)
	default:
		s.writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, state := s.engine.Status()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "state": state.String()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warnf("Writing response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, message string, status int) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
