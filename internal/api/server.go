// Package api exposes the HTTP interface for submitting and observing
// discovery runs. The interactive dashboard consuming it lives elsewhere.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pcrawford/filescout/internal/bundle"
	"github.com/pcrawford/filescout/internal/crawler"
	"github.com/pcrawford/filescout/internal/metrics"
)

// Runner executes one discovery run. Decoupled so tests can inject a fake.
type Runner func(
	ctx context.Context,
	seeds []string,
	policy crawler.Policy,
	stop crawler.StopFunc,
	progress crawler.ProgressFunc,
) []crawler.Record

// Server wires HTTP handlers to the run store and the crawl engine.
type Server struct {
	router     chi.Router
	store      *RunStore
	runner     Runner
	basePolicy crawler.Policy
	bundler    *bundle.Packager
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store *RunStore, runner Runner, basePolicy crawler.Policy, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		store:      store,
		runner:     runner,
		basePolicy: basePolicy,
		bundler: bundle.New(bundle.Options{
			Timeout:   basePolicy.Timeout,
			Delay:     basePolicy.Delay,
			UserAgent: basePolicy.UserAgent,
		}, logger),
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.submitRun)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/status", s.getStatus)
				r.Get("/result", s.getResult)
				r.Get("/bundle", s.getBundle)
				r.Post("/cancel", s.cancelRun)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Seeds) == 0 {
		writeError(w, http.StatusBadRequest, "seeds must not be empty")
		return
	}

	policy := req.applyTo(s.basePolicy)
	if err := policy.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, stopFlag := s.store.Create(req.Seeds)
	go s.execute(id, req.Seeds, policy, stopFlag)

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id})
}

func (s *Server) execute(id string, seeds []string, policy crawler.Policy, stopFlag *atomic.Bool) {
	// Detached from the request context: a run outlives its submit call.
	ctx := context.Background()
	records := s.runner(ctx, seeds, policy,
		stopFlag.Load,
		func(pct int, status string) { s.store.SetProgress(id, pct, status) },
	)
	s.store.Finish(id, records, stopFlag.Load())
	s.logger.Info("run finished",
		zap.String("run_id", id),
		zap.Int("files", len(records)),
		zap.Bool("canceled", stopFlag.Load()),
	)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Get(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		RunID:     run.ID,
		State:     string(run.State),
		Percent:   run.Percent,
		Status:    run.Status,
		Submitted: run.Submitted,
		Finished:  run.Finished,
		Files:     len(run.Records),
	})
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Get(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if run.State == RunStateRunning {
		writeError(w, http.StatusConflict, "run still in progress")
		return
	}
	records := run.Records
	if records == nil {
		records = []crawler.Record{}
	}
	writeJSON(w, http.StatusOK, resultResponse{
		RunID:   run.ID,
		State:   string(run.State),
		Records: records,
	})
}

// getBundle streams every discovered file of a finished run as one zip
// archive. Individual download failures are skipped inside the packager.
func (s *Server) getBundle(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Get(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if run.State == RunStateRunning {
		writeError(w, http.StatusConflict, "run still in progress")
		return
	}

	urls := make([]string, 0, len(run.Records))
	for _, rec := range run.Records {
		urls = append(urls, rec.URL)
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "filescout_"+run.ID+".zip"))
	if err := s.bundler.Download(r.Context(), urls, nil, nil, w); err != nil {
		// Headers are already on the wire; all we can do is log.
		s.logger.Error("bundle stream failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "run_id")
	if err := s.store.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "state": "cancel_requested"})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panicked", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
