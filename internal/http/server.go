package http

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"simulate-now/internal/config"
	"simulate-now/internal/connectors/jobhistory"
	"simulate-now/internal/jobs"
	"simulate-now/internal/logging"
	"simulate-now/internal/runner"
	"simulate-now/internal/upload"
)

// Server wraps the backend HTTP server, the simulator runner and the background job dictionary.
type Server struct {
	httpServer *nethttp.Server
	uploads    *upload.Store
	runner     *runner.Runner
	jobs       *jobs.Registry
	history    *jobhistory.Store
	metrics    *metrics
	sweep      struct {
		retention time.Duration
		interval  time.Duration
	}
	sweepCancel context.CancelFunc
}

// NewServer creates a configured backend server.
func NewServer(cfg config.Config) (*Server, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("APP_API_KEY must be set")
	}

	uploads, err := upload.NewStore(cfg.UploadDir, cfg.AllowedExtensions, cfg.MaxUploadBytes)
	if err != nil {
		return nil, err
	}

	history, err := openHistory(cfg)
	if err != nil {
		return nil, err
	}

	sim := runner.New(runner.Options{
		Executable:    cfg.SimExecutable,
		Args:          cfg.SimArgs,
		Timeout:       cfg.SimTimeout,
		LogSuffix:     cfg.SimLogSuffix,
		MaxConcurrent: cfg.SimMaxConcurrent,
	})

	s := &Server{
		uploads: uploads,
		runner:  sim,
		history: history,
	}
	s.jobs = jobs.NewRegistry(cfg.JobRetention, s.backgroundJobFinished)
	s.metrics = newMetrics(prometheus.NewRegistry(), func() float64 {
		running, _ := s.jobs.Counts()
		return float64(running)
	})
	s.sweep.retention = cfg.UploadRetention
	s.sweep.interval = cfg.UploadSweepEvery

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler)
	mux.Handle("/metrics", s.metrics.handler())
	mux.Handle("/process_file/", requireAPIKey(cfg.APIKey, processFileHandler(s)))
	mux.Handle("/process_file_async/", requireAPIKey(cfg.APIKey, processFileAsyncHandler(s)))
	mux.Handle("/status/", requireAPIKey(cfg.APIKey, jobStatusHandler(s.jobs)))
	mux.Handle("/api/v1/jobs", requireAPIKey(cfg.APIKey, jobHistoryListHandler(cfg.DefaultJobsLimit, s.history, s.metrics)))
	mux.Handle("/api/v1/jobs/", requireAPIKey(cfg.APIKey, jobHistoryDetailHandler(s.history, s.metrics)))
	mux.Handle("/api/v1/status/services", requireAPIKey(cfg.APIKey, servicesStatusHandler(s)))
	mux.Handle("/api/v1/settings/limits", requireAPIKey(cfg.APIKey, limitsHandler(cfg, uploads, sim)))

	s.httpServer = &nethttp.Server{
		Addr:         cfg.ListenAddr,
		Handler:      loggingMiddleware(s.metrics.middleware(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

func openHistory(cfg config.Config) (*jobhistory.Store, error) {
	switch cfg.JobStore {
	case "", "none", "memory":
		return nil, nil
	case "sqlite":
		return jobhistory.NewSQLiteStore(cfg.JobSQLitePath, cfg.DBQueryTimeout)
	case "mysql":
		return jobhistory.NewMySQLStore(cfg)
	default:
		return nil, errors.Errorf("unknown APP_JOB_STORE %q (want sqlite or mysql)", cfg.JobStore)
	}
}

// Handler exposes the full middleware-wrapped router.
func (s *Server) Handler() nethttp.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	if s.sweep.retention > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.sweepCancel = cancel
		go s.startUploadSweeper(ctx)
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests, then waits for background simulations.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.sweepCancel != nil {
		s.sweepCancel()
	}
	err := s.httpServer.Shutdown(ctx)
	if jobErr := s.jobs.Shutdown(ctx); jobErr != nil && err == nil {
		err = jobErr
	}
	if s.history != nil {
		_ = s.history.Close()
	}
	return err
}

func (s *Server) startUploadSweeper(ctx context.Context) {
	interval := s.sweep.interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sweepUploads()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepUploads()
		}
	}
}

func (s *Server) sweepUploads() {
	removed, err := s.uploads.Sweep(s.sweep.retention, s.jobs.Running)
	if err != nil {
		logging.WithStacktrace(log.WithField("dir", s.uploads.Dir()), err).Warn("upload sweep failed")
	}
	if len(removed) > 0 {
		log.WithField("files", removed).Info("removed expired uploads")
	}
}

func healthHandler(w nethttp.ResponseWriter, _ *nethttp.Request) {
	writeJSON(w, nethttp.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func readyHandler(w nethttp.ResponseWriter, _ *nethttp.Request) {
	writeJSON(w, nethttp.StatusOK, map[string]any{
		"status": "ready",
	})
}

func loggingMiddleware(next nethttp.Handler) nethttp.Handler {
	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: nethttp.StatusOK}
		next.ServeHTTP(rec, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}

func writeJSON(w nethttp.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
