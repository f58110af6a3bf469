// Package frontend serves the upload page and relays runs to the backend.
package frontend

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"simulate-now/internal/client"
	"simulate-now/internal/config"
	"simulate-now/internal/mockdata"
)

// Server hosts the browser UI. Mock data is generated here; simulations go to the backend.
type Server struct {
	httpServer *http.Server
	backend    *client.Client
	allowed    map[string]bool
	maxBytes   int64
	timeout    time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewServer(cfg config.Config) *Server {
	s := &Server{
		backend:  client.New(cfg.BackendURL, cfg.APIKey, 0),
		allowed:  map[string]bool{},
		maxBytes: cfg.MaxUploadBytes,
		timeout:  cfg.BackendTimeout,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, ext := range cfg.AllowedExtensions {
		s.allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", pageHandler)
	mux.HandleFunc("/favicon.ico", faviconHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.HandleFunc("/ui/mock", s.mockHandler)
	mux.HandleFunc("/ui/run", s.runHandler)
	mux.HandleFunc("/ui/status/", s.statusHandler)

	s.httpServer = &http.Server{
		Addr:              cfg.FrontendListenAddr,
		Handler:           loggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) mockHandler(w http.ResponseWriter, r *http.Request) {
	ext := strings.ToLower(strings.TrimPrefix(r.URL.Query().Get("ext"), "."))
	if ext != "" && !s.allowed[ext] {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported extension: " + ext})
		return
	}

	s.rngMu.Lock()
	bundle := mockdata.Generate(s.rng, ext)
	s.rngMu.Unlock()
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) runHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	if s.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes+1<<20)
	}
	f, hdr, err := r.FormFile("file")
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "upload exceeds size limit"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "multipart field \"file\" is required"})
		return
	}
	defer f.Close()

	name := filepath.Base(strings.ReplaceAll(hdr.Filename, "\\", "/"))
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if !s.allowed[ext] {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]any{"error": "only .aml and .xml files are accepted"})
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	logger := log.WithFields(log.Fields{"filename": name, "mode": r.URL.Query().Get("mode")})
	if r.URL.Query().Get("mode") == "background" {
		sub, err := s.backend.SubmitFile(ctx, name, f)
		if err != nil {
			logger.WithError(err).Warn("submit failed")
			writeBackendError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, sub)
		return
	}

	res, err := s.backend.ProcessFile(ctx, name, f)
	if err != nil {
		logger.WithError(err).Warn("run failed")
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	filename := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ui/status/"), "/")
	if filename == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "filename required"})
		return
	}

	job, err := s.backend.Status(r.Context(), filename)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeBackendError(w http.ResponseWriter, err error) {
	var httpErr *client.HTTPError
	switch {
	case client.IsTimeout(err):
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{"error": "request timed out"})
	case errors.As(err, &httpErr):
		var body any = string(httpErr.Body)
		if json.Valid(httpErr.Body) {
			body = json.RawMessage(httpErr.Body)
		}
		writeJSON(w, httpErr.StatusCode, map[string]any{
			"error":   httpErr.Error(),
			"backend": body,
		})
	default:
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("request")
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
