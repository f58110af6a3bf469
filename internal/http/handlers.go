package http

import (
	"context"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"simulate-now/internal/connectors/jobhistory"
	"simulate-now/internal/jobs"
	"simulate-now/internal/logging"
	"simulate-now/internal/runner"
	"simulate-now/internal/upload"
)

const uploadField = "file"

// processFileHandler persists the upload and runs the simulator on it before replying.
func processFileHandler(s *Server) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}

		file, release, ok := s.receiveUpload(w, r)
		if !ok {
			return
		}
		defer release()

		id := uuid.NewString()
		res, err := s.runner.Run(r.Context(), file.Path)
		if res != nil {
			res.Filename = file.Name
		}
		s.recordRun(r.Context(), id, jobhistory.ModeSync, file.Name, res, err)

		switch {
		case err == nil:
			writeJSON(w, nethttp.StatusOK, res)
		case errors.Is(err, runner.ErrStart):
			writeJSON(w, nethttp.StatusBadGateway, map[string]any{
				"error":    err.Error(),
				"filename": file.Name,
			})
		case errors.Is(err, runner.ErrTimeout):
			payload := map[string]any{
				"error":    err.Error(),
				"filename": file.Name,
			}
			if res != nil {
				payload["stdout"] = res.Stdout
				payload["stderr"] = res.Stderr
				payload["log"] = res.Log
			}
			writeJSON(w, nethttp.StatusGatewayTimeout, payload)
		default:
			writeJSON(w, nethttp.StatusInternalServerError, map[string]any{
				"error":    err.Error(),
				"filename": file.Name,
			})
		}
	}
}

// processFileAsyncHandler persists the upload and starts the simulator as a background job.
func processFileAsyncHandler(s *Server) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}

		file, release, ok := s.receiveUpload(w, r)
		if !ok {
			return
		}
		// The running job takes over the name from the upload reservation.
		defer release()

		path := file.Path
		job, err := s.jobs.Start(uuid.NewString(), file.Name, func(ctx context.Context) (*runner.Result, error) {
			res, err := s.runner.Run(ctx, path)
			if res != nil {
				res.Filename = file.Name
			}
			return res, err
		})
		if errors.Is(err, jobs.ErrAlreadyRunning) {
			writeJSON(w, nethttp.StatusConflict, map[string]any{
				"error": err.Error(),
				"job":   job,
			})
			return
		}
		if err != nil {
			writeJSON(w, nethttp.StatusServiceUnavailable, map[string]any{"error": err.Error()})
			return
		}

		writeJSON(w, nethttp.StatusAccepted, map[string]any{
			"id":         job.ID,
			"filename":   job.Filename,
			"status":     job.Status,
			"started_at": job.StartedAt,
			"status_url": "/status/" + job.Filename,
		})
	}
}

// jobStatusHandler serves /status/{filename}; a bare /status/ lists every known job.
func jobStatusHandler(registry *jobs.Registry) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}

		filename := strings.Trim(strings.TrimPrefix(r.URL.Path, "/status/"), "/")
		if filename == "" {
			items := registry.List()
			running, finished := registry.Counts()
			writeJSON(w, nethttp.StatusOK, map[string]any{
				"meta": map[string]any{
					"count":    len(items),
					"running":  running,
					"finished": finished,
				},
				"data": items,
			})
			return
		}

		job, ok := registry.Get(filename)
		if !ok {
			writeJSON(w, nethttp.StatusNotFound, map[string]any{
				"error":    "no job for this file",
				"filename": filename,
			})
			return
		}
		writeJSON(w, nethttp.StatusOK, job)
	}
}

// receiveUpload reserves the upload's filename and streams the multipart "file" field into
// the upload store. The caller must call release once the name may be reused. It writes the
// error response itself and reports false when the request cannot proceed.
func (s *Server) receiveUpload(w nethttp.ResponseWriter, r *nethttp.Request) (*upload.File, func(), bool) {
	if limit := s.uploads.MaxBytes(); limit > 0 {
		// Leave room for the multipart envelope; the store enforces the exact file cap.
		r.Body = nethttp.MaxBytesReader(w, r.Body, limit+1<<20)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": "expected multipart/form-data body"})
		return nil, nil, false
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeUploadError(w, err)
			return nil, nil, false
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		name, err := s.uploads.CleanName(part.FileName())
		if err != nil {
			_ = part.Close()
			writeUploadError(w, err)
			return nil, nil, false
		}
		release, err := s.jobs.Reserve(name)
		if err != nil {
			_ = part.Close()
			payload := map[string]any{
				"error":    err.Error(),
				"filename": name,
			}
			if job, found := s.jobs.Get(name); found && job.Status == jobs.StatusRunning {
				payload["job"] = job
			}
			writeJSON(w, nethttp.StatusConflict, payload)
			return nil, nil, false
		}

		file, err := s.uploads.Save(name, part)
		_ = part.Close()
		if err != nil {
			release()
			writeUploadError(w, err)
			return nil, nil, false
		}
		s.metrics.uploadBytes.Add(float64(file.Size))
		log.WithFields(log.Fields{
			"filename": file.Name,
			"size":     file.Size,
		}).Info("upload saved")
		return file, release, true
	}

	writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": "multipart field \"file\" is required"})
	return nil, nil, false
}

func writeUploadError(w nethttp.ResponseWriter, err error) {
	var maxErr *nethttp.MaxBytesError
	switch {
	case errors.Is(err, upload.ErrInvalidFilename):
		writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, upload.ErrUnsupportedExtension):
		writeJSON(w, nethttp.StatusUnsupportedMediaType, map[string]any{"error": err.Error()})
	case errors.Is(err, upload.ErrTooLarge), errors.As(err, &maxErr):
		writeJSON(w, nethttp.StatusRequestEntityTooLarge, map[string]any{"error": "upload exceeds size limit"})
	default:
		logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Error("failed to receive upload")
		writeJSON(w, nethttp.StatusInternalServerError, map[string]any{"error": "failed to store upload"})
	}
}

// backgroundJobFinished is the registry's completion hook.
func (s *Server) backgroundJobFinished(job jobs.Job, err error) {
	s.recordRun(context.Background(), job.ID, jobhistory.ModeBackground, job.Filename, job.Result, err)
}

// recordRun updates run metrics and, when history is enabled, persists the run.
func (s *Server) recordRun(ctx context.Context, id, mode, filename string, res *runner.Result, runErr error) {
	status := jobhistory.StatusSucceeded
	switch {
	case errors.Is(runErr, runner.ErrTimeout):
		status = jobhistory.StatusTimedOut
	case runErr != nil:
		status = jobhistory.StatusFailed
	case res != nil && res.ExitCode != 0:
		status = jobhistory.StatusFailed
	}

	var duration float64
	if res != nil {
		duration = float64(res.DurationMS) / 1000.0
	}
	s.metrics.recordRun(mode, status, duration)

	if s.history == nil {
		return
	}

	run := jobhistory.Run{
		ID:        id,
		Filename:  filename,
		Mode:      mode,
		Status:    status,
		StartedAt: time.Now().UTC(),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if res != nil {
		exitCode := res.ExitCode
		finished := res.FinishedAt
		run.ExitCode = &exitCode
		run.Stdout = res.Stdout
		run.Stderr = res.Stderr
		run.Log = res.Log
		run.StartedAt = res.StartedAt
		run.FinishedAt = &finished
		run.DurationMS = res.DurationMS
	}

	// Persist even if the client has already gone away.
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	err := s.history.Record(ctx, run)
	s.metrics.recordHistoryQuery("Record", time.Since(start).Seconds(), err)
	if err != nil {
		logging.WithStacktrace(log.WithField("job_id", id), err).Warn("failed to record simulation run")
	}
}

func parseLimit(r *nethttp.Request, defaultLimit int) int {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	return limit
}

func parseOffset(r *nethttp.Request) int {
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return offset
}
