package http

import (
	nethttp "net/http"
	"sort"

	"simulate-now/internal/config"
	"simulate-now/internal/runner"
	"simulate-now/internal/upload"
)

// limitsHandler publishes the non-secret limits clients need before uploading.
func limitsHandler(cfg config.Config, uploads *upload.Store, sim *runner.Runner) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		exts := uploads.Extensions()
		sort.Strings(exts)
		writeJSON(w, nethttp.StatusOK, map[string]any{
			"data": map[string]any{
				"allowed_extensions":     exts,
				"max_upload_bytes":       uploads.MaxBytes(),
				"max_upload_size":        uploads.MaxSize(),
				"simulation_timeout_sec": int(sim.Timeout().Seconds()),
				"max_concurrent_runs":    sim.MaxConcurrent(),
				"job_retention_min":      int(cfg.JobRetention.Minutes()),
				"upload_retention_hours": int(cfg.UploadRetention.Hours()),
				"job_history_enabled":    cfg.JobStore == "sqlite" || cfg.JobStore == "mysql",
			},
		})
	}
}
