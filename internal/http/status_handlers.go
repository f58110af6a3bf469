package http

import (
	"context"
	nethttp "net/http"
	"os"
	"time"

	"simulate-now/internal/connectors/jobhistory"
	"simulate-now/internal/runner"
	"simulate-now/internal/upload"
)

func servicesStatusHandler(s *Server) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 8*time.Second)
		defer cancel()

		payload := map[string]any{
			"generated_at": time.Now().UTC(),
			"services":     map[string]any{},
		}
		services := payload["services"].(map[string]any)

		services["simulator"] = simulatorStatus(s.runner)
		services["upload_dir"] = uploadDirStatus(s.uploads)
		services["job_history"] = historyStatus(ctx, s.history, s.metrics)

		running, finished := s.jobs.Counts()
		services["background_jobs"] = map[string]any{
			"enabled":  true,
			"ok":       true,
			"running":  running,
			"finished": finished,
		}

		writeJSON(w, nethttp.StatusOK, payload)
	}
}

func simulatorStatus(sim *runner.Runner) map[string]any {
	resolved, err := sim.ExecutableStatus()
	if err != nil {
		return map[string]any{"enabled": true, "ok": false, "executable": sim.Executable(), "error": err.Error()}
	}
	return map[string]any{
		"enabled":        true,
		"ok":             true,
		"executable":     resolved,
		"max_concurrent": sim.MaxConcurrent(),
	}
}

func uploadDirStatus(store *upload.Store) map[string]any {
	tmp, err := os.CreateTemp(store.Dir(), ".write-check-*")
	if err != nil {
		return map[string]any{"enabled": true, "ok": false, "path": store.Dir(), "error": err.Error()}
	}
	_ = tmp.Close()
	_ = os.Remove(tmp.Name())
	return map[string]any{"enabled": true, "ok": true, "path": store.Dir()}
}

func historyStatus(ctx context.Context, store *jobhistory.Store, m *metrics) map[string]any {
	if store == nil {
		return map[string]any{"enabled": false, "ok": false, "error": historyDisabled}
	}

	start := time.Now()
	stats, err := store.ServiceStats(ctx)
	m.recordHistoryQuery("ServiceStats", time.Since(start).Seconds(), err)
	if err != nil {
		return map[string]any{"enabled": true, "ok": false, "location": store.Location(), "error": err.Error()}
	}
	return map[string]any{"enabled": true, "ok": true, "location": store.Location(), "stats": stats}
}
