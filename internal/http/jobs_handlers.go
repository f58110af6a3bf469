package http

import (
	"context"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"simulate-now/internal/connectors/jobhistory"
)

const historyDisabled = "job history disabled (set APP_JOB_STORE=sqlite or APP_JOB_STORE=mysql)"

func jobHistoryListHandler(defaultLimit int, store *jobhistory.Store, m *metrics) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if store == nil {
			writeJSON(w, nethttp.StatusServiceUnavailable, map[string]any{"error": historyDisabled})
			return
		}

		limit := parseLimit(r, defaultLimit)
		offset := parseOffset(r)
		start := time.Now()
		items, err := store.List(r.Context(), limit, offset)
		m.recordHistoryQuery("List", time.Since(start).Seconds(), err)
		if err != nil {
			status := nethttp.StatusInternalServerError
			if errors.Is(err, context.DeadlineExceeded) {
				status = nethttp.StatusGatewayTimeout
			}
			writeJSON(w, status, map[string]any{"error": "failed to fetch job history"})
			return
		}

		writeJSON(w, nethttp.StatusOK, map[string]any{
			"meta": map[string]any{
				"limit":  limit,
				"offset": offset,
				"count":  len(items),
			},
			"data": items,
		})
	}
}

func jobHistoryDetailHandler(store *jobhistory.Store, m *metrics) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if store == nil {
			writeJSON(w, nethttp.StatusServiceUnavailable, map[string]any{"error": historyDisabled})
			return
		}

		id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/"), "/")
		if id == "" || strings.Contains(id, "/") {
			writeJSON(w, nethttp.StatusNotFound, map[string]any{"error": "not found"})
			return
		}

		start := time.Now()
		item, err := store.Get(r.Context(), id)
		m.recordHistoryQuery("Get", time.Since(start).Seconds(), err)
		if errors.Is(err, jobhistory.ErrNotFound) {
			writeJSON(w, nethttp.StatusNotFound, map[string]any{"error": "run not found: " + id})
			return
		}
		if err != nil {
			writeJSON(w, nethttp.StatusInternalServerError, map[string]any{"error": "failed to fetch run"})
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{"data": item})
	}
}
