package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := RootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSubmit_Sync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/process_file/", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"filename":    "line.xml",
			"stdout":      "replications done",
			"exit_code":   0,
			"finished_at": time.Now().UTC(),
			"duration_ms": 1500,
		})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "line.xml")
	require.NoError(t, os.WriteFile(path, []byte("<model/>"), 0o644))

	out, err := execute(t, "submit", path, "--backend", srv.URL, "--api-key", "k")
	require.NoError(t, err)
	assert.Contains(t, out, "Uploading line.xml (8 B)")
	assert.Contains(t, out, "line.xml finished with exit code 0 in 1.5s")
	assert.Contains(t, out, "--- stdout ---\nreplications done\n")
}

func TestSubmit_BackgroundWait(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/process_file_async/":
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "b1", "filename": "cell.aml", "status": "running"})
		case "/status/cell.aml":
			n := atomic.AddInt32(&polls, 1)
			job := map[string]any{"id": "b1", "filename": "cell.aml", "status": "running"}
			if n > 1 {
				job["status"] = "finished"
				job["result"] = map[string]any{"filename": "cell.aml", "stdout": "ok\n", "exit_code": 0}
			}
			_ = json.NewEncoder(w).Encode(job)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "cell.aml")
	require.NoError(t, os.WriteFile(path, []byte("<aml/>"), 0o644))

	out, err := execute(t, "submit", path, "--backend", srv.URL, "--api-key", "k",
		"--background", "--wait", "--poll-interval", "5ms")
	require.NoError(t, err)
	assert.Contains(t, out, "Started job b1 for cell.aml")
	assert.Contains(t, out, "cell.aml finished with exit code 0")
	assert.EqualValues(t, 2, atomic.LoadInt32(&polls))
}

func TestSubmit_MissingFile(t *testing.T) {
	_, err := execute(t, "submit", filepath.Join(t.TempDir(), "nope.xml"), "--backend", "http://127.0.0.1:1")
	require.Error(t, err)
}

func TestStatus_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"no job for this file"}`)
	}))
	defer srv.Close()

	_, err := execute(t, "status", "gone.xml", "--backend", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestStatus_Running(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":         "b1",
			"filename":   "cell.aml",
			"status":     "running",
			"started_at": time.Now().Add(-2 * time.Minute).UTC(),
		})
	}))
	defer srv.Close()

	out, err := execute(t, "status", "cell.aml", "--backend", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "cell.aml: running (job b1, started 2 minutes ago)")
}
