package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simulate-now/internal/config"
)

const testAPIKey = "demo-secret"

// TestHelperProcess plays the simulator executable for the server tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}
	path := args[len(args)-1]
	if d := os.Getenv("HELPER_SLEEP"); d != "" {
		dur, _ := time.ParseDuration(d)
		time.Sleep(dur)
	}
	fmt.Fprintf(os.Stdout, "simulating %s\n", filepath.Base(path))
	code, _ := strconv.Atoi(os.Getenv("HELPER_EXIT_CODE"))
	os.Exit(code)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	return config.Config{
		APIKey:            testAPIKey,
		UploadDir:         t.TempDir(),
		AllowedExtensions: []string{"aml", "xml"},
		MaxUploadBytes:    1 << 20,
		JobRetention:      time.Hour,
		DefaultJobsLimit:  50,
		SimExecutable:     os.Args[0],
		SimArgs:           []string{"-test.run=TestHelperProcess", "--"},
		SimTimeout:        30 * time.Second,
		SimMaxConcurrent:  2,
		DBQueryTimeout:    5 * time.Second,
	}
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	s, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func uploadRequest(t *testing.T, target, filename, content string) *nethttp.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = io.WriteString(part, content)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no file here"))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(nethttp.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-API-Key", testAPIKey)
	return req
}

func serve(s *Server, req *nethttp.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload), rr.Body.String())
	return payload
}

func authedGet(target string) *nethttp.Request {
	req := httptest.NewRequest(nethttp.MethodGet, target, nil)
	req.Header.Set("X-API-Key", testAPIKey)
	return req
}

func TestNewServer_RequiresAPIKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.APIKey = ""

	_, err := NewServer(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APP_API_KEY")
}

func TestNewServer_UnknownJobStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.JobStore = "postgres"

	_, err := NewServer(cfg)
	require.Error(t, err)
}

func TestProcessFile_MissingAPIKey(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	req := uploadRequest(t, "/process_file/", "line.xml", "<model/>")
	req.Header.Del("X-API-Key")
	rr := serve(s, req)

	assert.Equal(t, nethttp.StatusUnauthorized, rr.Code)
}

func TestProcessFile_WrongAPIKey(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	req := uploadRequest(t, "/process_file/", "line.xml", "<model/>")
	req.Header.Set("X-API-Key", "guess")
	rr := serve(s, req)

	assert.Equal(t, nethttp.StatusForbidden, rr.Code)
	assert.Equal(t, "forbidden", decode(t, rr)["error"])
}

func TestProcessFile_RunsSimulator(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg)

	rr := serve(s, uploadRequest(t, "/process_file/", "line.xml", "<model/>"))
	require.Equal(t, nethttp.StatusOK, rr.Code, rr.Body.String())

	payload := decode(t, rr)
	assert.Equal(t, "line.xml", payload["filename"])
	assert.Equal(t, "simulating line.xml\n", payload["stdout"])
	assert.EqualValues(t, 0, payload["exit_code"])

	saved, err := os.ReadFile(filepath.Join(cfg.UploadDir, "line.xml"))
	require.NoError(t, err)
	assert.Equal(t, "<model/>", string(saved))
}

func TestProcessFile_NonZeroExitStillReturnsOutput(t *testing.T) {
	t.Setenv("HELPER_EXIT_CODE", "4")
	s := newTestServer(t, testConfig(t))

	rr := serve(s, uploadRequest(t, "/process_file/", "line.aml", "<aml/>"))
	require.Equal(t, nethttp.StatusOK, rr.Code, rr.Body.String())
	assert.EqualValues(t, 4, decode(t, rr)["exit_code"])
}

func TestProcessFile_UploadErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxUploadBytes = 16
	s := newTestServer(t, cfg)

	cases := []struct {
		name     string
		filename string
		content  string
		want     int
	}{
		{name: "missing file field", filename: "", want: nethttp.StatusBadRequest},
		{name: "unsupported extension", filename: "notes.txt", content: "x", want: nethttp.StatusUnsupportedMediaType},
		{name: "parent directory", filename: "..", content: "x", want: nethttp.StatusBadRequest},
		{name: "too large", filename: "big.xml", content: string(make([]byte, 64)), want: nethttp.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(s, uploadRequest(t, "/process_file/", tc.filename, tc.content))
			assert.Equal(t, tc.want, rr.Code, rr.Body.String())
		})
	}
}

func TestProcessFile_NotMultipart(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	req := httptest.NewRequest(nethttp.MethodPost, "/process_file/", bytes.NewBufferString(`{"file":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)
	rr := serve(s, req)

	assert.Equal(t, nethttp.StatusBadRequest, rr.Code)
}

func TestProcessFile_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rr := serve(s, authedGet("/process_file/"))
	assert.Equal(t, nethttp.StatusMethodNotAllowed, rr.Code)
}

func TestProcessFile_StartFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.SimExecutable = filepath.Join(t.TempDir(), "inFACTS Studio.exe")
	cfg.SimArgs = nil
	s := newTestServer(t, cfg)

	rr := serve(s, uploadRequest(t, "/process_file/", "line.xml", "<model/>"))
	assert.Equal(t, nethttp.StatusBadGateway, rr.Code)
	assert.Equal(t, "line.xml", decode(t, rr)["filename"])
}

func TestProcessFile_Timeout(t *testing.T) {
	t.Setenv("HELPER_SLEEP", "10s")
	cfg := testConfig(t)
	cfg.SimTimeout = 300 * time.Millisecond
	s := newTestServer(t, cfg)

	rr := serve(s, uploadRequest(t, "/process_file/", "line.xml", "<model/>"))
	assert.Equal(t, nethttp.StatusGatewayTimeout, rr.Code, rr.Body.String())
}

func TestProcessFileAsync_PollUntilFinished(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rr := serve(s, uploadRequest(t, "/process_file_async/", "cell.aml", "<aml/>"))
	require.Equal(t, nethttp.StatusAccepted, rr.Code, rr.Body.String())
	accepted := decode(t, rr)
	assert.Equal(t, "cell.aml", accepted["filename"])
	assert.Equal(t, "/status/cell.aml", accepted["status_url"])
	assert.NotEmpty(t, accepted["id"])

	var job map[string]any
	require.Eventually(t, func() bool {
		rr := serve(s, authedGet("/status/cell.aml"))
		if rr.Code != nethttp.StatusOK {
			return false
		}
		job = decode(t, rr)
		return job["status"] == "finished"
	}, 20*time.Second, 50*time.Millisecond)

	result, ok := job["result"].(map[string]any)
	require.True(t, ok, "finished job carries the run result")
	assert.Equal(t, "simulating cell.aml\n", result["stdout"])

	rr = serve(s, authedGet("/status/"))
	require.Equal(t, nethttp.StatusOK, rr.Code)
	meta := decode(t, rr)["meta"].(map[string]any)
	assert.EqualValues(t, 1, meta["finished"])
}

func TestProcessFileAsync_RejectsDuplicateWhileRunning(t *testing.T) {
	t.Setenv("HELPER_SLEEP", "2s")
	s := newTestServer(t, testConfig(t))

	rr := serve(s, uploadRequest(t, "/process_file_async/", "cell.aml", "<aml/>"))
	require.Equal(t, nethttp.StatusAccepted, rr.Code, rr.Body.String())

	rr = serve(s, uploadRequest(t, "/process_file_async/", "cell.aml", "<aml version=\"2\"/>"))
	assert.Equal(t, nethttp.StatusConflict, rr.Code)

	rr = serve(s, uploadRequest(t, "/process_file/", "cell.aml", "<aml version=\"2\"/>"))
	assert.Equal(t, nethttp.StatusConflict, rr.Code)

	rr = serve(s, authedGet("/status/cell.aml"))
	require.Equal(t, nethttp.StatusOK, rr.Code)
	assert.Equal(t, "running", decode(t, rr)["status"])
}

func TestProcessFile_InFlightBlocksSameName(t *testing.T) {
	t.Setenv("HELPER_SLEEP", "1500ms")
	cfg := testConfig(t)
	s := newTestServer(t, cfg)

	path := filepath.Join(cfg.UploadDir, "line.xml")
	req := uploadRequest(t, "/process_file/", "line.xml", "<model/>")
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- serve(s, req)
	}()
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(path)
		return err == nil && string(b) == "<model/>" && s.jobs.Running("line.xml")
	}, 5*time.Second, 10*time.Millisecond)

	rr := serve(s, uploadRequest(t, "/process_file_async/", "line.xml", `<model v="2"/>`))
	assert.Equal(t, nethttp.StatusConflict, rr.Code, rr.Body.String())
	rr = serve(s, uploadRequest(t, "/process_file/", "line.xml", `<model v="2"/>`))
	assert.Equal(t, nethttp.StatusConflict, rr.Code, rr.Body.String())

	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<model/>", string(saved))

	first := <-done
	assert.Equal(t, nethttp.StatusOK, first.Code, first.Body.String())
	assert.False(t, s.jobs.Running("line.xml"))

	rr = serve(s, uploadRequest(t, "/process_file/", "line.xml", `<model v="2"/>`))
	assert.Equal(t, nethttp.StatusOK, rr.Code, rr.Body.String())
}

func TestProcessFile_UploadErrorReleasesName(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxUploadBytes = 16
	s := newTestServer(t, cfg)

	rr := serve(s, uploadRequest(t, "/process_file/", "big.xml", string(make([]byte, 64))))
	require.Equal(t, nethttp.StatusRequestEntityTooLarge, rr.Code)
	assert.False(t, s.jobs.Running("big.xml"))
}

func TestUploadSweeper_KeepsFilesInUse(t *testing.T) {
	t.Setenv("HELPER_SLEEP", "3s")
	cfg := testConfig(t)
	cfg.UploadRetention = time.Hour
	cfg.UploadSweepEvery = 20 * time.Millisecond
	s := newTestServer(t, cfg)

	rr := serve(s, uploadRequest(t, "/process_file_async/", "cell.aml", "<aml/>"))
	require.Equal(t, nethttp.StatusAccepted, rr.Code, rr.Body.String())
	release, err := s.jobs.Reserve("held.xml")
	require.NoError(t, err)
	defer release()

	old := time.Now().Add(-2 * time.Hour)
	for _, name := range []string{"cell.aml", "held.xml", "stale.xml"} {
		p := filepath.Join(cfg.UploadDir, name)
		if name != "cell.aml" {
			require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		}
		require.NoError(t, os.Chtimes(p, old, old))
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		s.startUploadSweeper(ctx)
	}()
	defer func() {
		cancel()
		<-stopped
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(cfg.UploadDir, "stale.xml"))
		return os.IsNotExist(err)
	}, 5*time.Second, 20*time.Millisecond)
	assert.FileExists(t, filepath.Join(cfg.UploadDir, "cell.aml"))
	assert.FileExists(t, filepath.Join(cfg.UploadDir, "held.xml"))
}

func TestJobStatus_UnknownFile(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rr := serve(s, authedGet("/status/never-uploaded.xml"))
	assert.Equal(t, nethttp.StatusNotFound, rr.Code)
	assert.Equal(t, "never-uploaded.xml", decode(t, rr)["filename"])
}

func TestJobHistory_Disabled(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	for _, target := range []string{"/api/v1/jobs", "/api/v1/jobs/abc"} {
		rr := serve(s, authedGet(target))
		assert.Equal(t, nethttp.StatusServiceUnavailable, rr.Code, target)
		assert.NotNil(t, decode(t, rr)["error"])
	}
}

func TestJobHistory_SQLiteRecordsRuns(t *testing.T) {
	cfg := testConfig(t)
	cfg.JobStore = "sqlite"
	cfg.JobSQLitePath = filepath.Join(t.TempDir(), "history.db")
	s := newTestServer(t, cfg)

	rr := serve(s, uploadRequest(t, "/process_file/", "line.xml", "<model/>"))
	require.Equal(t, nethttp.StatusOK, rr.Code, rr.Body.String())

	rr = serve(s, authedGet("/api/v1/jobs?limit=10"))
	require.Equal(t, nethttp.StatusOK, rr.Code, rr.Body.String())
	payload := decode(t, rr)
	meta := payload["meta"].(map[string]any)
	assert.EqualValues(t, 10, meta["limit"])
	assert.EqualValues(t, 1, meta["count"])

	items := payload["data"].([]any)
	require.Len(t, items, 1)
	first := items[0].(map[string]any)
	assert.Equal(t, "line.xml", first["filename"])
	assert.Equal(t, "sync", first["mode"])
	assert.Equal(t, "succeeded", first["status"])

	rr = serve(s, authedGet("/api/v1/jobs/"+first["id"].(string)))
	require.Equal(t, nethttp.StatusOK, rr.Code, rr.Body.String())
	detail := decode(t, rr)["data"].(map[string]any)
	assert.Equal(t, "simulating line.xml\n", detail["stdout"])

	rr = serve(s, authedGet("/api/v1/jobs/does-not-exist"))
	assert.Equal(t, nethttp.StatusNotFound, rr.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rr := serve(s, httptest.NewRequest(nethttp.MethodGet, "/health", nil))
	require.Equal(t, nethttp.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode(t, rr)["status"])

	rr = serve(s, httptest.NewRequest(nethttp.MethodGet, "/ready", nil))
	require.Equal(t, nethttp.StatusOK, rr.Code)

	rr = serve(s, httptest.NewRequest(nethttp.MethodGet, "/metrics", nil))
	require.Equal(t, nethttp.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `simulate_now_http_requests_total{method="GET",path="/health",status="200"} 1`)
	assert.Contains(t, body, "simulate_now_background_jobs_running 0")
}

func TestLimits(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rr := serve(s, httptest.NewRequest(nethttp.MethodGet, "/api/v1/settings/limits", nil))
	assert.Equal(t, nethttp.StatusUnauthorized, rr.Code)

	rr = serve(s, authedGet("/api/v1/settings/limits"))
	require.Equal(t, nethttp.StatusOK, rr.Code)
	data := decode(t, rr)["data"].(map[string]any)
	assert.Equal(t, []any{"aml", "xml"}, data["allowed_extensions"])
	assert.EqualValues(t, 1<<20, data["max_upload_bytes"])
	assert.Equal(t, "1.0 MiB", data["max_upload_size"])
	assert.Equal(t, false, data["job_history_enabled"])
	assert.NotContains(t, rr.Body.String(), testAPIKey)
}

func TestServicesStatus(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rr := serve(s, httptest.NewRequest(nethttp.MethodGet, "/api/v1/status/services", nil))
	assert.Equal(t, nethttp.StatusUnauthorized, rr.Code)

	rr = serve(s, authedGet("/api/v1/status/services"))
	require.Equal(t, nethttp.StatusOK, rr.Code)
	services := decode(t, rr)["services"].(map[string]any)

	assert.Equal(t, true, services["simulator"].(map[string]any)["ok"])
	assert.Equal(t, true, services["upload_dir"].(map[string]any)["ok"])
	assert.Equal(t, false, services["job_history"].(map[string]any)["enabled"])
	assert.EqualValues(t, 0, services["background_jobs"].(map[string]any)["running"])
}

func TestNormalizeMetricPath(t *testing.T) {
	cases := map[string]string{
		"/status/line.xml":           "/status/{filename}",
		"/api/v1/jobs/1234":          "/api/v1/jobs/{id}",
		"/api/v1/jobs":               "/api/v1/jobs",
		"/process_file/":             "/process_file/",
		"/process_file_async/":       "/process_file_async/",
		"/metrics":                   "/metrics",
		"/wp-admin/setup-config.php": "other",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeMetricPath(in), in)
	}
}
