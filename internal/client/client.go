// Package client talks to the simulate-now backend on behalf of the frontend and simctl.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"simulate-now/internal/jobs"
	"simulate-now/internal/runner"
)

const apiKeyHeader = "X-API-Key"

var errStillRunning = errors.New("simulation still running")

// HTTPError is returned for any non-2xx backend reply.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	msg := strings.TrimSpace(string(e.Body))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(e.Body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, msg)
}

// Submission is the backend's acknowledgement of a background run.
type Submission struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	StatusURL string    `json:"status_url"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New returns a client for the backend at baseURL. A zero timeout leaves requests
// bounded only by their context.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ProcessFile uploads the file and waits for the simulator to finish.
func (c *Client) ProcessFile(ctx context.Context, filename string, r io.Reader) (*runner.Result, error) {
	var res runner.Result
	if err := c.upload(ctx, "/process_file/", filename, r, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SubmitFile uploads the file and starts a background run.
func (c *Client) SubmitFile(ctx context.Context, filename string, r io.Reader) (*Submission, error) {
	var sub Submission
	if err := c.upload(ctx, "/process_file_async/", filename, r, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Status fetches the background job entry for filename.
func (c *Client) Status(ctx context.Context, filename string) (*jobs.Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status/"+url.PathEscape(filename), nil)
	if err != nil {
		return nil, errors.Wrap(err, "building status request")
	}
	var job jobs.Job
	if err := c.do(req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// WaitFinished polls Status every interval until the job finishes, attempts run out
// or ctx is done. Client errors (4xx) stop polling immediately.
func (c *Client) WaitFinished(ctx context.Context, filename string, interval time.Duration, attempts uint) (*jobs.Job, error) {
	if attempts == 0 {
		attempts = 1
	}
	var job *jobs.Job
	err := retry.Do(
		func() error {
			j, err := c.Status(ctx, filename)
			if err != nil {
				return err
			}
			job = j
			if j.Status != jobs.StatusFinished {
				return errStillRunning
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) {
				return httpErr.StatusCode >= http.StatusInternalServerError
			}
			return true
		}),
		retry.OnRetry(func(n uint, err error) {
			log.WithFields(log.Fields{"filename": filename, "attempt": n + 1}).WithError(err).Debug("polling job status")
		}),
	)
	if err != nil {
		return job, err
	}
	return job, nil
}

// IsStillRunning reports whether WaitFinished gave up while the job was still running.
func IsStillRunning(err error) bool {
	return errors.Is(err, errStillRunning)
}

// IsTimeout reports whether err came from a client-side deadline rather than the backend.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) upload(ctx context.Context, path, filename string, r io.Reader, out any) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return errors.Wrap(err, "building multipart body")
	}
	if _, err := io.Copy(part, r); err != nil {
		return errors.Wrapf(err, "reading %s", filename)
	}
	if err := mw.Close(); err != nil {
		return errors.Wrap(err, "closing multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return errors.Wrap(err, "building upload request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading backend response")
	}
	log.WithFields(log.Fields{
		"method":   req.Method,
		"path":     req.URL.Path,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	}).Debug("backend call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: body}
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(body, out), "decoding backend response")
}
