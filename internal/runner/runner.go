package runner

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrStart means the simulator process could not be launched at all.
	ErrStart = errors.New("simulator failed to start")
	// ErrTimeout means the run hit its deadline or was cancelled and the process was killed.
	ErrTimeout = errors.New("simulator run timed out")
)

// Result is what one simulator invocation produced.
type Result struct {
	Filename   string    `json:"filename"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	Log        string    `json:"log,omitempty"`
	ExitCode   int       `json:"exit_code"`
	TimedOut   bool      `json:"timed_out,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Options configures a Runner.
type Options struct {
	Executable    string
	Args          []string
	Timeout       time.Duration
	LogSuffix     string
	MaxConcurrent int
	Env           []string
}

// Runner invokes the external simulator as "<executable> <args...> <path>".
type Runner struct {
	executable string
	args       []string
	timeout    time.Duration
	logSuffix  string
	env        []string
	slots      *semaphore.Weighted
	maxSlots   int64
}

func New(opts Options) *Runner {
	n := int64(opts.MaxConcurrent)
	if n <= 0 {
		n = 1
	}
	args := make([]string, len(opts.Args))
	copy(args, opts.Args)
	return &Runner{
		executable: opts.Executable,
		args:       args,
		timeout:    opts.Timeout,
		logSuffix:  opts.LogSuffix,
		env:        opts.Env,
		slots:      semaphore.NewWeighted(n),
		maxSlots:   n,
	}
}

func (r *Runner) Executable() string {
	return r.executable
}

func (r *Runner) MaxConcurrent() int64 {
	return r.maxSlots
}

func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// ExecutableStatus reports whether the configured executable can be found.
func (r *Runner) ExecutableStatus() (string, error) {
	p, err := exec.LookPath(r.executable)
	if err != nil {
		return "", err
	}
	return p, nil
}

// Run blocks until a slot is free, then runs the simulator on path and waits for it.
// A non-zero exit status is reported in the Result, not as an error.
func (r *Runner) Run(ctx context.Context, path string) (*Result, error) {
	if err := r.slots.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(ErrTimeout, "waiting for a free simulator slot")
	}
	defer r.slots.Release(1)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := append(append([]string{}, r.args...), path)
	cmd := exec.CommandContext(ctx, r.executable, args...)
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger := log.WithField("path", path)
	r.removeStaleLog(logger, path)

	res := &Result{StartedAt: time.Now().UTC()}
	logger.WithField("executable", r.executable).Debug("starting simulator")

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(ErrStart, "%s: %v", r.executable, err)
	}
	waitErr := cmd.Wait()

	res.FinishedAt = time.Now().UTC()
	res.DurationMS = res.FinishedAt.Sub(res.StartedAt).Milliseconds()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.ExitCode = cmd.ProcessState.ExitCode()
	res.Log = r.readLog(path)

	if ctx.Err() != nil {
		res.TimedOut = true
		logger.WithField("duration_ms", res.DurationMS).Warn("simulator killed")
		return res, errors.Wrapf(ErrTimeout, "after %s", time.Duration(res.DurationMS)*time.Millisecond)
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return res, errors.Wrap(waitErr, "waiting for simulator")
	}

	logger.WithFields(log.Fields{
		"exit_code":   res.ExitCode,
		"duration_ms": res.DurationMS,
	}).Info("simulator finished")
	return res, nil
}

// removeStaleLog drops a log left by an earlier run on the same path so it is never
// reported as this run's output.
func (r *Runner) removeStaleLog(logger *log.Entry, path string) {
	if r.logSuffix == "" {
		return
	}
	if err := os.Remove(path + r.logSuffix); err != nil && !os.IsNotExist(err) {
		logger.WithError(err).Warn("failed to remove previous simulator log")
	}
}

func (r *Runner) readLog(path string) string {
	if r.logSuffix == "" {
		return ""
	}
	b, err := os.ReadFile(path + r.logSuffix)
	if err != nil {
		return ""
	}
	return string(b)
}
