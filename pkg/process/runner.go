package process

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"opsrun/pkg/log"
)

const (
	// DefaultGracePeriod is how long ExecuteLarge waits after SIGTERM before
	// sending SIGKILL.
	DefaultGracePeriod = 5 * time.Second
	// DefaultWaitDelay bounds how long output collection may continue after
	// the child exits or is killed.
	DefaultWaitDelay = 2 * time.Second
)

// Outcome labels passed to Recorder.ObserveExecution.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// Executor is the contract higher-level wrappers (git, ssh, openssl...)
// depend on, so tests can substitute a fake.
type Executor interface {
	Execute(spec CommandSpec) (Result, error)
}

// Recorder receives one observation per finished call.
type Recorder interface {
	ObserveExecution(program, outcome string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveExecution(string, string, time.Duration) {}

// Runner executes commands with a hard timeout. The zero value is not usable;
// build one with New. A Runner is safe for concurrent use.
type Runner struct {
	logger      log.Logger
	recorder    Recorder
	echo        io.Writer
	gracePeriod time.Duration
	waitDelay   time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(l log.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithRecorder(rec Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithEchoWriter sets where Echo specs copy their lines. Defaults to
// os.Stdout.
func WithEchoWriter(w io.Writer) Option {
	return func(r *Runner) {
		if w != nil {
			r.echo = w
		}
	}
}

// WithGracePeriod sets the SIGTERM to SIGKILL delay of ExecuteLarge.
// Non-positive values are ignored.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.gracePeriod = d
		}
	}
}

// WithWaitDelay bounds output draining after the process is gone.
// Non-positive values are ignored.
func WithWaitDelay(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.waitDelay = d
		}
	}
}

func New(opts ...Option) *Runner {
	r := &Runner{
		logger:      log.Nop{},
		recorder:    nopRecorder{},
		echo:        os.Stdout,
		gracePeriod: DefaultGracePeriod,
		waitDelay:   DefaultWaitDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs spec with a default Runner.
func Execute(spec CommandSpec) (Result, error) {
	return New().Execute(spec)
}

// Execute launches spec, streams its merged output when Capture is set and
// blocks until the child exits or the watchdog kills it. A timeout is not an
// error here: the result comes back with TimedOut set. Failures return a
// *Error and no partial result.
func (r *Runner) Execute(spec CommandSpec) (Result, error) {
	program := spec.Program()
	spec, err := spec.normalized()
	if err != nil {
		r.recorder.ObserveExecution(program, OutcomeError, 0)
		return Result{}, err
	}
	id := uuid.NewString()[:8]

	// The deadline is the watchdog; cancel disarms it on every return path.
	ctx, cancel := context.WithTimeout(context.Background(), spec.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, program, spec.Args[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.WaitDelay = r.waitDelay
	isolate(cmd)
	var killed atomic.Bool
	cmd.Cancel = func() error {
		err := killGroup(cmd.Process)
		if err == nil {
			killed.Store(true)
		}
		return err
	}

	var sink *lineSink
	if spec.Capture {
		var echo io.Writer
		if spec.Echo {
			echo = r.echo
		}
		sink = newLineSink(echo)
		cmd.Stdout = sink
		cmd.Stderr = sink
	}

	r.logger.Debug("Starting command", "id", id, "command", spec.String(), "timeout", spec.Timeout)
	started := time.Now()
	if err := cmd.Start(); err != nil {
		r.recorder.ObserveExecution(program, OutcomeError, 0)
		r.logger.Error("Failed to start command", "id", id, "program", program, "error", err)
		return Result{}, classifyStart(program, err)
	}

	waitErr := cmd.Wait()
	elapsed := time.Since(started)
	timedOut := killed.Load()

	if cmd.ProcessState == nil {
		r.recorder.ObserveExecution(program, OutcomeError, elapsed)
		return Result{}, newError(KindExecution, "wait", program, errors.Join(errors.New("exit status unavailable"), waitErr))
	}
	if waitErr != nil && !timedOut {
		var exitErr *exec.ExitError
		switch {
		case errors.As(waitErr, &exitErr):
		case errors.Is(waitErr, exec.ErrWaitDelay):
			// The child is gone but a descendant kept the pipe open.
			r.logger.Warn("Output pipe still open after exit", "id", id, "program", program, "wait_delay", r.waitDelay)
		default:
			r.recorder.ObserveExecution(program, OutcomeError, elapsed)
			return Result{}, newError(KindExecution, "wait", program, waitErr)
		}
	}

	res := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		TimedOut: timedOut,
		Duration: elapsed,
	}
	if sink != nil {
		out, ok := sink.text()
		if !ok {
			r.recorder.ObserveExecution(program, OutcomeError, elapsed)
			return Result{}, newError(KindOutputDecode, "decode", program, errors.New("captured output is not valid UTF-8"))
		}
		res.Output = out
	}

	switch {
	case timedOut:
		r.logger.Warn("Command timed out and was killed", "id", id, "program", program, "timeout", spec.Timeout, "exit_code", res.ExitCode)
		r.recorder.ObserveExecution(program, OutcomeTimeout, elapsed)
	case res.ExitCode != 0:
		r.logger.Info("Command exited with non-zero status", "id", id, "program", program, "exit_code", res.ExitCode, "duration", elapsed)
		r.recorder.ObserveExecution(program, OutcomeFailure, elapsed)
	default:
		r.logger.Debug("Command finished", "id", id, "program", program, "duration", elapsed)
		r.recorder.ObserveExecution(program, OutcomeSuccess, elapsed)
	}
	return res, nil
}
