package process

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ExecuteLarge runs spec collecting stdout and stderr into separate buffers
// and waits for exit without streaming. It is meant for commands whose output
// would not fit ordinary pipe buffering. Capture and Echo are ignored.
//
// On timeout the process group receives SIGTERM, then SIGKILL once the grace
// period passes, and the call fails with ErrTimeout. No result is returned on
// timeout. If the kill itself fails the error is ErrExecution wrapping the
// SIGKILL failure.
func (r *Runner) ExecuteLarge(spec CommandSpec) (LargeResult, error) {
	program := spec.Program()
	spec, err := spec.normalized()
	if err != nil {
		r.recorder.ObserveExecution(program, OutcomeError, 0)
		return LargeResult{}, err
	}
	id := uuid.NewString()[:8]

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(program, spec.Args[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.waitDelay
	isolate(cmd)

	r.logger.Debug("Starting large-output command", "id", id, "command", spec.String(), "timeout", spec.Timeout)
	started := time.Now()
	if err := cmd.Start(); err != nil {
		r.recorder.ObserveExecution(program, OutcomeError, 0)
		r.logger.Error("Failed to start command", "id", id, "program", program, "error", err)
		return LargeResult{}, classifyStart(program, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(spec.Timeout)
	defer timer.Stop()

	select {
	case waitErr := <-done:
		elapsed := time.Since(started)
		var exitErr *exec.ExitError
		if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
			r.recorder.ObserveExecution(program, OutcomeError, elapsed)
			return LargeResult{}, newError(KindExecution, "wait", program, waitErr)
		}
		if cmd.ProcessState == nil {
			r.recorder.ObserveExecution(program, OutcomeError, elapsed)
			return LargeResult{}, newError(KindExecution, "wait", program, errors.New("exit status unavailable"))
		}
		if !utf8.Valid(stdout.Bytes()) || !utf8.Valid(stderr.Bytes()) {
			r.recorder.ObserveExecution(program, OutcomeError, elapsed)
			return LargeResult{}, newError(KindOutputDecode, "decode", program, errors.New("captured output is not valid UTF-8"))
		}
		res := LargeResult{
			ExitCode: cmd.ProcessState.ExitCode(),
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: elapsed,
		}
		outcome := OutcomeSuccess
		if res.ExitCode != 0 {
			outcome = OutcomeFailure
		}
		r.recorder.ObserveExecution(program, outcome, elapsed)
		r.logger.Debug("Large-output command finished", "id", id, "program", program, "exit_code", res.ExitCode, "stdout_bytes", stdout.Len(), "stderr_bytes", stderr.Len())
		return res, nil

	case <-timer.C:
		err := r.escalate(id, program, cmd.Process, done)
		r.recorder.ObserveExecution(program, OutcomeTimeout, time.Since(started))
		if err != nil {
			return LargeResult{}, err
		}
		return LargeResult{}, newError(KindTimeout, "wait", program, fmt.Errorf("no exit within %s", spec.Timeout))
	}
}

// escalate terminates a process that outlived its timeout. It returns nil
// once the process has been reaped, or an execution error if SIGKILL could
// not be delivered.
func (r *Runner) escalate(id, program string, p *os.Process, done <-chan error) error {
	r.logger.Warn("Command timed out, sending SIGTERM", "id", id, "program", program, "grace_period", r.gracePeriod)
	if err := terminateGroup(p); err != nil && !errors.Is(err, os.ErrProcessDone) {
		r.logger.Warn("Graceful termination failed", "id", id, "program", program, "error", err)
	}

	grace := time.NewTimer(r.gracePeriod)
	defer grace.Stop()
	select {
	case <-done:
		return nil
	case <-grace.C:
	}

	r.logger.Warn("Command still running after grace period, sending SIGKILL", "id", id, "program", program)
	if err := killGroup(p); err != nil && !errors.Is(err, os.ErrProcessDone) {
		r.logger.Error("Failed to kill command", "id", id, "program", program, "error", err)
		return newError(KindExecution, "kill", program, err)
	}
	// Reaping is bounded by WaitDelay once the group is dead.
	<-done
	return nil
}
