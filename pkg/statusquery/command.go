// Package statusquery builds poller queries for common status sources.
package statusquery

import (
	"fmt"
	"strings"

	"opsrun/pkg/poller"
	"opsrun/pkg/process"
)

// ExitError is returned when a status command exits non-zero.
type ExitError struct {
	Program  string
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s exited with code %d", e.Program, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Program, e.ExitCode, e.Output)
}

// Command returns a query that runs spec and reports its trimmed output as the
// status. Output capture is always on. A timeout or non-zero exit fails the
// query.
func Command(runner process.Executor, spec process.CommandSpec) poller.QueryFunc {
	spec.Capture = true
	return func() (string, error) {
		res, err := runner.Execute(spec)
		if err != nil {
			return "", fmt.Errorf("status command: %w", err)
		}
		if res.TimedOut {
			return "", fmt.Errorf("status command %s: %w", spec.Program(), process.ErrTimeout)
		}
		if !res.Success() {
			return "", &ExitError{Program: spec.Program(), ExitCode: res.ExitCode, Output: res.Output}
		}
		return strings.TrimSpace(res.Output), nil
	}
}
