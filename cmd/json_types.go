package cmd

import (
	"opsrun/pkg/poller"
	"opsrun/pkg/process"
)

// execResultForJSON is the machine-readable form of an exec run.
type execResultForJSON struct {
	Command    []string `json:"command"`
	ExitCode   int      `json:"exit_code"`
	TimedOut   bool     `json:"timed_out"`
	Output     string   `json:"output,omitempty"`
	Stdout     string   `json:"stdout,omitempty"`
	Stderr     string   `json:"stderr,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

func newExecResultForJSON(args []string, res process.Result) execResultForJSON {
	return execResultForJSON{
		Command:    args,
		ExitCode:   res.ExitCode,
		TimedOut:   res.TimedOut,
		Output:     res.Output,
		DurationMS: res.Duration.Milliseconds(),
	}
}

func newLargeResultForJSON(args []string, res process.LargeResult) execResultForJSON {
	return execResultForJSON{
		Command:    args,
		ExitCode:   res.ExitCode,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		DurationMS: res.Duration.Milliseconds(),
	}
}

// pollOutcomeForJSON is the machine-readable form of a finished wait.
type pollOutcomeForJSON struct {
	Session    string `json:"session"`
	Name       string `json:"name,omitempty"`
	State      string `json:"state"`
	Succeeded  bool   `json:"succeeded"`
	LastStatus string `json:"last_status"`
	Queries    int    `json:"queries"`
	ElapsedMS  int64  `json:"elapsed_ms"`
	Error      string `json:"error,omitempty"`
}

func newPollOutcomeForJSON(name string, out poller.Outcome) pollOutcomeForJSON {
	return pollOutcomeForJSON{
		Session:    out.SessionID,
		Name:       name,
		State:      string(out.State),
		Succeeded:  out.Succeeded,
		LastStatus: out.LastStatus,
		Queries:    out.Queries,
		ElapsedMS:  out.Elapsed.Milliseconds(),
		Error:      out.ErrorMessage,
	}
}

// driftForJSON is the machine-readable form of a baseline check.
type driftForJSON struct {
	Baseline string `json:"baseline"`
	Changed  bool   `json:"changed"`
	Distance int    `json:"distance"`
	Diff     string `json:"diff,omitempty"`
}
