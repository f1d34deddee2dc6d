package process

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultTimeout applies when a CommandSpec leaves Timeout at zero.
const DefaultTimeout = 3600 * time.Second

var validate = validator.New()

// CommandSpec describes one invocation. Args[0] is the program, resolved
// through PATH when it contains no separator; the remaining elements are
// passed verbatim, never through a shell.
type CommandSpec struct {
	Args    []string      `validate:"min=1"`
	Timeout time.Duration `validate:"gte=0"`
	// Capture merges stdout and stderr into Result.Output. Without it both
	// streams are discarded.
	Capture bool
	// Echo copies each captured line to the runner's echo writer as it
	// arrives. Ignored when Capture is false.
	Echo bool
	Dir  string
	Env  []string
}

// Command is shorthand for a capturing spec with the default timeout.
func Command(program string, args ...string) CommandSpec {
	return CommandSpec{
		Args:    append([]string{program}, args...),
		Capture: true,
	}
}

// WithTimeout returns a copy of s with the timeout replaced.
func (s CommandSpec) WithTimeout(d time.Duration) CommandSpec {
	s.Timeout = d
	return s
}

func (s CommandSpec) Program() string {
	if len(s.Args) == 0 {
		return ""
	}
	return s.Args[0]
}

// String renders the argument vector for logs. It is not a shell command.
func (s CommandSpec) String() string {
	return strings.Join(s.Args, " ")
}

// normalized validates s and returns a copy with defaults applied.
func (s CommandSpec) normalized() (CommandSpec, error) {
	if err := validate.Struct(s); err != nil {
		return CommandSpec{}, newError(KindInvocation, OpValidate, s.Program(), describeValidation(err))
	}
	if strings.TrimSpace(s.Args[0]) == "" {
		return CommandSpec{}, newError(KindInvocation, OpValidate, "", errors.New("program name cannot be empty"))
	}
	for _, kv := range s.Env {
		if !strings.Contains(kv, "=") {
			return CommandSpec{}, newError(KindInvocation, OpValidate, s.Args[0], fmt.Errorf("env entry %q is not KEY=VALUE", kv))
		}
	}
	out := s
	out.Args = slices.Clone(s.Args)
	out.Env = slices.Clone(s.Env)
	if out.Timeout == 0 {
		out.Timeout = DefaultTimeout
	}
	return out, nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s: command must have at least one element", fe.Field()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s: must be a positive duration", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Result is the outcome of a streaming Execute call.
type Result struct {
	ExitCode int
	// Output holds the merged stdout/stderr lines, each stripped of trailing
	// whitespace and joined with "\n". Empty when capture was off.
	Output string
	// TimedOut reports that the watchdog killed the process. ExitCode then
	// carries whatever the OS reported for the killed process.
	TimedOut bool
	Duration time.Duration
}

func (r Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// LargeResult is the outcome of ExecuteLarge. Streams are kept apart and
// returned verbatim.
type LargeResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}
