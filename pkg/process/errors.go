package process

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
)

// Kind classifies a failed invocation.
type Kind int

const (
	// KindInvocation covers bad input and executables that cannot be resolved
	// or started (not found, permission denied).
	KindInvocation Kind = iota + 1
	// KindExecution covers OS-level failures to launch, wait on or terminate
	// a process.
	KindExecution
	// KindTimeout is returned by ExecuteLarge when the timeout elapses.
	KindTimeout
	// KindOutputDecode means captured bytes were not valid UTF-8.
	KindOutputDecode
)

var (
	ErrInvocation   = errors.New("invocation error")
	ErrExecution    = errors.New("execution error")
	ErrTimeout      = errors.New("timeout")
	ErrOutputDecode = errors.New("output decode error")
)

func (k Kind) String() string {
	switch k {
	case KindInvocation:
		return "invocation"
	case KindExecution:
		return "execution"
	case KindTimeout:
		return "timeout"
	case KindOutputDecode:
		return "output-decode"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindInvocation:
		return ErrInvocation
	case KindExecution:
		return ErrExecution
	case KindTimeout:
		return ErrTimeout
	case KindOutputDecode:
		return ErrOutputDecode
	default:
		return nil
	}
}

// OpValidate is the Op of errors raised before anything was launched.
const OpValidate = "validate"

// Error is returned by every failing Execute/ExecuteLarge call. Match the
// kind with errors.Is(err, ErrTimeout) and friends; the OS cause, when there
// is one, is reachable through errors.As/Unwrap.
type Error struct {
	Kind    Kind
	Op      string
	Program string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := "process: " + e.Op
	if e.Program != "" {
		msg += " " + e.Program
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func newError(kind Kind, op, program string, err error) *Error {
	return &Error{Kind: kind, Op: op, Program: program, Err: err}
}

// classifyStart maps a failed cmd.Start to an invocation error when the
// executable could not be resolved or lacks permissions, and to an
// execution error otherwise.
func classifyStart(program string, err error) error {
	if errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, exec.ErrDot) ||
		errors.Is(err, fs.ErrNotExist) ||
		isPermissionErr(err) {
		return newError(KindInvocation, "start", program, err)
	}
	return newError(KindExecution, "start", program, err)
}
