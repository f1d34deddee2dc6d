package poller

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidSpec   = errors.New("poller: invalid spec")
	ErrQuery         = errors.New("poller: status query failed")
	ErrPollTimeout   = errors.New("poller: max wait exceeded")
	ErrCancelled     = errors.New("poller: cancelled")
	ErrUnknownStatus = errors.New("poller: unknown status")
)

// QueryError records the query failure that ended a session. Failures are
// terminal; the poller does not retry.
type QueryError struct {
	Attempt int
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("status query %d failed: %v", e.Attempt, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func (e *QueryError) Is(target error) bool {
	return target == ErrQuery
}

// TimeoutError reports a session that used up its max wait without seeing a
// terminal status.
type TimeoutError struct {
	MaxWait    time.Duration
	LastStatus string
	Queries    int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no terminal status within %s after %d queries (last status %q)", e.MaxWait, e.Queries, e.LastStatus)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrPollTimeout
}
