// Package poller waits in the background for a remote resource to reach a
// terminal status.
//
// A session queries immediately, then once per interval measured from the end
// of the previous query, until the status lands in the terminal set, a query
// fails, the max wait budget runs out or the caller stops it. The result is
// published once, atomically, and read through Handle.Snapshot or Handle.Wait.
package poller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"opsrun/pkg/log"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultMaxWait  = 8 * time.Hour
)

var validate = validator.New()

// QueryFunc fetches the current status of the watched resource.
type QueryFunc func() (string, error)

type Spec struct {
	// Name labels the session in logs and metrics.
	Name     string
	Query    QueryFunc     `validate:"required"`
	Terminal []string      `validate:"min=1,dive,required"`
	Interval time.Duration `validate:"gt=0,ltefield=MaxWait"`
	MaxWait  time.Duration `validate:"gt=0"`
}

// State is the poll session's own lifecycle.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool {
	return s != StateRunning && s != ""
}

// Outcome is a snapshot of a session. Once Finished is true the value never
// changes.
type Outcome struct {
	SessionID    string
	State        State
	Finished     bool
	Succeeded    bool
	Err          error
	ErrorMessage string
	LastStatus   string
	Queries      int
	Elapsed      time.Duration
}

// Recorder receives one observation per finished session.
type Recorder interface {
	ObservePoll(name, state string, queries int, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObservePoll(string, string, int, time.Duration) {}

type options struct {
	logger   log.Logger
	recorder Recorder
}

type Option func(*options)

func WithLogger(l log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// Handle is the caller's side of a running session.
type Handle struct {
	id       string
	name     string
	started  time.Time
	logger   log.Logger
	recorder Recorder

	mu      sync.Mutex
	outcome Outcome

	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// Start validates spec and launches the session on its own goroutine. A zero
// MaxWait takes DefaultMaxWait; a zero Interval takes DefaultInterval, capped
// at MaxWait.
func Start(spec Spec, opts ...Option) (*Handle, error) {
	if spec.MaxWait == 0 {
		spec.MaxWait = DefaultMaxWait
	}
	if spec.Interval == 0 {
		spec.Interval = DefaultInterval
		if spec.MaxWait > 0 {
			spec.Interval = min(spec.Interval, spec.MaxWait)
		}
	}
	if err := validate.Struct(spec); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSpec, describeValidation(err))
	}

	o := options{logger: log.Nop{}, recorder: nopRecorder{}}
	for _, opt := range opts {
		opt(&o)
	}

	terminal := make(map[string]struct{}, len(spec.Terminal))
	for _, s := range spec.Terminal {
		terminal[s] = struct{}{}
	}

	h := &Handle{
		id:       uuid.NewString(),
		name:     spec.Name,
		started:  time.Now(),
		logger:   o.logger,
		recorder: o.recorder,
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
	h.outcome = Outcome{SessionID: h.id, State: StateRunning}

	h.logger.Info("Starting poll session", "session", h.id, "name", h.name,
		"terminal", strings.Join(spec.Terminal, ","), "interval", spec.Interval, "max_wait", spec.MaxWait)
	go h.run(spec, terminal)
	return h, nil
}

func (h *Handle) ID() string {
	return h.id
}

// Snapshot returns the current outcome. While the session runs only State,
// SessionID and a live Elapsed are meaningful.
func (h *Handle) Snapshot() Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.outcome
	if !out.Finished {
		out.Elapsed = time.Since(h.started)
	}
	return out
}

// Stop requests cancellation. The session notices it before its next query
// or while sleeping; an in-flight query is not interrupted. Stop is safe to
// call more than once and after the session finished.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Done is closed once the outcome is final and the logger and recorder have
// seen it.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the session finishes or ctx ends. On ctx expiry it
// returns the running snapshot together with ctx.Err(); the session keeps
// going.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-h.done:
		return h.Snapshot(), nil
	case <-ctx.Done():
		return h.Snapshot(), ctx.Err()
	}
}

func (h *Handle) run(spec Spec, terminal map[string]struct{}) {
	var (
		queries int
		last    string
	)
	for {
		select {
		case <-h.stop:
			h.finish(StateCancelled, last, queries, ErrCancelled)
			return
		default:
		}

		status, err := safeQuery(spec.Query)
		queries++
		if err != nil {
			h.finish(StateFailed, last, queries, &QueryError{Attempt: queries, Err: err})
			return
		}
		last = status
		h.logger.Debug("Polled status", "session", h.id, "name", h.name, "query", queries, "status", status)

		if _, ok := terminal[status]; ok {
			h.finish(StateSucceeded, last, queries, nil)
			return
		}

		elapsed := time.Since(h.started)
		if elapsed >= spec.MaxWait {
			h.finish(StateTimedOut, last, queries, &TimeoutError{MaxWait: spec.MaxWait, LastStatus: last, Queries: queries})
			return
		}

		// The last sleep is cut short so the final query lands on the budget.
		timer := time.NewTimer(min(spec.Interval, spec.MaxWait-elapsed))
		select {
		case <-h.stop:
			timer.Stop()
			h.finish(StateCancelled, last, queries, ErrCancelled)
			return
		case <-timer.C:
		}
	}
}

func (h *Handle) finish(state State, last string, queries int, err error) {
	h.mu.Lock()
	if h.outcome.Finished {
		h.mu.Unlock()
		return
	}
	out := Outcome{
		SessionID:  h.id,
		State:      state,
		Finished:   true,
		Succeeded:  state == StateSucceeded,
		Err:        err,
		LastStatus: last,
		Queries:    queries,
		Elapsed:    time.Since(h.started),
	}
	if err != nil {
		out.ErrorMessage = err.Error()
	}
	h.outcome = out
	h.mu.Unlock()

	// Callers woken by Done read their sinks straight away.
	defer close(h.done)
	h.recorder.ObservePoll(h.name, string(state), queries, out.Elapsed)
	if out.Succeeded {
		h.logger.Info("Poll session reached terminal status", "session", h.id, "name", h.name, "status", last, "queries", queries, "elapsed", out.Elapsed)
		return
	}
	h.logger.Warn("Poll session ended without success", "session", h.id, "name", h.name, "state", state, "status", last, "queries", queries, "error", out.ErrorMessage)
}

func safeQuery(q QueryFunc) (status string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("query panicked: %v", r)
		}
	}()
	return q()
}

// WithKnownStatuses wraps q so a status outside known fails the query. Use it
// to reject values a remote API should never report.
func WithKnownStatuses(q QueryFunc, known ...string) QueryFunc {
	set := slices.Clone(known)
	return func() (string, error) {
		status, err := q()
		if err != nil {
			return status, err
		}
		if !slices.Contains(set, status) {
			return status, fmt.Errorf("%w %q (known: %s)", ErrUnknownStatus, status, strings.Join(set, ", "))
		}
		return status, nil
	}
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Namespace()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must not be empty", fe.Field()))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be positive", fe.Field()))
		case "ltefield":
			msgs = append(msgs, fmt.Sprintf("%s must not exceed %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
