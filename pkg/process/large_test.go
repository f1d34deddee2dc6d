package process

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"opsrun/pkg/test"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteLarge_SeparatesStreams(t *testing.T) {
	spec := CommandSpec{Args: []string{"sh", "-c", "echo out; echo err >&2; exit 2"}, Timeout: 5 * time.Second}
	res, err := New().ExecuteLarge(spec)
	require.NoError(t, err)

	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
}

func TestExecuteLarge_BeyondPipeBuffer(t *testing.T) {
	// 200000 lines of "abc\n" is far above the 64KiB pipe buffer.
	spec := CommandSpec{Args: []string{"sh", "-c", "yes abc | head -n 200000"}, Timeout: 10 * time.Second}
	res, err := New().ExecuteLarge(spec)
	require.NoError(t, err)

	assert.Equal(t, 0, res.ExitCode)
	assert.Len(t, res.Stdout, 800000)
	assert.True(t, strings.HasPrefix(res.Stdout, "abc\nabc\n"))
	assert.Empty(t, res.Stderr)
}

func TestExecuteLarge_TimeoutIsAlwaysAnError(t *testing.T) {
	recorder := test.NewMockRecorder()
	r := New(WithGracePeriod(200*time.Millisecond), WithRecorder(recorder))

	var err error
	test.Within(t, 5*time.Second, func() {
		_, err = r.ExecuteLarge(CommandSpec{Args: []string{"sleep", "100"}, Timeout: 300 * time.Millisecond})
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrExecution)

	last, ok := recorder.LastExecution()
	require.True(t, ok)
	assert.Equal(t, OutcomeTimeout, last.Outcome)
}

func TestExecuteLarge_EscalatesToKill(t *testing.T) {
	logger := test.NewMockLogger(slog.LevelDebug)
	r := New(WithGracePeriod(300*time.Millisecond), WithLogger(logger))

	// Ignored dispositions survive exec, so both sh and sleep shrug off SIGTERM.
	spec := CommandSpec{Args: []string{"sh", "-c", `trap "" TERM; sleep 100`}, Timeout: 200 * time.Millisecond}

	var err error
	elapsed := test.Within(t, 5*time.Second, func() {
		_, err = r.ExecuteLarge(spec)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond)
	test.AssertLogContains(t, logger, "SIGKILL")
}

func TestExecuteLarge_GracefulExitWithinGrace(t *testing.T) {
	logger := test.NewMockLogger(slog.LevelDebug)
	r := New(WithGracePeriod(5*time.Second), WithLogger(logger))

	var err error
	test.Within(t, 3*time.Second, func() {
		_, err = r.ExecuteLarge(CommandSpec{Args: []string{"sleep", "100"}, Timeout: 200 * time.Millisecond})
	})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, logger.HasMessage("SIGKILL"))
}

func TestExecuteLarge_InvalidUTF8(t *testing.T) {
	_, err := New().ExecuteLarge(CommandSpec{Args: []string{"sh", "-c", `printf '\377' >&2`}})
	assert.ErrorIs(t, err, ErrOutputDecode)
}

func TestExecuteLarge_NotFound(t *testing.T) {
	_, err := New().ExecuteLarge(CommandSpec{Args: []string{"opsrun-no-such-binary"}})
	assert.ErrorIs(t, err, ErrInvocation)
}
