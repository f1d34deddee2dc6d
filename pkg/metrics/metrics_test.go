package metrics

import (
	"testing"
	"time"

	"opsrun/pkg/poller"
	"opsrun/pkg/process"
	"opsrun/pkg/system"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ process.Recorder = (*Collector)(nil)
	_ poller.Recorder  = (*Collector)(nil)
)

func TestCollector_ObserveExecution(t *testing.T) {
	c := New()
	c.ObserveExecution("git", process.OutcomeSuccess, 120*time.Millisecond)
	c.ObserveExecution("git", process.OutcomeSuccess, 80*time.Millisecond)
	c.ObserveExecution("git", process.OutcomeTimeout, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.executions.WithLabelValues("git", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.executions.WithLabelValues("git", "timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.executionDuration))
	assert.Greater(t, testutil.ToFloat64(c.lastFinish), 0.0)
}

func TestCollector_ObservePoll(t *testing.T) {
	c := New()
	c.ObservePoll("deploy-web", "succeeded", 4, 2*time.Minute)
	c.ObservePoll("deploy-web", "timed_out", 7, 8*time.Hour)
	c.ObservePoll("", "cancelled", 1, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.pollSessions.WithLabelValues("deploy-web", "succeeded")))
	assert.Equal(t, 11.0, testutil.ToFloat64(c.pollQueries.WithLabelValues("deploy-web")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pollSessions.WithLabelValues("unnamed", "cancelled")))

	n, err := testutil.GatherAndCount(c.Registry(), "opsrun_poll_sessions_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCollector_RegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveExecution("make", process.OutcomeFailure, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.executions.WithLabelValues("make", "failure")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.executions.WithLabelValues("make", "failure")))
}

func useFs(t *testing.T, fs afero.Fs) afero.Fs {
	orig := system.AppFs
	system.AppFs = fs
	t.Cleanup(func() { system.AppFs = orig })
	return fs
}

func TestCollector_WriteTextfile(t *testing.T) {
	fs := useFs(t, afero.NewMemMapFs())
	c := New()
	c.ObserveExecution("terraform", process.OutcomeSuccess, 3*time.Second)

	require.NoError(t, c.WriteTextfile("/var/lib/node_exporter/opsrun.prom"))

	data, err := afero.ReadFile(fs, "/var/lib/node_exporter/opsrun.prom")
	require.NoError(t, err)
	assert.Contains(t, string(data), `opsrun_process_executions_total{outcome="success",program="terraform"} 1`)
	assert.Contains(t, string(data), "opsrun_process_execution_duration_seconds_bucket")

	entries, err := afero.ReadDir(fs, "/var/lib/node_exporter")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCollector_WriteTextfileReadOnly(t *testing.T) {
	useFs(t, afero.NewReadOnlyFs(afero.NewMemMapFs()))

	err := New().WriteTextfile("/metrics/x.prom")
	assert.ErrorContains(t, err, "write metrics textfile")
}
