package statusquery

import (
	"errors"
	"net/http"
	"strings"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"opsrun/pkg/poller"
	"opsrun/pkg/process"
	"opsrun/pkg/test"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	result process.Result
	err    error
	specs  []process.CommandSpec
}

func (f *fakeExecutor) Execute(spec process.CommandSpec) (process.Result, error) {
	f.specs = append(f.specs, spec)
	return f.result, f.err
}

func TestCommand_TrimsOutput(t *testing.T) {
	exec := &fakeExecutor{result: process.Result{ExitCode: 0, Output: "  RUNNING \n"}}
	spec := process.CommandSpec{Args: []string{"kubectl", "get", "job"}}

	status, err := Command(exec, spec)()
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", status)
	require.Len(t, exec.specs, 1)
	assert.True(t, exec.specs[0].Capture, "capture must be forced on")
}

func TestCommand_NonZeroExit(t *testing.T) {
	exec := &fakeExecutor{result: process.Result{ExitCode: 3, Output: "not found"}}
	_, err := Command(exec, process.Command("kubectl"))()

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Equal(t, "kubectl exited with code 3: not found", err.Error())
}

func TestCommand_TimedOut(t *testing.T) {
	exec := &fakeExecutor{result: process.Result{ExitCode: -1, TimedOut: true}}
	_, err := Command(exec, process.Command("slow"))()
	assert.ErrorIs(t, err, process.ErrTimeout)
}

func TestCommand_RunnerError(t *testing.T) {
	cause := errors.New("exec failed")
	exec := &fakeExecutor{err: cause}
	_, err := Command(exec, process.Command("x"))()
	assert.ErrorIs(t, err, cause)
}

func TestCommand_RealRunnerDrivesPoller(t *testing.T) {
	script := test.WriteScript(t, `
count_file="$(dirname "$0")/count"
n=$(cat "$count_file" 2>/dev/null || echo 0)
n=$((n + 1))
echo "$n" > "$count_file"
if [ "$n" -ge 3 ]; then echo DONE; else echo RUNNING; fi`)

	query := Command(process.New(), process.Command(script).WithTimeout(5*time.Second))
	h, err := poller.Start(poller.Spec{Query: query, Terminal: []string{"DONE"}, Interval: 10 * time.Millisecond, MaxWait: 10 * time.Second})
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		h.Stop()
		t.Fatal("poll session did not finish")
	}
	out := h.Snapshot()
	assert.True(t, out.Succeeded)
	assert.Equal(t, 3, out.Queries)
}

func TestHTTPJSON_ReadsNestedField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(test.SampleStatusJSON("IN_PROGRESS")))
	}))
	defer srv.Close()

	status, err := HTTPJSON(srv.Client(), srv.URL, "run.deploymentRunStatus")()
	require.NoError(t, err)
	assert.Equal(t, "IN_PROGRESS", status)
}

func TestHTTPJSON_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := HTTPJSON(nil, srv.URL, "status")()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 503")
}

func TestHTTPJSON_OversizedDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"DONE","pad":"` + strings.Repeat("x", maxBodyBytes) + `"}`))
	}))
	defer srv.Close()

	_, err := HTTPJSON(nil, srv.URL, "status")()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status document exceeds 1 MiB")
}

func TestHTTPJSON_DocumentAtLimit(t *testing.T) {
	doc := `{"status":"DONE","pad":""}`
	doc = `{"status":"DONE","pad":"` + strings.Repeat("x", maxBodyBytes-len(doc)) + `"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(doc))
	}))
	defer srv.Close()

	status, err := HTTPJSON(nil, srv.URL, "status")()
	require.NoError(t, err)
	assert.Equal(t, "DONE", status)
}

func TestHTTPJSON_UnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := HTTPJSON(nil, url, "status")()
	assert.Error(t, err)
}

func TestHTTPJSON_PollsUntilTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := "IN_PROGRESS"
		if hits.Add(1) >= 4 {
			status = "SUCCEEDED"
		}
		_, _ = w.Write([]byte(test.SampleStatusJSON(status)))
	}))
	defer srv.Close()

	query := poller.WithKnownStatuses(HTTPJSON(srv.Client(), srv.URL, "run.deploymentRunStatus"), "IN_PROGRESS", "SUCCEEDED", "FAILED")
	h, err := poller.Start(poller.Spec{Name: "deploy-web", Query: query, Terminal: []string{"SUCCEEDED", "FAILED"}, Interval: 10 * time.Millisecond, MaxWait: 5 * time.Second})
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		h.Stop()
		t.Fatal("poll session did not finish")
	}
	out := h.Snapshot()
	assert.True(t, out.Succeeded)
	assert.Equal(t, "SUCCEEDED", out.LastStatus)
	assert.Equal(t, 4, out.Queries)
}

func TestField(t *testing.T) {
	doc := []byte(`{"a": {"b": "x", "n": 12, "ok": true, "null": null, "obj": {}}, "items": [{"state": "READY"}]}`)
	tests := []struct {
		name    string
		path    []string
		want    string
		wantErr error
	}{
		{name: "string", path: []string{"a", "b"}, want: "x"},
		{name: "number", path: []string{"a", "n"}, want: "12"},
		{name: "bool", path: []string{"a", "ok"}, want: "true"},
		{name: "array index", path: []string{"items", "0", "state"}, want: "READY"},
		{name: "missing key", path: []string{"a", "zzz"}, wantErr: ErrFieldNotFound},
		{name: "index out of range", path: []string{"items", "1", "state"}, wantErr: ErrFieldNotFound},
		{name: "descend into scalar", path: []string{"a", "b", "c"}, wantErr: ErrFieldNotFound},
		{name: "null", path: []string{"a", "null"}, wantErr: ErrFieldNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Field(doc, tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Field(doc, []string{"a", "obj"})
	assert.ErrorContains(t, err, "not a scalar")

	_, err = Field([]byte(`{not json`), []string{"a"})
	assert.ErrorContains(t, err, "decode status document")
}
