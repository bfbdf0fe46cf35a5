package controller

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBackend serves canned responses and counts requests per method
type fakeBackend struct {
	startStatus int
	startBody   string
	statuses    []string
	checkStatus int

	posts  atomic.Int32
	gets   atomic.Int32
	server *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	b := &fakeBackend{startStatus: http.StatusAccepted, checkStatus: http.StatusOK}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			b.posts.Add(1)
			w.WriteHeader(b.startStatus)
			_, _ = io.WriteString(w, b.startBody)
		case http.MethodGet:
			n := int(b.gets.Add(1))
			status := "Completed"
			if len(b.statuses) > 0 {
				status = b.statuses[min(n, len(b.statuses))-1]
			}
			w.WriteHeader(b.checkStatus)
			_, _ = io.WriteString(w, `{"runtimeStatus":"`+status+`","output":null}`)
		}
	}))
	t.Cleanup(b.server.Close)

	// Status URLs point back at this server so checks land here
	b.startBody = `{"id":"abc123","statusQueryGetUri":"` + b.server.URL + `/runtime/webhooks/durabletask/instances/abc123?taskHub=TestHubName&connection=Storage"}`
	return b
}

func newTestController(b *fakeBackend, rewrite bool, origin *url.URL) *Controller {
	return New(b.server.Client(), Config{
		BaseURL:       b.server.URL,
		Orchestrator:  "Hello",
		Origin:        origin,
		RewriteOrigin: rewrite,
	}, zap.NewNop(), nil)
}

func TestController_StartStoresHandle(t *testing.T) {
	b := newFakeBackend(t)
	c := newTestController(b, false, nil)

	require.NoError(t, c.Start(context.Background()))

	state := c.State()
	assert.Equal(t, PhaseStarted, state.Phase)
	assert.Equal(t, b.server.URL+"/runtime/webhooks/durabletask/instances/abc123?taskHub=TestHubName&connection=Storage", state.StatusURL())
	assert.Nil(t, state.Snapshot)
	assert.Empty(t, state.Alert)
}

func TestController_AcceptedStartYieldsAbsoluteDurableTaskURL(t *testing.T) {
	const issued = "http://backend/runtime/webhooks/durabletask/instances/abc123"

	tests := []struct {
		name    string
		rewrite bool
		origin  *url.URL
		want    string
	}{
		{name: "as issued", want: issued},
		{
			name:    "rewritten to page origin",
			rewrite: true,
			origin:  &url.URL{Scheme: "https", Host: "probe.example.test:8443"},
			want:    "https://probe.example.test/runtime/webhooks/durabletask/instances/abc123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend(t)
			b.startStatus = http.StatusAccepted
			b.startBody = `{"statusQueryGetUri":"` + issued + `"}`
			c := newTestController(b, tt.rewrite, tt.origin)

			require.NoError(t, c.Start(context.Background()))

			stored := c.State().StatusURL()
			assert.Equal(t, tt.want, stored)

			u, err := url.Parse(stored)
			require.NoError(t, err)
			assert.True(t, u.IsAbs())
			assert.NotEmpty(t, u.Host)
			assert.Contains(t, stored, "/runtime/webhooks/durabletask")
		})
	}
}

func TestController_CheckWithoutHandleIsNoop(t *testing.T) {
	b := newFakeBackend(t)
	c := newTestController(b, false, nil)

	require.NoError(t, c.CheckStatus(context.Background()))

	assert.Equal(t, int32(0), b.gets.Load())
	assert.Equal(t, int32(0), b.posts.Load())
	state := c.State()
	assert.Equal(t, PhaseIdle, state.Phase)
	assert.Empty(t, state.StatusText())
}

func TestController_StartNon2xxLeavesNoHandle(t *testing.T) {
	b := newFakeBackend(t)
	c := newTestController(b, false, nil)

	// A first successful run leaves a handle and a snapshot behind
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.CheckStatus(context.Background()))
	require.NotNil(t, c.State().Snapshot)

	b.startStatus = http.StatusInternalServerError
	err := c.Start(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStartFailed)
	assert.Contains(t, err.Error(), "unexpected status 500")

	state := c.State()
	assert.Equal(t, PhaseIdle, state.Phase)
	assert.False(t, state.HasHandle())
	assert.Nil(t, state.Snapshot)
	assert.Contains(t, state.Alert, "Failed to start orchestration")
}

func TestController_StartRejectsBadPayloads(t *testing.T) {
	cases := map[string]string{
		"malformed JSON": `{"statusQueryGetUri":`,
		"missing field":  `{"id":"abc123"}`,
		"empty field":    `{"statusQueryGetUri":""}`,
		"not an object":  `["http://backend/x"]`,
		"relative URL":   `{"statusQueryGetUri":"/runtime/webhooks/durabletask/instances/abc123"}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			b := newFakeBackend(t)
			b.startBody = body
			c := newTestController(b, false, nil)

			err := c.Start(context.Background())

			assert.ErrorIs(t, err, ErrStartFailed)
			assert.False(t, c.State().HasHandle())
		})
	}
}

func TestController_StartNetworkFailure(t *testing.T) {
	b := newFakeBackend(t)
	c := newTestController(b, false, nil)
	b.server.Close()

	err := c.Start(context.Background())

	assert.ErrorIs(t, err, ErrStartFailed)
	assert.False(t, c.State().HasHandle())
}

func TestController_CheckReplacesSnapshot(t *testing.T) {
	b := newFakeBackend(t)
	b.statuses = []string{"Pending", "Running", "Completed"}
	c := newTestController(b, false, nil)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))

	for _, want := range b.statuses {
		require.NoError(t, c.CheckStatus(ctx))
		state := c.State()
		assert.Equal(t, PhaseChecked, state.Phase)
		assert.Equal(t, want, state.RuntimeStatus())
		assert.Contains(t, state.StatusText(), want)
	}
}

func TestController_CheckAccepts202(t *testing.T) {
	b := newFakeBackend(t)
	b.statuses = []string{"Running"}
	b.checkStatus = http.StatusAccepted
	c := newTestController(b, false, nil)

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.CheckStatus(context.Background()))

	assert.Equal(t, "Running", c.State().RuntimeStatus())
}

func TestController_CheckFailureKeepsHandle(t *testing.T) {
	b := newFakeBackend(t)
	b.statuses = []string{"Running"}
	c := newTestController(b, false, nil)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.CheckStatus(ctx))
	handle := c.State().StatusURL()

	b.checkStatus = http.StatusInternalServerError
	err := c.CheckStatus(ctx)

	assert.ErrorIs(t, err, ErrCheckFailed)
	state := c.State()
	assert.Equal(t, handle, state.StatusURL())
	assert.Equal(t, "Running", state.RuntimeStatus())
	assert.Contains(t, state.Alert, "Failed to check status")

	// The handle stays usable once the platform recovers
	b.checkStatus = http.StatusOK
	require.NoError(t, c.CheckStatus(ctx))
	assert.Empty(t, c.State().Alert)
}

func TestController_RewriteToOrigin(t *testing.T) {
	b := newFakeBackend(t)
	addr := b.server.Listener.Addr().String()
	port := addr[strings.LastIndex(addr, ":")+1:]

	origin, err := url.Parse("http://localhost:3000")
	require.NoError(t, err)
	c := newTestController(b, true, origin)

	require.NoError(t, c.Start(context.Background()))

	statusURL := c.State().StatusURL()
	assert.Equal(t, "http://localhost:"+port+"/runtime/webhooks/durabletask/instances/abc123?taskHub=TestHubName&connection=Storage", statusURL)

	// localhost resolves to the test server, so the rewritten handle is queryable
	require.NoError(t, c.CheckStatus(context.Background()))
	assert.Equal(t, int32(1), b.gets.Load())
}

func TestController_StartSendsInput(t *testing.T) {
	var gotBody, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"statusQueryGetUri":"http://backend/runtime/webhooks/durabletask/instances/abc123"}`)
	}))
	defer server.Close()

	c := New(server.Client(), Config{
		BaseURL:      server.URL + "/",
		Orchestrator: "hello_orchestrator",
		Input:        map[string]string{"name": "Tokyo"},
	}, zap.NewNop(), nil)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, "/api/orchestrators/hello_orchestrator", gotPath)
	assert.JSONEq(t, `{"name":"Tokyo"}`, gotBody)
}

type recordingMetrics struct {
	starts []string
	checks []string
}

func (m *recordingMetrics) RecordStart(outcome string, _ time.Duration) {
	m.starts = append(m.starts, outcome)
}

func (m *recordingMetrics) RecordCheck(outcome, status string, _ time.Duration) {
	m.checks = append(m.checks, outcome+":"+status)
}

func TestController_RecordsMetrics(t *testing.T) {
	b := newFakeBackend(t)
	b.statuses = []string{"Running"}
	metrics := &recordingMetrics{}
	c := New(b.server.Client(), Config{BaseURL: b.server.URL, Orchestrator: "Hello"}, zap.NewNop(), metrics)

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.CheckStatus(context.Background()))

	assert.Equal(t, []string{"success"}, metrics.starts)
	assert.Equal(t, []string{"success:Running"}, metrics.checks)
}

func TestController_ContextCancelled(t *testing.T) {
	b := newFakeBackend(t)
	c := newTestController(b, false, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Start(ctx)

	assert.ErrorIs(t, err, ErrStartFailed)
	assert.True(t, errors.Is(err, context.Canceled))
}
