package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aescanero/dago-probe/internal/app"
	"github.com/aescanero/dago-probe/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// startApp serves the UI and a fast simulator, and points the CLI at it
func startApp(t *testing.T, extra ...string) *httptest.Server {
	t.Helper()

	environ := map[string]string{
		"PROBE_SIM_START_DELAY":       "20ms",
		"PROBE_SIM_ACTIVITY_DURATION": "20ms",
		"PROBE_GRPC_PORT":             "0",
	}
	for i := 0; i+1 < len(extra); i += 2 {
		environ[extra[i]] = extra[i+1]
		t.Setenv(extra[i], extra[i+1])
	}

	cfg, err := config.LoadFrom(environ)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	a, err := app.New(context.Background(), cfg, app.Options{Logger: zap.NewNop(), Registerer: reg, Gatherer: reg})
	require.NoError(t, err)
	require.NoError(t, a.StartWorkers())

	ts := httptest.NewServer(a.Server.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})

	t.Setenv("PROBE_TARGET_URL", ts.URL)
	t.Setenv("PROBE_LOG_LEVEL", "error")
	return ts
}

func execute(args ...string) (string, error) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute("version")
	require.NoError(t, err)
	assert.Contains(t, out, "dago-probe version dev")
}

func TestCheckCommand(t *testing.T) {
	startApp(t)

	out, err := execute("check", "--attempts", "100", "--interval", "20ms", "--expect-output", "Hello, Durable Functions!")
	require.NoError(t, err)
	assert.Contains(t, out, "PASS direct-Hello: Completed")
}

func TestCheckCommand_StartOnly(t *testing.T) {
	ts := startApp(t)

	out, err := execute("check", "--start-only", "-o", "HelloOrchestrator")
	require.NoError(t, err)
	assert.Contains(t, out, "PASS start 202 "+ts.URL+"/runtime/webhooks/durabletask/instances/")
}

func TestCheckCommand_UnknownOrchestrator(t *testing.T) {
	startApp(t)

	_, err := execute("check", "--start-only", "-o", "Nope")
	assert.ErrorContains(t, err, "404")
}

func TestJourneyCommand_Scenarios(t *testing.T) {
	startApp(t)

	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
concurrency: 2
scenarios:
  - name: ui
  - name: direct
    mode: direct
    orchestrator: hello_orchestrator
    expectOutput: "Hello, Durable Functions!"
`), 0o644))

	out, err := execute("journey", "--driver", "form", "-f", path, "--attempts", "100", "--interval", "20ms", "--artifacts", "")
	require.NoError(t, err, out)
	assert.Contains(t, out, "PASS ui: Status: Completed")
	assert.Contains(t, out, "PASS direct: Completed")
}

func TestJourneyCommand_FailureWritesArtifacts(t *testing.T) {
	startApp(t, "PROBE_ORCHESTRATOR", "Unregistered")
	dir := t.TempDir()

	out, err := execute("journey", "--driver", "form", "--attempts", "2", "--interval", "10ms", "--artifacts", dir)
	assert.ErrorContains(t, err, "1 of 1 scenarios failed")
	assert.Contains(t, out, "FAIL ui-Unregistered")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadConfig_LogLevelFlag(t *testing.T) {
	_, err := execute("check", "--log-level", "chatty")
	assert.ErrorContains(t, err, "invalid log level")
}
