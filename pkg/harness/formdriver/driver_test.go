package formdriver

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aescanero/dago-probe/internal/application/orchestrator"
	"github.com/aescanero/dago-probe/internal/application/workers"
	"github.com/aescanero/dago-probe/pkg/adapters/events/memory"
	metrics "github.com/aescanero/dago-probe/pkg/adapters/metrics/prometheus"
	memstore "github.com/aescanero/dago-probe/pkg/adapters/storage/memory"
	apihttp "github.com/aescanero/dago-probe/pkg/api/http"
	"github.com/aescanero/dago-probe/pkg/harness"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newApp serves the UI and the simulated backend from one test server
func newApp(t *testing.T, orchestratorName string) *httptest.Server {
	t.Helper()

	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	bus := memory.NewInMemoryEventBus()
	store := memstore.NewInMemoryInstanceStore()

	manager := orchestrator.NewManager(bus, store, collector,
		orchestrator.NewValidator([]string{"Hello"}), logger,
		orchestrator.Options{StartDelay: 30 * time.Millisecond, MonitorInterval: 5 * time.Millisecond})
	pool := workers.NewPool(2, bus, store, collector, logger, 0, 30*time.Millisecond)
	require.NoError(t, pool.Start())

	srv := apihttp.NewServer(&apihttp.Config{
		Logger:    logger,
		UI:        apihttp.UIConfig{Orchestrator: orchestratorName, RewriteOrigin: true, ActionTimeout: 5 * time.Second},
		Metrics:   collector,
		Gatherer:  reg,
		Simulator: manager,
		Pool:      pool,
		TaskHub:   "TestHubName",
	})
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
		_ = pool.Shutdown(ctx)
	})

	return ts
}

func TestDriver_FullJourney(t *testing.T) {
	app := newApp(t, "Hello")
	driver, err := New(app.URL+"/", 5*time.Second, zap.NewNop())
	require.NoError(t, err)
	defer driver.Close()

	runner := harness.NewRunner(zap.NewNop(), nil, nil)
	result, err := runner.RunJourney(context.Background(), driver, harness.JourneyConfig{
		Name:               "form-journey",
		Policy:             harness.CompletedPolicy(40, 25*time.Millisecond),
		URLTimeout:         time.Second,
		ActionTimeout:      5 * time.Second,
		ExpectURLSubstring: "/runtime/webhooks/durabletask",
	})

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.StatusURL, app.URL+"/runtime/webhooks/durabletask/instances/"))
	assert.Contains(t, result.FinalStatus, "Completed")
	assert.Greater(t, len(result.Attempts), 1)
}

func TestDriver_StartFailureShowsAlert(t *testing.T) {
	app := newApp(t, "Unregistered")
	driver, err := New(app.URL, 5*time.Second, zap.NewNop())
	require.NoError(t, err)

	runner := harness.NewRunner(zap.NewNop(), nil, harness.NewArtifactWriter(t.TempDir()))
	_, err = runner.RunJourney(context.Background(), driver, harness.JourneyConfig{
		Name:       "bad-orchestrator",
		Policy:     harness.CompletedPolicy(2, time.Millisecond),
		URLTimeout: time.Second,
	})

	var scenarioErr *harness.ScenarioError
	require.ErrorAs(t, err, &scenarioErr)
	assert.Contains(t, scenarioErr.Err.Error(), "Failed to start orchestration")
	require.NotNil(t, scenarioErr.Snapshot)
	assert.Contains(t, scenarioErr.Snapshot.HTML, `role="alert"`)
	assert.Empty(t, scenarioErr.Snapshot.Screenshot)
	require.Len(t, scenarioErr.Artifacts, 1)
}

func TestDriver_CheckBeforeStart(t *testing.T) {
	app := newApp(t, "Hello")
	driver, err := New(app.URL, 5*time.Second, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, driver.Open(ctx))
	require.NoError(t, driver.ClickCheck(ctx))

	_, ok, err := driver.StatusText(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = driver.StatusURL(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDriver_ClickBeforeOpen(t *testing.T) {
	driver, err := New("http://127.0.0.1:1", time.Second, zap.NewNop())
	require.NoError(t, err)

	assert.Error(t, driver.ClickStart(context.Background()))
	_, _, err = driver.StatusURL(context.Background())
	assert.Error(t, err)
}
