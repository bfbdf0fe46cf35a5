package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/dago-probe/internal/application/orchestrator"
	"github.com/aescanero/dago-probe/internal/application/workers"
	"github.com/aescanero/dago-probe/pkg/adapters/events/memory"
	metrics "github.com/aescanero/dago-probe/pkg/adapters/metrics/prometheus"
	memstore "github.com/aescanero/dago-probe/pkg/adapters/storage/memory"
	"github.com/aescanero/dago-probe/pkg/uicontract"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

type testEnv struct {
	server  *httptest.Server
	manager *orchestrator.Manager
	store   *memstore.InMemoryInstanceStore
}

type envOptions struct {
	orchestrator     string
	startDelay       time.Duration
	activityDuration time.Duration
	trustForwarded   bool
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	if opts.orchestrator == "" {
		opts.orchestrator = "Hello"
	}

	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	bus := memory.NewInMemoryEventBus()
	store := memstore.NewInMemoryInstanceStore()

	manager := orchestrator.NewManager(bus, store, collector,
		orchestrator.NewValidator([]string{"Hello", "hello_orchestrator"}), logger,
		orchestrator.Options{StartDelay: opts.startDelay, MonitorInterval: 5 * time.Millisecond})
	pool := workers.NewPool(2, bus, store, collector, logger, 0, opts.activityDuration)
	require.NoError(t, pool.Start())

	srv := NewServer(&Config{
		Logger: logger,
		UI: UIConfig{
			Orchestrator:  opts.orchestrator,
			RewriteOrigin:  true,
			TrustForwarded: opts.trustForwarded,
			ActionTimeout:  5 * time.Second,
		},
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

	return &testEnv{server: ts, manager: manager, store: store}
}

// browserClient keeps the session cookie like a browser tab would
func (e *testEnv) browserClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func (e *testEnv) page(t *testing.T, client *http.Client, method, path string) *html.Node {
	t.Helper()
	doc, err := e.tryPage(client, method, path)
	require.NoError(t, err)
	return doc
}

// tryPage is page without assertions, for use inside Eventually
func (e *testEnv) tryPage(client *http.Client, method, path string) (*html.Node, error) {
	return e.tryPageWithHeaders(client, method, path, nil)
}

func (e *testEnv) tryPageWithHeaders(client *http.Client, method, path string, header http.Header) (*html.Node, error) {
	req, err := http.NewRequest(method, e.server.URL+path, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return html.Parse(resp.Body)
}

// findByTestID returns the first element carrying the given test id
func findByTestID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode && attr(n, uicontract.TestIDAttr) == id {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findByTestID(child, id); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

func TestUI_IndexRendersIdlePage(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	client := env.browserClient(t)

	doc := env.page(t, client, http.MethodGet, "/")

	assert.NotNil(t, findByTestID(doc, uicontract.StartButton))
	assert.NotNil(t, findByTestID(doc, uicontract.CheckButton))
	assert.Nil(t, findByTestID(doc, uicontract.StatusURL))
	assert.Nil(t, findByTestID(doc, uicontract.RuntimeStatus))
	assert.Nil(t, findByTestID(doc, uicontract.Alert))

	u, _ := url.Parse(env.server.URL)
	assert.NotEmpty(t, client.Jar.Cookies(u))
}

func TestUI_StartThenCheckUntilCompleted(t *testing.T) {
	env := newTestEnv(t, envOptions{startDelay: 20 * time.Millisecond, activityDuration: 20 * time.Millisecond})
	client := env.browserClient(t)

	env.page(t, client, http.MethodGet, "/")
	doc := env.page(t, client, http.MethodPost, "/ui/start")

	link := findByTestID(doc, uicontract.StatusURL)
	require.NotNil(t, link)
	statusURL := attr(link, uicontract.StatusURLAttr)
	assert.True(t, strings.HasPrefix(statusURL, env.server.URL+"/runtime/webhooks/durabletask/instances/"), statusURL)
	assert.Contains(t, statusURL, "taskHub=TestHubName")
	assert.Equal(t, statusURL, text(link))

	assert.Eventually(t, func() bool {
		doc, err := env.tryPage(client, http.MethodPost, "/ui/check")
		if err != nil {
			return false
		}
		status := findByTestID(doc, uicontract.RuntimeStatus)
		if status == nil {
			return false
		}
		// handle survives every check
		if findByTestID(doc, uicontract.StatusURL) == nil {
			return false
		}
		return attr(status, uicontract.RuntimeStatusAttr) == "Completed" &&
			strings.Contains(text(status), "Completed")
	}, 3*time.Second, 25*time.Millisecond)
}

func TestUI_CheckWithoutStartIsNoop(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	client := env.browserClient(t)

	env.page(t, client, http.MethodGet, "/")
	doc := env.page(t, client, http.MethodPost, "/ui/check")

	assert.Nil(t, findByTestID(doc, uicontract.RuntimeStatus))
	assert.Nil(t, findByTestID(doc, uicontract.Alert))

	instances, err := env.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestUI_StartFailureRendersAlert(t *testing.T) {
	env := newTestEnv(t, envOptions{orchestrator: "NoSuchOrchestrator"})
	client := env.browserClient(t)

	env.page(t, client, http.MethodGet, "/")
	doc := env.page(t, client, http.MethodPost, "/ui/start")

	alert := findByTestID(doc, uicontract.Alert)
	require.NotNil(t, alert)
	assert.Equal(t, "alert", attr(alert, "role"))
	assert.Contains(t, text(alert), "Failed to start orchestration")
	assert.Nil(t, findByTestID(doc, uicontract.StatusURL))
	assert.NotNil(t, findByTestID(doc, uicontract.StartButton))
}

func TestUI_ReloadDiscardsHandle(t *testing.T) {
	env := newTestEnv(t, envOptions{startDelay: time.Second})
	client := env.browserClient(t)

	env.page(t, client, http.MethodGet, "/")
	doc := env.page(t, client, http.MethodPost, "/ui/start")
	require.NotNil(t, findByTestID(doc, uicontract.StatusURL))

	doc = env.page(t, client, http.MethodGet, "/")
	assert.Nil(t, findByTestID(doc, uicontract.StatusURL))

	doc = env.page(t, client, http.MethodPost, "/ui/check")
	assert.Nil(t, findByTestID(doc, uicontract.RuntimeStatus))
}

func TestUI_SessionsAreIndependent(t *testing.T) {
	env := newTestEnv(t, envOptions{startDelay: time.Second})
	first := env.browserClient(t)
	second := env.browserClient(t)

	env.page(t, first, http.MethodGet, "/")
	env.page(t, second, http.MethodGet, "/")

	doc := env.page(t, first, http.MethodPost, "/ui/start")
	require.NotNil(t, findByTestID(doc, uicontract.StatusURL))

	doc = env.page(t, second, http.MethodPost, "/ui/check")
	assert.Nil(t, findByTestID(doc, uicontract.RuntimeStatus))
	assert.Nil(t, findByTestID(doc, uicontract.StatusURL))
}

func postJSON(t *testing.T, target string, header http.Header) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, target, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

// hostCounter records every request that reaches it
type hostCounter struct {
	server *httptest.Server
	mu     sync.Mutex
	seen   []string
}

func newHostCounter(t *testing.T) *hostCounter {
	t.Helper()
	h := &hostCounter{}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.seen = append(h.seen, r.Method+" "+r.URL.Path)
		h.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"statusQueryGetUri":"`+h.server.URL+`/runtime/webhooks/durabletask/instances/x","runtimeStatus":"Completed"}`)
	}))
	t.Cleanup(h.server.Close)
	return h
}

func (h *hostCounter) requests() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

func TestUI_ForwardedHostNeverReceivesRequests(t *testing.T) {
	for _, trusted := range []bool{false, true} {
		t.Run(fmt.Sprintf("trusted=%v", trusted), func(t *testing.T) {
			env := newTestEnv(t, envOptions{startDelay: 20 * time.Millisecond, activityDuration: 20 * time.Millisecond, trustForwarded: trusted})
			other := newHostCounter(t)
			otherURL, err := url.Parse(other.server.URL)
			require.NoError(t, err)

			forged := http.Header{
				"X-Forwarded-Host":  {otherURL.Host},
				"X-Forwarded-Proto": {"http"},
			}
			client := env.browserClient(t)

			_, err = env.tryPageWithHeaders(client, http.MethodGet, "/", forged)
			require.NoError(t, err)
			doc, err := env.tryPageWithHeaders(client, http.MethodPost, "/ui/start", forged)
			require.NoError(t, err)
			require.NotNil(t, findByTestID(doc, uicontract.StatusURL))
			assert.Nil(t, findByTestID(doc, uicontract.Alert))

			assert.Eventually(t, func() bool {
				doc, err := env.tryPageWithHeaders(client, http.MethodPost, "/ui/check", forged)
				if err != nil {
					return false
				}
				status := findByTestID(doc, uicontract.RuntimeStatus)
				return status != nil && attr(status, uicontract.RuntimeStatusAttr) == "Completed"
			}, 3*time.Second, 25*time.Millisecond)

			assert.Empty(t, other.requests())

			instances, err := env.store.List(context.Background())
			require.NoError(t, err)
			assert.Len(t, instances, 1)
		})
	}
}

func TestUI_TrustedForwardedHeadersShapeDisplayedURL(t *testing.T) {
	forwarded := http.Header{
		"X-Forwarded-Host":  {"probe.example.test"},
		"X-Forwarded-Proto": {"https"},
	}

	t.Run("trusted", func(t *testing.T) {
		env := newTestEnv(t, envOptions{startDelay: time.Second, trustForwarded: true})
		client := env.browserClient(t)

		_, err := env.tryPageWithHeaders(client, http.MethodGet, "/", forwarded)
		require.NoError(t, err)
		doc, err := env.tryPageWithHeaders(client, http.MethodPost, "/ui/start", forwarded)
		require.NoError(t, err)

		link := findByTestID(doc, uicontract.StatusURL)
		require.NotNil(t, link)
		shown := attr(link, uicontract.StatusURLAttr)
		assert.True(t, strings.HasPrefix(shown, "https://probe.example.test:"), shown)
		assert.Contains(t, shown, "/runtime/webhooks/durabletask/instances/")
	})

	t.Run("untrusted", func(t *testing.T) {
		env := newTestEnv(t, envOptions{startDelay: time.Second})
		client := env.browserClient(t)

		_, err := env.tryPageWithHeaders(client, http.MethodGet, "/", forwarded)
		require.NoError(t, err)
		doc, err := env.tryPageWithHeaders(client, http.MethodPost, "/ui/start", forwarded)
		require.NoError(t, err)

		link := findByTestID(doc, uicontract.StatusURL)
		require.NotNil(t, link)
		shown := attr(link, uicontract.StatusURLAttr)
		assert.True(t, strings.HasPrefix(shown, env.server.URL+"/runtime/webhooks/durabletask/instances/"), shown)
	})
}

func TestDurable_StartReturnsManagementURLs(t *testing.T) {
	env := newTestEnv(t, envOptions{startDelay: time.Second})

	resp := postJSON(t, env.server.URL+"/api/orchestrators/Hello", nil)
	body := readBody(t, resp)

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id := gjson.Get(body, "id").String()
	require.Len(t, id, 32)

	statusURL := gjson.Get(body, "statusQueryGetUri").String()
	assert.Equal(t, env.server.URL+"/runtime/webhooks/durabletask/instances/"+id+"?taskHub=TestHubName&connection=Storage", statusURL)
	assert.Equal(t, statusURL, resp.Header.Get("Location"))
	assert.Contains(t, gjson.Get(body, "terminatePostUri").String(), "/terminate?reason={text}&")
	assert.Contains(t, gjson.Get(body, "sendEventPostUri").String(), "/raiseEvent/{eventName}?")
	assert.True(t, gjson.Get(body, "purgeHistoryDeleteUri").Exists())
}

func TestDurable_StartHonoursTrustedForwardedHeaders(t *testing.T) {
	env := newTestEnv(t, envOptions{startDelay: time.Second, trustForwarded: true})

	resp := postJSON(t, env.server.URL+"/api/orchestrators/hello_orchestrator", http.Header{
		"X-Forwarded-Host":  {"probe.example.test"},
		"X-Forwarded-Proto": {"https"},
	})
	body := readBody(t, resp)

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, strings.HasPrefix(gjson.Get(body, "statusQueryGetUri").String(),
		"https://probe.example.test/runtime/webhooks/durabletask/instances/"))

	// One header alone is ignored
	resp = postJSON(t, env.server.URL+"/api/orchestrators/Hello", http.Header{
		"X-Forwarded-Host": {"probe.example.test"},
	})
	body = readBody(t, resp)
	assert.True(t, strings.HasPrefix(gjson.Get(body, "statusQueryGetUri").String(), env.server.URL))
}

func TestDurable_StartIgnoresUntrustedForwardedHeaders(t *testing.T) {
	env := newTestEnv(t, envOptions{startDelay: time.Second})

	resp := postJSON(t, env.server.URL+"/api/orchestrators/Hello", http.Header{
		"X-Forwarded-Host":  {"probe.example.test"},
		"X-Forwarded-Proto": {"https"},
	})
	body := readBody(t, resp)

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, strings.HasPrefix(gjson.Get(body, "statusQueryGetUri").String(), env.server.URL))
}

func TestDurable_UnknownOrchestrator(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := postJSON(t, env.server.URL+"/api/orchestrators/Nope", nil)
	body := readBody(t, resp)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "ORCHESTRATOR_NOT_FOUND", gjson.Get(body, "error.code").String())
}

func TestDurable_StatusCodesFollowProgression(t *testing.T) {
	env := newTestEnv(t, envOptions{startDelay: 50 * time.Millisecond, activityDuration: 20 * time.Millisecond})

	resp := postJSON(t, env.server.URL+"/api/orchestrators/Hello", nil)
	statusURL := gjson.Get(readBody(t, resp), "statusQueryGetUri").String()

	resp, err := http.Get(statusURL)
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "Pending", gjson.Get(body, "runtimeStatus").String())

	assert.Eventually(t, func() bool {
		resp, err := http.Get(statusURL)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		body := string(data)
		return resp.StatusCode == http.StatusOK &&
			gjson.Get(body, "runtimeStatus").String() == "Completed" &&
			gjson.Get(body, "output").String() == "Hello, Durable Functions!"
	}, 3*time.Second, 10*time.Millisecond)

	resp, err = http.Get(env.server.URL + "/runtime/webhooks/durabletask/instances/unknown")
	require.NoError(t, err)
	_ = readBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDurable_TerminateAndPurge(t *testing.T) {
	env := newTestEnv(t, envOptions{startDelay: time.Minute})

	resp := postJSON(t, env.server.URL+"/api/orchestrators/Hello", nil)
	id := gjson.Get(readBody(t, resp), "id").String()
	instanceURL := env.server.URL + "/runtime/webhooks/durabletask/instances/" + id

	resp = postJSON(t, instanceURL+"/terminate?reason=test", nil)
	_ = readBody(t, resp)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err := http.Get(instanceURL)
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Terminated", gjson.Get(body, "runtimeStatus").String())
	assert.Equal(t, "test", gjson.Get(body, "output").String())

	resp = postJSON(t, instanceURL+"/terminate", nil)
	_ = readBody(t, resp)
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, instanceURL, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(instanceURL)
	require.NoError(t, err)
	_ = readBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, envOptions{startDelay: 20 * time.Millisecond})
	client := env.browserClient(t)

	env.page(t, client, http.MethodGet, "/")
	env.page(t, client, http.MethodPost, "/ui/start")

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", gjson.Get(body, "status").String())
	assert.Equal(t, int64(2), gjson.Get(body, "checks.workers.total").Int())

	instances := gjson.Get(body, "checks.simulator.instances")
	require.True(t, instances.IsObject(), body)
	var stored int64
	instances.ForEach(func(_, n gjson.Result) bool {
		stored += n.Int()
		return true
	})
	assert.Equal(t, int64(1), stored)

	resp, err = http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	body = readBody(t, resp)
	assert.Contains(t, body, `dago_probe_orchestration_starts_total{outcome="success"} 1`)
	assert.Contains(t, body, "dago_probe_sim_instances_started_total")
}
