package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

var (
	// ErrStartFailed wraps every failure of Start
	ErrStartFailed = errors.New("start orchestration failed")

	// ErrCheckFailed wraps every failure of CheckStatus
	ErrCheckFailed = errors.New("status check failed")
)

// maxBodyBytes bounds how much of a platform response is read
const maxBodyBytes = 1 << 20

// HTTPDoer sends HTTP requests; *http.Client satisfies it
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Metrics records controller round trips
type Metrics interface {
	RecordStart(outcome string, duration time.Duration)
	RecordCheck(outcome, runtimeStatus string, duration time.Duration)
}

// Config configures a Controller
type Config struct {
	// BaseURL is the orchestration platform root, e.g. http://localhost:7071
	BaseURL string
	// Orchestrator is the orchestrator function name in the start route
	Orchestrator string
	// Input, when non-nil, is sent as the JSON body of the start request
	Input interface{}
	// Origin is the serving page origin used by the authority rewrite
	Origin *url.URL
	// RewriteOrigin moves the returned status URL onto Origin's scheme and hostname
	RewriteOrigin bool
}

// Controller drives one session's start/check interaction
type Controller struct {
	client  HTTPDoer
	cfg     Config
	logger  *zap.Logger
	metrics Metrics
	now     func() time.Time

	// mu is held across each round trip: at most one request is in flight
	mu    sync.Mutex
	state State
}

// New creates a Controller in the Idle phase. metrics may be nil.
func New(client HTTPDoer, cfg Config, logger *zap.Logger, metrics Metrics) *Controller {
	return &Controller{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		state:   State{Phase: PhaseIdle},
	}
}

// State returns the current state value
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start posts to the orchestrator start route and stores the returned status URL.
// On failure no handle is left behind and the returned error wraps ErrStartFailed.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	started := c.now()
	handle, err := c.start(ctx)
	duration := c.now().Sub(started)

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStartFailed, err)
		c.state = Reduce(c.state, StartFailed{Err: err})
		c.record(func(m Metrics) { m.RecordStart("failure", duration) })
		c.logger.Warn("start orchestration failed",
			zap.String("orchestrator", c.cfg.Orchestrator),
			zap.Error(err))
		return err
	}

	c.state = Reduce(c.state, StartSucceeded{Handle: handle})
	c.record(func(m Metrics) { m.RecordStart("success", duration) })
	c.logger.Info("orchestration started",
		zap.String("orchestrator", c.cfg.Orchestrator),
		zap.String("status_query_url", handle.StatusQueryURL),
		zap.Duration("duration", duration))

	return nil
}

// CheckStatus queries the stored status URL and replaces the snapshot.
// Without a handle it does nothing. On failure the handle is kept and the
// returned error wraps ErrCheckFailed.
func (c *Controller) CheckStatus(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.HasHandle() {
		c.logger.Debug("status check skipped: no orchestration started")
		return nil
	}

	started := c.now()
	status, err := c.check(ctx, c.state.Handle.StatusQueryURL)
	duration := c.now().Sub(started)

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrCheckFailed, err)
		c.state = Reduce(c.state, CheckFailed{Err: err})
		c.record(func(m Metrics) { m.RecordCheck("failure", "", duration) })
		c.logger.Warn("status check failed",
			zap.String("status_query_url", c.state.Handle.StatusQueryURL),
			zap.Error(err))
		return err
	}

	c.state = Reduce(c.state, CheckSucceeded{Snapshot: Snapshot{RuntimeStatus: status, ObservedAt: c.now()}})
	c.record(func(m Metrics) { m.RecordCheck("success", status, duration) })
	c.logger.Debug("status checked",
		zap.String("runtime_status", status),
		zap.Duration("duration", duration))

	return nil
}

func (c *Controller) start(ctx context.Context) (Handle, error) {
	endpoint, err := StartURL(c.cfg.BaseURL, c.cfg.Orchestrator)
	if err != nil {
		return Handle{}, err
	}

	var body io.Reader
	if c.cfg.Input != nil {
		data, err := json.Marshal(c.cfg.Input)
		if err != nil {
			return Handle{}, fmt.Errorf("encode input: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return Handle{}, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	payload, err := c.roundTrip(req)
	if err != nil {
		return Handle{}, err
	}

	raw, err := Field(payload, "statusQueryGetUri")
	if err != nil {
		return Handle{}, err
	}

	statusURL := raw
	if c.cfg.RewriteOrigin && c.cfg.Origin != nil {
		statusURL, err = RewriteAuthority(raw, c.cfg.Origin)
		if err != nil {
			return Handle{}, err
		}
	} else if err := requireAbsolute(raw); err != nil {
		return Handle{}, err
	}

	return Handle{StatusQueryURL: statusURL}, nil
}

func (c *Controller) check(ctx context.Context, statusURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	payload, err := c.roundTrip(req)
	if err != nil {
		return "", err
	}

	return Field(payload, "runtimeStatus")
}

// roundTrip sends req and returns the body of a 2xx response
func (c *Controller) roundTrip(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Redacted(), resp.StatusCode)
	}

	return payload, nil
}

func (c *Controller) record(fn func(Metrics)) {
	if c.metrics != nil {
		fn(c.metrics)
	}
}

// StartURL joins the base URL and the orchestrator start route
func StartURL(baseURL, orchestrator string) (string, error) {
	if strings.TrimSpace(orchestrator) == "" {
		return "", fmt.Errorf("orchestrator name is required")
	}

	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if !base.IsAbs() || base.Host == "" {
		return "", fmt.Errorf("invalid base URL %q: not absolute", baseURL)
	}

	return base.JoinPath("api", "orchestrators", orchestrator).String(), nil
}

// Field extracts a non-empty string field from a JSON object payload
func Field(payload []byte, name string) (string, error) {
	if !gjson.ValidBytes(payload) {
		return "", fmt.Errorf("malformed JSON response")
	}

	doc := gjson.ParseBytes(payload)
	if !doc.IsObject() {
		return "", fmt.Errorf("response is not a JSON object")
	}

	value := doc.Get(name)
	if value.Type != gjson.String || value.Str == "" {
		return "", fmt.Errorf("response has no %s", name)
	}

	return value.Str, nil
}

// RewriteAuthority moves raw onto origin's scheme and hostname.
// The port raw was issued with, its path and its query string are kept as-is.
func RewriteAuthority(raw string, origin *url.URL) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid status URL %q: %w", raw, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("invalid status URL %q: not absolute", raw)
	}

	if origin.Scheme != "" {
		u.Scheme = origin.Scheme
	}
	if hostname := origin.Hostname(); hostname != "" {
		if port := u.Port(); port != "" {
			u.Host = joinHostPort(hostname, port)
		} else {
			u.Host = bracketIPv6(hostname)
		}
	}

	return u.String(), nil
}

func requireAbsolute(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid status URL %q: %w", raw, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("invalid status URL %q: not absolute", raw)
	}
	return nil
}

func joinHostPort(host, port string) string {
	return bracketIPv6(host) + ":" + port
}

func bracketIPv6(host string) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}
