package harness

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Metrics records harness outcomes
type Metrics interface {
	RecordPollAttempt(status string)
	RecordJourney(kind, outcome string, duration time.Duration)
}

// Journey kinds, used as the metrics label
const (
	KindUI     = "ui"
	KindDirect = "direct"
)

// elementPollInterval is how often the bounded element wait re-reads the page
const elementPollInterval = 100 * time.Millisecond

// JourneyConfig tunes one full-journey run
type JourneyConfig struct {
	Name   string
	Policy RetryPolicy
	// URLTimeout bounds the wait for the status URL after starting
	URLTimeout time.Duration
	// ActionTimeout bounds each individual driver action
	ActionTimeout time.Duration
	// ExpectURLSubstring, when set, must appear in the status URL
	ExpectURLSubstring string
}

// JourneyResult is the outcome of a successful journey
type JourneyResult struct {
	StatusURL   string
	FinalStatus string
	Output      string
	Attempts    []PollAttempt
	Duration    time.Duration
}

// Runner executes journeys and records their outcome
type Runner struct {
	logger    *zap.Logger
	metrics   Metrics
	artifacts *ArtifactWriter
}

// NewRunner creates a Runner. metrics and artifacts may be nil.
func NewRunner(logger *zap.Logger, metrics Metrics, artifacts *ArtifactWriter) *Runner {
	return &Runner{
		logger:    logger,
		metrics:   metrics,
		artifacts: artifacts,
	}
}

// RunJourney opens the UI, starts an orchestration, waits for its status URL
// and clicks check until the policy sees a terminal status.
func (r *Runner) RunJourney(ctx context.Context, d Driver, cfg JourneyConfig) (*JourneyResult, error) {
	cfg = withJourneyDefaults(cfg)
	started := time.Now()
	logger := r.logger.With(zap.String("scenario", cfg.Name), zap.String("kind", KindUI))

	result, step, err := r.runJourney(ctx, d, cfg, logger)
	duration := time.Since(started)

	if err != nil {
		r.recordJourney(KindUI, "failure", duration)
		return nil, r.fail(d, cfg.Name, step, err, logger)
	}

	result.Duration = duration
	r.recordJourney(KindUI, "success", duration)
	logger.Info("journey passed",
		zap.String("status_url", result.StatusURL),
		zap.String("final_status", result.FinalStatus),
		zap.Int("attempts", len(result.Attempts)),
		zap.Duration("duration", duration))

	return result, nil
}

func (r *Runner) runJourney(ctx context.Context, d Driver, cfg JourneyConfig, logger *zap.Logger) (*JourneyResult, string, error) {
	if err := act(ctx, cfg.ActionTimeout, d.Open); err != nil {
		return nil, "open", err
	}

	if err := act(ctx, cfg.ActionTimeout, d.ClickStart); err != nil {
		return nil, "start", err
	}

	statusURL, err := r.waitForStatusURL(ctx, d, cfg.URLTimeout)
	if err != nil {
		return nil, "wait for status URL", err
	}
	logger.Info("status URL rendered", zap.String("status_url", statusURL))

	if err := ValidateStatusURL(statusURL, cfg.ExpectURLSubstring); err != nil {
		return nil, "validate status URL", err
	}

	policy := r.instrument(cfg.Policy, logger)
	attempts, err := policy.Poll(ctx, func(ctx context.Context, _ int) (string, error) {
		actx, cancel := context.WithTimeout(ctx, cfg.ActionTimeout)
		defer cancel()

		if err := d.ClickCheck(actx); err != nil {
			return "", err
		}
		text, ok, err := d.StatusText(actx)
		if err != nil || !ok {
			return "", err
		}
		return text, nil
	})
	if err != nil {
		return nil, "poll status", err
	}

	return &JourneyResult{
		StatusURL:   statusURL,
		FinalStatus: attempts[len(attempts)-1].Status,
		Attempts:    attempts,
	}, "", nil
}

// waitForStatusURL re-reads the page until the status URL shows up, an alert
// shows up, or timeout passes
func (r *Runner) waitForStatusURL(ctx context.Context, d Driver, timeout time.Duration) (string, error) {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(elementPollInterval)
	defer ticker.Stop()

	for {
		statusURL, ok, err := d.StatusURL(wctx)
		if err != nil && wctx.Err() == nil {
			return "", err
		}
		if ok && statusURL != "" {
			return statusURL, nil
		}

		if alert, shown, err := d.Alert(wctx); err == nil && shown {
			return "", fmt.Errorf("start failed: %s", alert)
		}

		select {
		case <-wctx.Done():
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", &ElementNotFoundError{Element: "status URL", Timeout: timeout}
		case <-ticker.C:
		}
	}
}

// fail captures the page, stores it and wraps err with the failing step
func (r *Runner) fail(d Driver, name, step string, err error, logger *zap.Logger) error {
	scenarioErr := &ScenarioError{Scenario: name, Step: step, Err: err}

	// The journey context may be gone; the capture gets its own
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap, snapErr := d.Snapshot(ctx)
	if snapErr != nil {
		logger.Warn("failed to capture snapshot", zap.Error(snapErr))
	} else {
		scenarioErr.Snapshot = snap
		var notFound *ElementNotFoundError
		if errors.As(err, &notFound) {
			notFound.Snapshot = snap
		}
		paths, writeErr := r.artifacts.Write(name, snap)
		if writeErr != nil {
			logger.Warn("failed to write artifacts", zap.Error(writeErr))
		}
		scenarioErr.Artifacts = paths
	}

	logger.Error("journey failed",
		zap.String("step", step),
		zap.Strings("artifacts", scenarioErr.Artifacts),
		zap.Error(err))

	return scenarioErr
}

// instrument chains metrics and logging onto the policy's attempt hook
func (r *Runner) instrument(p RetryPolicy, logger *zap.Logger) RetryPolicy {
	next := p.OnAttempt
	p.OnAttempt = func(a PollAttempt) {
		if r.metrics != nil {
			r.metrics.RecordPollAttempt(pollLabel(a))
		}
		logger.Debug("poll attempt",
			zap.Int("attempt", a.Attempt),
			zap.String("status", a.Status),
			zap.Error(a.Err))
		if IsTerminalFailure(a.Status) {
			logger.Warn("orchestration reached a failed terminal status", zap.String("status", a.Status))
		}
		if next != nil {
			next(a)
		}
	}
	return p
}

func (r *Runner) recordJourney(kind, outcome string, duration time.Duration) {
	if r.metrics != nil {
		r.metrics.RecordJourney(kind, outcome, duration)
	}
}

// ValidateStatusURL checks that u is absolute and contains want when set
func ValidateStatusURL(u, want string) error {
	parsed, err := url.Parse(u)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return &ContractError{Endpoint: "statusQueryGetUri", Reason: fmt.Sprintf("not an absolute URL: %q", u)}
	}
	if want != "" && !strings.Contains(u, want) {
		return &ContractError{Endpoint: "statusQueryGetUri", Reason: fmt.Sprintf("%q does not contain %q", u, want)}
	}
	return nil
}

func act(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}

// pollLabel keeps the metric label set small: display text is reduced to its token
func pollLabel(a PollAttempt) string {
	if a.Err != nil {
		return "error"
	}
	for _, s := range []string{"Pending", "Running", "Completed", "Failed", "Terminated", "Canceled", "Suspended", "ContinuedAsNew"} {
		if strings.Contains(a.Status, s) {
			return s
		}
	}
	if a.Status == "" {
		return "none"
	}
	return "other"
}

func withJourneyDefaults(cfg JourneyConfig) JourneyConfig {
	if cfg.Name == "" {
		cfg.Name = "journey"
	}
	if cfg.URLTimeout <= 0 {
		cfg.URLTimeout = 30 * time.Second
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 60 * time.Second
	}
	if cfg.Policy.MaxAttempts <= 0 && cfg.Policy.Terminal == nil {
		cfg.Policy = CompletedPolicy(5, 3*time.Second)
	}
	return cfg
}
