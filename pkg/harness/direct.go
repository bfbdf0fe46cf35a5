package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aescanero/dago-probe/pkg/controller"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// StartResponse is what the start endpoint answered
type StartResponse struct {
	StatusCode     int
	StatusQueryURL string
	// Location is the Location header, empty when absent
	Location string
	Body     []byte
}

// CheckStartEndpoint issues one start request and asserts a 2xx status and a
// non-empty statusQueryGetUri. Violations are *ContractError values.
func CheckStartEndpoint(ctx context.Context, client controller.HTTPDoer, baseURL, orchestrator string, input interface{}) (*StartResponse, error) {
	endpoint, err := controller.StartURL(baseURL, orchestrator)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if input != nil {
		data, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("encode input: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	status, payload, header, err := send(client, req)
	if err != nil {
		return nil, err
	}

	if status < 200 || status >= 300 {
		return nil, &ContractError{Endpoint: endpoint, StatusCode: status, Reason: "start did not return a success status"}
	}

	statusURL := gjson.GetBytes(payload, "statusQueryGetUri")
	if statusURL.Type != gjson.String || statusURL.Str == "" {
		return nil, &ContractError{Endpoint: endpoint, StatusCode: status, Reason: "response has no statusQueryGetUri"}
	}

	return &StartResponse{
		StatusCode:     status,
		StatusQueryURL: statusURL.Str,
		Location:       header.Get("Location"),
		Body:           payload,
	}, nil
}

// DirectConfig tunes a journey that bypasses the UI
type DirectConfig struct {
	Name         string
	BaseURL      string
	Orchestrator string
	Input        interface{}
	Policy       RetryPolicy
	// ExpectOutput, when set, must appear in the output of a Completed instance
	ExpectOutput string
}

// RunDirectJourney starts an orchestration through the endpoint and polls its
// status URL until the policy sees a terminal status
func (r *Runner) RunDirectJourney(ctx context.Context, client controller.HTTPDoer, cfg DirectConfig) (*JourneyResult, error) {
	if cfg.Name == "" {
		cfg.Name = "direct"
	}
	if cfg.Policy.MaxAttempts <= 0 && cfg.Policy.Terminal == nil {
		cfg.Policy = CompletedPolicy(5, 3*time.Second)
	}

	started := time.Now()
	logger := r.logger.With(zap.String("scenario", cfg.Name), zap.String("kind", KindDirect))

	result, step, err := r.runDirect(ctx, client, cfg, logger)
	duration := time.Since(started)

	if err != nil {
		r.recordJourney(KindDirect, "failure", duration)
		logger.Error("journey failed", zap.String("step", step), zap.Error(err))
		return nil, &ScenarioError{Scenario: cfg.Name, Step: step, Err: err}
	}

	result.Duration = duration
	r.recordJourney(KindDirect, "success", duration)
	logger.Info("journey passed",
		zap.String("status_url", result.StatusURL),
		zap.String("final_status", result.FinalStatus),
		zap.Int("attempts", len(result.Attempts)),
		zap.Duration("duration", duration))

	return result, nil
}

func (r *Runner) runDirect(ctx context.Context, client controller.HTTPDoer, cfg DirectConfig, logger *zap.Logger) (*JourneyResult, string, error) {
	start, err := CheckStartEndpoint(ctx, client, cfg.BaseURL, cfg.Orchestrator, cfg.Input)
	if err != nil {
		return nil, "start", err
	}
	logger.Info("orchestration started", zap.String("status_url", start.StatusQueryURL))

	if err := ValidateStatusURL(start.StatusQueryURL, ""); err != nil {
		return nil, "validate status URL", err
	}

	var lastPayload []byte
	policy := r.instrument(cfg.Policy, logger)
	attempts, err := policy.Poll(ctx, func(ctx context.Context, _ int) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, start.StatusQueryURL, nil)
		if err != nil {
			return "", fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		status, payload, _, err := send(client, req)
		if err != nil {
			return "", err
		}
		if status < 200 || status >= 300 {
			return "", &ContractError{Endpoint: start.StatusQueryURL, StatusCode: status, Reason: "status query did not return a success status"}
		}

		runtimeStatus, err := controller.Field(payload, "runtimeStatus")
		if err != nil {
			return "", &ContractError{Endpoint: start.StatusQueryURL, StatusCode: status, Reason: err.Error()}
		}
		lastPayload = payload
		return runtimeStatus, nil
	})
	if err != nil {
		return nil, "poll status", err
	}

	output := gjson.GetBytes(lastPayload, "output").String()
	if cfg.ExpectOutput != "" && !strings.Contains(output, cfg.ExpectOutput) {
		return nil, "verify output", &ContractError{
			Endpoint: start.StatusQueryURL,
			Reason:   fmt.Sprintf("output %q does not contain %q", output, cfg.ExpectOutput),
		}
	}

	return &JourneyResult{
		StatusURL:   start.StatusQueryURL,
		FinalStatus: attempts[len(attempts)-1].Status,
		Output:      output,
		Attempts:    attempts,
	}, "", nil
}

func send(client controller.HTTPDoer, req *http.Request) (int, []byte, http.Header, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, payload, resp.Header, nil
}
