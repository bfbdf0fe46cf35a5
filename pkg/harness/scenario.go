package harness

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario modes
const (
	ModeUI     = "ui"
	ModeDirect = "direct"
)

// Scenario is one entry of a scenario file
type Scenario struct {
	Name         string        `yaml:"name"`
	Orchestrator string        `yaml:"orchestrator"`
	Mode         string        `yaml:"mode"`
	Attempts     int           `yaml:"attempts"`
	Interval     time.Duration `yaml:"interval"`
	ExpectOutput string        `yaml:"expectOutput"`
}

// ScenarioFile is the document read by LoadScenarios
type ScenarioFile struct {
	// Concurrency caps how many scenarios run at once; 0 runs them all together
	Concurrency int        `yaml:"concurrency"`
	Scenarios   []Scenario `yaml:"scenarios"`
}

// Policy returns the scenario's poll policy, falling back to def for unset fields
func (s Scenario) Policy(def RetryPolicy) RetryPolicy {
	p := CompletedPolicy(def.MaxAttempts, def.Interval)
	if s.Attempts > 0 {
		p.MaxAttempts = s.Attempts
	}
	if s.Interval > 0 {
		p.Interval = s.Interval
	}
	return p
}

// LoadScenarios reads and validates a YAML scenario file
func LoadScenarios(path string) (*ScenarioFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenarios(data)
}

// ParseScenarios decodes and validates scenario YAML
func ParseScenarios(data []byte) (*ScenarioFile, error) {
	var file ScenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse scenarios: %w", err)
	}

	if len(file.Scenarios) == 0 {
		return nil, fmt.Errorf("no scenarios defined")
	}

	seen := make(map[string]bool, len(file.Scenarios))
	for i := range file.Scenarios {
		s := &file.Scenarios[i]
		if s.Name == "" {
			s.Name = fmt.Sprintf("scenario-%d", i+1)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate scenario name %q", s.Name)
		}
		seen[s.Name] = true

		switch s.Mode {
		case "":
			s.Mode = ModeUI
		case ModeUI, ModeDirect:
		default:
			return nil, fmt.Errorf("scenario %q: unknown mode %q", s.Name, s.Mode)
		}
		if s.Attempts < 0 || s.Interval < 0 {
			return nil, fmt.Errorf("scenario %q: attempts and interval must not be negative", s.Name)
		}
	}

	return &file, nil
}

// ScenarioResult is the outcome of one scenario run
type ScenarioResult struct {
	Scenario Scenario
	Result   *JourneyResult
	Err      error
}

// RunScenarios runs every scenario through run, at most concurrency at a time,
// and returns the results in input order
func RunScenarios(ctx context.Context, scenarios []Scenario, concurrency int, run func(context.Context, Scenario) (*JourneyResult, error)) []ScenarioResult {
	if concurrency <= 0 || concurrency > len(scenarios) {
		concurrency = len(scenarios)
	}

	results := make([]ScenarioResult, len(scenarios))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, s := range scenarios {
		wg.Add(1)
		go func(i int, s Scenario) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = ScenarioResult{Scenario: s, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			result, err := run(ctx, s)
			results[i] = ScenarioResult{Scenario: s, Result: result, Err: err}
		}(i, s)
	}

	wg.Wait()
	return results
}
