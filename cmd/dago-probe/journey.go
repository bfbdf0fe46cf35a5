package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aescanero/dago-probe/internal/config"
	metrics "github.com/aescanero/dago-probe/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/dago-probe/pkg/harness"
	"github.com/aescanero/dago-probe/pkg/harness/browser"
	"github.com/aescanero/dago-probe/pkg/harness/formdriver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newJourneyCommand() *cobra.Command {
	var (
		pageURL       string
		driver        string
		scenarioPath  string
		artifactDir   string
		attempts      int
		interval      string
		headed        bool
		concurrency   int
		expectURLPart string
	)

	cmd := &cobra.Command{
		Use:   "journey",
		Short: "Drive the UI end to end: start, wait for the status URL, poll until Completed",
		Long: `journey opens the page, clicks start, waits for the status-query URL and then
clicks check until the rendered status contains Completed or the attempt budget
runs out. Failures leave a screenshot and the page markup in the artifact
directory.

With --scenarios, every scenario in the YAML file runs in its own session.
Scenarios in direct mode skip the UI and use the endpoints instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if pageURL != "" {
				cfg.Harness.TargetURL = pageURL
			}
			if driver != "" {
				cfg.Harness.Driver = driver
			}
			if cmd.Flags().Changed("artifacts") {
				cfg.Harness.ArtifactDir = artifactDir
			}
			if cmd.Flags().Changed("expect-url") {
				cfg.Harness.ExpectURLSubstring = expectURLPart
			}
			if headed {
				cfg.Harness.Headless = false
			}
			if err := applyPollFlags(cmd, cfg, attempts, interval); err != nil {
				return err
			}

			logger := initLogger(cfg.LogLevel)
			defer logger.Sync()

			scenarios := []harness.Scenario{{Name: "ui-" + cfg.Client.Orchestrator, Mode: harness.ModeUI}}
			if scenarioPath != "" {
				file, err := harness.LoadScenarios(scenarioPath)
				if err != nil {
					return err
				}
				scenarios = file.Scenarios
				if !cmd.Flags().Changed("concurrency") {
					concurrency = file.Concurrency
				}
			}

			var artifacts *harness.ArtifactWriter
			if cfg.Harness.ArtifactDir != "" {
				artifacts = harness.NewArtifactWriter(cfg.Harness.ArtifactDir)
			}
			runner := harness.NewRunner(logger, metrics.NewCollector(prometheus.NewRegistry()), artifacts)

			results := harness.RunScenarios(cmd.Context(), scenarios, concurrency, func(ctx context.Context, s harness.Scenario) (*harness.JourneyResult, error) {
				return runScenario(ctx, runner, cfg, s, logger)
			})

			return report(cmd.OutOrStdout(), results)
		},
	}

	cmd.Flags().StringVar(&pageURL, "url", "", "UI page URL (default PROBE_TARGET_URL)")
	cmd.Flags().StringVar(&driver, "driver", "", "browser or form (default PROBE_DRIVER)")
	cmd.Flags().StringVarP(&scenarioPath, "scenarios", "f", "", "YAML scenario file")
	cmd.Flags().StringVar(&artifactDir, "artifacts", "", "Directory for failure snapshots; empty disables them")
	cmd.Flags().StringVar(&expectURLPart, "expect-url", "", "Substring the status URL must contain")
	cmd.Flags().BoolVar(&headed, "headed", false, "Show the browser window")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Scenarios run at once; 0 runs all together")
	addPollFlags(cmd, &attempts, &interval)

	return cmd
}

func runScenario(ctx context.Context, runner *harness.Runner, cfg *config.Config, s harness.Scenario, logger *zap.Logger) (*harness.JourneyResult, error) {
	policy := s.Policy(harness.CompletedPolicy(cfg.Harness.PollAttempts, cfg.Harness.PollInterval))

	if s.Mode == harness.ModeDirect {
		orchestrator := s.Orchestrator
		if orchestrator == "" {
			orchestrator = cfg.Client.Orchestrator
		}
		return runner.RunDirectJourney(ctx, &http.Client{Timeout: cfg.Client.ActionTimeout}, harness.DirectConfig{
			Name:         s.Name,
			BaseURL:      platformURL(cfg),
			Orchestrator: orchestrator,
			Policy:       policy,
			ExpectOutput: s.ExpectOutput,
		})
	}

	if s.Orchestrator != "" && s.Orchestrator != cfg.Client.Orchestrator {
		logger.Warn("the page starts its configured orchestrator; scenario orchestrator ignored",
			zap.String("scenario", s.Name),
			zap.String("orchestrator", s.Orchestrator),
			zap.String("page_orchestrator", cfg.Client.Orchestrator))
	}

	d, err := newDriver(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	return runner.RunJourney(ctx, d, harness.JourneyConfig{
		Name:               s.Name,
		Policy:             policy,
		URLTimeout:         cfg.Harness.URLWaitTimeout,
		ActionTimeout:      cfg.Client.ActionTimeout,
		ExpectURLSubstring: cfg.Harness.ExpectURLSubstring,
	})
}

func newDriver(cfg *config.Config, logger *zap.Logger) (harness.Driver, error) {
	if cfg.Harness.Driver == config.DriverForm {
		return formdriver.New(cfg.Harness.TargetURL, cfg.Client.ActionTimeout, logger)
	}

	opts := browser.DefaultOptions()
	opts.ExecPath = cfg.Harness.ChromePath
	opts.Headless = cfg.Harness.Headless
	opts.NoSandbox = cfg.Harness.NoSandbox
	return browser.New(cfg.Harness.TargetURL, opts, logger), nil
}

// report prints one line per scenario and fails when any scenario failed
func report(out io.Writer, results []harness.ScenarioResult) error {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", r.Scenario.Name, r.Err)
			continue
		}
		printResult(out, r.Scenario.Name, r.Result)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(results))
	}
	return nil
}

func printResult(out io.Writer, name string, result *harness.JourneyResult) {
	fmt.Fprintf(out, "PASS %s: %s after %d attempts in %s (%s)\n",
		name, result.FinalStatus, len(result.Attempts), result.Duration.Round(time.Millisecond), result.StatusURL)
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("%s is negative", s)
	}
	return d, nil
}
