package main

import (
	"fmt"
	"net/http"

	"github.com/aescanero/dago-probe/internal/config"
	metrics "github.com/aescanero/dago-probe/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/dago-probe/pkg/harness"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newCheckCommand() *cobra.Command {
	var (
		baseURL      string
		orchestrator string
		startOnly    bool
		expectOutput string
		attempts     int
		interval     string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the orchestration endpoints directly, without the UI",
		Long: `check posts to the start endpoint and asserts a 2xx answer carrying a
statusQueryGetUri. Unless --start-only is given it then polls that URL until
the instance reports Completed or the attempt budget runs out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyPollFlags(cmd, cfg, attempts, interval); err != nil {
				return err
			}

			logger := initLogger(cfg.LogLevel)
			defer logger.Sync()

			if baseURL == "" {
				baseURL = platformURL(cfg)
			}
			if orchestrator == "" {
				orchestrator = cfg.Client.Orchestrator
			}

			client := &http.Client{Timeout: cfg.Client.ActionTimeout}
			out := cmd.OutOrStdout()

			if startOnly {
				start, err := harness.CheckStartEndpoint(cmd.Context(), client, baseURL, orchestrator, nil)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "PASS start %d %s\n", start.StatusCode, start.StatusQueryURL)
				return nil
			}

			runner := harness.NewRunner(logger, metrics.NewCollector(prometheus.NewRegistry()), nil)
			result, err := runner.RunDirectJourney(cmd.Context(), client, harness.DirectConfig{
				Name:         "direct-" + orchestrator,
				BaseURL:      baseURL,
				Orchestrator: orchestrator,
				Policy:       harness.CompletedPolicy(cfg.Harness.PollAttempts, cfg.Harness.PollInterval),
				ExpectOutput: expectOutput,
			})
			if err != nil {
				return err
			}

			printResult(out, "direct-"+orchestrator, result)
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "Platform root (default PROBE_BASE_URL, else PROBE_TARGET_URL)")
	cmd.Flags().StringVarP(&orchestrator, "orchestrator", "o", "", "Orchestrator name (default PROBE_ORCHESTRATOR)")
	cmd.Flags().BoolVar(&startOnly, "start-only", false, "Only check the start endpoint")
	cmd.Flags().StringVar(&expectOutput, "expect-output", "", "Substring the Completed output must contain")
	addPollFlags(cmd, &attempts, &interval)

	return cmd
}

func addPollFlags(cmd *cobra.Command, attempts *int, interval *string) {
	cmd.Flags().IntVar(attempts, "attempts", 0, "Poll attempts (default PROBE_POLL_ATTEMPTS)")
	cmd.Flags().StringVar(interval, "interval", "", "Pause between polls, e.g. 3s (default PROBE_POLL_INTERVAL)")
}

func applyPollFlags(cmd *cobra.Command, cfg *config.Config, attempts int, interval string) error {
	if cmd.Flags().Changed("attempts") {
		cfg.Harness.PollAttempts = attempts
	}
	if cmd.Flags().Changed("interval") {
		d, err := parseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid --interval: %w", err)
		}
		cfg.Harness.PollInterval = d
	}
	return cfg.Validate()
}

// platformURL is where the orchestration endpoints live
func platformURL(cfg *config.Config) string {
	if cfg.Client.BaseURL != "" {
		return cfg.Client.BaseURL
	}
	return cfg.Harness.TargetURL
}
