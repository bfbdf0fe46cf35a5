package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/dago-probe/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	var port int
	var noSimulator bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the UI and the simulated orchestration backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.HTTPPort = port
			}
			if noSimulator {
				cfg.Simulator.Enabled = false
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := initLogger(cfg.LogLevel)
			defer logger.Sync()

			logger.Info("starting dago-probe",
				zap.String("version", Version),
				zap.String("build_time", BuildTime))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, app.Options{Logger: logger})
			if err != nil {
				return err
			}

			if err := a.StartWorkers(); err != nil {
				return err
			}

			serverErr := make(chan error, 2)
			go func() {
				serverErr <- a.Server.Start()
			}()
			if a.GRPC != nil {
				go func() {
					serverErr <- a.GRPC.Start()
				}()
			}

			logger.Info("dago-probe started",
				zap.Int("http_port", cfg.HTTPPort),
				zap.Int("grpc_port", cfg.GRPCPort),
				zap.Bool("simulator", cfg.Simulator.Enabled),
				zap.String("orchestrator", cfg.Client.Orchestrator))

			select {
			case <-ctx.Done():
				logger.Info("received shutdown signal")
			case err = <-serverErr:
				if err != nil {
					logger.Error("server failed", zap.Error(err))
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()

			if shutdownErr := a.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
				err = shutdownErr
			}

			logger.Info("dago-probe shut down complete")
			return err
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (overrides PROBE_HTTP_PORT)")
	cmd.Flags().BoolVar(&noSimulator, "no-simulator", false, "Serve only the UI against PROBE_BASE_URL")

	return cmd
}
