package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chime/internal/app"
	"chime/internal/config"
)

var (
	serveConfigPath string
	serveEnvFile    string
	serveStopAfter  time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler",
	Long: `Load the configuration, recover persisted tasks and run until
SIGINT or SIGTERM. Secrets may come from the environment or an .env file.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "./config.yaml", "path to the config file (yaml, toml or json)")
	serveCmd.Flags().StringVar(&serveEnvFile, "env-file", ".env", "dotenv file loaded before the config; missing is fine")
	serveCmd.Flags().DurationVar(&serveStopAfter, "stop-timeout", 15*time.Second, "upper bound for graceful shutdown")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(serveEnvFile); err != nil {
		return fmt.Errorf("load %s: %w", serveEnvFile, err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(serveConfigPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, done := context.WithTimeout(context.Background(), serveStopAfter)
		defer done()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	<-a.Done()
	reason := app.StopSignal
	runErr := a.Err()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		reason = app.StopFatalError
	} else {
		runErr = nil
	}

	stopCtx, done := context.WithTimeout(context.Background(), serveStopAfter)
	defer done()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	return runErr
}
