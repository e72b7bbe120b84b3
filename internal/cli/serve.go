package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"convbridge/internal/config"
	"convbridge/internal/server"
	"convbridge/pkg/logger"
)

// shutdownGrace bounds how long in-flight turns may finish after a signal.
const shutdownGrace = 45 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Slack bridge",
		Long: `Run the Slack bridge.

Events arrive over Socket Mode (slack.mode=socket) or through the Events API
endpoint POST /slack/events on the gateway (slack.mode=http). The gateway also
serves /health and /metrics.`,
		Example: `  # Run with the default configuration file
  convbridge serve

  # Run with an explicit config and a different gateway port
  convbridge serve -c ./bridge.yaml --port 9090

  # Tokens can come from the environment
  CONVBRIDGE_SLACK_BOT_TOKEN=xoxb-... convbridge serve`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "gateway port (overrides config)")
	cmd.Flags().String("host", "", "gateway host (overrides config)")
	cmd.Flags().String("channel", "", "monitored channel id (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("CLI context not initialized")
	}

	cfg := cliCtx.Config
	log := cliCtx.Log()

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Gateway.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Gateway.Host = host
	}
	if ch, _ := cmd.Flags().GetString("channel"); ch != "" {
		cfg.Slack.MonitoredChannel = ch
	}

	srv, err := server.NewServer(server.ServerConfig{
		Config:  cfg,
		Version: Version,
		Logger:  *log,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	// 仅日志级别支持热更新
	config.Watch(func(next *config.Config) {
		level := next.Log.Level
		if cliCtx.Verbose || cliCtx.Quiet {
			level = cliCtx.LogLevel()
		}
		lvl := logger.SetLevel(level)
		log.Info().Str("level", lvl.String()).Msg("log level reloaded")
	})

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server...")
	case runErr = <-srv.ErrorChan():
		log.Error().Err(runErr).Msg("Server error")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Stop(stopCtx); err != nil && !errors.Is(err, server.ErrNotStarted) {
		log.Error().Err(err).Msg("Error during shutdown")
		runErr = errors.Join(runErr, err)
	}

	log.Info().Msg("Server stopped")
	return runErr
}
