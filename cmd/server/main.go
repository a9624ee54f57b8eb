package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andy6609/relay-chat/internal/chat"
)

func main() {
	cfg := chat.ConfigFromEnv()
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "chat-server",
		Short: "Line-oriented TCP chat server",
		Long:  "Accepts chat clients over TCP, negotiates a unique nickname for each and relays every line to everyone connected.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(logLevel)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, logger)
		},
		SilenceUsage: true,
	}

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "chat listen address")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "metrics listen address (empty disables)")
	flags.IntVar(&cfg.OutboxSize, "outbox-size", cfg.OutboxSize, "lines queued per client")
	flags.DurationVar(&cfg.SendTimeout, "send-timeout", cfg.SendTimeout, "how long a full client queue may block before the client is dropped")
	flags.BoolVar(&cfg.DisconnectOnStop, "disconnect-on-stop", cfg.DisconnectOnStop, "close open sessions on shutdown")
	flags.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "how long shutdown waits for sessions")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})), nil
}

func run(ctx context.Context, cfg chat.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := chat.NewServer(cfg, logger)
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "error", err)
		return err
	}

	var metrics *http.Server
	if cfg.MetricsAddr != "" {
		metrics = chat.NewMetricsServer(cfg.MetricsAddr)
		go func() {
			logger.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-srv.Err():
		logger.Error("listener failed", "error", runErr)
	}

	if err := srv.Stop(context.Background()); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	if metrics != nil {
		if err := metrics.Shutdown(context.Background()); err != nil {
			logger.Warn("metrics shutdown", "error", err)
		}
	}
	return runErr
}
