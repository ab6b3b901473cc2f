package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"boardhub/internal/app"
	"boardhub/internal/auth"
	"boardhub/internal/config"
	"boardhub/internal/logging"
	"boardhub/pkg/types"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run dispatches the optional subcommand. With no arguments it serves.
func run(args []string, stdout io.Writer) error {
	// STEP 1: configuration with precedence (file > env > defaults)
	cfg, err := config.LoadConfigWithPrecedence(os.Getenv("BOARDHUB_CONFIG_FILE"))
	if err != nil {
		return err
	}

	if len(args) > 0 {
		switch args[0] {
		case "token":
			return issueToken(cfg, args[1:], stdout)
		default:
			return fmt.Errorf("unknown command %q (usage: boardhub [token <user-id> [ttl]])", args[0])
		}
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	return serve(cfg, logger)
}

// serve runs the application until SIGINT/SIGTERM or a fatal server error.
func serve(cfg *config.Config, logger *zap.Logger) error {
	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background context: shutdown is driven by Stop, not by cancellation.
	if err := application.Start(context.Background()); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = application.Stop(shutdownCtx)
		return fmt.Errorf("application error: %w", err)
	}

	var serveErr error
	select {
	case err, ok := <-application.Errors():
		if ok {
			serveErr = err
		}
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	if serveErr != nil {
		return fmt.Errorf("application error: %w", serveErr)
	}
	return nil
}

// issueToken prints a signed bearer token for local testing.
func issueToken(cfg *config.Config, args []string, stdout io.Writer) error {
	if len(args) < 1 || args[0] == "" {
		return fmt.Errorf("usage: boardhub token <user-id> [ttl]")
	}
	ttl := 24 * time.Hour
	if len(args) > 1 {
		d, err := time.ParseDuration(args[1])
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid ttl %q", args[1])
		}
		ttl = d
	}

	token, err := auth.IssueToken(cfg.Auth.Secret, types.User{ID: args[0]}, ttl)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}
