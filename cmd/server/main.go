package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/iudanet/pymirror/internal/config"
	"github.com/iudanet/pymirror/internal/server/app"
	"github.com/iudanet/pymirror/internal/server/handlers"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Parse flags
	showVersion := pflag.Bool("version", false, "Show version information")
	configPath := pflag.StringP("config", "c", "/etc/pymirror/config.yaml", "Path to configuration file")
	issueToken := pflag.String("issue-token", "", "Print an access token for the given client ID and exit")
	pflag.Parse()

	// Show version and exit if requested
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if err := run(*configPath, *issueToken); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, issueToken string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if issueToken != "" {
		token, err := handlers.IssueToken(handlers.JWTConfig{
			Secret:         []byte(cfg.Server.JWTSecret),
			AccessTokenTTL: cfg.Server.TokenTTL.Duration(),
		}, issueToken)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(token)
	}

	logger := cfg.Log.Logger(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, Version)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	if err := a.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := a.Recover(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	return a.Run(ctx)
}

func printVersion() {
	fmt.Printf("PyMirror Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
