package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"powerlog/libs/logging"

	"powerlog/internal/anchor"
	"powerlog/internal/app"
	"powerlog/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Args[1:], os.Stderr)
	switch {
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, config.ErrUsage):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if cfg.ShowVersion {
		fmt.Printf("powerlog-converter %s\n", version)
		return 0
	}

	logger, err := logging.NewLogger(cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	application, err := app.New(ctx, cfg, logger, anchor.NewFileNameResolver())
	if err != nil {
		logger.Error("failed to init application", zap.Error(err))
		return 1
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		logger.Error("conversion failed", zap.String("input", cfg.Input), zap.Error(err))
		return 1
	}
	return 0
}
