package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/document-pipeline/internal/bootstrap"
	"github.com/kirillkom/document-pipeline/internal/cli"
	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/observability/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		return 1
	}
	logger, closeLog, err := logging.NewWithFile(os.Stderr, "pipeline-watch", cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		slog.Error("logger_init_failed", "error", err)
		return 1
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var app *bootstrap.App
	root := cli.NewRootCommand(func(ctx context.Context) (*bootstrap.App, error) {
		a, err := bootstrap.New(ctx, cfg, logger, bootstrap.WithServiceName("pipeline-watch"))
		app = a
		return a, err
	})
	err = root.ExecuteContext(ctx)
	if app != nil {
		app.Close()
	}
	if err != nil {
		return 1
	}
	return 0
}
