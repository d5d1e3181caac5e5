package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"padron/internal/config"
	"padron/internal/logging"
	"padron/internal/pipeline"
	"padron/internal/storage"
	"padron/internal/web"
)

func main() {
	cfg, err := config.Load()
	must(err)

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	must(err)
	defer func() { _ = logger.Sync() }()

	registry, err := storage.OpenRegistry(cfg.UsersDBPath, cfg.DataDir)
	must(err)
	defer registry.Close()

	srv, err := web.NewServer(cfg, registry, pipeline.NewImportService(registry, logger), logger)
	must(err)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	must(srv.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
