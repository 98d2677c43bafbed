package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/societyhub/societyhub/cmd/societyctl/cli"
	"github.com/societyhub/societyhub/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	root := cli.NewRootCommand(&cli.Env{
		Config:       cfg,
		Logger:       app.NewLogger(cfg),
		OpenMigrator: cli.OpenMigrator,
		OpenJobs:     cli.NewJobsCLI,
		OpenLedgers:  cli.OpenLedgers,
	})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "societyctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
