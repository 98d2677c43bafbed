// Package cli implements the societyctl operator commands.
package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/societyhub/societyhub/internal/app"
)

// Env carries configuration and the factories commands use to reach
// Postgres and Redis. Tests replace the factories with stubs.
type Env struct {
	Config       *app.Config
	Logger       *slog.Logger
	OpenMigrator func(dsn string) (Migrator, error)
	OpenJobs     func(redisAddr string) (JobQueue, error)
	OpenLedgers  func(ctx context.Context, cfg *app.Config) (LedgerInspector, func(), error)

	dsn       string
	redisAddr string
}

// NewRootCommand assembles the societyctl command tree.
func NewRootCommand(env *Env) *cobra.Command {
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	if env.Config == nil {
		env.Config = &app.Config{}
	}
	root := &cobra.Command{
		Use:           "societyctl",
		Short:         "Operate the SocietyHub subledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&env.dsn, "dsn", env.Config.PGDSN, "Postgres connection string")
	root.PersistentFlags().StringVar(&env.redisAddr, "redis", env.Config.RedisAddr, "Redis address")

	root.AddCommand(newMigrateCommand(env), newJobsCommand(env), newLedgerCommand(env))
	return root
}

func (e *Env) openJobs() (JobQueue, error) {
	if e.OpenJobs == nil {
		return nil, errors.New("jobs: queue not configured")
	}
	return e.OpenJobs(e.redisAddr)
}

func (e *Env) openMigrator() (Migrator, error) {
	if e.OpenMigrator == nil {
		return nil, errors.New("migrate: migrator not configured")
	}
	if e.dsn == "" {
		return nil, errors.New("migrate: --dsn is required")
	}
	return e.OpenMigrator(e.dsn)
}

func (e *Env) openLedgers(ctx context.Context) (LedgerInspector, func(), error) {
	if e.OpenLedgers == nil {
		return nil, nil, errors.New("ledger: service not configured")
	}
	cfg := *e.Config
	cfg.PGDSN = e.dsn
	cfg.RedisAddr = e.redisAddr
	return e.OpenLedgers(ctx, &cfg)
}
