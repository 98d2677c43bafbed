package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/spf13/cobra"

	"github.com/societyhub/societyhub/db/migrations"
)

// Migrator is satisfied by *migrate.Migrate.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Close() (error, error)
}

// OpenMigrator builds a migrator over the embedded schema migrations.
func OpenMigrator(dsn string) (Migrator, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}

func newMigrateCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}
	cmd.AddCommand(
		migrateAction(env, "up", "Apply all pending migrations", cobra.NoArgs, func(m Migrator, _ []string) (string, error) {
			return "migrations applied successfully", ignoreNoChange(m.Up())
		}),
		migrateAction(env, "down", "Revert every migration", cobra.NoArgs, func(m Migrator, _ []string) (string, error) {
			return "migrations reverted successfully", ignoreNoChange(m.Down())
		}),
		migrateAction(env, "steps <n>", "Apply n migrations; pass a negative n after -- to roll back", cobra.ExactArgs(1), func(m Migrator, args []string) (string, error) {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return "", fmt.Errorf("invalid steps argument: %w", err)
			}
			return fmt.Sprintf("applied %d migration steps", n), ignoreNoChange(m.Steps(n))
		}),
		migrateAction(env, "version", "Print the current schema version", cobra.NoArgs, func(m Migrator, _ []string) (string, error) {
			version, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				return "version: none", nil
			}
			if err != nil {
				return "", fmt.Errorf("failed to get version: %w", err)
			}
			return fmt.Sprintf("version: %d, dirty: %v", version, dirty), nil
		}),
	)
	return cmd
}

func migrateAction(env *Env, use, short string, args cobra.PositionalArgs, run func(Migrator, []string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, argv []string) error {
			m, err := env.openMigrator()
			if err != nil {
				return err
			}
			defer func() {
				if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
					env.Logger.Warn("migrate close", slog.Any("error", errors.Join(srcErr, dbErr)))
				}
			}()
			msg, err := run(m, argv)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
