package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/societyhub/societyhub/internal/app"
	"github.com/societyhub/societyhub/internal/platform/cache"
	"github.com/societyhub/societyhub/internal/platform/db"
	"github.com/societyhub/societyhub/internal/subledger"
)

// LedgerInspector replays ledger balances from their entries.
type LedgerInspector interface {
	SocietyIDs(ctx context.Context) ([]int64, error)
	VerifyLedgers(ctx context.Context, societyID int64) (subledger.IntegrityReport, error)
	ReplayLedger(ctx context.Context, ledgerID int64) (subledger.LedgerReplay, error)
}

// OpenLedgers connects the subledger service for read-only replay commands.
func OpenLedgers(ctx context.Context, cfg *app.Config) (LedgerInspector, func(), error) {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		return nil, nil, err
	}
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			_ = client.Close()
		} else {
			redisClient = client
		}
	}
	engine := app.NewSubledger(cfg, pool, redisClient, nil, app.NewLogger(cfg))
	cleanup := func() {
		engine.Close()
		if redisClient != nil {
			_ = redisClient.Close()
		}
		pool.Close()
	}
	return engine.Service, cleanup, nil
}

func newLedgerCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Replay ledger balances against their entries",
	}

	var societyID int64
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check stored balances of every ledger in one or all societies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ledgers, cleanup, err := env.openLedgers(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			societies := []int64{societyID}
			if societyID <= 0 {
				if societies, err = ledgers.SocietyIDs(ctx); err != nil {
					return err
				}
			}
			reports := make([]subledger.IntegrityReport, 0, len(societies))
			drifted := 0
			for _, id := range societies {
				report, err := ledgers.VerifyLedgers(ctx, id)
				if err != nil {
					return fmt.Errorf("society %d: %w", id, err)
				}
				drifted += len(report.Drifted)
				reports = append(reports, report)
			}
			if err := writeJSON(cmd, reports); err != nil {
				return err
			}
			if drifted > 0 {
				return fmt.Errorf("%d ledgers drifted from their entries", drifted)
			}
			return nil
		},
	}
	verify.Flags().Int64Var(&societyID, "society", 0, "Society to verify (default all)")

	replay := &cobra.Command{
		Use:   "replay <ledger-id>",
		Short: "Rebuild one ledger balance from its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledgerID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || ledgerID <= 0 {
				return fmt.Errorf("invalid ledger id %q", args[0])
			}
			ctx := cmd.Context()
			ledgers, cleanup, err := env.openLedgers(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			result, err := ledgers.ReplayLedger(ctx, ledgerID)
			if err != nil {
				return err
			}
			return writeJSON(cmd, result)
		},
	}

	cmd.AddCommand(verify, replay)
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
