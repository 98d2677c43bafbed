package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/societyhub/societyhub/internal/jobs"
	"github.com/societyhub/societyhub/internal/subledger"
)

// LedgerVerifier replays ledgers and reports the ones whose stored balance
// no longer matches their entries.
type LedgerVerifier interface {
	SocietyIDs(ctx context.Context) ([]int64, error)
	VerifyLedgers(ctx context.Context, societyID int64) (subledger.IntegrityReport, error)
}

// LedgerIntegrityJob checks stored balances against replayed entries.
type LedgerIntegrityJob struct {
	Service LedgerVerifier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerIntegrityJob constructs the job handler.
func NewLedgerIntegrityJob(service LedgerVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle verifies every requested society. A failing society does not stop
// the others; all failures are returned together.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("ledger integrity: service not configured")
	}
	var payload LedgerIntegrityPayload
	if body := task.Payload(); len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("ledger integrity: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	tracker := j.metrics().Track(TaskLedgerIntegrity)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	societies, err := j.societies(ctx, payload.SocietyID)
	if err != nil {
		resultErr = err
		j.log().Error("list societies", slog.Any("error", err))
		return resultErr
	}

	start := time.Now()
	checked, drifted := 0, 0
	var errs []error
	for _, societyID := range societies {
		report, err := j.Service.VerifyLedgers(ctx, societyID)
		if err != nil {
			j.log().Error("verify ledgers", slog.Int64("society_id", societyID), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("society %d: %w", societyID, err))
			continue
		}
		checked += report.Checked
		drifted += len(report.Drifted)
		j.metrics().SetDriftedLedgers(societyID, len(report.Drifted))
		for _, d := range report.Drifted {
			j.log().Warn("ledger balance drift",
				slog.Int64("society_id", societyID),
				slog.Int64("ledger_id", d.LedgerID),
				slog.String("code", d.Code),
				slog.Float64("stored", d.Stored),
				slog.Float64("replayed", d.Replayed),
				slog.Float64("drift", d.Drift),
			)
		}
	}

	j.log().Info("completed ledger integrity check",
		slog.Int("societies", len(societies)),
		slog.Int("ledgers", checked),
		slog.Int("drifted", drifted),
		slog.Duration("duration", time.Since(start)),
	)
	resultErr = errors.Join(errs...)
	return resultErr
}

func (j *LedgerIntegrityJob) societies(ctx context.Context, societyID int64) ([]int64, error) {
	if societyID > 0 {
		return []int64{societyID}, nil
	}
	return j.Service.SocietyIDs(ctx)
}

func (j *LedgerIntegrityJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LedgerIntegrityJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}
