package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/societyhub/societyhub/internal/jobs"
	"github.com/societyhub/societyhub/internal/subledger"
)

// BillScheduler runs the bill schedules due today.
type BillScheduler interface {
	GenerateDue(ctx context.Context) ([]subledger.GenerationRun, error)
}

// GenerateDueJob drives scheduled bill generation.
type GenerateDueJob struct {
	Service BillScheduler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGenerateDueJob constructs the job handler.
func NewGenerateDueJob(service BillScheduler, logger *slog.Logger, metrics *jobmetrics.Metrics) *GenerateDueJob {
	return &GenerateDueJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes one generation pass. Schedules that already ran for the
// current period are skipped by the service.
func (j *GenerateDueJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("generate due: service not configured")
	}

	tracker := j.metrics().Track(TaskBillsGenerateDue)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	runs, err := j.Service.GenerateDue(ctx)

	created, failed := 0, 0
	for _, run := range runs {
		created += run.Created
		failed += run.Failed
		j.log().Info("schedule generated",
			slog.Int64("society_id", run.SocietyID),
			slog.Int64("bill_head_id", run.BillHeadID),
			slog.String("period", run.PeriodKey),
			slog.Int("created", run.Created),
			slog.Int("failed", run.Failed),
		)
	}
	j.metrics().AddScheduledBills(created, failed)

	if err != nil {
		resultErr = err
		j.log().Error("generate due", slog.Int("runs", len(runs)), slog.Any("error", err))
		return resultErr
	}
	j.log().Info("completed scheduled generation",
		slog.Int("runs", len(runs)),
		slog.Int("created", created),
		slog.Int("failed", failed),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *GenerateDueJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *GenerateDueJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskBillsGenerateDue))
	}
	return slog.Default().With(slog.String("job", TaskBillsGenerateDue))
}
