package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit statuses.
const (
	AuditSuccess = "success"
	AuditFailure = "failure"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Status   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditSink accepts audit records.
type AuditSink interface {
	Record(ctx context.Context, log AuditLog) error
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if err := validateAuditLog(log); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, status, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`, log.ActorID, log.Action, log.Status, log.Entity, log.EntityID, metaJSON, at)
	return err
}

func validateAuditLog(log AuditLog) error {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	return nil
}

// ErrAuditQueueFull reports a dropped record.
var ErrAuditQueueFull = errors.New("audit queue full")

// AsyncAuditor forwards records to a sink from a background goroutine so
// callers never wait on the sink.
type AsyncAuditor struct {
	sink    AuditSink
	logger  *slog.Logger
	queue   chan AuditLog
	timeout time.Duration
	wg      sync.WaitGroup
	once    sync.Once
}

// NewAsyncAuditor starts a dispatcher with a queue of the given size.
func NewAsyncAuditor(sink AuditSink, logger *slog.Logger, size int) *AsyncAuditor {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &AsyncAuditor{
		sink:    sink,
		logger:  logger,
		queue:   make(chan AuditLog, size),
		timeout: 5 * time.Second,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Record enqueues log without blocking. A full queue drops the record.
func (a *AsyncAuditor) Record(_ context.Context, log AuditLog) error {
	if a == nil {
		return errors.New("audit dispatcher not initialised")
	}
	if err := validateAuditLog(log); err != nil {
		return err
	}
	if log.At.IsZero() {
		log.At = time.Now()
	}
	select {
	case a.queue <- log:
		return nil
	default:
		a.logger.Warn("audit queue full, dropping record", slog.String("action", log.Action), slog.String("entity", log.Entity))
		return ErrAuditQueueFull
	}
}

// Close drains queued records and stops the dispatcher.
func (a *AsyncAuditor) Close() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		close(a.queue)
	})
	a.wg.Wait()
}

func (a *AsyncAuditor) run() {
	defer a.wg.Done()
	for log := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.sink.Record(ctx, log); err != nil {
			a.logger.Warn("audit sink failed",
				slog.String("action", log.Action),
				slog.String("entity", log.Entity),
				slog.String("entity_id", log.EntityID),
				slog.Any("error", err),
			)
		}
		cancel()
	}
}
