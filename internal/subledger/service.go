package subledger

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/societyhub/societyhub/internal/shared"
	"github.com/societyhub/societyhub/internal/subledger/sequence"
)

// SystemActorID is the checker recorded for automatic approvals.
const SystemActorID int64 = 0

// AuditPort records engine actions. Failures never affect the caller.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ChargeFunc computes the base amount for bill heads using the Custom calculation type.
type ChargeFunc func(ctx context.Context, head BillHead, target BillTarget, period BillingPeriod) (float64, error)

// Config tunes service behaviour.
type Config struct {
	TrustedModes      []PaymentMode
	ScheduleWorkers   int
	ItemRetryAttempts int
}

// Service coordinates ledgers, bill heads, vouchers, bills and payments.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	numbers *sequence.Generator
	logger  *slog.Logger
	cache   *BalanceCache
	metrics *Metrics
	now     func() time.Time

	trusted         map[PaymentMode]bool
	scheduleWorkers int
	itemRetries     int

	chargesMu sync.RWMutex
	charges   map[string]ChargeFunc
}

// NewService constructs the subledger service.
func NewService(repo RepositoryPort, audit AuditPort, numbers *sequence.Generator, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if numbers == nil {
		numbers = sequence.NewGenerator(nil, sequence.Config{}, logger)
	}
	trusted := make(map[PaymentMode]bool)
	modes := cfg.TrustedModes
	if modes == nil {
		modes = []PaymentMode{ModeUPI, ModeCard, ModeNetBanking}
	}
	for _, m := range modes {
		trusted[m] = true
	}
	if cfg.ScheduleWorkers <= 0 {
		cfg.ScheduleWorkers = 4
	}
	if cfg.ItemRetryAttempts <= 0 {
		cfg.ItemRetryAttempts = 3
	}
	return &Service{
		repo:            repo,
		audit:           audit,
		numbers:         numbers,
		logger:          logger,
		now:             time.Now,
		trusted:         trusted,
		scheduleWorkers: cfg.ScheduleWorkers,
		itemRetries:     cfg.ItemRetryAttempts,
		charges:         make(map[string]ChargeFunc),
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithBalanceCache attaches the trial balance cache.
func (s *Service) WithBalanceCache(cache *BalanceCache) {
	s.cache = cache
}

// WithMetrics attaches Prometheus collectors.
func (s *Service) WithMetrics(metrics *Metrics) {
	s.metrics = metrics
	if metrics != nil {
		s.numbers.OnFallback(func(scope sequence.Scope) {
			metrics.SequenceFallback(scope.Kind)
		})
	}
}

// RegisterCharge makes fn available to Custom bill heads under name.
func (s *Service) RegisterCharge(name string, fn ChargeFunc) {
	if name == "" || fn == nil {
		return
	}
	s.chargesMu.Lock()
	defer s.chargesMu.Unlock()
	s.charges[name] = fn
}

func (s *Service) charge(name string) (ChargeFunc, bool) {
	s.chargesMu.RLock()
	defer s.chargesMu.RUnlock()
	fn, ok := s.charges[name]
	return fn, ok
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if log.At.IsZero() {
		log.At = s.now()
	}
	if log.Status == "" {
		log.Status = shared.AuditSuccess
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record failed",
			slog.String("action", log.Action),
			slog.String("entity", log.Entity),
			slog.Any("error", err),
		)
	}
}

func (s *Service) bumpBalances(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("balance cache bump failed", slog.Any("error", err))
	}
}

// withTx runs fn in a transaction. Number claims taken by an attempt that
// does not commit are released before the retry and after a final failure.
func (s *Service) withTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	held := &sequence.Held{}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		s.numbers.Release(ctx, held)
		return fn(sequence.WithHeld(ctx, held), tx)
	})
	if err != nil {
		s.numbers.Release(ctx, held)
		if errors.Is(err, ErrTransactionAborted) {
			s.logger.Error("transaction aborted", slog.Any("error", err))
		}
	}
	return err
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

func requireActor(actorID int64) error {
	if actorID <= 0 {
		return invalid("actor_id", "verified actor required")
	}
	return nil
}
