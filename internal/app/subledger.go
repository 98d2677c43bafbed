package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/societyhub/societyhub/internal/shared"
	"github.com/societyhub/societyhub/internal/subledger"
	"github.com/societyhub/societyhub/internal/subledger/sequence"
)

// Subledger bundles the engine with the resources that must be released on
// shutdown.
type Subledger struct {
	Service *subledger.Service
	Cache   *subledger.BalanceCache
	Auditor *shared.AsyncAuditor
}

// NewSubledger wires the subledger service against Postgres and Redis.
// Audit records are written asynchronously; call Close to drain them.
func NewSubledger(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, registerer prometheus.Registerer, logger *slog.Logger) *Subledger {
	billing := cfg.Billing
	auditor := shared.NewAsyncAuditor(shared.NewAuditLogger(pool), logger, billing.AuditQueueSize)

	var claims sequence.Claimer
	if redisClient != nil {
		claims = sequence.NewRedisClaims(redisClient, billing.SequenceClaimTTL)
	}
	numbers := sequence.NewGenerator(claims, sequence.Config{MaxAttempts: billing.SequenceAttempts}, logger)

	svc := subledger.NewService(subledger.NewRepository(pool), auditor, numbers, logger, billing.ServiceConfig())
	var cache *subledger.BalanceCache
	if redisClient != nil {
		cache = subledger.NewBalanceCache(redisClient, billing.BalanceCacheTTL)
		svc.WithBalanceCache(cache)
	}
	if registerer != nil {
		svc.WithMetrics(subledger.NewMetrics(registerer))
	}
	return &Subledger{Service: svc, Cache: cache, Auditor: auditor}
}

// Close drains pending audit records.
func (s *Subledger) Close() {
	if s == nil {
		return
	}
	s.Auditor.Close()
}
