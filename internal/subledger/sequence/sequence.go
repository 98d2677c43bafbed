// Package sequence issues human-readable document numbers that stay unique
// while many writers generate bills and vouchers at the same time.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"
)

// Kinds of numbered documents.
const (
	KindBill    = "bill"
	KindVoucher = "voucher"
)

const (
	// DefaultMaxAttempts bounds the collision retry loop.
	DefaultMaxAttempts = 12
	// MinAttempts is the lowest accepted retry bound.
	MinAttempts = 10

	defaultBaseDelay = 5 * time.Millisecond
	defaultMaxDelay  = 200 * time.Millisecond
	fallbackAttempts = 100
	// scanWindow is how far past the committed maximum one attempt looks
	// for an unclaimed number.
	scanWindow = 64
)

// ErrCollision reports that a proposed number is already taken.
var ErrCollision = errors.New("sequence: number collision")

// Scope identifies an independent numbering space.
type Scope struct {
	SocietyID int64
	Kind      string
}

func (s Scope) String() string {
	return s.Kind + ":" + strconv.FormatInt(s.SocietyID, 10)
}

// Store exposes the persisted numbers visible to the caller's transaction.
// MaxSuffix only considers numbers whose suffix is exactly pattern.Width digits.
type Store interface {
	MaxSuffix(ctx context.Context, scope Scope, pattern Pattern) (int64, error)
	NumberExists(ctx context.Context, scope Scope, number string) (bool, error)
}

// Claimer reserves a number so concurrent transactions that have not
// committed yet do not propose it again.
type Claimer interface {
	Claim(ctx context.Context, scope Scope, number string) (bool, error)
	Release(ctx context.Context, scope Scope, number string) error
}

// Pattern describes how numbers are rendered.
type Pattern struct {
	Prefix string
	Width  int
}

// Format renders seq under the pattern.
func (p Pattern) Format(seq int64) string {
	return fmt.Sprintf("%s%0*d", p.Prefix, p.Width, seq)
}

// Config tunes the retry loop.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Generator issues numbers using a bounded retry loop with exponential
// backoff, falling back to a timestamped number once the bound is reached.
type Generator struct {
	claims      Claimer
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
	onFallback  func(Scope)
}

// NewGenerator constructs a Generator. A nil claimer uses an in-process registry.
func NewGenerator(claims Claimer, cfg Config, logger *slog.Logger) *Generator {
	if claims == nil {
		claims = NewMemoryClaims(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts < MinAttempts {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = defaultMaxDelay
	}
	return &Generator{
		claims:      claims,
		logger:      logger,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// WithNow overrides the clock used for fallback numbers.
func (g *Generator) WithNow(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

// OnFallback registers a hook invoked whenever the fallback path is taken.
func (g *Generator) OnFallback(fn func(Scope)) {
	g.onFallback = fn
}

// Next returns the next free number for pattern within scope. Collisions are
// retried internally; only store failures and cancellation surface as errors.
// Numbers claimed under a context carrying a Held are recorded there.
func (g *Generator) Next(ctx context.Context, store Store, scope Scope, pattern Pattern) (string, error) {
	if store == nil {
		return "", errors.New("sequence: store required")
	}
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, g.backoff(attempt)); err != nil {
				return "", err
			}
		}
		current, err := store.MaxSuffix(ctx, scope, pattern)
		if err != nil {
			return "", fmt.Errorf("sequence: read max suffix: %w", err)
		}
		for seq := current + 1; seq <= current+scanWindow; seq++ {
			candidate := pattern.Format(seq)
			err = g.reserve(ctx, store, scope, candidate)
			if err == nil {
				return candidate, nil
			}
			if !errors.Is(err, ErrCollision) {
				return "", err
			}
		}
	}
	return g.fallback(ctx, store, scope, pattern)
}

// Release drops every claim recorded in held. Failures are logged; an
// unreleased claim only expires later.
func (g *Generator) Release(ctx context.Context, held *Held) {
	ctx = context.WithoutCancel(ctx)
	for _, c := range held.take() {
		if err := g.claims.Release(ctx, c.scope, c.number); err != nil {
			g.logger.Warn("release number claim",
				slog.String("scope", c.scope.String()),
				slog.String("number", c.number),
				slog.Any("error", err),
			)
		}
	}
}

// reserve claims number unless it is committed or claimed by another writer.
// An unreachable claimer degrades to the store's unique index.
func (g *Generator) reserve(ctx context.Context, store Store, scope Scope, number string) error {
	exists, err := store.NumberExists(ctx, scope, number)
	if err != nil {
		return fmt.Errorf("sequence: check number: %w", err)
	}
	if exists {
		return ErrCollision
	}
	ok, err := g.claims.Claim(ctx, scope, number)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		g.logger.Warn("number claim unavailable, relying on unique index",
			slog.String("scope", scope.String()),
			slog.String("number", number),
			slog.Any("error", err),
		)
		return nil
	}
	if !ok {
		return ErrCollision
	}
	HeldFrom(ctx).add(scope, number)
	return nil
}

func (g *Generator) fallback(ctx context.Context, store Store, scope Scope, pattern Pattern) (string, error) {
	at := g.now().UTC()
	base := pattern.Prefix + "T" + at.Format("20060102150405")
	micros := int64(at.Nanosecond() / 1000)
	g.logger.Warn("sequence retries exhausted, using fallback number",
		slog.String("scope", scope.String()),
		slog.String("prefix", pattern.Prefix),
		slog.Int("attempts", g.maxAttempts),
	)
	if g.onFallback != nil {
		g.onFallback(scope)
	}
	for i := int64(0); i < fallbackAttempts; i++ {
		candidate := fmt.Sprintf("%s%06d", base, (micros+i)%1000000)
		err := g.reserve(ctx, store, scope, candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, ErrCollision) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: fallback space exhausted for %s", ErrCollision, pattern.Prefix)
}

func (g *Generator) backoff(attempt int) time.Duration {
	d := g.baseDelay << (attempt - 1)
	if d <= 0 || d > g.maxDelay {
		d = g.maxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(d)/2 + 1))
	return d/2 + jitter
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
