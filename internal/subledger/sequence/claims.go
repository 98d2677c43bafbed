package sequence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultClaimTTL = 10 * time.Minute

// MemoryClaims is a process-wide claim registry.
type MemoryClaims struct {
	mu     sync.Mutex
	ttl    time.Duration
	claims map[string]time.Time
	now    func() time.Time
}

// NewMemoryClaims constructs a registry whose claims expire after ttl.
func NewMemoryClaims(ttl time.Duration) *MemoryClaims {
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	return &MemoryClaims{ttl: ttl, claims: make(map[string]time.Time), now: time.Now}
}

// Claim reserves number within scope, reporting false when already held.
func (m *MemoryClaims) Claim(_ context.Context, scope Scope, number string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	key := scope.String() + ":" + number
	if exp, ok := m.claims[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.claims[key] = now.Add(m.ttl)
	if len(m.claims) > 4096 {
		for k, exp := range m.claims {
			if !now.Before(exp) {
				delete(m.claims, k)
			}
		}
	}
	return true, nil
}

// Release drops a claim.
func (m *MemoryClaims) Release(_ context.Context, scope Scope, number string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, scope.String()+":"+number)
	return nil
}

// RedisClaims shares claims between processes through SETNX keys.
type RedisClaims struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClaims constructs a Redis-backed registry.
func NewRedisClaims(client *redis.Client, ttl time.Duration) *RedisClaims {
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	return &RedisClaims{client: client, ttl: ttl}
}

// Claim reserves number within scope, reporting false when already held.
func (r *RedisClaims) Claim(ctx context.Context, scope Scope, number string) (bool, error) {
	if r == nil || r.client == nil {
		return false, errors.New("sequence: redis claims not configured")
	}
	return r.client.SetNX(ctx, claimKey(scope, number), 1, r.ttl).Result()
}

// Release drops a claim.
func (r *RedisClaims) Release(ctx context.Context, scope Scope, number string) error {
	if r == nil || r.client == nil {
		return errors.New("sequence: redis claims not configured")
	}
	return r.client.Del(ctx, claimKey(scope, number)).Err()
}

func claimKey(scope Scope, number string) string {
	return "seq:claim:" + scope.String() + ":" + number
}

type heldClaim struct {
	scope  Scope
	number string
}

// Held collects the claims taken by one unit of work so they can be released
// when that unit rolls back. A nil *Held ignores every call.
type Held struct {
	mu     sync.Mutex
	claims []heldClaim
}

type heldKey struct{}

// WithHeld returns a context whose claims are recorded in h.
func WithHeld(ctx context.Context, h *Held) context.Context {
	return context.WithValue(ctx, heldKey{}, h)
}

// HeldFrom returns the Held carried by ctx, or nil.
func HeldFrom(ctx context.Context) *Held {
	h, _ := ctx.Value(heldKey{}).(*Held)
	return h
}

// Adopt moves child's claims into h, typically once a savepoint has succeeded
// and its numbers now live or die with the enclosing transaction.
func (h *Held) Adopt(child *Held) {
	if h == nil || child == nil || h == child {
		return
	}
	claims := child.take()
	h.mu.Lock()
	h.claims = append(h.claims, claims...)
	h.mu.Unlock()
}

// Len reports how many claims are held.
func (h *Held) Len() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.claims)
}

func (h *Held) add(scope Scope, number string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.claims = append(h.claims, heldClaim{scope: scope, number: number})
	h.mu.Unlock()
}

func (h *Held) take() []heldClaim {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.claims
	h.claims = nil
	return out
}
