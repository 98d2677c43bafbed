package sequence

import (
	"context"
	"strconv"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	numbers map[string]struct{}
	taken   func(number string) bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{numbers: make(map[string]struct{})}
}

func (s *memoryStore) MaxSuffix(_ context.Context, _ Scope, pattern Pattern) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for n := range s.numbers {
		suffix, ok := strings.CutPrefix(n, pattern.Prefix)
		if !ok || len(suffix) != pattern.Width || strings.ContainsAny(suffix, "+-") {
			continue
		}
		v, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			continue
		}
		if v > max {
			max = v
		}
	}
	return max, nil
}

func (s *memoryStore) NumberExists(_ context.Context, _ Scope, number string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taken != nil && s.taken(number) {
		return true, nil
	}
	_, ok := s.numbers[number]
	return ok, nil
}

func (s *memoryStore) commit(number string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numbers[number] = struct{}{}
}

func newTestGenerator(claims Claimer) *Generator {
	g := NewGenerator(claims, Config{}, nil)
	g.sleep = func(context.Context, time.Duration) error { return nil }
	return g
}

func TestNextFormatsPatterns(t *testing.T) {
	store := newMemoryStore()
	g := newTestGenerator(nil)
	scope := Scope{SocietyID: 1, Kind: KindVoucher}

	first, err := g.Next(context.Background(), store, scope, Pattern{Prefix: "JV/MAINT/20240101/", Width: 4})
	require.NoError(t, err)
	require.Equal(t, "JV/MAINT/20240101/0001", first)
	store.commit(first)

	second, err := g.Next(context.Background(), store, scope, Pattern{Prefix: "JV/MAINT/20240101/", Width: 4})
	require.NoError(t, err)
	require.Equal(t, "JV/MAINT/20240101/0002", second)

	bill, err := g.Next(context.Background(), store, Scope{SocietyID: 1, Kind: KindBill}, Pattern{Prefix: "MAINT", Width: 6})
	require.NoError(t, err)
	require.Equal(t, "MAINT000001", bill)
}

func TestNextSkipsClaimedNumbers(t *testing.T) {
	store := newMemoryStore()
	g := newTestGenerator(NewMemoryClaims(time.Minute))
	scope := Scope{SocietyID: 1, Kind: KindBill}
	pattern := Pattern{Prefix: "WTR", Width: 6}

	a, err := g.Next(context.Background(), store, scope, pattern)
	require.NoError(t, err)
	b, err := g.Next(context.Background(), store, scope, pattern)
	require.NoError(t, err)

	require.Equal(t, "WTR000001", a)
	require.Equal(t, "WTR000002", b)
}

func TestNextConcurrentWritersNeverShareNumbers(t *testing.T) {
	store := newMemoryStore()
	g := newTestGenerator(NewMemoryClaims(time.Minute))
	scope := Scope{SocietyID: 7, Kind: KindVoucher}
	pattern := Pattern{Prefix: "JV/CLUB/20240301/", Width: 4}

	const writers = 16
	const perWriter = 20
	results := make(chan string, writers*perWriter)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				n, err := g.Next(context.Background(), store, scope, pattern)
				if err != nil {
					t.Error(err)
					return
				}
				if i%2 == 0 {
					store.commit(n)
				}
				results <- n
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]struct{})
	for n := range results {
		_, dup := seen[n]
		require.False(t, dup, "duplicate number %s", n)
		seen[n] = struct{}{}
	}
	require.Len(t, seen, writers*perWriter)
}

func TestNextFallsBackAfterBound(t *testing.T) {
	store := newMemoryStore()
	store.taken = func(number string) bool { return !strings.Contains(number, "T") }
	g := newTestGenerator(nil)
	g.WithNow(func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC) })
	var fallbacks int
	g.OnFallback(func(Scope) { fallbacks++ })

	n, err := g.Next(context.Background(), store, Scope{SocietyID: 1, Kind: KindVoucher}, Pattern{Prefix: "RCP/2405/", Width: 4})
	require.NoError(t, err)
	require.Equal(t, "RCP/2405/T20240506070809123456", n)
	require.Equal(t, 1, fallbacks)
}

func TestNextHonoursCancellation(t *testing.T) {
	store := newMemoryStore()
	store.taken = func(string) bool { return true }
	g := NewGenerator(nil, Config{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: time.Second}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Next(ctx, store, Scope{SocietyID: 1, Kind: KindBill}, Pattern{Prefix: "X", Width: 6})
	require.ErrorIs(t, err, context.Canceled)
}

func TestBackoffIsBounded(t *testing.T) {
	g := NewGenerator(nil, Config{MaxAttempts: 12, BaseDelay: 5 * time.Millisecond, MaxDelay: 40 * time.Millisecond}, nil)
	for attempt := 1; attempt < 12; attempt++ {
		d := g.backoff(attempt)
		require.LessOrEqual(t, d, 40*time.Millisecond)
		require.Greater(t, d, time.Duration(0))
	}
}

func TestRedisClaims(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	claims := NewRedisClaims(client, time.Minute)
	scope := Scope{SocietyID: 3, Kind: KindBill}

	ok, err := claims.Claim(context.Background(), scope, "GYM000001")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = claims.Claim(context.Background(), scope, "GYM000001")
	require.NoError(t, err)
	require.False(t, ok)

	require.True(t, mr.Exists("seq:claim:bill:3:GYM000001"))
	require.NoError(t, claims.Release(context.Background(), scope, "GYM000001"))
	require.False(t, mr.Exists("seq:claim:bill:3:GYM000001"))

	ok, err = claims.Claim(context.Background(), scope, "GYM000001")
	require.NoError(t, err)
	require.True(t, ok)
	mr.FastForward(2 * time.Minute)

	ok, err = claims.Claim(context.Background(), scope, "GYM000001")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryClaimsExpire(t *testing.T) {
	claims := NewMemoryClaims(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	claims.now = func() time.Time { return now }
	scope := Scope{SocietyID: 1, Kind: KindVoucher}

	ok, _ := claims.Claim(context.Background(), scope, "A")
	require.True(t, ok)
	ok, _ = claims.Claim(context.Background(), scope, "A")
	require.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = claims.Claim(context.Background(), scope, "A")
	require.True(t, ok)
}

func TestNextDegradesWhenClaimsUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer func() { _ = client.Close() }()
	mr.Close()

	store := newMemoryStore()
	g := newTestGenerator(NewRedisClaims(client, 30*time.Second))
	held := &Held{}
	ctx := WithHeld(context.Background(), held)
	scope := Scope{SocietyID: 1, Kind: KindBill}
	pattern := Pattern{Prefix: "MAINT", Width: 6}

	first, err := g.Next(ctx, store, scope, pattern)
	require.NoError(t, err)
	require.Equal(t, "MAINT000001", first)
	store.commit(first)

	second, err := g.Next(ctx, store, scope, pattern)
	require.NoError(t, err)
	require.Equal(t, "MAINT000002", second)
	require.Zero(t, held.Len())
}

func TestNextScansPastStaleClaims(t *testing.T) {
	ctx := context.Background()
	claims := NewMemoryClaims(30 * time.Second)
	scope := Scope{SocietyID: 1, Kind: KindBill}
	pattern := Pattern{Prefix: "MAINT", Width: 6}
	for i := int64(1); i <= 15; i++ {
		ok, err := claims.Claim(ctx, scope, pattern.Format(i))
		require.NoError(t, err)
		require.True(t, ok)
	}
	g := newTestGenerator(claims)
	var fallbacks int
	g.OnFallback(func(Scope) { fallbacks++ })

	n, err := g.Next(ctx, newMemoryStore(), scope, pattern)
	require.NoError(t, err)
	require.Equal(t, "MAINT000016", n)
	require.Zero(t, fallbacks)
}

func TestNextIgnoresLongerPrefixes(t *testing.T) {
	store := newMemoryStore()
	store.commit("MAINT1000001")
	store.commit("MAINT1000002")
	g := newTestGenerator(nil)

	n, err := g.Next(context.Background(), store, Scope{SocietyID: 1, Kind: KindBill}, Pattern{Prefix: "MAINT", Width: 6})
	require.NoError(t, err)
	require.Equal(t, "MAINT000001", n)
}

func TestReleaseReturnsRolledBackNumbers(t *testing.T) {
	store := newMemoryStore()
	g := newTestGenerator(NewMemoryClaims(30 * time.Second))
	scope := Scope{SocietyID: 2, Kind: KindVoucher}
	pattern := Pattern{Prefix: "RCP/2405/", Width: 4}
	held := &Held{}
	ctx := WithHeld(context.Background(), held)

	a, err := g.Next(ctx, store, scope, pattern)
	require.NoError(t, err)
	b, err := g.Next(ctx, store, scope, pattern)
	require.NoError(t, err)
	require.Equal(t, []string{"RCP/2405/0001", "RCP/2405/0002"}, []string{a, b})
	require.Equal(t, 2, held.Len())

	g.Release(ctx, held)
	require.Zero(t, held.Len())

	again, err := g.Next(context.Background(), store, scope, pattern)
	require.NoError(t, err)
	require.Equal(t, "RCP/2405/0001", again)
}

func TestHeldAdopt(t *testing.T) {
	scope := Scope{SocietyID: 1, Kind: KindBill}
	parent, child := &Held{}, &Held{}
	child.add(scope, "A000001")
	child.add(scope, "A000002")

	parent.Adopt(child)
	require.Equal(t, 2, parent.Len())
	require.Zero(t, child.Len())

	var detached *Held
	detached.Adopt(parent)
	require.Equal(t, 2, parent.Len())
	require.Nil(t, HeldFrom(context.Background()))
}

func TestNextInterleavedWritersWithUncommittedNumbers(t *testing.T) {
	store := newMemoryStore()
	g := newTestGenerator(NewMemoryClaims(30 * time.Second))
	var fallbacks int
	g.OnFallback(func(Scope) { fallbacks++ })
	scope := Scope{SocietyID: 7, Kind: KindVoucher}
	pattern := Pattern{Prefix: "JV/CLUB/20240301/", Width: 4}
	heldA, heldB := &Held{}, &Held{}
	ctxA, ctxB := WithHeld(context.Background(), heldA), WithHeld(context.Background(), heldB)

	a1, err := g.Next(ctxA, store, scope, pattern)
	require.NoError(t, err)
	b1, err := g.Next(ctxB, store, scope, pattern)
	require.NoError(t, err)
	a2, err := g.Next(ctxA, store, scope, pattern)
	require.NoError(t, err)
	require.Equal(t, []string{"JV/CLUB/20240301/0001", "JV/CLUB/20240301/0002", "JV/CLUB/20240301/0003"}, []string{a1, b1, a2})

	store.commit(b1)
	g.Release(ctxA, heldA)

	c, err := g.Next(context.Background(), store, scope, pattern)
	require.NoError(t, err)
	require.Equal(t, "JV/CLUB/20240301/0003", c)
	require.Zero(t, fallbacks)
}

func TestNextUnderLoadWithRollbacks(t *testing.T) {
	store := newMemoryStore()
	g := newTestGenerator(NewMemoryClaims(30 * time.Second))
	var fallbacks atomic.Int32
	g.OnFallback(func(Scope) { fallbacks.Add(1) })
	scope := Scope{SocietyID: 9, Kind: KindBill}
	pattern := Pattern{Prefix: "WTR", Width: 6}

	const writers, perWriter = 8, 25
	committed := make(chan string, writers*perWriter)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				held := &Held{}
				ctx := WithHeld(context.Background(), held)
				n, err := g.Next(ctx, store, scope, pattern)
				if err != nil {
					t.Error(err)
					return
				}
				runtime.Gosched()
				if (w+i)%3 == 0 {
					g.Release(ctx, held)
					continue
				}
				store.commit(n)
				committed <- n
			}
		}()
	}
	wg.Wait()
	close(committed)

	seen := make(map[string]struct{})
	for n := range committed {
		_, dup := seen[n]
		require.False(t, dup, "duplicate number %s", n)
		require.Len(t, n, len("WTR000000"))
		seen[n] = struct{}{}
	}
	require.NotEmpty(t, seen)
	require.Zero(t, fallbacks.Load())
}
