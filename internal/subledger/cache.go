package subledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	balanceVersionKey = "subledger:balances:version"
	balanceBumpTopic  = "subledger.bump"
)

// BalanceCache keeps versioned read models of ledger balances in Redis.
// Every posting bumps the version, orphaning older keys until they expire.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewBalanceCache instantiates the cache. A nil client disables caching.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &BalanceCache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *BalanceCache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, balanceVersionKey).Int64()
	if errors.Is(err, redis.Nil) || (err == nil && ver <= 0) {
		if err := c.client.SetNX(ctx, balanceVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, balanceVersionKey).Int64()
	}
	return ver, err
}

// BuildKey composes a cache key stamped with the current version.
func (c *BalanceCache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	joined := strings.Join(parts, ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", joined, ver), nil
}

// FetchJSON loads key into dest or populates it with loader. Concurrent
// misses on the same key share one loader call.
func (c *BalanceCache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		return decodeInto(ctx, loader, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}
	ch := c.group.DoChan(key, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}

// Bump invalidates cached balances and notifies other processes.
func (c *BalanceCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, balanceVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, balanceBumpTopic, strconv.FormatInt(ver, 10)).Err()
}

// ListenForInvalidation follows version bumps published by other processes
// until ctx is cancelled.
func (c *BalanceCache) ListenForInvalidation(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, balanceBumpTopic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ver, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					continue
				}
				current, err := c.client.Get(ctx, balanceVersionKey).Int64()
				if err == nil && current >= ver {
					continue
				}
				_ = c.client.Set(ctx, balanceVersionKey, ver, 0).Err()
			}
		}
	}()
	return nil
}

func decodeInto(ctx context.Context, loader func(context.Context) (any, error), dest any) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func keyTrialBalance(societyID int64) string {
	return strings.Join([]string{"subledger", "trial_balance", strconv.FormatInt(societyID, 10)}, ":")
}
