// Package invite delivers invitation notifications to client emails that have
// no account yet.
package invite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger remembers which addresses were recently invited so repeated
// channel creation for the same address sends one email per TTL window.
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLedger connects to redisURL and verifies the connection.
func NewRedisLedger(redisURL string, ttl time.Duration) (*RedisLedger, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisLedgerWithClient(client, ttl), nil
}

// NewRedisLedgerWithClient builds a ledger from an existing client.
func NewRedisLedgerWithClient(client *redis.Client, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisLedger{client: client, prefix: "invite:", ttl: ttl}
}

func (l *RedisLedger) key(email string) string {
	return l.prefix + strings.ToLower(strings.TrimSpace(email))
}

// Claim returns true when the caller is the first to invite email within the
// TTL window and should send the notification.
func (l *RedisLedger) Claim(ctx context.Context, email string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(email), time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim invitation: %w", err)
	}
	return ok, nil
}

// Release forgets a claim so the next attempt sends again.
func (l *RedisLedger) Release(ctx context.Context, email string) error {
	if err := l.client.Del(ctx, l.key(email)).Err(); err != nil {
		return fmt.Errorf("release invitation: %w", err)
	}
	return nil
}

func (l *RedisLedger) Close() error {
	return l.client.Close()
}

func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
