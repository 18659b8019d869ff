// Package cache provides the Redis-backed report cache.
//
// Every rendered report is stored under its report key and the key is added
// to a per-period index set, so one period can be invalidated without
// scanning the keyspace. A per-period generation counter is bumped on every
// invalidation and embedded in report keys by the aggregator.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/report"
)

const (
	indexPrefix      = "report-index:"
	generationPrefix = "report-gen:"
)

// Redis implements report.Cache.
type Redis struct {
	client redis.UniversalClient
}

var _ report.Cache = (*Redis)(nil)

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// Connect opens a client and verifies it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return client, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set stores the value and indexes its key under p. The index outlives
// its entries by one TTL so a late invalidation still finds them.
func (r *Redis) Set(ctx context.Context, p ledger.Period, key string, value []byte, ttl time.Duration) error {
	index := indexKey(p)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, value, ttl)
		pipe.SAdd(ctx, index, key)
		pipe.Expire(ctx, index, 2*ttl)
		return nil
	})
	return err
}

func (r *Redis) Generation(ctx context.Context, p ledger.Period) (int64, error) {
	n, err := r.client.Get(ctx, generationKey(p)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// InvalidatePeriod bumps the generation before deleting, so a reader that
// computes concurrently writes to a key that is already retired.
func (r *Redis) InvalidatePeriod(ctx context.Context, p ledger.Period) error {
	if err := r.client.Incr(ctx, generationKey(p)).Err(); err != nil {
		return err
	}
	index := indexKey(p)
	keys, err := r.client.SMembers(ctx, index).Result()
	if err != nil {
		return err
	}
	return r.client.Del(ctx, append(keys, index)...).Err()
}

func indexKey(p ledger.Period) string {
	return indexPrefix + p.String()
}

func generationKey(p ledger.Period) string {
	return generationPrefix + p.String()
}
