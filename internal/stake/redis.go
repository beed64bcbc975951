package stake

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

const (
	DefaultRedisWeightsKey = "stake:weights"
	DefaultRedisTotalKey   = "stake:total"
)

// redisReader is the subset of *redis.Client the directory needs.
type redisReader interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HVals(ctx context.Context, key string) *redis.StringSliceCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Redis reads weights from a hash (authority -> weight). The total comes from
// a plain key when set, otherwise from the sum of the hash.
type Redis struct {
	client     redisReader
	weightsKey string
	totalKey   string
}

var _ Directory = (*Redis)(nil)

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	WeightsKey string
	TotalKey   string
}

// NewRedis connects a directory to a Redis server.
func NewRedis(opts RedisOptions) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return newRedis(client, opts.WeightsKey, opts.TotalKey)
}

func newRedis(client redisReader, weightsKey, totalKey string) *Redis {
	if weightsKey == "" {
		weightsKey = DefaultRedisWeightsKey
	}
	if totalKey == "" {
		totalKey = DefaultRedisTotalKey
	}
	return &Redis{client: client, weightsKey: weightsKey, totalKey: totalKey}
}

func (r *Redis) Weight(ctx context.Context, authority string) (float64, bool, error) {
	w, err := r.client.HGet(ctx, r.weightsKey, authority).Float64()
	if stderrors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis weight of %s: %w", authority, err)
	}
	return w, true, nil
}

func (r *Redis) TotalWeight(ctx context.Context) (float64, error) {
	total, err := r.client.Get(ctx, r.totalKey).Float64()
	if err == nil {
		return total, nil
	}
	if !stderrors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("redis total weight: %w", err)
	}

	values, err := r.client.HVals(ctx, r.weightsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis weights: %w", err)
	}
	var sum float64
	for _, v := range values {
		w, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("redis weights: parse %q: %w", v, err)
		}
		sum += w
	}
	return sum, nil
}

// Close releases the underlying client when it owns one.
func (r *Redis) Close() error {
	if c, ok := r.client.(*redis.Client); ok {
		return c.Close()
	}
	return nil
}
