package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"civicmatch/internal/match"
)

const redisKeyPrefix = "civicmatch:match:"

// Redis shares cached responses across processes and expires them after ttl.
// Metadata numbers come back as float64 after the JSON round trip.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(url string, ttl time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Redis{client: redis.NewClient(opt), ttl: ttl}, nil
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Get(ctx context.Context, key string) (match.Response, bool, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return match.Response{}, false, nil
	}
	if err != nil {
		return match.Response{}, false, err
	}
	var resp match.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return match.Response{}, false, err
	}
	return resp, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, resp match.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKeyPrefix+key, data, r.ttl).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
