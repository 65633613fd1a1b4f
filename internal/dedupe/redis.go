package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSet is the optional distributed alternative to Set, for deployments
// running more than one T3 instance against the same machine where an
// in-process set can't see across processes.
type RedisSet struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSet connects to url (a redis:// connection string) eagerly,
// pinging once so a bad URL fails at startup rather than on first use.
func NewRedisSet(url string, ttl time.Duration) (*RedisSet, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("dedupe: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("dedupe: ping redis: %w", err)
	}

	return &RedisSet{client: client, ttl: ttl}, nil
}

// SeenOrMark reports whether id was already marked within ttl, marking it
// via SETNX so the check-and-set is atomic across instances.
func (r *RedisSet) SeenOrMark(ctx context.Context, id string) (bool, error) {
	key := "dedupe:" + id
	ok, err := r.client.SetNX(ctx, key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe: setnx: %w", err)
	}
	return !ok, nil
}

// Close releases the underlying connection.
func (r *RedisSet) Close() error {
	return r.client.Close()
}
