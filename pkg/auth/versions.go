package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const versionKeyPrefix = "tenantguard:authz:version:"

// RedisVersions keeps the shared cache versions in Redis. Keys never
// expire: a key that vanished would reset to zero and could match an entry
// still cached under zero.
type RedisVersions struct {
	client *redis.Client
}

// NewRedisVersions creates a version store on client
func NewRedisVersions(client *redis.Client) *RedisVersions {
	return &RedisVersions{client: client}
}

// Current implements Versions. A user that was never invalidated is at 0.
func (v *RedisVersions) Current(ctx context.Context, userID string) (int64, error) {
	n, err := v.client.Get(ctx, versionKeyPrefix+userID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cache version: %w", err)
	}
	return n, nil
}

// Bump implements Versions
func (v *RedisVersions) Bump(ctx context.Context, userID string) error {
	if err := v.client.Incr(ctx, versionKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to bump cache version: %w", err)
	}
	return nil
}
