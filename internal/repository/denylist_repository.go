package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DenylistRepository tracks revoked access-token ids in Redis until their
// natural expiry. Entries self-evict via TTL, so the set stays bounded by
// the access-token lifetime.
type DenylistRepository struct {
	client *redis.Client
}

// NewDenylistRepository creates a new instance of DenylistRepository.
func NewDenylistRepository(client *redis.Client) *DenylistRepository {
	return &DenylistRepository{client: client}
}

func denylistKey(jti string) string {
	return "authgate:denylist:" + jti
}

// Add denylists a token id for ttl. A non-positive ttl means the token is
// already expired and there is nothing to record.
func (r *DenylistRepository) Add(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, denylistKey(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("denylist add: %w", err)
	}
	return nil
}

// Contains reports whether a token id has been denylisted.
func (r *DenylistRepository) Contains(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, denylistKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("denylist lookup: %w", err)
	}
	return n > 0, nil
}
