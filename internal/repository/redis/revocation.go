package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/altenburg/erp-identity/pkg/database"
	apperrors "github.com/altenburg/erp-identity/pkg/errors"
)

const keyPrefix = "identity:revoked:"

// RevocationStore implements repository.RevocationStore using Redis keys
// that expire together with the token they deny.
type RevocationStore struct {
	client *redis.Client
}

// NewRevocationStore creates a new Redis-backed revocation store.
func NewRevocationStore(client *redis.Client) *RevocationStore {
	return &RevocationStore{client: client}
}

// Revoke records tokenID with SET NX. It returns false if the id was
// already present.
func (s *RevocationStore) Revoke(ctx context.Context, tokenID string, ttl time.Duration) (ok bool, err error) {
	ctx, end := database.Trace(ctx, database.SystemRedis, "RevokeToken", "SET NX")
	defer func() { end(err) }()

	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err = s.client.SetNX(ctx, keyPrefix+tokenID, 1, ttl).Result()
	if err != nil {
		return false, apperrors.StoreUnavailable("redis revoke token", err)
	}
	return ok, nil
}

// Ping checks connectivity for readiness probes.
func (s *RevocationStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
