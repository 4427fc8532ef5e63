package consentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConsentStore is the cloud ConsentStore realization. Records are
// stored as JSON blobs keyed by the same (orgIdHash, repoId, scope) triple
// used for the in-process cache key, so invalidation logic lines up.
type RedisConsentStore struct {
	client *redis.Client
	prefix string
}

// NewRedisConsentStore returns a ConsentStore backed by addr/db.
func NewRedisConsentStore(addr string, db int, table string) *RedisConsentStore {
	return &RedisConsentStore{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		prefix: table + ":consent:",
	}
}

func (s *RedisConsentStore) Grant(ctx context.Context, rec ConsentRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("consentstore: marshal: %w", err)
	}
	key := s.prefix + cacheKey(rec.OrgIDHash, rec.RepoID, rec.Scope)
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("consentstore: redis set: %w", err)
	}
	return nil
}

func (s *RedisConsentStore) Revoke(ctx context.Context, orgIDHash, repoID, scope string) error {
	key := s.prefix + cacheKey(orgIDHash, repoID, scope)
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("consentstore: redis get: %w", err)
	}
	var rec ConsentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("consentstore: unmarshal: %w", err)
	}
	rec.Revoked = true
	return s.Grant(ctx, rec)
}

func (s *RedisConsentStore) Check(ctx context.Context, orgIDHash, repoID, scope string) (bool, error) {
	key := s.prefix + cacheKey(orgIDHash, repoID, scope)
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consentstore: redis get: %w", err)
	}
	var rec ConsentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return false, fmt.Errorf("consentstore: unmarshal: %w", err)
	}
	if rec.Revoked {
		return false, nil
	}
	if rec.ExpiresAt != nil && !rec.ExpiresAt.After(time.Now()) {
		return false, nil
	}
	return true, nil
}
