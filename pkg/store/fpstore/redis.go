package fpstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/calibration"
	"github.com/redis/go-redis/v9"
)

// RedisFPStore is the cloud FPStore realization: one sorted set per rule
// (score = event timestamp, member = the JSON-encoded event), plus a
// companion set of seen eventIDs for the duplicate check.
type RedisFPStore struct {
	client *redis.Client
	prefix string
}

// NewRedisFPStore returns an FPStore backed by addr/db, namespacing keys
// under table (the managed key-value table name from Config).
func NewRedisFPStore(addr string, db int, table string) *RedisFPStore {
	return &RedisFPStore{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		prefix: table + ":fpstore:",
	}
}

func (s *RedisFPStore) eventsKey(ruleID string) string { return s.prefix + ruleID + ":events" }
func (s *RedisFPStore) idsKey(ruleID string) string     { return s.prefix + ruleID + ":ids" }

func (s *RedisFPStore) RecordEvent(e calibration.FPEvent) error {
	ctx := context.Background()

	added, err := s.client.SAdd(ctx, s.idsKey(e.RuleID), e.EventID).Result()
	if err != nil {
		return fmt.Errorf("fpstore: redis sadd: %w", err)
	}
	if added == 0 {
		return calibration.ErrDuplicateEvent
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("fpstore: encode event: %w", err)
	}
	if err := s.client.ZAdd(ctx, s.eventsKey(e.RuleID), redis.Z{
		Score:  float64(e.Timestamp.UnixNano()),
		Member: body,
	}).Err(); err != nil {
		return fmt.Errorf("fpstore: redis zadd: %w", err)
	}
	return nil
}

func (s *RedisFPStore) decodeMembers(members []string) ([]calibration.FPEvent, error) {
	out := make([]calibration.FPEvent, 0, len(members))
	for _, m := range members {
		var e calibration.FPEvent
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			return nil, fmt.Errorf("fpstore: decode event: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// GetWindowByCount returns the n most recent events for ruleID, newest first.
func (s *RedisFPStore) GetWindowByCount(ruleID string, n int) ([]calibration.FPEvent, error) {
	ctx := context.Background()
	stop := int64(-1)
	if n > 0 {
		stop = int64(n) - 1
	}
	members, err := s.client.ZRevRange(ctx, s.eventsKey(ruleID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("fpstore: redis zrevrange: %w", err)
	}
	return s.decodeMembers(members)
}

// GetWindowBySince returns every event at or after since.
func (s *RedisFPStore) GetWindowBySince(ruleID string, since time.Time) ([]calibration.FPEvent, error) {
	ctx := context.Background()
	members, err := s.client.ZRangeByScore(ctx, s.eventsKey(ruleID), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since.UnixNano()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("fpstore: redis zrangebyscore: %w", err)
	}
	return s.decodeMembers(members)
}

// MarkFalsePositive scans every rule's event set for findingID since the
// rule owning a finding isn't known from the ID alone, rewriting each
// matching member in place.
func (s *RedisFPStore) MarkFalsePositive(findingID, reviewedBy, ticket string) error {
	ctx := context.Background()
	ruleKeys, err := s.client.Keys(ctx, s.prefix+"*:events").Result()
	if err != nil {
		return fmt.Errorf("fpstore: redis keys: %w", err)
	}

	for _, key := range ruleKeys {
		members, err := s.client.ZRangeWithScores(ctx, key, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("fpstore: redis zrange: %w", err)
		}
		for _, m := range members {
			raw, ok := m.Member.(string)
			if !ok {
				continue
			}
			var e calibration.FPEvent
			if err := json.Unmarshal([]byte(raw), &e); err != nil {
				continue
			}
			if e.FindingID != findingID {
				continue
			}
			e.IsFalsePositive = true
			e.ReviewedBy = reviewedBy
			e.SuppressionTicket = ticket
			e.ReviewedAt = time.Now()

			updated, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("fpstore: encode updated event: %w", err)
			}
			pipe := s.client.TxPipeline()
			pipe.ZRem(ctx, key, raw)
			pipe.ZAdd(ctx, key, redis.Z{Score: m.Score, Member: updated})
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("fpstore: redis rewrite member: %w", err)
			}
		}
	}
	return nil
}

// IsFalsePositive reports whether findingID under ruleID has been marked.
func (s *RedisFPStore) IsFalsePositive(ruleID, findingID string) (bool, error) {
	events, err := s.GetWindowByCount(ruleID, 0)
	if err != nil {
		return false, err
	}
	for _, e := range events {
		if e.FindingID == findingID {
			return e.IsFalsePositive, nil
		}
	}
	return false, nil
}
