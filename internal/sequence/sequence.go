package sequence

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Sequencer hands out strictly increasing values per scope. Values are never
// reused; a value allocated for a write that later fails leaves a gap.
type Sequencer interface {
	Next(ctx context.Context, scope string) (int64, error)
}

// Scope names the counter for a prefix within a calendar year.
func Scope(prefix string, year int) string {
	return fmt.Sprintf("%s-%d", prefix, year)
}

// Format renders a human-readable number such as TCT-2025-000001.
func Format(prefix string, year int, value int64) string {
	return fmt.Sprintf("%s-%d-%06d", prefix, year, value)
}

// Allocate draws the next value for prefix and year and formats it.
func Allocate(ctx context.Context, s Sequencer, prefix string, year int) (string, error) {
	value, err := s.Next(ctx, Scope(prefix, year))
	if err != nil {
		return "", err
	}
	return Format(prefix, year, value), nil
}

// counterStore is satisfied by repository.SequenceRepository.
type counterStore interface {
	Next(ctx context.Context, scope string) (int64, error)
}

// DatabaseSequencer increments a counter row in the primary database.
type DatabaseSequencer struct {
	store counterStore
}

func NewDatabaseSequencer(store counterStore) *DatabaseSequencer {
	return &DatabaseSequencer{store: store}
}

func (s *DatabaseSequencer) Next(ctx context.Context, scope string) (int64, error) {
	return s.store.Next(ctx, scope)
}

// RedisSequencer increments a counter key with INCR.
type RedisSequencer struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisSequencer(client redis.UniversalClient, keyPrefix string) *RedisSequencer {
	return &RedisSequencer{client: client, keyPrefix: keyPrefix}
}

func (s *RedisSequencer) Next(ctx context.Context, scope string) (int64, error) {
	value, err := s.client.Incr(ctx, s.keyPrefix+scope).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to increment sequence %s", scope)
	}
	return value, nil
}
