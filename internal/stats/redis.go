package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/foxzi/leadcast/internal/campaign"
)

const (
	fieldAlpha = "alpha"
	fieldBeta  = "beta"
)

// RedisStore keeps counters in one hash per persona. Fields hold increments
// over the (1, 1) prior, named "<variant>:alpha" and "<variant>:beta".
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store. An empty prefix defaults to "leadcast".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "leadcast"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(persona campaign.PersonaID) string {
	return s.prefix + ":stats:" + string(persona)
}

// Get returns the counters of every variant with recorded outcomes.
func (s *RedisStore) Get(ctx context.Context, persona campaign.PersonaID) (map[campaign.VariantID]campaign.Stat, error) {
	fields, err := s.client.HGetAll(ctx, s.key(persona)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	out := make(map[campaign.VariantID]campaign.Stat)
	for field, raw := range fields {
		i := strings.LastIndexByte(field, ':')
		if i <= 0 {
			continue
		}
		delta, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		id := campaign.VariantID(field[:i])
		st, ok := out[id]
		if !ok {
			st = campaign.DefaultStat
		}
		switch field[i+1:] {
		case fieldAlpha:
			st.Alpha = 1 + delta
		case fieldBeta:
			st.Beta = 1 + delta
		default:
			continue
		}
		out[id] = st
	}
	return out, nil
}

// IncrementSuccess adds one to alpha.
func (s *RedisStore) IncrementSuccess(ctx context.Context, persona campaign.PersonaID, variant campaign.VariantID) error {
	return s.incr(ctx, persona, variant, fieldAlpha)
}

// IncrementFailure adds one to beta.
func (s *RedisStore) IncrementFailure(ctx context.Context, persona campaign.PersonaID, variant campaign.VariantID) error {
	return s.incr(ctx, persona, variant, fieldBeta)
}

func (s *RedisStore) incr(ctx context.Context, persona campaign.PersonaID, variant campaign.VariantID, counter string) error {
	if err := s.client.HIncrByFloat(ctx, s.key(persona), string(variant)+":"+counter, 1).Err(); err != nil {
		return fmt.Errorf("failed to increment %s: %w", counter, err)
	}
	return nil
}
