package stats

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/leadcast/internal/campaign"
)

func setupRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, ""), mr
}

func TestRedisStoreDefaults(t *testing.T) {
	s, _ := setupRedis(t)

	got, err := s.Get(context.Background(), campaign.PersonaProfessional)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStoreIncrements(t *testing.T) {
	s, mr := setupRedis(t)
	ctx := context.Background()
	p := campaign.PersonaSenior

	require.NoError(t, s.IncrementSuccess(ctx, p, "v1"))
	require.NoError(t, s.IncrementSuccess(ctx, p, "v1"))
	require.NoError(t, s.IncrementFailure(ctx, p, "v2"))

	got, err := s.Get(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, campaign.Stat{Alpha: 3, Beta: 1}, got["v1"])
	assert.Equal(t, campaign.Stat{Alpha: 1, Beta: 2}, got["v2"])

	assert.True(t, mr.Exists("leadcast:stats:ARCH_SEN"))
}

func TestRedisStoreIgnoresForeignFields(t *testing.T) {
	s, mr := setupRedis(t)
	mr.HSet("leadcast:stats:ARCH_PRO", "junk", "1", "v1:other", "4", "v1:alpha", "nope")

	got, err := s.Get(context.Background(), campaign.PersonaProfessional)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStoreConcurrentIncrements(t *testing.T) {
	s, _ := setupRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.IncrementSuccess(ctx, campaign.PersonaRisk, "v1"))
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, campaign.PersonaRisk)
	require.NoError(t, err)
	assert.Equal(t, 51.0, got["v1"].Alpha)
}

func TestRedisStoreUnavailable(t *testing.T) {
	s, mr := setupRedis(t)
	mr.Close()

	err := s.IncrementSuccess(context.Background(), campaign.PersonaRisk, "v1")
	require.Error(t, err)
	_, err = s.Get(context.Background(), campaign.PersonaRisk)
	require.Error(t, err)
}

func TestBuildReport(t *testing.T) {
	variants := []campaign.Variant{
		{ID: "a", Language: "en", Content: "A"},
		{ID: "b", Language: "en", Content: "B"},
		{ID: "c", Language: "en", Content: "C"},
	}
	st := map[campaign.VariantID]campaign.Stat{
		"a": {Alpha: 1, Beta: 9},
		"b": {Alpha: 8, Beta: 2},
	}

	r := BuildReport(campaign.PersonaProfessional, variants, st, 7)
	assert.Equal(t, int64(7), r.TotalClicks)
	require.Len(t, r.Variants, 3)
	assert.Equal(t, campaign.VariantID("b"), r.Variants[0].VariantID)
	assert.Equal(t, campaign.VariantID("c"), r.Variants[1].VariantID)
	assert.InDelta(t, 0.5, r.Variants[1].EstimatedCTR, 1e-9)
	assert.Equal(t, campaign.VariantID("a"), r.Variants[2].VariantID)
}
