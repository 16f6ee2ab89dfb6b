package ratelimit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func setupTestDB(t *testing.T) *bolt.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "quota.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func newTestLimiter(t *testing.T, db *bolt.DB, cfg *Config) *Limiter {
	t.Helper()
	limiter, err := NewLimiter(db, cfg)
	require.NoError(t, err)
	return limiter
}

func TestNewLimiterDefaultConfig(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), nil)
	defer limiter.Stop()

	assert.Equal(t, 10*time.Second, limiter.config.FlushInterval)
}

func TestAllowGlobalHourly(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		Global:        &LimitConfig{MessagesPerHour: 3},
		FlushInterval: time.Hour,
	})
	defer limiter.Stop()

	ctx := context.Background()
	req := &Request{Transport: "resend"}

	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, req)
		require.NoError(t, err)
		require.True(t, res.Allowed, "send %d should be allowed", i+1)
	}

	res, err := limiter.Allow(ctx, req)
	require.NoError(t, err)
	require.False(t, res.Allowed, "4th send should be denied")
	assert.Equal(t, ScopeGlobal, res.DeniedBy)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, time.Hour)
}

func TestAllowTransportAndPersonaScopes(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		Transport:     &LimitConfig{MessagesPerDay: 2},
		Persona:       &LimitConfig{MessagesPerHour: 1},
		FlushInterval: time.Hour,
	})
	defer limiter.Stop()

	ctx := context.Background()
	allow := func(transport, persona string) *Result {
		t.Helper()
		res, err := limiter.Allow(ctx, &Request{Transport: transport, Persona: persona})
		require.NoError(t, err)
		return res
	}

	assert.True(t, allow("ses", "ARCH_PRO").Allowed, "first send should be allowed")

	res := allow("ses", "ARCH_PRO")
	assert.False(t, res.Allowed)
	assert.Equal(t, ScopePersona, res.DeniedBy)

	// A denied request must not consume transport quota.
	assert.True(t, allow("ses", "ARCH_SEN").Allowed, "second ses send should be allowed")

	res = allow("ses", "ARCH_STU")
	assert.False(t, res.Allowed)
	assert.Equal(t, ScopeTransport, res.DeniedBy)

	assert.True(t, allow("smtp", "ARCH_STU").Allowed, "other transport should be allowed")
}

func TestCheckDoesNotConsume(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{Global: &LimitConfig{MessagesPerHour: 1}, FlushInterval: time.Hour})
	defer limiter.Stop()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		res, err := limiter.Check(ctx, &Request{})
		require.NoError(t, err)
		require.True(t, res.Allowed, "Check should not consume quota")
	}

	_, err := limiter.Allow(ctx, &Request{})
	require.NoError(t, err)
	res, err := limiter.Check(ctx, &Request{})
	require.NoError(t, err)
	assert.False(t, res.Allowed, "Check should report exhausted quota")
}

func TestWindowReset(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{Global: &LimitConfig{MessagesPerHour: 1}, FlushInterval: time.Hour})
	defer limiter.Stop()

	now := time.Now()
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	_, err := limiter.Allow(ctx, &Request{})
	require.NoError(t, err)

	res, err := limiter.Allow(ctx, &Request{})
	require.NoError(t, err)
	assert.False(t, res.Allowed, "second send in the same hour should be denied")

	now = now.Add(61 * time.Minute)
	res, err = limiter.Allow(ctx, &Request{})
	require.NoError(t, err)
	assert.True(t, res.Allowed, "send after window reset should be allowed")

	stats, err := limiter.GetStats(ctx, ScopeGlobal, "global")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.HourlyCount)
	assert.Equal(t, 2, stats.DailyCount)
}

func TestPersistence(t *testing.T) {
	db := setupTestDB(t)
	cfg := &Config{Global: &LimitConfig{MessagesPerDay: 10}, FlushInterval: time.Hour}

	limiter := newTestLimiter(t, db, cfg)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := limiter.Allow(ctx, &Request{})
		require.NoError(t, err)
	}
	require.NoError(t, limiter.Stop())

	restored := newTestLimiter(t, db, cfg)
	defer restored.Stop()

	stats, err := restored.GetStats(ctx, ScopeGlobal, "global")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.DailyCount, "daily count after restart")
}

func TestGetStatsUnknownKey(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), nil)
	defer limiter.Stop()

	stats, err := limiter.GetStats(context.Background(), ScopeTransport, "resend")
	require.NoError(t, err)
	assert.Zero(t, stats.HourlyCount)
	assert.Equal(t, "resend", stats.Key)
}
