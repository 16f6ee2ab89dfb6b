package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/leadcast/internal/campaign"
	"github.com/foxzi/leadcast/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	assignments *store.AssignmentRepository
	stats       *store.StatsRepository
	errorLog    *store.ErrorLogRepository
	ingestor    *Ingestor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := store.Open(store.Config{Driver: "sqlite3", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	f := &fixture{
		assignments: store.NewAssignmentRepository(db),
		stats:       store.NewStatsRepository(db),
		errorLog:    store.NewErrorLogRepository(db),
	}
	f.ingestor = New(f.assignments, f.stats, f.errorLog, testLogger())
	return f
}

// sentAssignment creates an assignment that was handed to the provider as msgID
func (f *fixture) sentAssignment(t *testing.T, msgID string) *campaign.Assignment {
	t.Helper()
	ctx := context.Background()
	a := &campaign.Assignment{LeadID: "lead-1", PersonaID: campaign.PersonaRisk, VariantID: "ARCH_RISK_1_abc"}
	require.NoError(t, f.assignments.Create(ctx, a))
	require.NoError(t, f.assignments.MarkSent(ctx, a.ID, msgID, time.Now()))
	return a
}

func (f *fixture) stat(t *testing.T) campaign.Stat {
	t.Helper()
	st, err := f.stats.Get(context.Background(), campaign.PersonaRisk)
	require.NoError(t, err)
	s, ok := st["ARCH_RISK_1_abc"]
	if !ok {
		return campaign.DefaultStat
	}
	return s
}

func event(msgID string, typ campaign.EventType, externalID string) campaign.ProviderEvent {
	return campaign.ProviderEvent{
		Provider:      ProviderResend,
		CorrelationID: msgID,
		Type:          typ,
		RawType:       "email." + string(typ),
		ExternalID:    externalID,
		OccurredAt:    time.Now(),
	}
}

func TestClickThenDelivered(t *testing.T) {
	f := newFixture(t)
	a := f.sentAssignment(t, "msg-1")
	ctx := context.Background()

	res, err := f.ingestor.Process(ctx, event("msg-1", campaign.EventClick, "evt-click"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, a.ID, res.AssignmentID)
	assert.Equal(t, campaign.Stat{Alpha: 2, Beta: 1}, f.stat(t))

	// A click already exists, so delivery earns no failure credit.
	res, err = f.ingestor.Process(ctx, event("msg-1", campaign.EventDelivered, "evt-delivered"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.True(t, res.StatusChanged)
	assert.Equal(t, campaign.Stat{Alpha: 2, Beta: 1}, f.stat(t))

	got, err := f.assignments.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusDelivered, got.Status)
}

func TestDeliveredWithoutClick(t *testing.T) {
	f := newFixture(t)
	f.sentAssignment(t, "msg-1")
	ctx := context.Background()

	_, err := f.ingestor.Process(ctx, event("msg-1", campaign.EventDelivered, "evt-1"))
	require.NoError(t, err)
	assert.Equal(t, campaign.Stat{Alpha: 1, Beta: 2}, f.stat(t))

	// A second delivery notification with another identity is stored but
	// the credit was already claimed.
	res, err := f.ingestor.Process(ctx, event("msg-1", campaign.EventDelivered, "evt-2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, campaign.Stat{Alpha: 1, Beta: 2}, f.stat(t))

	// A later click still counts as a success.
	_, err = f.ingestor.Process(ctx, event("msg-1", campaign.EventClick, "evt-3"))
	require.NoError(t, err)
	assert.Equal(t, campaign.Stat{Alpha: 2, Beta: 2}, f.stat(t))
}

func TestProcessIdempotent(t *testing.T) {
	f := newFixture(t)
	a := f.sentAssignment(t, "msg-1")
	ctx := context.Background()
	ev := event("msg-1", campaign.EventClick, "evt-1")

	res, err := f.ingestor.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)

	res, err = f.ingestor.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	events, err := f.assignments.ListEvents(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, campaign.Stat{Alpha: 2, Beta: 1}, f.stat(t))
}

func TestDistinctClicksEachCount(t *testing.T) {
	f := newFixture(t)
	f.sentAssignment(t, "msg-1")
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		_, err := f.ingestor.Process(ctx, event("msg-1", campaign.EventClick, id))
		require.NoError(t, err)
	}
	assert.Equal(t, 4.0, f.stat(t).Alpha)
}

func TestUnknownCorrelationID(t *testing.T) {
	f := newFixture(t)
	a := f.sentAssignment(t, "msg-1")
	ctx := context.Background()

	res, err := f.ingestor.Process(ctx, event("msg-unknown", campaign.EventClick, "evt-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)

	events, err := f.assignments.ListEvents(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, campaign.DefaultStat, f.stat(t))
}

func TestFailedIsAbsorbing(t *testing.T) {
	f := newFixture(t)
	a := f.sentAssignment(t, "msg-1")
	ctx := context.Background()

	res, err := f.ingestor.Process(ctx, event("msg-1", campaign.EventFailed, "bounce-1"))
	require.NoError(t, err)
	assert.True(t, res.StatusChanged)

	res, err = f.ingestor.Process(ctx, event("msg-1", campaign.EventDelivered, "evt-2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.False(t, res.StatusChanged)

	got, err := f.assignments.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusFailed, got.Status)
}

func TestProcessInvalid(t *testing.T) {
	f := newFixture(t)

	_, err := f.ingestor.Process(context.Background(), campaign.ProviderEvent{Provider: ProviderResend, Type: campaign.EventClick})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = f.ingestor.Process(context.Background(), campaign.ProviderEvent{Provider: ProviderResend, CorrelationID: "m"})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestTrackClick(t *testing.T) {
	f := newFixture(t)
	a := f.sentAssignment(t, "msg-1")
	ctx := context.Background()

	for range 2 {
		res, err := f.ingestor.TrackClick(ctx, a.ID, map[string]any{"user_agent": "test"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeProcessed, res.Outcome)
	}
	assert.Equal(t, 3.0, f.stat(t).Alpha)

	res, err := f.ingestor.TrackClick(ctx, "not-a-uuid", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)

	res, err = f.ingestor.TrackClick(ctx, "7c9e6679-7425-40de-944b-e07fc1f90ae7", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
}

type brokenStats struct{}

func (brokenStats) IncrementSuccess(ctx context.Context, persona campaign.PersonaID, variant campaign.VariantID) error {
	return errors.New("redis down")
}

func (brokenStats) IncrementFailure(ctx context.Context, persona campaign.PersonaID, variant campaign.VariantID) error {
	return errors.New("redis down")
}

func TestStatsFailureRecorded(t *testing.T) {
	f := newFixture(t)
	f.sentAssignment(t, "msg-1")
	ingestor := New(f.assignments, brokenStats{}, f.errorLog, testLogger())
	ctx := context.Background()

	_, err := ingestor.Process(ctx, event("msg-1", campaign.EventClick, "evt-1"))
	require.Error(t, err)

	records, err := f.errorLog.List(ctx, campaign.WorkflowIngest, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Message, "redis down")
	assert.Equal(t, "msg-1", records[0].Payload["correlation_id"])
}

func TestInlineStatsCommitWithEvent(t *testing.T) {
	f := newFixture(t)
	f.assignments.WithInlineStats()
	f.sentAssignment(t, "msg-1")
	// The external writer must not be reached when counters commit inline.
	ingestor := New(f.assignments, brokenStats{}, f.errorLog, testLogger())
	ctx := context.Background()

	res, err := ingestor.Process(ctx, event("msg-1", campaign.EventDelivered, "evt-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, campaign.Stat{Alpha: 1, Beta: 2}, f.stat(t))

	_, err = ingestor.Process(ctx, event("msg-1", campaign.EventClick, "evt-2"))
	require.NoError(t, err)
	assert.Equal(t, campaign.Stat{Alpha: 2, Beta: 2}, f.stat(t))

	// Replays change nothing.
	res, err = ingestor.Process(ctx, event("msg-1", campaign.EventClick, "evt-2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, campaign.Stat{Alpha: 2, Beta: 2}, f.stat(t))

	records, err := f.errorLog.List(ctx, campaign.WorkflowIngest, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}
