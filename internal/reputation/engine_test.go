package reputation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenteconomy/backend/internal/config"
)

var testNow = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(config.Default(), nil).WithClock(func() time.Time { return testNow })
}

func TestUnknownAgentGetsStartingScore(t *testing.T) {
	e := newTestEngine(t)
	assert.Equal(t, StartingScore, e.Score("never-seen"))

	_, ok := e.Get("never-seen")
	assert.False(t, ok)

	e.Register("agent-1")
	rec, ok := e.Get("agent-1")
	require.True(t, ok)
	assert.Equal(t, StartingScore, rec.Score)
	assert.Equal(t, testNow, rec.RegisteredAt)
}

func TestGrowthCapLimitsNewAgents(t *testing.T) {
	e := newTestEngine(t)

	// A perfect first task still moves the score at most two points.
	score := e.RecordTask("agent-1", true, 1.0, false)
	assert.Equal(t, 52.0, score)

	// A disastrous one costs at most two.
	score = e.RecordTask("agent-2", false, 0, false)
	assert.Equal(t, 48.0, score)
}

func TestScoreConvergesOverTaskHistory(t *testing.T) {
	e := newTestEngine(t)

	var score float64
	for i := 0; i < 20; i++ {
		score = e.RecordTask("agent-1", true, 0.95, false)
	}
	assert.Greater(t, score, 70.0)
	assert.LessOrEqual(t, score, 100.0)

	rec, ok := e.Get("agent-1")
	require.True(t, ok)
	assert.Equal(t, 20, rec.TasksCompleted)
	assert.Equal(t, 20, rec.PaidTasksCompleted)
	assert.InDelta(t, 0.95, rec.AvgQuality, 1e-9)
}

func TestFailuresDragScoreDown(t *testing.T) {
	e := newTestEngine(t)

	for i := 0; i < 5; i++ {
		e.RecordTask("agent-1", true, 0.9, false)
	}
	peak := e.Score("agent-1")

	var score float64
	for i := 0; i < 10; i++ {
		score = e.RecordTask("agent-1", false, 0, false)
	}
	assert.Less(t, score, peak)
	assert.GreaterOrEqual(t, score, 0.0)
}

func TestFreeTaskDeltaIsDampened(t *testing.T) {
	e := newTestEngine(t)

	// Identical histories past the new-agent window, so the cap no
	// longer masks the dampener.
	for i := 0; i < 11; i++ {
		e.RecordTask("paid-agent", true, 0.7, false)
		e.RecordTask("free-agent", true, 0.7, false)
	}
	require.Equal(t, e.Score("paid-agent"), e.Score("free-agent"))
	before := e.Score("paid-agent")

	paidAfter := e.RecordTask("paid-agent", true, 0.7, false)
	freeAfter := e.RecordTask("free-agent", true, 0.7, true)

	paidDelta := paidAfter - before
	freeDelta := freeAfter - before
	require.Greater(t, paidDelta, 0.0)
	assert.InDelta(t, paidDelta/2, freeDelta, 1e-9)
}

func TestRatingsBeyondPerFunderCapDoNotCount(t *testing.T) {
	e := newTestEngine(t)

	var score float64
	for i := 0; i < 5; i++ {
		score = e.AddRating("agent-1", "funder-1", 5)
	}
	// Run the same rating until the score has fully converged on its
	// target.
	for i := 0; i < 5; i++ {
		score = e.AddRating("agent-1", "funder-1", 5)
	}

	// The sixth and later ratings from the same funder are stored but
	// carry no influence.
	after := e.AddRating("agent-1", "funder-1", 5)
	assert.Equal(t, score, after)

	rec, ok := e.Get("agent-1")
	require.True(t, ok)
	assert.Len(t, rec.Ratings, 11)

	// A new funder's rating does move the needle.
	moved := e.AddRating("agent-1", "funder-2", 5)
	assert.NotEqual(t, after, moved)
}

func TestRatingStarsClamped(t *testing.T) {
	e := newTestEngine(t)
	e.AddRating("agent-1", "funder-1", 9)
	e.AddRating("agent-1", "funder-1", -3)

	rec, ok := e.Get("agent-1")
	require.True(t, ok)
	require.Len(t, rec.Ratings, 2)
	assert.Equal(t, 5, rec.Ratings[0].Stars)
	assert.Equal(t, 1, rec.Ratings[1].Stars)
}

func TestIdlenessDecaysRatingImpact(t *testing.T) {
	cfg := config.Default()
	now := testNow
	clock := func() time.Time { return now }

	e := NewEngine(cfg, nil).WithClock(clock)
	// Past the new-agent window, so the growth cap cannot mask the
	// decay difference.
	for i := 0; i < 12; i++ {
		e.RecordTask("fresh", true, 0.8, false)
		e.RecordTask("idle", true, 0.8, false)
	}
	require.Equal(t, e.Score("fresh"), e.Score("idle"))

	freshScore := e.AddRating("fresh", "funder-1", 4)

	// The same rating lands 40 idle days later for the other agent:
	// the decay component has fully drained.
	now = testNow.Add(40 * 24 * time.Hour)
	idleScore := e.AddRating("idle", "funder-1", 4)

	assert.Less(t, idleScore, freshScore)
}

func TestRecordValidatorAlignment(t *testing.T) {
	e := newTestEngine(t)

	score := e.RecordValidatorAlignment("validator-1", true)
	assert.Equal(t, 51.0, score)

	score = e.RecordValidatorAlignment("validator-1", false)
	assert.Equal(t, 49.0, score)

	rec, ok := e.Get("validator-1")
	require.True(t, ok)
	assert.Equal(t, 1, rec.AlignedCount)
	assert.Equal(t, 1, rec.MisalignedCount)
}

func TestScoreClampedToFloor(t *testing.T) {
	e := newTestEngine(t)

	var score float64
	for i := 0; i < 40; i++ {
		score = e.RecordValidatorAlignment("validator-1", false)
	}
	assert.Equal(t, 0.0, score)
}
