// Package reputation maintains the weighted, decayed, sybil-resistant
// score per agent and the bidding-rank function used to pick a winner
// among competing agents for open work.
package reputation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/agenteconomy/backend/internal/config"
	"github.com/agenteconomy/backend/internal/metrics"
)

// StartingScore is where every agent begins.
const StartingScore = 50.0

// Rating is one human star rating of an agent's work.
type Rating struct {
	Stars  int       `json:"stars"`
	Funder string    `json:"funder"`
	At     time.Time `json:"at"`
}

// Record is the full reputation state of one agent.
type Record struct {
	Agent              string    `json:"agent"`
	Score              float64   `json:"score"`
	TasksCompleted     int       `json:"tasksCompleted"`
	TasksFailed        int       `json:"tasksFailed"`
	PaidTasksCompleted int       `json:"paidTasksCompleted"`
	FreeTasksCompleted int       `json:"freeTasksCompleted"`
	AvgQuality         float64   `json:"avgQuality"`
	Ratings            []Rating  `json:"ratings"`
	LastActiveAt       time.Time `json:"lastActiveAt"`
	RegisteredAt       time.Time `json:"registeredAt"`

	// Validator alignment counters.
	AlignedCount    int `json:"alignedCount"`
	MisalignedCount int `json:"misalignedCount"`

	qualitySum   float64
	qualityCount int
}

// Engine holds all reputation records and applies the scoring rules.
type Engine struct {
	mu      sync.RWMutex
	records map[string]*Record

	weights             config.ReputationWeights
	maxRatingsPerFunder int
	minUniqueFunders    int
	newAgentWindow      int
	growthCap           float64
	freeMultiplier      float64
	decayWindowDays     float64

	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine builds a reputation engine from the marketplace config.
func NewEngine(cfg *config.Config, m *metrics.Metrics) *Engine {
	return &Engine{
		records:             make(map[string]*Record),
		weights:             cfg.Reputation.Weights,
		maxRatingsPerFunder: cfg.Reputation.MaxRatingsPerFunder,
		minUniqueFunders:    cfg.Reputation.MinUniqueFunders,
		newAgentWindow:      cfg.Reputation.NewAgentTaskWindow,
		growthCap:           cfg.Reputation.NewAgentGrowthCap,
		freeMultiplier:      cfg.Reputation.FreeTaskMultiplier,
		decayWindowDays:     cfg.Reputation.DecayWindowDays,
		metrics:             m,
		logger:              slog.Default().With("component", "reputation"),
		now:                 time.Now,
	}
}

// WithClock overrides the engine's clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Register creates a record for an agent if none exists. Registration
// order is part of the deterministic tie-break, so callers should
// register agents as they join.
func (e *Engine) Register(agent string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.getOrCreate(agent)
}

func (e *Engine) getOrCreate(agent string) *Record {
	rec, ok := e.records[agent]
	if !ok {
		rec = &Record{
			Agent:        agent,
			Score:        StartingScore,
			RegisteredAt: e.now().UTC(),
		}
		e.records[agent] = rec
	}
	return rec
}

// Score returns the agent's current score. Unknown agents get the
// starting score: a fresh identity earns no advantage over a known
// average one.
func (e *Engine) Score(agent string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rec, ok := e.records[agent]
	if !ok {
		return StartingScore
	}
	return rec.Score
}

// Get returns a copy of the agent's record.
func (e *Engine) Get(agent string) (Record, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rec, ok := e.records[agent]
	if !ok {
		return Record{}, false
	}
	out := *rec
	out.Ratings = append([]Rating(nil), rec.Ratings...)
	return out, true
}

// RecordTask updates an agent's record after a task outcome and moves
// the score toward the weighted target, subject to the free-task
// dampener and the new-agent growth cap.
func (e *Engine) RecordTask(agent string, success bool, quality float64, free bool) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.getOrCreate(agent)
	if success {
		rec.TasksCompleted++
		if free {
			rec.FreeTasksCompleted++
		} else {
			rec.PaidTasksCompleted++
		}
	} else {
		rec.TasksFailed++
	}
	if quality > 0 {
		rec.qualitySum += quality
		rec.qualityCount++
		rec.AvgQuality = rec.qualitySum / float64(rec.qualityCount)
	}
	rec.LastActiveAt = e.now().UTC()

	return e.applyUpdate(rec, free)
}

// AddRating appends a funder's star rating (1..5) and applies a score
// update. Ratings beyond the per-funder cap are stored but never
// counted; spending is the only way to scale influence.
func (e *Engine) AddRating(agent, funder string, stars int) float64 {
	if stars < 1 {
		stars = 1
	}
	if stars > 5 {
		stars = 5
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.getOrCreate(agent)
	rec.Ratings = append(rec.Ratings, Rating{Stars: stars, Funder: funder, At: e.now().UTC()})
	return e.applyUpdate(rec, false)
}

// RecordValidatorAlignment updates a validator's counters after an
// alignment resolution. Aligned reviews nudge the score up one point;
// misaligned reviews cost two, before the usual caps and clamping.
func (e *Engine) RecordValidatorAlignment(agent string, aligned bool) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.getOrCreate(agent)
	delta := 1.0
	if aligned {
		rec.AlignedCount++
	} else {
		rec.MisalignedCount++
		delta = -2.0
	}
	rec.LastActiveAt = e.now().UTC()

	rec.Score = clamp(rec.Score+e.capDelta(rec, delta), 0, 100)
	e.metrics.SetReputation(rec.Agent, rec.Score)
	return rec.Score
}

// applyUpdate moves the stored score toward the weighted target.
// Must be called with the lock held.
func (e *Engine) applyUpdate(rec *Record, free bool) float64 {
	target := e.weightedTarget(rec)
	delta := target - rec.Score
	if free {
		delta *= e.freeMultiplier
	}
	delta = e.capDelta(rec, delta)

	rec.Score = clamp(rec.Score+delta, 0, 100)
	e.metrics.SetReputation(rec.Agent, rec.Score)
	return rec.Score
}

// capDelta applies the new-agent growth cap: within the first task
// window, no single update moves the score by more than the cap.
func (e *Engine) capDelta(rec *Record, delta float64) float64 {
	if rec.TasksCompleted+rec.TasksFailed <= e.newAgentWindow {
		if delta > e.growthCap {
			delta = e.growthCap
		} else if delta < -e.growthCap {
			delta = -e.growthCap
		}
	}
	return delta
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
