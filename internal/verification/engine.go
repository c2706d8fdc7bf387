// Package verification runs the staked-review gate: it selects an
// eligible validator for a task, records the verdict, pays the
// validator's unconditional base reward, and later resolves the
// deferred alignment bonus or slash once a human rating arrives.
//
// Per-task state machine: Pending -> Reviewed{passed|failed} ->
// AlignmentResolved{aligned|misaligned|unrated}.
package verification

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/agenteconomy/backend/internal/config"
	"github.com/agenteconomy/backend/internal/events"
	"github.com/agenteconomy/backend/internal/ledger"
	"github.com/agenteconomy/backend/internal/metrics"
	"github.com/agenteconomy/backend/internal/token"
)

// Alignment outcomes.
const (
	AlignmentAligned    = "aligned"
	AlignmentMisaligned = "misaligned"
	AlignmentUnrated    = "unrated"
)

// ReputationSource is the read side of the reputation engine the
// selection gate consults.
type ReputationSource interface {
	Score(agent string) float64
}

// Candidate is a validator considered for selection.
type Candidate struct {
	ID           string
	Capabilities []string
	RegisteredAt time.Time
}

func (c *Candidate) hasCapability(cap string) bool {
	for _, have := range c.Capabilities {
		if have == cap {
			return true
		}
	}
	return false
}

// Record is the persistent state of one task verification.
type Record struct {
	TaskID              string     `json:"taskId"`
	Validator           string     `json:"validator"`
	Passed              bool       `json:"passed"`
	QualityScore        float64    `json:"qualityScore"`
	Feedback            string     `json:"feedback"`
	BasePaidAt          time.Time  `json:"basePaidAt"`
	AlignmentResolvedAt *time.Time `json:"alignmentResolvedAt,omitempty"`
	Alignment           string     `json:"alignment,omitempty"`
	BonusPaid           bool       `json:"bonusPaid"`

	// bonusDue is the deferred share of the validator reward, fixed at
	// review time.
	bonusDue token.Amount

	// pending marks a reservation taken before the validator capability
	// runs; resolving marks an alignment settlement in flight. Both are
	// only touched under the engine mutex.
	pending   bool
	resolving bool
}

// AlignmentOutcome reports how a deferred resolution settled.
type AlignmentOutcome struct {
	Alignment string
	BonusPaid bool
	Slashed   bool
}

// Engine coordinates validator selection, reviews, and alignment
// resolution over the ledger.
type Engine struct {
	mu      sync.Mutex
	records map[string]*Record

	ledger     *ledger.Ledger
	reputation ReputationSource
	emitter    events.Emitter
	metrics    *metrics.Metrics
	logger     *slog.Logger

	baseFrac        float64
	bonusFrac       float64
	minReputation   float64
	payUnratedBonus bool
	now             func() time.Time
}

// NewEngine builds a verification engine.
func NewEngine(l *ledger.Ledger, rep ReputationSource, cfg *config.Config, emitter events.Emitter, m *metrics.Metrics) *Engine {
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &Engine{
		records:         make(map[string]*Record),
		ledger:          l,
		reputation:      rep,
		emitter:         emitter,
		metrics:         m,
		logger:          slog.Default().With("component", "verification"),
		baseFrac:        cfg.Verification.BasePercent / 100,
		bonusFrac:       cfg.Verification.AlignmentBonusPercent / 100,
		minReputation:   cfg.Verification.MinReputation,
		payUnratedBonus: cfg.Verification.PayUnratedBonus,
		now:             time.Now,
	}
}

// WithClock overrides the engine's clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// SelectValidator picks the reviewer for a task. Survivors must differ
// from the executor, hold the required capability, meet the stake
// floor outside any cooldown, and clear the reputation floor. Among
// survivors the highest reputation wins; ties break by earliest
// registration, then lexicographic ID, so selection is reproducible.
// ErrNoEligibleValidator signals the caller to decide its fallback
// (e.g. auto-accept) explicitly.
func (e *Engine) SelectValidator(candidates []Candidate, executor, requiredCapability string) (*Candidate, error) {
	survivors := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.ID == executor {
			continue
		}
		if requiredCapability != "" && !c.hasCapability(requiredCapability) {
			continue
		}
		if !e.ledger.StakeEligible(c.ID) {
			continue
		}
		if e.reputation.Score(c.ID) < e.minReputation {
			continue
		}
		survivors = append(survivors, c)
	}
	if len(survivors) == 0 {
		return nil, token.ErrNoEligibleValidator
	}

	sort.Slice(survivors, func(i, j int) bool {
		si, sj := e.reputation.Score(survivors[i].ID), e.reputation.Score(survivors[j].ID)
		if si != sj {
			return si > sj
		}
		if !survivors[i].RegisteredAt.Equal(survivors[j].RegisteredAt) {
			return survivors[i].RegisteredAt.Before(survivors[j].RegisteredAt)
		}
		return survivors[i].ID < survivors[j].ID
	})
	chosen := survivors[0]
	return &chosen, nil
}

// Review invokes the validator's capability against the task result,
// applies the task's minimum quality floor to the verdict, persists
// the verification record, and immediately pays the validator's base
// reward. The base payment is unconditional: it happens on failed
// verdicts too, so a validator gains nothing by rubber-stamping.
func (e *Engine) Review(task *token.TaskSpec, result *token.TaskResult, validatorID string, validator token.Validator) (*Record, error) {
	// Reserve the task under the lock before calling out, so a
	// concurrent review of the same task cannot pass the duplicate
	// check and draw a second base payment from the escrow.
	e.mu.Lock()
	if _, exists := e.records[task.ID]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("task %s already reviewed", task.ID)
	}
	e.records[task.ID] = &Record{TaskID: task.ID, pending: true}
	e.mu.Unlock()

	abort := func() {
		e.mu.Lock()
		delete(e.records, task.ID)
		e.mu.Unlock()
	}

	start := e.now()
	verdict, err := validator.Verify(task, result)
	elapsed := e.now().Sub(start).Seconds()
	if err != nil {
		abort()
		return nil, fmt.Errorf("validator %s capability failed: %w", validatorID, err)
	}

	passed := verdict.Passed
	feedback := verdict.Feedback
	// A passed verdict below the task's quality floor is downgraded
	// before the caller decides release vs refund.
	if passed && task.MinQuality > 0 && verdict.QualityScore < task.MinQuality {
		passed = false
		feedback = fmt.Sprintf("quality %.2f below task minimum %.2f; %s",
			verdict.QualityScore, task.MinQuality, feedback)
	}

	rec := &Record{
		TaskID:       task.ID,
		Validator:    validatorID,
		Passed:       passed,
		QualityScore: verdict.QualityScore,
		Feedback:     feedback,
		bonusDue:     task.ValidatorReward.MulFrac(e.bonusFrac),
	}

	// Base payment for completing the review, independent of verdict
	// accuracy.
	basePay := task.ValidatorReward.MulFrac(e.baseFrac)
	if basePay.IsPositive() {
		if _, err := e.ledger.ReleasePartial(task.ID, map[string]token.Amount{validatorID: basePay}); err != nil {
			abort()
			return nil, fmt.Errorf("validator base payment: %w", err)
		}
		rec.BasePaidAt = e.now().UTC()
	}

	e.mu.Lock()
	e.records[task.ID] = rec
	e.mu.Unlock()

	e.metrics.RecordReview(passed, elapsed)
	e.emitter.Emit(events.TypeReviewed, task.ID, map[string]any{
		"taskId": task.ID, "validator": validatorID,
		"passed": passed, "qualityScore": verdict.QualityScore,
	})
	e.logger.Info("verification recorded",
		"task_id", task.ID, "validator", validatorID,
		"passed", passed, "quality", verdict.QualityScore)

	out := *rec
	return &out, nil
}

// ResolveAlignment settles a reviewed task once the human rating
// arrives (stars in 1..5). Aligned verdicts (approve with rating >= 4,
// or reject with rating <= 2) pay the remaining alignment bonus
// immediately; misaligned verdicts slash the validator's stake and pay
// nothing. A record resolves exactly once.
func (e *Engine) ResolveAlignment(taskID string, humanRating int) (*AlignmentOutcome, error) {
	if humanRating < 1 || humanRating > 5 {
		return nil, fmt.Errorf("human rating %d out of range [1,5]", humanRating)
	}

	rec, err := e.takeUnresolved(taskID)
	if err != nil {
		return nil, err
	}

	aligned := (rec.Passed && humanRating >= 4) || (!rec.Passed && humanRating <= 2)
	if aligned {
		return e.settle(rec, AlignmentAligned, true)
	}
	return e.settle(rec, AlignmentMisaligned, false)
}

// ResolveUnrated closes a verification whose rating window timed out.
// Whether the bonus defaults to paid is an explicit policy flag, never
// a silent choice.
func (e *Engine) ResolveUnrated(taskID string) (*AlignmentOutcome, error) {
	rec, err := e.takeUnresolved(taskID)
	if err != nil {
		return nil, err
	}
	return e.settle(rec, AlignmentUnrated, e.payUnratedBonus)
}

func (e *Engine) takeUnresolved(taskID string) (*Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[taskID]
	if !ok || rec.pending {
		return nil, fmt.Errorf("no verification record for task %s", taskID)
	}
	if rec.AlignmentResolvedAt != nil || rec.resolving {
		return nil, token.ErrAlreadyResolved
	}
	// Claim the resolution while still holding the lock; a concurrent
	// resolver sees the claim and backs off instead of settling twice.
	rec.resolving = true
	return rec, nil
}

// release undoes a resolution claim after a failed settlement so the
// caller can retry.
func (e *Engine) release(rec *Record) {
	e.mu.Lock()
	rec.resolving = false
	e.mu.Unlock()
}

func (e *Engine) settle(rec *Record, alignment string, payBonus bool) (*AlignmentOutcome, error) {
	outcome := &AlignmentOutcome{Alignment: alignment}

	if alignment == AlignmentMisaligned {
		if _, err := e.ledger.Slash(rec.Validator, "misalignment", rec.TaskID); err != nil {
			// A validator who already unstaked cannot be slashed; the
			// resolution still lands.
			e.logger.Warn("misalignment slash failed",
				"task_id", rec.TaskID, "validator", rec.Validator, "error", err)
		} else {
			outcome.Slashed = true
		}
		// The withheld bonus goes back to the funder.
		if esc, ok := e.ledger.EscrowOf(rec.TaskID); ok && esc.State == token.EscrowHeld {
			if _, err := e.ledger.Refund(rec.TaskID); err != nil {
				e.release(rec)
				return nil, err
			}
		}
	} else if payBonus {
		if err := e.payAlignmentBonus(rec); err != nil {
			e.release(rec)
			return nil, err
		}
		outcome.BonusPaid = true
	}

	now := e.now().UTC()
	e.mu.Lock()
	rec.resolving = false
	rec.AlignmentResolvedAt = &now
	rec.Alignment = alignment
	rec.BonusPaid = outcome.BonusPaid
	e.mu.Unlock()

	e.metrics.RecordAlignment(alignment)
	e.emitter.Emit(events.TypeAlignmentResolved, rec.TaskID, map[string]any{
		"taskId": rec.TaskID, "validator": rec.Validator,
		"alignment": alignment, "bonusPaid": outcome.BonusPaid, "slashed": outcome.Slashed,
	})
	return outcome, nil
}

// payAlignmentBonus pays the deferred share of the validator reward.
// While the task escrow is still held the bonus comes out of its
// remainder; if the escrow was already refunded (failed verdict whose
// review the human later agreed with), the marketplace reserve covers
// it.
func (e *Engine) payAlignmentBonus(rec *Record) error {
	bonus := rec.bonusDue
	if !bonus.IsPositive() {
		return nil
	}

	esc, ok := e.ledger.EscrowOf(rec.TaskID)
	if ok && esc.State == token.EscrowHeld {
		dist := map[string]token.Amount{rec.Validator: bonus}
		if esc.Remaining == bonus {
			_, err := e.ledger.Release(rec.TaskID, dist)
			return err
		}
		_, err := e.ledger.ReleasePartial(rec.TaskID, dist)
		return err
	}

	_, err := e.ledger.Transfer(e.ledger.Treasury(), rec.Validator, bonus,
		"alignment bonus: "+rec.TaskID)
	return err
}

// Record returns a copy of the verification record for a task.
func (e *Engine) Record(taskID string) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[taskID]
	if !ok || rec.pending {
		return Record{}, false
	}
	return *rec, true
}
