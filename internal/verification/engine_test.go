package verification

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenteconomy/backend/internal/config"
	"github.com/agenteconomy/backend/internal/ledger"
	"github.com/agenteconomy/backend/internal/token"
)

var testNow = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

// scoreMap is a fixed reputation table.
type scoreMap map[string]float64

func (m scoreMap) Score(agent string) float64 {
	if s, ok := m[agent]; ok {
		return s
	}
	return 50
}

// fixedVerdict returns the same verdict for every review.
type fixedVerdict token.Verdict

func (v fixedVerdict) Verify(_ *token.TaskSpec, _ *token.TaskResult) (*token.Verdict, error) {
	verdict := token.Verdict(v)
	return &verdict, nil
}

// failingValidator simulates a broken review capability.
type failingValidator struct{}

func (failingValidator) Verify(_ *token.TaskSpec, _ *token.TaskResult) (*token.Verdict, error) {
	return nil, errors.New("capability crashed")
}

// gatedVerdict parks inside Verify until released, so a test can
// overlap a second call with a review in flight.
type gatedVerdict struct {
	entered chan struct{}
	release chan struct{}
}

func (g gatedVerdict) Verify(_ *token.TaskSpec, _ *token.TaskResult) (*token.Verdict, error) {
	close(g.entered)
	<-g.release
	return &token.Verdict{Passed: true, QualityScore: 0.9}, nil
}

func newTestEngine(t *testing.T, scores scoreMap) (*Engine, *ledger.Ledger) {
	t.Helper()
	cfg := config.Default()
	l, err := ledger.New(ledger.Options{Config: cfg, Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	e := NewEngine(l, scores, cfg, nil, nil).WithClock(func() time.Time { return testNow })
	return e, l
}

func fundAndStake(t *testing.T, l *ledger.Ledger, entity string, stake float64) {
	t.Helper()
	_, err := l.Mint(entity, token.FromFloat(stake), "")
	require.NoError(t, err)
	_, err = l.Stake(entity, token.FromFloat(stake))
	require.NoError(t, err)
}

func reviewTask(t *testing.T) *token.TaskSpec {
	t.Helper()
	return &token.TaskSpec{
		ID:              "task-1",
		Type:            "code_review",
		FundedBy:        "funder",
		RewardAmount:    token.FromFloat(100),
		ValidatorReward: token.FromFloat(15),
	}
}

func escrowTask(t *testing.T, l *ledger.Ledger, task *token.TaskSpec) {
	t.Helper()
	_, err := l.Mint("funder", token.FromFloat(200), "")
	require.NoError(t, err)
	_, err = l.Escrow("funder", task.TotalEscrow(), task.ID)
	require.NoError(t, err)
}

func TestSelectValidator(t *testing.T) {
	scores := scoreMap{"v-high": 80, "v-low": 60, "v-weak": 10}
	e, l := newTestEngine(t, scores)

	registered := testNow.AddDate(0, -1, 0)
	candidates := []Candidate{
		{ID: "executor", Capabilities: []string{"code_review"}, RegisteredAt: registered},
		{ID: "v-high", Capabilities: []string{"code_review"}, RegisteredAt: registered},
		{ID: "v-low", Capabilities: []string{"code_review"}, RegisteredAt: registered},
		{ID: "v-weak", Capabilities: []string{"code_review"}, RegisteredAt: registered},
		{ID: "v-wrong-cap", Capabilities: []string{"translation"}, RegisteredAt: registered},
		{ID: "v-unstaked", Capabilities: []string{"code_review"}, RegisteredAt: registered},
	}
	for _, id := range []string{"v-high", "v-low", "v-weak", "v-wrong-cap", "executor"} {
		fundAndStake(t, l, id, 50)
	}

	chosen, err := e.SelectValidator(candidates, "executor", "code_review")
	require.NoError(t, err)
	assert.Equal(t, "v-high", chosen.ID)

	// The executor never reviews its own work, whatever its score.
	scores["executor"] = 99
	chosen, err = e.SelectValidator(candidates, "executor", "code_review")
	require.NoError(t, err)
	assert.Equal(t, "v-high", chosen.ID)
}

func TestSelectValidatorTieBreaks(t *testing.T) {
	scores := scoreMap{"v-a": 70, "v-b": 70, "v-c": 70}
	e, l := newTestEngine(t, scores)

	early := testNow.AddDate(0, -6, 0)
	late := testNow.AddDate(0, -1, 0)
	candidates := []Candidate{
		{ID: "v-c", Capabilities: []string{"code_review"}, RegisteredAt: late},
		{ID: "v-b", Capabilities: []string{"code_review"}, RegisteredAt: early},
		{ID: "v-a", Capabilities: []string{"code_review"}, RegisteredAt: early},
	}
	for _, c := range candidates {
		fundAndStake(t, l, c.ID, 50)
	}

	// Equal scores: earliest registration wins, then lexicographic ID.
	chosen, err := e.SelectValidator(candidates, "executor", "code_review")
	require.NoError(t, err)
	assert.Equal(t, "v-a", chosen.ID)
}

func TestSelectValidatorNoneEligible(t *testing.T) {
	e, l := newTestEngine(t, scoreMap{})
	fundAndStake(t, l, "v-cooled", 50)
	_, err := l.Slash("v-cooled", "prior misalignment", "")
	require.NoError(t, err)

	candidates := []Candidate{
		{ID: "v-cooled", Capabilities: []string{"code_review"}},
	}
	_, err = e.SelectValidator(candidates, "executor", "code_review")
	assert.ErrorIs(t, err, token.ErrNoEligibleValidator)
}

func TestReviewPaysBaseRegardlessOfVerdict(t *testing.T) {
	e, l := newTestEngine(t, scoreMap{})
	task := reviewTask(t)
	escrowTask(t, l, task)

	rec, err := e.Review(task, &token.TaskResult{TaskID: task.ID, Agent: "agent-1"},
		"validator-1", fixedVerdict{Passed: false, QualityScore: 0.3, Feedback: "wrong output"})
	require.NoError(t, err)
	assert.False(t, rec.Passed)

	// Base pay is 70% of the 15 AGN validator reward.
	assert.Equal(t, token.FromFloat(10.50), l.Balance("validator-1"))

	esc, ok := l.EscrowOf(task.ID)
	require.True(t, ok)
	assert.Equal(t, token.EscrowHeld, esc.State)
	assert.Equal(t, token.FromFloat(104.50), esc.Remaining)

	// Failed verdict: the rest goes back to the funder.
	_, err = l.Refund(task.ID)
	require.NoError(t, err)
	assert.Equal(t, token.FromFloat(189.50), l.Balance("funder"))
}

func TestReviewMinQualityDowngrade(t *testing.T) {
	e, l := newTestEngine(t, scoreMap{})
	task := reviewTask(t)
	task.MinQuality = 0.7
	escrowTask(t, l, task)

	rec, err := e.Review(task, &token.TaskResult{TaskID: task.ID},
		"validator-1", fixedVerdict{Passed: true, QualityScore: 0.5, Feedback: "looks fine"})
	require.NoError(t, err)

	assert.False(t, rec.Passed)
	assert.Equal(t, 0.5, rec.QualityScore)
	assert.Contains(t, rec.Feedback, "below task minimum")
	assert.Contains(t, rec.Feedback, "looks fine")
}

func TestReviewDuplicate(t *testing.T) {
	e, l := newTestEngine(t, scoreMap{})
	task := reviewTask(t)
	escrowTask(t, l, task)

	_, err := e.Review(task, &token.TaskResult{TaskID: task.ID},
		"validator-1", fixedVerdict{Passed: true, QualityScore: 0.9})
	require.NoError(t, err)

	_, err = e.Review(task, &token.TaskResult{TaskID: task.ID},
		"validator-2", fixedVerdict{Passed: true, QualityScore: 0.9})
	assert.ErrorContains(t, err, "already reviewed")
}

func TestConcurrentReviewsPayBaseOnce(t *testing.T) {
	e, l := newTestEngine(t, scoreMap{})
	task := reviewTask(t)
	escrowTask(t, l, task)

	gate := gatedVerdict{entered: make(chan struct{}), release: make(chan struct{})}
	done := make(chan error, 1)
	go func() {
		_, err := e.Review(task, &token.TaskResult{TaskID: task.ID}, "validator-1", gate)
		done <- err
	}()
	<-gate.entered

	// A second review while the first is still inside the capability
	// must bounce off the reservation, not draw a second base payment.
	_, err := e.Review(task, &token.TaskResult{TaskID: task.ID},
		"validator-2", fixedVerdict{Passed: true, QualityScore: 0.9})
	assert.ErrorContains(t, err, "already reviewed")

	close(gate.release)
	require.NoError(t, <-done)

	esc, ok := l.EscrowOf(task.ID)
	require.True(t, ok)
	assert.Equal(t, token.FromFloat(104.50), esc.Remaining)
	assert.Equal(t, token.FromFloat(10.50), l.Balance("validator-1"))
	assert.Equal(t, token.Zero, l.Balance("validator-2"))
}

func TestReviewValidatorFailure(t *testing.T) {
	e, l := newTestEngine(t, scoreMap{})
	task := reviewTask(t)
	escrowTask(t, l, task)

	_, err := e.Review(task, &token.TaskResult{TaskID: task.ID}, "validator-1", failingValidator{})
	assert.ErrorContains(t, err, "capability failed")

	// No record, no payment.
	_, ok := e.Record(task.ID)
	assert.False(t, ok)
	assert.Equal(t, token.Zero, l.Balance("validator-1"))

	// The failed attempt does not hold the task; a retry reviews it.
	_, err = e.Review(task, &token.TaskResult{TaskID: task.ID},
		"validator-2", fixedVerdict{Passed: true, QualityScore: 0.9})
	require.NoError(t, err)
}

func TestResolveAligned(t *testing.T) {
	e, l := newTestEngine(t, scoreMap{})
	task := reviewTask(t)
	escrowTask(t, l, task)

	_, err := e.Review(task, &token.TaskResult{TaskID: task.ID},
		"validator-1", fixedVerdict{Passed: true, QualityScore: 0.9})
	require.NoError(t, err)

	outcome, err := e.ResolveAlignment(task.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, AlignmentAligned, outcome.Alignment)
	assert.True(t, outcome.BonusPaid)
	assert.False(t, outcome.Slashed)

	// Base 10.50 plus the 30% alignment bonus 4.50.
	assert.Equal(t, token.FromFloat(15), l.Balance("validator-1"))

	// Resolved exactly once.
	_, err = e.ResolveAlignment(task.ID, 5)
	assert.ErrorIs(t, err, token.ErrAlreadyResolved)
}

func TestConcurrentResolutionSettlesOnce(t *testing.T) {
	e, l := newTestEngine(t, scoreMap{})
	task := reviewTask(t)
	escrowTask(t, l, task)

	_, err := e.Review(task, &token.TaskResult{TaskID: task.ID},
		"validator-1", fixedVerdict{Passed: true, QualityScore: 0.9})
	require.NoError(t, err)

	start := make(chan struct{})
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			_, err := e.ResolveAlignment(task.ID, 5)
			errs <- err
		}()
	}
	close(start)

	var settled int
	for i := 0; i < 2; i++ {
		if err := <-errs; err == nil {
			settled++
		} else {
			assert.ErrorIs(t, err, token.ErrAlreadyResolved)
		}
	}
	assert.Equal(t, 1, settled)

	// One bonus, not two: base 10.50 plus a single 4.50.
	assert.Equal(t, token.FromFloat(15), l.Balance("validator-1"))
}

func TestResolutionRetriesAfterPaymentFailure(t *testing.T) {
	e, l := newTestEngine(t, scoreMap{})
	task := reviewTask(t)
	escrowTask(t, l, task)

	_, err := e.Review(task, &token.TaskResult{TaskID: task.ID},
		"validator-1", fixedVerdict{Passed: false, QualityScore: 0.2})
	require.NoError(t, err)
	_, err = l.Refund(task.ID)
	require.NoError(t, err)

	// The reserve is empty, so the aligned bonus cannot be paid yet.
	_, err = e.ResolveAlignment(task.ID, 1)
	require.Error(t, err)

	// A failed settlement leaves the record unresolved; a funded retry
	// lands.
	_, err = l.Mint("marketplace", token.FromFloat(50), "reserve")
	require.NoError(t, err)
	outcome, err := e.ResolveAlignment(task.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, AlignmentAligned, outcome.Alignment)
	assert.True(t, outcome.BonusPaid)
	assert.Equal(t, token.FromFloat(15), l.Balance("validator-1"))
}

func TestResolveAlignedOnRejection(t *testing.T) {
	e, l := newTestEngine(t, scoreMap{})
	task := reviewTask(t)
	escrowTask(t, l, task)

	_, err := e.Review(task, &token.TaskResult{TaskID: task.ID},
		"validator-1", fixedVerdict{Passed: false, QualityScore: 0.2})
	require.NoError(t, err)

	// Failed verdict: remainder refunded before the human weighs in.
	_, err = l.Refund(task.ID)
	require.NoError(t, err)

	// The human agreed the work was bad; the bonus comes from the
	// marketplace reserve since the escrow is gone.
	_, err = l.Mint("marketplace", token.FromFloat(50), "reserve")
	require.NoError(t, err)

	outcome, err := e.ResolveAlignment(task.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, AlignmentAligned, outcome.Alignment)
	assert.True(t, outcome.BonusPaid)
	assert.Equal(t, token.FromFloat(15), l.Balance("validator-1"))
	assert.Equal(t, token.FromFloat(45.50), l.Balance("marketplace"))
}

func TestResolveMisaligned(t *testing.T) {
	e, l := newTestEngine(t, scoreMap{})
	task := reviewTask(t)
	escrowTask(t, l, task)
	fundAndStake(t, l, "validator-1", 50)

	_, err := e.Review(task, &token.TaskResult{TaskID: task.ID},
		"validator-1", fixedVerdict{Passed: true, QualityScore: 0.9})
	require.NoError(t, err)

	// Validator approved, human hated it.
	outcome, err := e.ResolveAlignment(task.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, AlignmentMisaligned, outcome.Alignment)
	assert.True(t, outcome.Slashed)
	assert.False(t, outcome.BonusPaid)

	// 20% of the 50 AGN stake is gone and the cooldown is running.
	stake, ok := l.StakeOf("validator-1")
	require.True(t, ok)
	assert.Equal(t, token.FromFloat(40), stake.Amount)
	assert.True(t, stake.InCooldown(testNow))
	assert.False(t, l.StakeEligible("validator-1"))

	// The validator keeps only the base payment; the withheld bonus and
	// the unclaimed reward went back to the funder.
	assert.Equal(t, token.FromFloat(10.50), l.Balance("validator-1"))
	assert.Equal(t, token.FromFloat(189.50), l.Balance("funder"))
}

func TestResolveMisalignedWithoutStake(t *testing.T) {
	e, l := newTestEngine(t, scoreMap{})
	task := reviewTask(t)
	escrowTask(t, l, task)

	_, err := e.Review(task, &token.TaskResult{TaskID: task.ID},
		"validator-1", fixedVerdict{Passed: true, QualityScore: 0.9})
	require.NoError(t, err)

	// No stake to slash: the resolution still lands and the escrow
	// still refunds.
	outcome, err := e.ResolveAlignment(task.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, AlignmentMisaligned, outcome.Alignment)
	assert.False(t, outcome.Slashed)
	assert.Equal(t, token.FromFloat(189.50), l.Balance("funder"))
}

func TestResolveUnrated(t *testing.T) {
	e, l := newTestEngine(t, scoreMap{})
	task := reviewTask(t)
	escrowTask(t, l, task)

	_, err := e.Review(task, &token.TaskResult{TaskID: task.ID},
		"validator-1", fixedVerdict{Passed: true, QualityScore: 0.9})
	require.NoError(t, err)

	// Default policy pays the benefit of the doubt.
	outcome, err := e.ResolveUnrated(task.ID)
	require.NoError(t, err)
	assert.Equal(t, AlignmentUnrated, outcome.Alignment)
	assert.True(t, outcome.BonusPaid)
	assert.Equal(t, token.FromFloat(15), l.Balance("validator-1"))
}

func TestResolveUnratedWithheld(t *testing.T) {
	cfg := config.Default()
	cfg.Verification.PayUnratedBonus = false
	l, err := ledger.New(ledger.Options{Config: cfg, Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	e := NewEngine(l, scoreMap{}, cfg, nil, nil).WithClock(func() time.Time { return testNow })

	task := reviewTask(t)
	escrowTask(t, l, task)

	_, err = e.Review(task, &token.TaskResult{TaskID: task.ID},
		"validator-1", fixedVerdict{Passed: true, QualityScore: 0.9})
	require.NoError(t, err)

	outcome, err := e.ResolveUnrated(task.ID)
	require.NoError(t, err)
	assert.False(t, outcome.BonusPaid)
	assert.Equal(t, token.FromFloat(10.50), l.Balance("validator-1"))
}

func TestResolveValidation(t *testing.T) {
	e, _ := newTestEngine(t, scoreMap{})

	_, err := e.ResolveAlignment("task-1", 0)
	assert.ErrorContains(t, err, "out of range")
	_, err = e.ResolveAlignment("task-1", 6)
	assert.ErrorContains(t, err, "out of range")
	_, err = e.ResolveAlignment("no-such-task", 5)
	assert.ErrorContains(t, err, "no verification record")
}
