// Package reward turns an escrowed task reward into the concrete
// transfer plan that realizes the split policy: owner and agent
// shares, the provenance royalty cascade, the marketplace fee
// remainder, and the quality bonus. It is a pure calculation layer;
// its only side effects are the ledger release calls it issues.
package reward

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/agenteconomy/backend/internal/config"
	"github.com/agenteconomy/backend/internal/events"
	"github.com/agenteconomy/backend/internal/ledger"
	"github.com/agenteconomy/backend/internal/token"
)

// SplitPolicy is an agent's reward split configuration. The fractions
// must be non-negative and sum to at most 1; the remainder is the
// marketplace fee.
type SplitPolicy struct {
	Owner      float64
	Agent      float64
	Provenance float64
}

// Validate rejects negative fractions or a sum above 1.
func (p SplitPolicy) Validate() error {
	if p.Owner < 0 || p.Agent < 0 || p.Provenance < 0 {
		return &token.SplitPolicyError{Reason: "negative split fraction"}
	}
	if sum := p.Owner + p.Agent + p.Provenance; sum > 1+1e-9 {
		return &token.SplitPolicyError{
			Reason: fmt.Sprintf("split fractions sum to %.4f (> 1)", sum),
		}
	}
	return nil
}

// Request carries everything Distribute needs for one task.
type Request struct {
	Task   *token.TaskSpec
	Agent  string // earning agent's treasury entity
	Owner  string // agent owner's entity
	Policy SplitPolicy
	Graph  *Graph
	// QualityScore from the verification verdict; drives the bonus.
	QualityScore float64
}

// Outcome reports the applied distributions.
type Outcome struct {
	Distributions      map[string]token.Amount
	BonusDistributions map[string]token.Amount
	BonusApplied       bool
}

// Engine computes and issues reward distributions over the Ledger's
// escrow primitives.
type Engine struct {
	ledger  *ledger.Ledger
	emitter events.Emitter
	logger  *slog.Logger

	treasury       string
	maxDepth       int
	decay          float64
	maxRoyaltyAge  time.Duration
	bonusThreshold float64
	now            func() time.Time
}

// NewEngine builds a reward engine over the given ledger.
func NewEngine(l *ledger.Ledger, cfg *config.Config, emitter events.Emitter) *Engine {
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &Engine{
		ledger:         l,
		emitter:        emitter,
		logger:         slog.Default().With("component", "reward"),
		treasury:       cfg.Marketplace.Treasury,
		maxDepth:       cfg.Provenance.MaxDepth,
		decay:          cfg.Provenance.RoyaltyDecay,
		maxRoyaltyAge:  time.Duration(cfg.Provenance.MaxRoyaltyAgeDays) * 24 * time.Hour,
		bonusThreshold: cfg.Verification.QualityBonusThreshold,
		now:            time.Now,
	}
}

// WithClock overrides the engine's clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Plan computes the full distribution for a reward amount without
// touching the ledger. The four shares always sum exactly to the
// reward: a positive rounding remainder from fixed-point division
// lands in the marketplace share, an overshoot comes off the largest
// share.
func (e *Engine) Plan(req Request, reward token.Amount) (map[string]token.Amount, error) {
	if err := req.Policy.Validate(); err != nil {
		return nil, err
	}

	plan := make(map[string]token.Amount)
	distributed := token.Zero

	ownerShare := reward.MulFrac(req.Policy.Owner)
	if ownerShare > 0 {
		plan[req.Owner] += ownerShare
		distributed += ownerShare
	}
	agentShare := reward.MulFrac(req.Policy.Agent)
	if agentShare > 0 {
		plan[req.Agent] += agentShare
		distributed += agentShare
	}

	provShare := reward.MulFrac(req.Policy.Provenance)
	if provShare > 0 {
		cutoff := e.now().Add(-e.maxRoyaltyAge)
		lineage := req.Graph.Lineage(req.Agent, e.maxDepth, cutoff)
		if len(lineage) == 0 {
			// No surviving ancestor: the whole provenance share goes
			// to the marketplace reserve.
			plan[e.treasury] += provShare
			distributed += provShare
		} else {
			var totalWeight float64
			weights := make([]float64, len(lineage))
			for i := range lineage {
				weights[i] = math.Pow(e.decay, float64(i))
				totalWeight += weights[i]
			}
			for i, ancestor := range lineage {
				share := provShare.MulFrac(weights[i] / totalWeight)
				if share > 0 {
					plan[ancestor] += share
					distributed += share
				}
			}
		}
	}

	// Rounding each share half away from zero can overshoot the reward
	// by a hundredth or two on tiny amounts. Claw the overage back from
	// the largest share so the plan still sums exactly to the reward.
	for distributed > reward {
		key := largestShare(plan)
		if key == "" {
			break
		}
		take := distributed - reward
		if plan[key] < take {
			take = plan[key]
		}
		plan[key] -= take
		distributed -= take
		if plan[key] == token.Zero {
			delete(plan, key)
		}
	}

	// Marketplace fee: everything the agent-level splits did not carve
	// out, plus any rounding remainder.
	if fee := reward - distributed; fee > 0 {
		plan[e.treasury] += fee
	}
	return plan, nil
}

// largestShare returns the plan entry holding the most, ties broken by
// key, so clawbacks are reproducible.
func largestShare(plan map[string]token.Amount) string {
	var best string
	for k, v := range plan {
		if best == "" || v > plan[best] || (v == plan[best] && k < best) {
			best = k
		}
	}
	return best
}

// Distribute computes the transfer plan for the task's reward and
// issues it as a single release against the task escrow. If the
// quality score clears the bonus threshold and the task defines a
// bonus amount, the funder is charged for the bonus through a second
// escrow/release cycle under the same split policy.
func (e *Engine) Distribute(req Request) (*Outcome, error) {
	task := req.Task
	plan, err := e.Plan(req, task.RewardAmount)
	if err != nil {
		return nil, err
	}

	if _, err := e.ledger.ReleasePartial(task.ID, plan); err != nil {
		return nil, err
	}

	outcome := &Outcome{Distributions: plan}
	e.emitter.Emit(events.TypeRewardDistributed, task.ID, map[string]any{
		"taskId": task.ID, "amount": task.RewardAmount.Float(), "shares": len(plan),
	})

	if req.QualityScore > e.bonusThreshold && task.QualityBonus.IsPositive() {
		bonusPlan, err := e.distributeBonus(req)
		if err != nil {
			// The main distribution already applied; the bonus failing
			// (typically InsufficientBalance on the funder) is its own
			// recoverable outcome.
			e.logger.Warn("quality bonus not applied",
				"task_id", task.ID, "error", err)
			return outcome, err
		}
		outcome.BonusDistributions = bonusPlan
		outcome.BonusApplied = true
	}
	return outcome, nil
}

// distributeBonus charges the funder the bonus amount and reapplies
// the split policy to it, as its own escrow/release cycle so each
// bonus share stays independently traceable in the ledger.
func (e *Engine) distributeBonus(req Request) (map[string]token.Amount, error) {
	task := req.Task
	bonusTaskID := task.ID + ":bonus"

	plan, err := e.Plan(req, task.QualityBonus)
	if err != nil {
		return nil, err
	}
	if _, err := e.ledger.Escrow(task.FundedBy, task.QualityBonus, bonusTaskID); err != nil {
		return nil, err
	}
	if _, err := e.ledger.Release(bonusTaskID, plan); err != nil {
		return nil, err
	}

	e.logger.Info("quality bonus distributed",
		"task_id", task.ID, "bonus", task.QualityBonus.String())
	return plan, nil
}
