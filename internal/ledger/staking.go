package ledger

import (
	"time"

	"github.com/agenteconomy/backend/internal/events"
	"github.com/agenteconomy/backend/internal/token"
)

// Stake locks tokens as validator collateral. The entity's balance is
// debited and the stake record created or increased.
func (l *Ledger) Stake(entity string, amount token.Amount) (*token.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkMutable(); err != nil {
		return nil, err
	}
	if err := l.debit(entity, amount); err != nil {
		return nil, err
	}

	tx := l.append(token.TxStake, entity, "", amount, "validator stake", "")
	rec, ok := l.stakes[entity]
	if !ok {
		rec = &token.StakeRecord{Entity: entity, LockedAt: l.now().UTC()}
		l.stakes[entity] = rec
	}
	rec.Amount += amount
	l.updateStakeGauge()
	l.emitter.Emit(events.TypeStaked, entity, map[string]any{
		"entity": entity, "amount": amount.Float(), "total": rec.Amount.Float(),
	})
	return tx, nil
}

// Unstake returns the full stake to the entity's balance and deletes
// the record. Rejected while a post-slash cooldown is running.
func (l *Ledger) Unstake(entity string) (*token.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkMutable(); err != nil {
		return nil, err
	}
	rec, ok := l.stakes[entity]
	if !ok || rec.Amount <= 0 {
		return nil, &token.NoActiveStakeError{Entity: entity}
	}
	if rec.InCooldown(l.now()) {
		return nil, &token.CooldownActiveError{
			Entity: entity,
			Until:  rec.CooldownUntil.UTC().Format(time.RFC3339),
		}
	}

	amount := rec.Amount
	l.balances[entity] += amount
	delete(l.stakes, entity)
	tx := l.append(token.TxUnstake, "", entity, amount, "validator unstake", "")
	l.updateStakeGauge()
	l.emitter.Emit(events.TypeUnstaked, entity, map[string]any{
		"entity": entity, "amount": amount.Float(),
	})
	return tx, nil
}

// Slash reduces the entity's current stake by the configured percent,
// credits the slashed amount to the marketplace reserve, and starts
// the cooldown window. The percentage always applies to the current
// stake, so repeated slashes decay it geometrically.
func (l *Ledger) Slash(entity, reason, taskID string) (*token.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkMutable(); err != nil {
		return nil, err
	}
	rec, ok := l.stakes[entity]
	if !ok || rec.Amount <= 0 {
		return nil, &token.NoActiveStakeError{Entity: entity}
	}

	slashAmount := rec.Amount.MulFrac(l.slashFrac)
	if slashAmount <= 0 {
		slashAmount = 1 // minimum slash: one hundredth of an AGN
	}

	rec.Amount -= slashAmount
	until := l.now().UTC().Add(l.cooldown)
	rec.CooldownUntil = &until
	l.balances[l.treasury] += slashAmount

	memo := "validator slash"
	if reason != "" {
		memo = "slash: " + reason
	}
	tx := l.append(token.TxSlash, entity, l.treasury, slashAmount, memo, taskID)
	l.metrics.RecordSlash()
	l.updateStakeGauge()
	l.logger.Warn("validator slashed",
		"entity", entity, "amount", slashAmount.String(), "reason", reason, "task_id", taskID)
	l.emitter.Emit(events.TypeSlashed, entity, map[string]any{
		"entity": entity, "amount": slashAmount.Float(), "reason": reason, "taskId": taskID,
	})
	return tx, nil
}

// StakeOf returns a copy of the entity's stake record, if any.
func (l *Ledger) StakeOf(entity string) (token.StakeRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.stakes[entity]
	if !ok {
		return token.StakeRecord{}, false
	}
	return *rec, true
}

// Stakes returns a copy of all stake records.
func (l *Ledger) Stakes() map[string]token.StakeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]token.StakeRecord, len(l.stakes))
	for k, v := range l.stakes {
		out[k] = *v
	}
	return out
}

// StakeEligible reports whether the entity holds at least the required
// stake and is not in cooldown.
func (l *Ledger) StakeEligible(entity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.stakes[entity]
	if !ok {
		return false
	}
	return rec.Amount >= l.stakeRequired && !rec.InCooldown(l.now())
}

func (l *Ledger) updateStakeGauge() {
	var total token.Amount
	for _, rec := range l.stakes {
		total += rec.Amount
	}
	l.metrics.SetStakeTotal(total.Float())
}
