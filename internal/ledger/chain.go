package ledger

import (
	"time"

	"github.com/agenteconomy/backend/internal/events"
	"github.com/agenteconomy/backend/internal/token"
)

// ChainStatus is the result of a hash chain verification.
type ChainStatus struct {
	OK bool `json:"ok"`
	// FailedAtIndex is the index of the first transaction whose
	// PrevHash does not match the recomputed hash of its predecessor
	// (or 0 for a non-empty genesis PrevHash). Nil when OK.
	FailedAtIndex *int `json:"failedAtIndex"`
}

// VerifyChain recomputes, in order, the hash of each transaction and
// checks it matches the next entry's PrevHash. Runs in time linear in
// ledger length and does not modify any entry. Detecting a mismatch
// freezes the ledger: all further mutating operations fail with
// ErrChainCorrupted until the history is externally reconciled.
func (l *Ledger) VerifyChain() ChainStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	status := verifyChain(l.log)
	l.metrics.RecordChainVerification(status.OK)
	if !status.OK && !l.corrupted {
		l.corrupted = true
		l.logger.Error("hash chain verification failed",
			"failed_at_index", *status.FailedAtIndex)
		l.emitter.Emit(events.TypeChainCorrupted, "", map[string]any{
			"failedAtIndex": *status.FailedAtIndex,
		})
	}
	return status
}

func verifyChain(log []token.Transaction) ChainStatus {
	if len(log) == 0 {
		return ChainStatus{OK: true}
	}
	if log[0].PrevHash != "" {
		idx := 0
		return ChainStatus{FailedAtIndex: &idx}
	}
	for i := 1; i < len(log); i++ {
		if log[i].PrevHash != log[i-1].Hash() {
			idx := i
			return ChainStatus{FailedAtIndex: &idx}
		}
	}
	return ChainStatus{OK: true}
}

// replay rebuilds balances, escrows, and stakes from a persisted
// transaction log. The log is the single source of truth: escrow
// remainders and stake cooldowns come back exactly as they were when
// the process stopped. A log that fails chain verification is loaded
// read-only.
func (l *Ledger) replay(txs []token.Transaction) {
	if len(txs) == 0 {
		return
	}

	status := verifyChain(txs)
	if !status.OK {
		l.corrupted = true
		l.logger.Error("replayed ledger failed chain verification, loading frozen",
			"failed_at_index", *status.FailedAtIndex)
	}

	for i := range txs {
		l.apply(&txs[i])
	}
	l.log = txs
	l.lastHash = txs[len(txs)-1].Hash()
	l.updateEscrowGauge()
	l.updateStakeGauge()
	l.logger.Info("ledger replayed from store",
		"transactions", len(txs), "frozen", l.corrupted)
}

func (l *Ledger) apply(tx *token.Transaction) {
	switch tx.Kind {
	case token.TxMint:
		l.balances[tx.To] += tx.Amount

	case token.TxTransfer, token.TxFee:
		l.balances[tx.From] -= tx.Amount
		l.balances[tx.To] += tx.Amount

	case token.TxEscrow:
		l.balances[tx.From] -= tx.Amount
		l.escrows[tx.TaskID] = &token.EscrowRecord{
			TaskID:    tx.TaskID,
			Funder:    tx.From,
			Amount:    tx.Amount,
			Remaining: tx.Amount,
			CreatedAt: tx.Timestamp,
			State:     token.EscrowHeld,
		}

	case token.TxRelease:
		l.balances[tx.To] += tx.Amount
		if rec, ok := l.escrows[tx.TaskID]; ok {
			rec.Remaining -= tx.Amount
			if rec.Remaining <= 0 {
				rec.State = token.EscrowReleased
			}
		}

	case token.TxRefund:
		l.balances[tx.To] += tx.Amount
		if rec, ok := l.escrows[tx.TaskID]; ok {
			rec.Remaining = 0
			rec.State = token.EscrowRefunded
		}

	case token.TxStake:
		l.balances[tx.From] -= tx.Amount
		rec, ok := l.stakes[tx.From]
		if !ok {
			lockedAt, _ := time.Parse(time.RFC3339, tx.Timestamp)
			rec = &token.StakeRecord{Entity: tx.From, LockedAt: lockedAt}
			l.stakes[tx.From] = rec
		}
		rec.Amount += tx.Amount

	case token.TxUnstake:
		l.balances[tx.To] += tx.Amount
		delete(l.stakes, tx.To)

	case token.TxSlash:
		if rec, ok := l.stakes[tx.From]; ok {
			rec.Amount -= tx.Amount
			if ts, err := time.Parse(time.RFC3339, tx.Timestamp); err == nil {
				until := ts.Add(l.cooldown)
				rec.CooldownUntil = &until
			}
		}
		l.balances[tx.To] += tx.Amount
	}
}
