package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/agenteconomy/backend/internal/events"
	"github.com/agenteconomy/backend/internal/token"
)

// Mint creates tokens out of thin air and credits them to entity.
func (l *Ledger) Mint(entity string, amount token.Amount, memo string) (*token.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkMutable(); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, &token.InvalidAmountError{Amount: amount}
	}

	l.balances[entity] += amount
	tx := l.append(token.TxMint, "", entity, amount, memo, "")
	l.emitter.Emit(events.TypeMinted, entity, map[string]any{
		"entity": entity, "amount": amount.Float(),
	})
	return tx, nil
}

// Transfer moves tokens between two entities.
func (l *Ledger) Transfer(from, to string, amount token.Amount, memo string) (*token.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkMutable(); err != nil {
		return nil, err
	}
	if err := l.debit(from, amount); err != nil {
		return nil, err
	}
	l.balances[to] += amount
	tx := l.append(token.TxTransfer, from, to, amount, memo, "")
	l.emitter.Emit(events.TypeTransferred, to, map[string]any{
		"from": from, "to": to, "amount": amount.Float(),
	})
	return tx, nil
}

// Escrow locks tokens against a task: the funder is debited and a held
// EscrowRecord is created, atomically with the ledger append. A task
// may have at most one live escrow.
func (l *Ledger) Escrow(funder string, amount token.Amount, taskID string) (*token.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkMutable(); err != nil {
		return nil, err
	}
	if rec, ok := l.escrows[taskID]; ok && rec.State == token.EscrowHeld {
		return nil, &token.DuplicateEscrowError{TaskID: taskID}
	}
	if err := l.debit(funder, amount); err != nil {
		return nil, err
	}

	tx := l.append(token.TxEscrow, funder, "", amount, "task:"+taskID, taskID)
	l.escrows[taskID] = &token.EscrowRecord{
		TaskID:    taskID,
		Funder:    funder,
		Amount:    amount,
		Remaining: amount,
		CreatedAt: tx.Timestamp,
		State:     token.EscrowHeld,
	}
	l.updateEscrowGauge()
	l.emitter.Emit(events.TypeEscrowHeld, taskID, map[string]any{
		"funder": funder, "amount": amount.Float(), "taskId": taskID,
	})
	return tx, nil
}

// Release distributes the full remaining escrow across the given
// destinations and marks the record released. The distribution must
// sum exactly to the remainder; each destination gets its own release
// transaction sharing the task tag, so every share is independently
// traceable.
func (l *Ledger) Release(taskID string, distributions map[string]token.Amount) ([]*token.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked(taskID, distributions, true)
}

// ReleasePartial pays out part of a held escrow (e.g. the validator's
// base payment) while keeping the record live for the rest.
func (l *Ledger) ReleasePartial(taskID string, distributions map[string]token.Amount) ([]*token.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked(taskID, distributions, false)
}

func (l *Ledger) releaseLocked(taskID string, distributions map[string]token.Amount, terminal bool) ([]*token.Transaction, error) {
	if err := l.checkMutable(); err != nil {
		return nil, err
	}
	rec, ok := l.escrows[taskID]
	if !ok {
		return nil, &token.EscrowNotFoundError{TaskID: taskID}
	}
	if rec.State != token.EscrowHeld {
		return nil, &token.EscrowResolvedError{TaskID: taskID, State: rec.State}
	}

	var total token.Amount
	for dest, amt := range distributions {
		if !amt.IsPositive() {
			return nil, &token.InvalidAmountError{Amount: amt}
		}
		if dest == "" {
			return nil, fmt.Errorf("release for task %s: empty destination", taskID)
		}
		total += amt
	}
	if terminal && total != rec.Remaining {
		return nil, &token.SplitMismatchError{TaskID: taskID, Expected: rec.Remaining, Got: total}
	}
	if !terminal && total > rec.Remaining {
		return nil, &token.SplitMismatchError{TaskID: taskID, Expected: rec.Remaining, Got: total}
	}

	// Validation done: apply every credit and append every entry
	// before the lock is released.
	txs := make([]*token.Transaction, 0, len(distributions))
	for _, dest := range sortedKeys(distributions) {
		amt := distributions[dest]
		l.balances[dest] += amt
		txs = append(txs, l.append(token.TxRelease, "", dest, amt, "task:"+taskID, taskID))
	}
	rec.Remaining -= total
	if rec.Remaining == 0 {
		rec.State = token.EscrowReleased
	}
	l.updateEscrowGauge()
	l.emitter.Emit(events.TypeEscrowReleased, taskID, map[string]any{
		"taskId": taskID, "amount": total.Float(), "terminal": rec.State == token.EscrowReleased,
	})
	return txs, nil
}

// Refund returns the full remaining escrow to the funder and marks the
// record refunded.
func (l *Ledger) Refund(taskID string) (*token.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkMutable(); err != nil {
		return nil, err
	}
	rec, ok := l.escrows[taskID]
	if !ok {
		return nil, &token.EscrowNotFoundError{TaskID: taskID}
	}
	if rec.State != token.EscrowHeld {
		return nil, &token.EscrowResolvedError{TaskID: taskID, State: rec.State}
	}

	amount := rec.Remaining
	l.balances[rec.Funder] += amount
	rec.Remaining = 0
	rec.State = token.EscrowRefunded
	tx := l.append(token.TxRefund, "", rec.Funder, amount, "task:"+taskID, taskID)
	l.updateEscrowGauge()
	l.emitter.Emit(events.TypeEscrowRefunded, taskID, map[string]any{
		"taskId": taskID, "funder": rec.Funder, "amount": amount.Float(),
	})
	return tx, nil
}

// debit checks and applies a balance reduction. Must be called with
// the lock held.
func (l *Ledger) debit(entity string, amount token.Amount) error {
	if !amount.IsPositive() {
		return &token.InvalidAmountError{Amount: amount}
	}
	available := l.balances[entity]
	if available < amount {
		return &token.InsufficientBalanceError{Entity: entity, Required: amount, Available: available}
	}
	l.balances[entity] = available - amount
	return nil
}

// append creates a hash-chained transaction, adds it to the in-memory
// log, and persists it. A store failure freezes the ledger: the
// durable log and memory may no longer agree, which is the one state
// this process cannot repair on its own.
func (l *Ledger) append(kind token.TxKind, from, to string, amount token.Amount, memo, taskID string) *token.Transaction {
	tx := token.Transaction{
		ID:        token.NewTxID(kind),
		Kind:      kind,
		From:      from,
		To:        to,
		Amount:    amount,
		Memo:      memo,
		TaskID:    taskID,
		Timestamp: l.now().UTC().Format(time.RFC3339),
		PrevHash:  l.lastHash,
	}
	l.log = append(l.log, tx)
	l.lastHash = tx.Hash()
	l.metrics.RecordTransaction(string(kind))

	if l.store != nil {
		if err := l.store.Append(&tx); err != nil {
			l.logger.Error("ledger store append failed, freezing ledger",
				"tx_id", tx.ID, "error", err)
			l.corrupted = true
		}
	}
	return &tx
}

func (l *Ledger) checkMutable() error {
	if l.corrupted {
		return token.ErrChainCorrupted
	}
	return nil
}

func (l *Ledger) updateEscrowGauge() {
	var held token.Amount
	for _, rec := range l.escrows {
		if rec.State == token.EscrowHeld {
			held += rec.Remaining
		}
	}
	l.metrics.SetEscrowHeld(held.Float())
}

func sortedKeys(m map[string]token.Amount) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
