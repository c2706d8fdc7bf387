package ledger

import (
	"github.com/agenteconomy/backend/internal/token"
)

// Balance returns the entity's current balance (zero for unknowns).
func (l *Ledger) Balance(entity string) token.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[entity]
}

// Balances returns a copy of all entity balances.
func (l *Ledger) Balances() map[string]token.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]token.Amount, len(l.balances))
	for k, v := range l.balances {
		out[k] = v
	}
	return out
}

// EscrowOf returns a copy of the task's escrow record, if any.
func (l *Ledger) EscrowOf(taskID string) (token.EscrowRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.escrows[taskID]
	if !ok {
		return token.EscrowRecord{}, false
	}
	return *rec, true
}

// Transactions returns recent ledger entries, most recent first,
// optionally filtered to those involving the given entity. A limit of
// zero or less means 100.
func (l *Ledger) Transactions(entity string, limit int) []token.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	src := l.log
	if entity != "" {
		filtered := make([]token.Transaction, 0)
		for _, tx := range src {
			if tx.From == entity || tx.To == entity {
				filtered = append(filtered, tx)
			}
		}
		src = filtered
	}

	if len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]token.Transaction, len(src))
	for i, tx := range src {
		out[len(src)-1-i] = tx
	}
	return out
}

// Len returns the number of ledger entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.log)
}
