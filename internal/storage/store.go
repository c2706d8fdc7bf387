// Package storage persists the append-only transaction log. Because
// the ledger is deterministic, the log alone is enough to rebuild
// balances, escrows, and stakes on restart.
package storage

import (
	"github.com/agenteconomy/backend/internal/token"
)

// Store is the durable sink for ledger transactions. Append must be
// durable before it returns; LoadAll returns entries in append order.
type Store interface {
	Append(tx *token.Transaction) error
	LoadAll() ([]token.Transaction, error)
	Close() error
}

// MemStore keeps transactions in memory. Used in tests and anywhere
// durability is not wanted.
type MemStore struct {
	txs []token.Transaction
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (m *MemStore) Append(tx *token.Transaction) error {
	m.txs = append(m.txs, *tx)
	return nil
}

func (m *MemStore) LoadAll() ([]token.Transaction, error) {
	out := make([]token.Transaction, len(m.txs))
	copy(out, m.txs)
	return out, nil
}

func (m *MemStore) Close() error { return nil }
