package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/agenteconomy/backend/internal/token"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS ledger_transactions (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	kind       TEXT NOT NULL,
	from_id    TEXT NOT NULL DEFAULT '',
	to_id      TEXT NOT NULL DEFAULT '',
	amount     BIGINT NOT NULL,
	memo       TEXT NOT NULL DEFAULT '',
	task_id    TEXT NOT NULL DEFAULT '',
	ts         TEXT NOT NULL,
	prev_hash  TEXT NOT NULL DEFAULT ''
)`

// PostgresStore archives the transaction log in Postgres. Amounts are
// stored as int64 hundredths to keep the fixed-point representation
// exact.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects with the given DSN and ensures the ledger
// table exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure ledger table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Append(tx *token.Transaction) error {
	_, err := s.db.Exec(
		`INSERT INTO ledger_transactions
		 (id, kind, from_id, to_id, amount, memo, task_id, ts, prev_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tx.ID, string(tx.Kind), tx.From, tx.To, int64(tx.Amount),
		tx.Memo, tx.TaskID, tx.Timestamp, tx.PrevHash,
	)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadAll() ([]token.Transaction, error) {
	rows, err := s.db.Query(
		`SELECT id, kind, from_id, to_id, amount, memo, task_id, ts, prev_hash
		 FROM ledger_transactions ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []token.Transaction
	for rows.Next() {
		var tx token.Transaction
		var kind string
		var amount int64
		if err := rows.Scan(&tx.ID, &kind, &tx.From, &tx.To, &amount,
			&tx.Memo, &tx.TaskID, &tx.Timestamp, &tx.PrevHash); err != nil {
			return nil, err
		}
		tx.Kind = token.TxKind(kind)
		tx.Amount = token.Amount(amount)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
