package token

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TxKind enumerates every ledger entry type.
type TxKind string

const (
	TxMint     TxKind = "mint"
	TxTransfer TxKind = "transfer"
	TxEscrow   TxKind = "escrow"
	TxRelease  TxKind = "release"
	TxRefund   TxKind = "refund"
	TxFee      TxKind = "fee"
	TxStake    TxKind = "stake"
	TxUnstake  TxKind = "unstake"
	TxSlash    TxKind = "slash"
)

// Transaction is a single immutable token movement in the ledger.
// Each entry carries the SHA-256 hash of the entry before it, so any
// edit to a past entry breaks the chain and is detectable.
type Transaction struct {
	ID        string `json:"id"`
	Kind      TxKind `json:"kind"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    Amount `json:"amount"`
	Memo      string `json:"memo,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	Timestamp string `json:"timestamp"`
	PrevHash  string `json:"prevHash"`
}

// NewTxID generates an ID like "escrow_9f2a1c4d" from the entry kind.
func NewTxID(kind TxKind) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return string(kind) + "_" + raw[:8]
}

// NowUTC returns the current UTC time in the ledger's timestamp format.
func NowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Hash computes the canonical SHA-256 of the transaction. The payload
// is the sorted-key JSON of every field, including PrevHash, so the
// chain commits transitively to all history before it.
func (t *Transaction) Hash() string {
	payload, _ := json.Marshal(map[string]any{
		"id":        t.ID,
		"kind":      string(t.Kind),
		"from":      t.From,
		"to":        t.To,
		"amount":    t.Amount.String(),
		"memo":      t.Memo,
		"taskId":    t.TaskID,
		"timestamp": t.Timestamp,
		"prevHash":  t.PrevHash,
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// EscrowState tracks the lifecycle of locked task funds.
type EscrowState string

const (
	EscrowHeld     EscrowState = "held"
	EscrowReleased EscrowState = "released"
	EscrowRefunded EscrowState = "refunded"
)

// EscrowRecord holds tokens locked against a task pending its outcome.
// Remaining starts at Amount and shrinks as partial releases (validator
// base pay, reward distribution) are applied; the record reaches a
// terminal state when Remaining hits zero or the rest is refunded.
type EscrowRecord struct {
	TaskID    string      `json:"taskId"`
	Funder    string      `json:"funder"`
	Amount    Amount      `json:"amount"`
	Remaining Amount      `json:"remaining"`
	CreatedAt string      `json:"createdAt"`
	State     EscrowState `json:"state"`
}

// StakeRecord is a validator's locked collateral. CooldownUntil is set
// after a slash; the validator cannot unstake and is not selectable
// until it passes.
type StakeRecord struct {
	Entity        string     `json:"entity"`
	Amount        Amount     `json:"amount"`
	LockedAt      time.Time  `json:"lockedAt"`
	CooldownUntil *time.Time `json:"cooldownUntil,omitempty"`
}

// InCooldown reports whether the stake is frozen at the given instant.
func (s *StakeRecord) InCooldown(now time.Time) bool {
	return s.CooldownUntil != nil && now.Before(*s.CooldownUntil)
}
