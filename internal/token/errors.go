package token

import (
	"errors"
	"fmt"
)

// Sentinel errors for state conditions that carry no extra payload.
var (
	// ErrChainCorrupted is fatal: the ledger refuses further mutations
	// once its hash chain fails verification.
	ErrChainCorrupted = errors.New("ledger hash chain corrupted: mutations frozen pending reconciliation")

	// ErrNoEligibleValidator signals that no staked, reputable,
	// capable candidate survived the selection gates. The caller may
	// fall back to auto-accept, but that choice is always explicit.
	ErrNoEligibleValidator = errors.New("no eligible validator among candidates")

	// ErrAlreadyResolved rejects a second alignment resolution for the
	// same verification record.
	ErrAlreadyResolved = errors.New("verification alignment already resolved")
)

// InvalidAmountError rejects zero or negative token quantities before
// any mutation happens.
type InvalidAmountError struct {
	Amount Amount
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount: %s (must be > 0)", e.Amount)
}

// InsufficientBalanceError reports a debit that exceeds the entity's
// current balance.
type InsufficientBalanceError struct {
	Entity    string
	Required  Amount
	Available Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s has insufficient balance: needs %s, has %s",
		e.Entity, e.Required, e.Available)
}

// DuplicateEscrowError rejects a second live escrow for the same task.
type DuplicateEscrowError struct {
	TaskID string
}

func (e *DuplicateEscrowError) Error() string {
	return fmt.Sprintf("task %s already has a live escrow", e.TaskID)
}

// EscrowNotFoundError reports a release/refund against an unknown task.
type EscrowNotFoundError struct {
	TaskID string
}

func (e *EscrowNotFoundError) Error() string {
	return fmt.Sprintf("no escrow found for task: %s", e.TaskID)
}

// EscrowResolvedError reports a release/refund against an escrow that
// already reached a terminal state.
type EscrowResolvedError struct {
	TaskID string
	State  EscrowState
}

func (e *EscrowResolvedError) Error() string {
	return fmt.Sprintf("escrow for task %s already resolved (%s)", e.TaskID, e.State)
}

// SplitMismatchError reports a release whose distribution does not sum
// exactly to the escrowed remainder.
type SplitMismatchError struct {
	TaskID   string
	Expected Amount
	Got      Amount
}

func (e *SplitMismatchError) Error() string {
	return fmt.Sprintf("release for task %s must distribute %s exactly, got %s",
		e.TaskID, e.Expected, e.Got)
}

// SplitPolicyError rejects a split policy with negative fractions or
// fractions summing above 1.
type SplitPolicyError struct {
	Reason string
}

func (e *SplitPolicyError) Error() string {
	return "invalid split policy: " + e.Reason
}

// NoActiveStakeError reports an unstake/slash against an entity with
// no stake record.
type NoActiveStakeError struct {
	Entity string
}

func (e *NoActiveStakeError) Error() string {
	return fmt.Sprintf("no active stake found for: %s", e.Entity)
}

// InsufficientStakeError reports a stake below the validator floor.
type InsufficientStakeError struct {
	Entity   string
	Required Amount
	Staked   Amount
}

func (e *InsufficientStakeError) Error() string {
	return fmt.Sprintf("%s has insufficient stake: needs %s, has %s",
		e.Entity, e.Required, e.Staked)
}

// CooldownActiveError rejects an unstake while a post-slash cooldown
// is still running.
type CooldownActiveError struct {
	Entity string
	Until  string
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("%s cannot unstake: cooldown active until %s", e.Entity, e.Until)
}
