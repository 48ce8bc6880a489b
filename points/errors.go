/*
errors.go - Centralized error types for the points engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these to stable machine-readable codes; no internal
  storage detail ever reaches a client.

ERROR CATEGORIES:
  1. Validation errors - Rejected before any mutation (amount, reason)
  2. Business rule violations - Balance, stock, dispute lifecycle
  3. Infrastructure errors - Store failures, lost commit races

USAGE:
  Callers branch with errors.Is():

    if errors.Is(err, points.ErrInsufficientBalance) { ... }

  and read structured context with errors.As():

    var ibe *points.InsufficientBalanceError
    if errors.As(err, &ibe) { log(ibe.Available, ibe.Requested) }
*/
package points

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientBalance is returned when a spend, adjust, redeem or
	// transfer would drive the balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOutOfStock is returned when a redemption requests more units than
	// the item has in stock.
	ErrOutOfStock = errors.New("out of stock")

	// ErrInvalidAmount is returned for non-positive amounts where a positive
	// one is required, and for zero adjustment deltas.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountDisabled is returned when operating on a soft-disabled account.
	ErrAccountDisabled = errors.New("account disabled")

	// ErrTransactionNotFound is returned when a referenced transaction doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrItemNotFound is returned when a redemption references an unknown mall item.
	ErrItemNotFound = errors.New("mall item not found")

	// ErrDisputeNotFound is returned when a referenced dispute doesn't exist.
	ErrDisputeNotFound = errors.New("dispute not found")

	// ErrDisputeWindowExpired is returned when opening a dispute after the
	// per-transaction eligibility window has elapsed.
	ErrDisputeWindowExpired = errors.New("dispute window expired")

	// ErrDuplicateDispute is returned when a PENDING dispute already exists
	// for the transaction.
	ErrDuplicateDispute = errors.New("duplicate dispute")

	// ErrInvalidReason is returned when a dispute reason is shorter than the
	// configured minimum.
	ErrInvalidReason = errors.New("invalid dispute reason")

	// ErrInvalidDisputeTransition is returned when resolving or cancelling a
	// dispute that is not PENDING.
	ErrInvalidDisputeTransition = errors.New("invalid dispute transition")

	// ErrNotDisputeOwner is returned when a cancel comes from someone other
	// than the dispute's creator.
	ErrNotDisputeOwner = errors.New("not the dispute creator")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrConcurrencyConflict is returned after losing a commit race more
	// times than the engine is willing to retry. Safe for the caller to retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrStoreUnavailable is returned on transient infrastructure failure.
	// Atomicity guarantees the operation did not partially apply.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %d, requested %d",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// OutOfStockError provides details about a stock shortage.
type OutOfStockError struct {
	ItemID    string
	Available int64
	Requested int64
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("item %s out of stock: available %d, requested %d",
		e.ItemID, e.Available, e.Requested)
}

func (e *OutOfStockError) Unwrap() error { return ErrOutOfStock }

// InvalidAmountError names the operation that rejected the amount.
type InvalidAmountError struct {
	Op     string
	Amount int64
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("%s: invalid amount %d", e.Op, e.Amount)
}

func (e *InvalidAmountError) Unwrap() error { return ErrInvalidAmount }

// LedgerMismatchError is produced by the verification path when the derived
// account state disagrees with the replayed ledger.
type LedgerMismatchError struct {
	AccountID     AccountID
	StoredBalance int64
	ReplayedSum   int64
	LastAfter     int64
}

func (e *LedgerMismatchError) Error() string {
	return fmt.Sprintf("ledger mismatch for %s: stored balance %d, replayed sum %d, last balance_after %d",
		e.AccountID, e.StoredBalance, e.ReplayedSum, e.LastAfter)
}

// =============================================================================
// ERROR CODES - Stable machine-readable codes for the API boundary
// =============================================================================

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInsufficientBalance, "INSUFFICIENT_BALANCE"},
	{ErrOutOfStock, "OUT_OF_STOCK"},
	{ErrInvalidAmount, "INVALID_AMOUNT"},
	{ErrAccountNotFound, "ACCOUNT_NOT_FOUND"},
	{ErrAccountDisabled, "ACCOUNT_DISABLED"},
	{ErrTransactionNotFound, "TRANSACTION_NOT_FOUND"},
	{ErrItemNotFound, "ITEM_NOT_FOUND"},
	{ErrDisputeNotFound, "DISPUTE_NOT_FOUND"},
	{ErrDisputeWindowExpired, "DISPUTE_WINDOW_EXPIRED"},
	{ErrDuplicateDispute, "DUPLICATE_DISPUTE"},
	{ErrInvalidReason, "INVALID_REASON"},
	{ErrInvalidDisputeTransition, "INVALID_DISPUTE_TRANSITION"},
	{ErrNotDisputeOwner, "NOT_DISPUTE_OWNER"},
	{ErrDuplicateIdempotencyKey, "DUPLICATE_IDEMPOTENCY_KEY"},
	{ErrConcurrencyConflict, "CONCURRENCY_CONFLICT"},
	{ErrStoreUnavailable, "STORE_UNAVAILABLE"},
}

// ErrorCode returns the stable code for a known error, or "INTERNAL".
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "INTERNAL"
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrStoreUnavailable)
}

// IsClientError returns true if the error is due to invalid client input or
// a business rule the client can act on.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrAccountDisabled) ||
		errors.Is(err, ErrDisputeWindowExpired) ||
		errors.Is(err, ErrDuplicateDispute) ||
		errors.Is(err, ErrInvalidReason) ||
		errors.Is(err, ErrInvalidDisputeTransition) ||
		errors.Is(err, ErrNotDisputeOwner) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrDisputeNotFound)
}
