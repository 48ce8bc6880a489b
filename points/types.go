/*
Package points provides the core points ledger engine.

PURPOSE:
  This package contains the domain types and algorithms for the rewards
  points platform: the append-only transaction ledger, derived account
  balances, the level threshold catalog, and the transaction engine that
  makes every point-affecting operation atomic.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: An immutable ledger entry recording a balance change
  - Account: The derived aggregate (balance, totals, level) per user
  - TransactionType: Closed set of ledger entry kinds
  - Reference: Link from a transaction to its external cause

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified; corrections are new
     ADJUSTMENT or REFUND entries
  2. Integer points: Amounts are signed int64 (no fractional points)
  3. Auditability: Every transaction carries reference, description, and
     an optional idempotency key
  4. Derivability: Account.Balance always equals the replayed sum of its
     ledger and the BalanceAfter of the newest transaction

SEE ALSO:
  - ledger.go: Read/verify surface over the transaction log
  - engine.go: The only writer of transactions
  - level.go: Threshold table mapping totalEarned to a level
*/
package points

import (
	"fmt"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AccountID identifies a points account. One account per user, so this is
// the user ID as supplied by the identity collaborator.
type AccountID string

// TransactionID is a store-assigned, monotonically increasing sequence
// number. Higher ID means appended later, which makes it usable as a
// stable pagination cursor.
type TransactionID int64

// =============================================================================
// TRANSACTION - Immutable ledger entry
// =============================================================================

type TransactionType string

const (
	TxEarn       TransactionType = "EARN"       // Points granted for activity (positive)
	TxSpend      TransactionType = "SPEND"      // Points used in the mall (negative)
	TxAdjustment TransactionType = "ADJUSTMENT" // Correction, either sign (dispute resolution, admin)
	TxRefund     TransactionType = "REFUND"     // Returned points (positive, does not re-earn)
)

// ParseTransactionType validates a wire value against the closed set.
// Unknown values are rejected at the boundary, never passed through.
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(s) {
	case TxEarn, TxSpend, TxAdjustment, TxRefund:
		return TransactionType(s), nil
	}
	return "", fmt.Errorf("unknown transaction type %q", s)
}

// Reference links a transaction to its external cause: an activity, a mall
// order, a dispute. IdempotencyKey, when set, is deduplicated at the append
// layer so caller retries cannot double-apply.
type Reference struct {
	ID             string
	Type           string
	IdempotencyKey string
}

type Transaction struct {
	ID             TransactionID
	AccountID      AccountID
	Type           TransactionType
	Amount         int64 // signed: EARN/REFUND positive, SPEND negative
	BalanceAfter   int64 // account balance snapshot at append time
	ReferenceID    string
	ReferenceType  string
	Description    string
	IdempotencyKey string
	CreatedAt      time.Time
}

// =============================================================================
// ACCOUNT - Derived aggregate, mutated only through the engine
// =============================================================================

type Account struct {
	UserID      AccountID
	Balance     int64 // never negative
	TotalEarned int64 // monotonically non-decreasing
	TotalSpent  int64 // monotonically non-decreasing
	Level       int   // derived from TotalEarned via the catalog
	Disabled    bool  // soft-disable; accounts are never deleted
	Version     int64 // optimistic concurrency guard on the stored row
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// =============================================================================
// LEDGER QUERIES - Filters and pagination
// =============================================================================

// ListFilter narrows a ledger listing. BeforeID anchors pagination to a
// fixed upper cursor so concurrent appends cannot duplicate or skip rows
// across pages.
type ListFilter struct {
	Type     *TransactionType
	From     *time.Time
	To       *time.Time
	Keyword  string
	BeforeID *TransactionID
}

type PageRequest struct {
	Page int // 1-based
	Size int
}

func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Size < 1 {
		p.Size = 20
	}
	if p.Size > 200 {
		p.Size = 200
	}
	return p
}

func (p PageRequest) Offset() int { return (p.Page - 1) * p.Size }

// TransactionPage is a stable, newest-first page of ledger entries.
type TransactionPage struct {
	Items      []Transaction
	TotalCount int
	Page       int
	PageSize   int
}

// =============================================================================
// MALL INVENTORY - Consumed transactionally by redemptions
// =============================================================================

type MallItem struct {
	ID         string
	Name       string
	PointsCost int64
	Stock      int64 // never negative
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type RedemptionOrder struct {
	ID            string
	AccountID     AccountID
	ItemID        string
	Quantity      int64
	PointsSpent   int64
	TransactionID TransactionID // the SPEND entry this order settled against
	CreatedAt     time.Time
}
