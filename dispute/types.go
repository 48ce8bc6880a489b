/*
Package dispute implements the dispute workflow over ledger transactions.

PURPOSE:
  Users may challenge a transaction they believe is wrong, within a
  bounded window after the transaction was created. A dispute moves
  through a small state machine:

      PENDING ──> APPROVED   (compensating ADJUSTMENT appended)
              ──> REJECTED   (no ledger mutation)
              ──> CANCELLED  (creator only)

  Terminal states are immutable. At most one PENDING dispute may exist
  per transaction at a time.

KEY RULES:
  - Eligibility: now - transaction.CreatedAt < window, fixed at
    transaction creation, never retroactive
  - Reason: non-empty, minimum length enforced
  - Resolution of an already-terminal dispute fails with
    InvalidDisputeTransition and produces no ledger side effect
  - The compensating entry is a brand-new ADJUSTMENT referencing the
    dispute, carrying an idempotency key so a retried resolution cannot
    double-apply

SEE ALSO:
  - workflow.go: Open/Resolve/Cancel/TimeLeft
  - points/engine.go: Adjust, the only ledger mutation disputes trigger
*/
package dispute

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/points-engine/points"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// ParseStatus validates a wire value against the closed set.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown dispute status %q", s)
}

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool { return s != StatusPending }

// =============================================================================
// DISPUTE
// =============================================================================

type Dispute struct {
	ID              string
	TransactionID   points.TransactionID
	AccountID       points.AccountID
	CreatedBy       string // user who opened the dispute; only they may cancel
	Reason          string
	RequestedAmount *int64 // optional correction the user asks for
	Status          Status
	ResolverNotes   string
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

// =============================================================================
// STORAGE
// =============================================================================

// Store persists disputes. Unlike the ledger, a dispute row is updated in
// place for its single PENDING -> terminal transition, then immutable.
type Store interface {
	// CreateDispute inserts a new PENDING dispute. Must fail with
	// points.ErrDuplicateDispute when a PENDING dispute already exists for
	// the same transaction (enforced by the store, so concurrent opens
	// cannot both succeed).
	CreateDispute(ctx context.Context, d Dispute) error

	// UpdateDispute persists the terminal transition. The write is guarded
	// on the row still being PENDING: when the dispute already reached a
	// terminal state it must fail with ErrInvalidDisputeTransition, so two
	// racing resolutions cannot both win.
	UpdateDispute(ctx context.Context, d Dispute) error

	// GetDispute returns a dispute, or nil when absent.
	GetDispute(ctx context.Context, id string) (*Dispute, error)

	// HasPendingDispute reports whether the transaction has an open dispute.
	HasPendingDispute(ctx context.Context, txID points.TransactionID) (bool, error)

	// ListDisputesByAccount returns an account's disputes, newest first.
	ListDisputesByAccount(ctx context.Context, accountID points.AccountID) ([]Dispute, error)

	// ListPendingDisputes returns all open disputes, oldest first, for the
	// reviewer queue.
	ListPendingDisputes(ctx context.Context) ([]Dispute, error)
}

// Adjuster is the slice of the transaction engine disputes need: the
// compensating entry on approval. Satisfied by *points.Engine.
type Adjuster interface {
	Adjust(ctx context.Context, accountID points.AccountID, delta int64, ref points.Reference, description string) (points.Transaction, error)
}
