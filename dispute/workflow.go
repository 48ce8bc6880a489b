package dispute

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/points-engine/points"
)

// =============================================================================
// WORKFLOW
// =============================================================================

// Workflow governs the dispute lifecycle. All validation happens before
// any mutation; a failed Open or Resolve leaves no trace.
type Workflow struct {
	Disputes  Store
	Ledger    *points.Ledger
	Adjuster  Adjuster
	Window    time.Duration // eligibility window after transaction creation
	MinReason int           // minimum reason length in characters
	Events    points.Publisher
	Log       zerolog.Logger
	Now       func() time.Time
}

func NewWorkflow(disputes Store, ledger *points.Ledger, adjuster Adjuster, window time.Duration, minReason int) *Workflow {
	return &Workflow{
		Disputes:  disputes,
		Ledger:    ledger,
		Adjuster:  adjuster,
		Window:    window,
		MinReason: minReason,
		Events:    points.NopPublisher{},
		Log:       zerolog.Nop(),
		Now:       time.Now,
	}
}

// =============================================================================
// OPEN
// =============================================================================

// Open creates a PENDING dispute against a transaction.
func (w *Workflow) Open(ctx context.Context, txID points.TransactionID, byUserID, reason string, requestedAmount *int64) (Dispute, error) {
	tx, err := w.Ledger.Get(ctx, txID)
	if err != nil {
		return Dispute{}, err
	}

	if w.TimeLeft(*tx) <= 0 {
		return Dispute{}, points.ErrDisputeWindowExpired
	}
	if utf8.RuneCountInString(strings.TrimSpace(reason)) < w.MinReason {
		return Dispute{}, points.ErrInvalidReason
	}
	pending, err := w.Disputes.HasPendingDispute(ctx, txID)
	if err != nil {
		return Dispute{}, err
	}
	if pending {
		return Dispute{}, points.ErrDuplicateDispute
	}

	d := Dispute{
		ID:              uuid.NewString(),
		TransactionID:   txID,
		AccountID:       tx.AccountID,
		CreatedBy:       byUserID,
		Reason:          strings.TrimSpace(reason),
		RequestedAmount: requestedAmount,
		Status:          StatusPending,
		CreatedAt:       w.Now().UTC(),
	}
	// The store's pending-uniqueness guard closes the race between the
	// check above and this insert.
	if err := w.Disputes.CreateDispute(ctx, d); err != nil {
		return Dispute{}, err
	}

	w.Log.Info().
		Str("dispute_id", d.ID).
		Int64("transaction_id", int64(txID)).
		Str("account_id", string(tx.AccountID)).
		Msg("dispute opened")
	return d, nil
}

// =============================================================================
// RESOLVE
// =============================================================================

// Resolve moves a PENDING dispute to APPROVED or REJECTED. On approval the
// compensating delta (adjustedAmount, falling back to the dispute's
// requested amount) is appended as an ADJUSTMENT referencing the dispute.
// A PENDING dispute stays resolvable after the open window elapses.
func (w *Workflow) Resolve(ctx context.Context, disputeID string, outcome Status, notes string, adjustedAmount *int64) (Dispute, error) {
	if outcome != StatusApproved && outcome != StatusRejected {
		return Dispute{}, points.ErrInvalidDisputeTransition
	}

	d, err := w.get(ctx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if d.Status.Terminal() {
		return Dispute{}, points.ErrInvalidDisputeTransition
	}

	if outcome == StatusApproved {
		delta := int64(0)
		if adjustedAmount != nil {
			delta = *adjustedAmount
		} else if d.RequestedAmount != nil {
			delta = *d.RequestedAmount
		}
		if delta != 0 {
			// The idempotency key makes a retried resolution append the
			// compensating entry at most once. A duplicate-key error here
			// means a prior attempt applied the adjustment but died before
			// flipping the dispute row; carry on and flip it now.
			_, err := w.Adjuster.Adjust(ctx, d.AccountID, delta, points.Reference{
				ID:             d.ID,
				Type:           "dispute",
				IdempotencyKey: "dispute-" + d.ID,
			}, "dispute resolution")
			if err != nil && !errors.Is(err, points.ErrDuplicateIdempotencyKey) {
				return Dispute{}, err
			}
		}
	}

	now := w.Now().UTC()
	d.Status = outcome
	d.ResolverNotes = notes
	d.ResolvedAt = &now
	if err := w.Disputes.UpdateDispute(ctx, *d); err != nil {
		return Dispute{}, err
	}

	w.publishResolved(*d)
	w.Log.Info().
		Str("dispute_id", d.ID).
		Str("outcome", string(outcome)).
		Msg("dispute resolved")
	return *d, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel moves a PENDING dispute to CANCELLED. Only the creator may cancel.
func (w *Workflow) Cancel(ctx context.Context, disputeID, byUserID string) (Dispute, error) {
	d, err := w.get(ctx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if d.Status.Terminal() {
		return Dispute{}, points.ErrInvalidDisputeTransition
	}
	if d.CreatedBy != byUserID {
		return Dispute{}, points.ErrNotDisputeOwner
	}

	now := w.Now().UTC()
	d.Status = StatusCancelled
	d.ResolvedAt = &now
	if err := w.Disputes.UpdateDispute(ctx, *d); err != nil {
		return Dispute{}, err
	}

	w.publishResolved(*d)
	return *d, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns a dispute by ID.
func (w *Workflow) Get(ctx context.Context, disputeID string) (Dispute, error) {
	d, err := w.get(ctx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	return *d, nil
}

// TimeLeft reports how long the transaction remains disputable. Zero means
// no new dispute may be opened; existing PENDING disputes are unaffected.
func (w *Workflow) TimeLeft(tx points.Transaction) time.Duration {
	left := w.Window - w.Now().Sub(tx.CreatedAt)
	if left < 0 {
		return 0
	}
	return left
}

// HoursLeft is TimeLeft for display, rounded down to whole hours.
func (w *Workflow) HoursLeft(tx points.Transaction) int {
	return int(w.TimeLeft(tx) / time.Hour)
}

func (w *Workflow) get(ctx context.Context, disputeID string) (*Dispute, error) {
	d, err := w.Disputes.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, points.ErrDisputeNotFound
	}
	return d, nil
}

func (w *Workflow) publishResolved(d Dispute) {
	payload := map[string]any{
		"dispute_id":     d.ID,
		"transaction_id": int64(d.TransactionID),
		"status":         string(d.Status),
	}
	w.Events.Publish(points.Event{
		Type:       points.EventDisputeResolved,
		AccountID:  d.AccountID,
		Payload:    payload,
		OccurredAt: w.Now().UTC(),
	})
}
