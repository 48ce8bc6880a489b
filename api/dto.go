/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/points-engine/dispute"
	"github.com/warp/points-engine/points"
)

// =============================================================================
// ACCOUNT
// =============================================================================

// AccountSummaryDTO is the account view for the rewards page: balance,
// lifetime totals, level standing and ranking.
type AccountSummaryDTO struct {
	UserID       string  `json:"user_id"`
	Balance      int64   `json:"balance"`
	TotalEarned  int64   `json:"total_earned"`
	TotalSpent   int64   `json:"total_spent"`
	Level        int     `json:"level"`
	LevelName    string  `json:"level_name"`
	NextLevel    *string `json:"next_level,omitempty"`
	PointsToNext int64   `json:"points_to_next"`
	Progress     string  `json:"progress"` // percent into current tier, one decimal
	Rank         int     `json:"rank"`
	TotalUsers   int     `json:"total_users"`
	Disabled     bool    `json:"disabled"`
	CreatedAt    string  `json:"created_at"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionDTO struct {
	ID             int64  `json:"id"`
	AccountID      string `json:"account_id"`
	Type           string `json:"type"`
	Amount         int64  `json:"amount"`
	BalanceAfter   int64  `json:"balance_after"`
	ReferenceID    string `json:"reference_id,omitempty"`
	ReferenceType  string `json:"reference_type,omitempty"`
	Description    string `json:"description,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func toTransactionDTO(tx points.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:             int64(tx.ID),
		AccountID:      string(tx.AccountID),
		Type:           string(tx.Type),
		Amount:         tx.Amount,
		BalanceAfter:   tx.BalanceAfter,
		ReferenceID:    tx.ReferenceID,
		ReferenceType:  tx.ReferenceType,
		Description:    tx.Description,
		IdempotencyKey: tx.IdempotencyKey,
		CreatedAt:      tx.CreatedAt.Format(time.RFC3339),
	}
}

// TransactionPageDTO is the stable pagination envelope.
type TransactionPageDTO struct {
	Items      []TransactionDTO `json:"items"`
	TotalCount int              `json:"total_count"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
}

// TransactionDetailDTO adds dispute eligibility to a single entry.
type TransactionDetailDTO struct {
	TransactionDTO
	Disputable bool `json:"disputable"`
	HoursLeft  int  `json:"dispute_hours_left"`
}

// AmountRequest covers earn, spend, refund and adjust bodies. Amount is
// the positive magnitude for earn/spend/refund and the signed delta for
// adjust.
type AmountRequest struct {
	Amount         int64  `json:"amount"`
	ReferenceID    string `json:"reference_id,omitempty"`
	ReferenceType  string `json:"reference_type,omitempty"`
	Description    string `json:"description,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type TransferRequest struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Amount         int64  `json:"amount"`
	ReferenceID    string `json:"reference_id,omitempty"`
	Description    string `json:"description,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type TransferResponse struct {
	Debit  TransactionDTO `json:"debit"`
	Credit TransactionDTO `json:"credit"`
}

// =============================================================================
// MALL
// =============================================================================

type RedeemRequest struct {
	ItemID         string `json:"item_id"`
	Quantity       int64  `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type MallItemDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PointsCost int64  `json:"points_cost"`
	Stock      int64  `json:"stock"`
}

type UpsertItemRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PointsCost int64  `json:"points_cost"`
	Stock      int64  `json:"stock"`
}

type OrderDTO struct {
	ID            string `json:"id"`
	AccountID     string `json:"account_id"`
	ItemID        string `json:"item_id"`
	Quantity      int64  `json:"quantity"`
	PointsSpent   int64  `json:"points_spent"`
	TransactionID int64  `json:"transaction_id"`
	CreatedAt     string `json:"created_at"`
}

type RedeemResponse struct {
	Order       OrderDTO       `json:"order"`
	Transaction TransactionDTO `json:"transaction"`
}

func toOrderDTO(o points.RedemptionOrder) OrderDTO {
	return OrderDTO{
		ID:            o.ID,
		AccountID:     string(o.AccountID),
		ItemID:        o.ItemID,
		Quantity:      o.Quantity,
		PointsSpent:   o.PointsSpent,
		TransactionID: int64(o.TransactionID),
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// DISPUTES
// =============================================================================

type OpenDisputeRequest struct {
	UserID          string `json:"user_id"`
	Reason          string `json:"reason"`
	RequestedAmount *int64 `json:"requested_amount,omitempty"`
}

type ResolveDisputeRequest struct {
	Outcome        string `json:"outcome"` // APPROVED or REJECTED
	Notes          string `json:"notes,omitempty"`
	AdjustedAmount *int64 `json:"adjusted_amount,omitempty"`
}

type CancelDisputeRequest struct {
	UserID string `json:"user_id"`
}

type DisputeDTO struct {
	ID              string `json:"id"`
	TransactionID   int64  `json:"transaction_id"`
	AccountID       string `json:"account_id"`
	CreatedBy       string `json:"created_by"`
	Reason          string `json:"reason"`
	RequestedAmount *int64 `json:"requested_amount,omitempty"`
	Status          string `json:"status"`
	ResolverNotes   string `json:"resolver_notes,omitempty"`
	CreatedAt       string `json:"created_at"`
	ResolvedAt      string `json:"resolved_at,omitempty"`
}

func toDisputeDTO(d dispute.Dispute) DisputeDTO {
	dto := DisputeDTO{
		ID:              d.ID,
		TransactionID:   int64(d.TransactionID),
		AccountID:       string(d.AccountID),
		CreatedBy:       d.CreatedBy,
		Reason:          d.Reason,
		RequestedAmount: d.RequestedAmount,
		Status:          string(d.Status),
		ResolverNotes:   d.ResolverNotes,
		CreatedAt:       d.CreatedAt.Format(time.RFC3339),
	}
	if d.ResolvedAt != nil {
		dto.ResolvedAt = d.ResolvedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// ERRORS & MISC
// =============================================================================

// ErrorResponse carries a stable machine-readable code alongside the
// human-readable message.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type VerifyResponse struct {
	AccountID  string `json:"account_id"`
	Consistent bool   `json:"consistent"`
	Detail     string `json:"detail,omitempty"`
}

type LevelDTO struct {
	Level     int    `json:"level"`
	Name      string `json:"name"`
	MinPoints int64  `json:"min_points"`
	MaxPoints *int64 `json:"max_points,omitempty"`
}
