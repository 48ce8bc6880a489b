/*
handlers.go - HTTP API handlers for the points ledger and dispute engine

PURPOSE:
  Exposes the points engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Accounts:
    GET    /api/accounts/{id}               Account summary (balance, level, rank)
    GET    /api/accounts/{id}/transactions  Ledger history (filters + pagination)
    GET    /api/accounts/{id}/orders        Redemption orders
    GET    /api/accounts/{id}/disputes      Dispute history
    POST   /api/accounts/{id}/earn          Grant points
    POST   /api/accounts/{id}/spend         Deduct points
    POST   /api/accounts/{id}/refund        Return points
    POST   /api/accounts/{id}/redeem        Exchange points for a mall item

  Transactions:
    GET    /api/transactions/{id}           Single entry + dispute eligibility
    POST   /api/transactions/{id}/disputes  Open a dispute

  Disputes:
    GET    /api/disputes/pending            Reviewer queue, oldest first
    GET    /api/disputes/{id}               Single dispute
    POST   /api/disputes/{id}/resolve       APPROVE or REJECT
    POST   /api/disputes/{id}/cancel        Creator withdraws

  Transfer:
    POST   /api/transfer                    Atomic account-to-account move

  Admin:
    POST   /api/admin/accounts/{id}/adjust  Manual signed correction
    POST   /api/admin/accounts/{id}/disable Soft-disable
    POST   /api/admin/accounts/{id}/enable  Re-enable
    POST   /api/admin/accounts/{id}/verify  Full ledger replay check
    POST   /api/admin/items                 Upsert mall inventory

ERROR HANDLING:
  Errors are returned as JSON with a stable machine-readable code:
  - 400: Validation errors, business rules the client can act on
  - 404: Resource not found
  - 409: Duplicates and lost commit races
  - 503: Store unavailable (safe to retry, nothing partially applied)
  - 500: Everything else

SECURITY NOTE:
  Currently NO authentication or authorization. The identity collaborator
  in front of this service is expected to supply and verify user IDs.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/points-engine/dispute"
	"github.com/warp/points-engine/metrics"
	"github.com/warp/points-engine/points"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *points.Engine
	Workflow *dispute.Workflow
	Ledger   *points.Ledger
	Store    points.Store
	Disputes dispute.Store
	Levels   *points.Catalog
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
}

// NewHandler wires a handler over an engine and a dispute workflow. The
// store is the same one the engine writes through.
func NewHandler(engine *points.Engine, workflow *dispute.Workflow, ledger *points.Ledger, store points.Store, disputes dispute.Store, levels *points.Catalog) *Handler {
	return &Handler{
		Engine:   engine,
		Workflow: workflow,
		Ledger:   ledger,
		Store:    store,
		Disputes: disputes,
		Levels:   levels,
		Log:      zerolog.Nop(),
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// GetAccount returns the full account summary.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := points.AccountID(chi.URLParam(r, "id"))
	ctx := r.Context()

	acct, err := h.Engine.GetAccount(ctx, accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	rank, err := h.Store.RankByEarned(ctx, accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	total, err := h.Store.CountAccounts(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	cur := h.Levels.LevelFor(acct.TotalEarned)
	dto := AccountSummaryDTO{
		UserID:       string(acct.UserID),
		Balance:      acct.Balance,
		TotalEarned:  acct.TotalEarned,
		TotalSpent:   acct.TotalSpent,
		Level:        acct.Level,
		LevelName:    cur.Name,
		PointsToNext: h.Levels.PointsToNext(acct.TotalEarned),
		Progress:     h.Levels.Progress(acct.TotalEarned).String(),
		Rank:         rank,
		TotalUsers:   total,
		Disabled:     acct.Disabled,
		CreatedAt:    acct.CreatedAt.Format(time.RFC3339),
	}
	if next := h.Levels.Next(cur.Level); next != nil {
		dto.NextLevel = &next.Name
	}

	h.writeJSON(w, http.StatusOK, dto)
}

// ListTransactions returns a filtered, paginated ledger history.
//
// Query parameters: type, from, to, q (keyword), before_id, page, page_size.
// Timestamps are RFC3339.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := points.AccountID(chi.URLParam(r, "id"))
	q := r.URL.Query()

	var filter points.ListFilter
	if s := q.Get("type"); s != "" {
		t, err := points.ParseTransactionType(s)
		if err != nil {
			h.writeErrorCode(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
			return
		}
		filter.Type = &t
	}
	if s := q.Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			h.writeErrorCode(w, http.StatusBadRequest, "INVALID_FILTER", "from must be RFC3339")
			return
		}
		filter.From = &t
	}
	if s := q.Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			h.writeErrorCode(w, http.StatusBadRequest, "INVALID_FILTER", "to must be RFC3339")
			return
		}
		filter.To = &t
	}
	if s := q.Get("before_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			h.writeErrorCode(w, http.StatusBadRequest, "INVALID_FILTER", "before_id must be an integer")
			return
		}
		cursor := points.TransactionID(id)
		filter.BeforeID = &cursor
	}
	filter.Keyword = strings.TrimSpace(q.Get("q"))

	page := points.PageRequest{}
	page.Page, _ = strconv.Atoi(q.Get("page"))
	page.Size, _ = strconv.Atoi(q.Get("page_size"))

	result, err := h.Ledger.List(r.Context(), accountID, filter, page)
	if err != nil {
		h.writeError(w, err)
		return
	}

	items := make([]TransactionDTO, 0, len(result.Items))
	for _, tx := range result.Items {
		items = append(items, toTransactionDTO(tx))
	}
	h.writeJSON(w, http.StatusOK, TransactionPageDTO{
		Items:      items,
		TotalCount: result.TotalCount,
		Page:       result.Page,
		PageSize:   result.PageSize,
	})
}

// ListOrders returns an account's redemption orders, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	accountID := points.AccountID(chi.URLParam(r, "id"))

	orders, err := h.Store.ListOrdersByAccount(r.Context(), accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]OrderDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, toOrderDTO(o))
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LEDGER OPERATIONS
// =============================================================================

func (h *Handler) Earn(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, "earn", h.Engine.Earn)
}

func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, "spend", h.Engine.Spend)
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, "refund", h.Engine.Refund)
}

// Adjust applies a signed correction. Admin-only by route placement.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, "adjust", h.Engine.Adjust)
}

// amountOp is the shared body for earn/spend/refund/adjust.
func (h *Handler) amountOp(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, accountID points.AccountID, amount int64, ref points.Reference, description string) (points.Transaction, error)) {

	accountID := points.AccountID(chi.URLParam(r, "id"))

	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorCode(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}

	start := time.Now()
	tx, err := fn(r.Context(), accountID, req.Amount, points.Reference{
		ID:             req.ReferenceID,
		Type:           req.ReferenceType,
		IdempotencyKey: req.IdempotencyKey,
	}, req.Description)
	h.observe(op, start, err)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.countTransaction(tx)
	h.writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// Redeem exchanges points for a mall item within one atomic unit.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	accountID := points.AccountID(chi.URLParam(r, "id"))

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorCode(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}

	start := time.Now()
	order, tx, err := h.Engine.Redeem(r.Context(), accountID, req.ItemID, req.Quantity, req.IdempotencyKey)
	h.observe("redeem", start, err)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.countTransaction(tx)
	h.writeJSON(w, http.StatusCreated, RedeemResponse{
		Order:       toOrderDTO(order),
		Transaction: toTransactionDTO(tx),
	})
}

// Transfer moves points between accounts; both legs commit or neither.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorCode(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}
	if req.From == "" || req.To == "" {
		h.writeErrorCode(w, http.StatusBadRequest, "INVALID_BODY", "from and to are required")
		return
	}

	start := time.Now()
	debit, credit, err := h.Engine.Transfer(r.Context(),
		points.AccountID(req.From), points.AccountID(req.To), req.Amount,
		points.Reference{ID: req.ReferenceID, Type: "transfer", IdempotencyKey: req.IdempotencyKey})
	h.observe("transfer", start, err)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.countTransaction(debit)
	h.countTransaction(credit)
	h.writeJSON(w, http.StatusCreated, TransferResponse{
		Debit:  toTransactionDTO(debit),
		Credit: toTransactionDTO(credit),
	})
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// GetTransaction returns a single ledger entry plus dispute eligibility.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeErrorCode(w, http.StatusBadRequest, "INVALID_BODY", "transaction id must be an integer")
		return
	}

	tx, err := h.Ledger.Get(r.Context(), points.TransactionID(id))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, TransactionDetailDTO{
		TransactionDTO: toTransactionDTO(*tx),
		Disputable:     h.Workflow.TimeLeft(*tx) > 0,
		HoursLeft:      h.Workflow.HoursLeft(*tx),
	})
}

// =============================================================================
// DISPUTES
// =============================================================================

// OpenDispute creates a PENDING dispute against a transaction.
func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeErrorCode(w, http.StatusBadRequest, "INVALID_BODY", "transaction id must be an integer")
		return
	}

	var req OpenDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorCode(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}
	if req.UserID == "" {
		h.writeErrorCode(w, http.StatusBadRequest, "INVALID_BODY", "user_id is required")
		return
	}

	d, err := h.Workflow.Open(r.Context(), points.TransactionID(id), req.UserID, req.Reason, req.RequestedAmount)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.DisputesOpened.Inc()
	}
	h.writeJSON(w, http.StatusCreated, toDisputeDTO(d))
}

// GetDispute returns a single dispute.
func (h *Handler) GetDispute(w http.ResponseWriter, r *http.Request) {
	d, err := h.Workflow.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toDisputeDTO(d))
}

// ResolveDispute moves a PENDING dispute to APPROVED or REJECTED.
func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req ResolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorCode(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}

	outcome, err := dispute.ParseStatus(req.Outcome)
	if err != nil {
		h.writeErrorCode(w, http.StatusBadRequest, "INVALID_BODY", "outcome must be APPROVED or REJECTED")
		return
	}

	d, err := h.Workflow.Resolve(r.Context(), chi.URLParam(r, "id"), outcome, req.Notes, req.AdjustedAmount)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.DisputesResolved.WithLabelValues(string(d.Status)).Inc()
	}
	h.writeJSON(w, http.StatusOK, toDisputeDTO(d))
}

// CancelDispute lets the creator withdraw a PENDING dispute.
func (h *Handler) CancelDispute(w http.ResponseWriter, r *http.Request) {
	var req CancelDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorCode(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}

	d, err := h.Workflow.Cancel(r.Context(), chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.DisputesResolved.WithLabelValues(string(d.Status)).Inc()
	}
	h.writeJSON(w, http.StatusOK, toDisputeDTO(d))
}

// ListAccountDisputes returns an account's disputes, newest first.
func (h *Handler) ListAccountDisputes(w http.ResponseWriter, r *http.Request) {
	accountID := points.AccountID(chi.URLParam(r, "id"))

	ds, err := h.Disputes.ListDisputesByAccount(r.Context(), accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]DisputeDTO, 0, len(ds))
	for _, d := range ds {
		dtos = append(dtos, toDisputeDTO(d))
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// ListPendingDisputes returns the reviewer queue, oldest first.
func (h *Handler) ListPendingDisputes(w http.ResponseWriter, r *http.Request) {
	ds, err := h.Disputes.ListPendingDisputes(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]DisputeDTO, 0, len(ds))
	for _, d := range ds {
		dtos = append(dtos, toDisputeDTO(d))
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN
// =============================================================================

// DisableAccount soft-disables an account. History stays intact; new
// operations fail with ACCOUNT_DISABLED.
func (h *Handler) DisableAccount(w http.ResponseWriter, r *http.Request) {
	h.setDisabled(w, r, true)
}

// EnableAccount re-enables a disabled account.
func (h *Handler) EnableAccount(w http.ResponseWriter, r *http.Request) {
	h.setDisabled(w, r, false)
}

func (h *Handler) setDisabled(w http.ResponseWriter, r *http.Request, disabled bool) {
	accountID := points.AccountID(chi.URLParam(r, "id"))
	ctx := r.Context()

	acct, err := h.Store.GetAccount(ctx, accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if acct == nil {
		h.writeError(w, points.ErrAccountNotFound)
		return
	}

	acct.Disabled = disabled
	if err := h.Store.SaveAccount(ctx, *acct); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"user_id": accountID, "disabled": disabled})
}

// VerifyAccount replays the full ledger and cross-checks the stored
// balance. This is the recovery tool, not part of request handling.
func (h *Handler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	accountID := points.AccountID(chi.URLParam(r, "id"))

	err := h.Ledger.Verify(r.Context(), accountID)
	var mismatch *points.LedgerMismatchError
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, VerifyResponse{AccountID: string(accountID), Consistent: true})
	case errors.As(err, &mismatch):
		h.writeJSON(w, http.StatusOK, VerifyResponse{
			AccountID:  string(accountID),
			Consistent: false,
			Detail:     mismatch.Error(),
		})
	default:
		h.writeError(w, err)
	}
}

// UpsertItem seeds or updates mall inventory.
func (h *Handler) UpsertItem(w http.ResponseWriter, r *http.Request) {
	var req UpsertItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorCode(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}
	if req.ID == "" || req.Name == "" || req.PointsCost < 0 || req.Stock < 0 {
		h.writeErrorCode(w, http.StatusBadRequest, "INVALID_BODY", "id, name, non-negative cost and stock are required")
		return
	}

	item := points.MallItem{ID: req.ID, Name: req.Name, PointsCost: req.PointsCost, Stock: req.Stock}
	if err := h.Store.SaveItem(r.Context(), item); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, MallItemDTO{ID: item.ID, Name: item.Name, PointsCost: item.PointsCost, Stock: item.Stock})
}

// GetItem returns one mall item.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Store.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if item == nil {
		h.writeError(w, points.ErrItemNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, MallItemDTO{ID: item.ID, Name: item.Name, PointsCost: item.PointsCost, Stock: item.Stock})
}

// ListLevels returns the level threshold table.
func (h *Handler) ListLevels(w http.ResponseWriter, r *http.Request) {
	defs := h.Levels.Levels()
	dtos := make([]LevelDTO, 0, len(defs))
	for _, d := range defs {
		dtos = append(dtos, LevelDTO{Level: d.Level, Name: d.Name, MinPoints: d.MinPoints, MaxPoints: d.MaxPoints})
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps domain errors to HTTP status plus a stable code.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := points.ErrorCode(err)
	status := http.StatusInternalServerError

	switch {
	case points.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, points.ErrDuplicateDispute),
		errors.Is(err, points.ErrDuplicateIdempotencyKey),
		errors.Is(err, points.ErrConcurrencyConflict):
		status = http.StatusConflict
	case errors.Is(err, points.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	case points.IsClientError(err):
		status = http.StatusBadRequest
	}

	if status >= 500 {
		h.Log.Error().Err(err).Msg("request failed")
	}
	h.writeErrorCode(w, status, code, err.Error())
}

func (h *Handler) writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	h.writeJSON(w, status, ErrorResponse{Code: code, Error: msg})
}

func (h *Handler) observe(op string, start time.Time, err error) {
	if h.Metrics == nil {
		return
	}
	h.Metrics.ObserveOp(op, start, err, points.ErrorCode(err))
}

func (h *Handler) countTransaction(tx points.Transaction) {
	if h.Metrics == nil {
		return
	}
	h.Metrics.TransactionsTotal.WithLabelValues(string(tx.Type)).Inc()
}
