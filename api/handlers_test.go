/*
handlers_test.go - HTTP tests over the full handler stack

The handlers are exercised through the real router with the in-memory
store underneath, so routing, JSON mapping and error codes are all
covered together.
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-engine/api"
	"github.com/warp/points-engine/dispute"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/points/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type env struct {
	server *httptest.Server
	engine *points.Engine
	mem    *store.Memory
}

func newEnv(t *testing.T) *env {
	t.Helper()

	mem := store.NewMemory()
	levels := points.DefaultCatalog()
	engine := points.NewEngine(mem, levels)
	ledger := points.NewLedger(mem)
	workflow := dispute.NewWorkflow(mem, ledger, engine, 72*time.Hour, 10)

	h := api.NewHandler(engine, workflow, ledger, mem, mem, levels)
	srv := httptest.NewServer(api.NewRouter(h, nil))
	t.Cleanup(srv.Close)

	return &env{server: srv, engine: engine, mem: mem}
}

func (e *env) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// =============================================================================
// LEDGER OPERATIONS
// =============================================================================

func TestAPI_EarnAndSummary(t *testing.T) {
	// GIVEN: A fresh user
	// WHEN: They earn 600 points and fetch their summary
	// THEN: Balance, level standing and rank come back populated

	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/accounts/user-1/earn", api.AmountRequest{
		Amount: 600, ReferenceID: "act-1", Description: "campaign bonus",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tx := decode[api.TransactionDTO](t, resp)
	assert.Equal(t, "EARN", tx.Type)
	assert.Equal(t, int64(600), tx.BalanceAfter)

	resp = e.do(t, http.MethodGet, "/api/accounts/user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sum := decode[api.AccountSummaryDTO](t, resp)
	assert.Equal(t, int64(600), sum.Balance)
	assert.Equal(t, 2, sum.Level)
	assert.Equal(t, "Silver", sum.LevelName)
	require.NotNil(t, sum.NextLevel)
	assert.Equal(t, "Gold", *sum.NextLevel)
	assert.Equal(t, int64(1400), sum.PointsToNext)
	assert.Equal(t, 1, sum.Rank)
	assert.Equal(t, 1, sum.TotalUsers)
}

func TestAPI_Spend_InsufficientBalance(t *testing.T) {
	// GIVEN: An account holding 50 points
	// WHEN: Spending 100 over HTTP
	// THEN: 400 with the stable INSUFFICIENT_BALANCE code

	e := newEnv(t)
	e.do(t, http.MethodPost, "/api/accounts/user-1/earn", api.AmountRequest{Amount: 50})

	resp := e.do(t, http.MethodPost, "/api/accounts/user-1/spend", api.AmountRequest{Amount: 100})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	er := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "INSUFFICIENT_BALANCE", er.Code)
}

func TestAPI_UnknownAccount_404(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodGet, "/api/accounts/ghost", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	er := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "ACCOUNT_NOT_FOUND", er.Code)
}

func TestAPI_IdempotentEarn_Conflict(t *testing.T) {
	// GIVEN: A committed earn with an idempotency key
	// WHEN: The client retries the same request
	// THEN: 409 DUPLICATE_IDEMPOTENCY_KEY and no double credit

	e := newEnv(t)
	body := api.AmountRequest{Amount: 100, IdempotencyKey: "earn-1"}

	resp := e.do(t, http.MethodPost, "/api/accounts/user-1/earn", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/accounts/user-1/earn", body)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	er := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "DUPLICATE_IDEMPOTENCY_KEY", er.Code)

	acct, err := e.engine.GetAccount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), acct.Balance)
}

func TestAPI_ListTransactions(t *testing.T) {
	// GIVEN: A mixed history
	// WHEN: Listing with a type filter and paging
	// THEN: The envelope carries items, total and page info

	e := newEnv(t)
	for i := 0; i < 3; i++ {
		e.do(t, http.MethodPost, "/api/accounts/user-1/earn", api.AmountRequest{Amount: 100, Description: fmt.Sprintf("earn %d", i)})
	}
	e.do(t, http.MethodPost, "/api/accounts/user-1/spend", api.AmountRequest{Amount: 30})

	resp := e.do(t, http.MethodGet, "/api/accounts/user-1/transactions?type=EARN&page=1&page_size=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[api.TransactionPageDTO](t, resp)
	assert.Equal(t, 3, page.TotalCount)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.PageSize)

	resp = e.do(t, http.MethodGet, "/api/accounts/user-1/transactions?type=BOGUS", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// REDEEM & TRANSFER
// =============================================================================

func TestAPI_Redeem(t *testing.T) {
	// GIVEN: Inventory seeded via the admin endpoint and a funded account
	// WHEN: Redeeming
	// THEN: Order and transaction come back together; stock drops

	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/api/admin/items", api.UpsertItemRequest{
		ID: "mug", Name: "Mug", PointsCost: 150, Stock: 2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	e.do(t, http.MethodPost, "/api/accounts/user-1/earn", api.AmountRequest{Amount: 500})

	resp = e.do(t, http.MethodPost, "/api/accounts/user-1/redeem", api.RedeemRequest{ItemID: "mug", Quantity: 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rr := decode[api.RedeemResponse](t, resp)
	assert.Equal(t, int64(150), rr.Order.PointsSpent)
	assert.Equal(t, rr.Order.TransactionID, rr.Transaction.ID)
	assert.Equal(t, int64(350), rr.Transaction.BalanceAfter)

	resp = e.do(t, http.MethodGet, "/api/items/mug", nil)
	item := decode[api.MallItemDTO](t, resp)
	assert.Equal(t, int64(1), item.Stock)

	resp = e.do(t, http.MethodGet, "/api/accounts/user-1/orders", nil)
	orders := decode[[]api.OrderDTO](t, resp)
	assert.Len(t, orders, 1)
}

func TestAPI_Redeem_OutOfStock(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/api/admin/items", api.UpsertItemRequest{ID: "mug", Name: "Mug", PointsCost: 10, Stock: 0})
	e.do(t, http.MethodPost, "/api/accounts/user-1/earn", api.AmountRequest{Amount: 500})

	resp := e.do(t, http.MethodPost, "/api/accounts/user-1/redeem", api.RedeemRequest{ItemID: "mug", Quantity: 1})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	er := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "OUT_OF_STOCK", er.Code)
}

func TestAPI_Transfer(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/api/accounts/alice/earn", api.AmountRequest{Amount: 100})

	resp := e.do(t, http.MethodPost, "/api/transfer", api.TransferRequest{From: "alice", To: "bob", Amount: 40})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tr := decode[api.TransferResponse](t, resp)
	assert.Equal(t, int64(-40), tr.Debit.Amount)
	assert.Equal(t, int64(40), tr.Credit.Amount)

	resp = e.do(t, http.MethodGet, "/api/accounts/bob", nil)
	sum := decode[api.AccountSummaryDTO](t, resp)
	assert.Equal(t, int64(40), sum.Balance)
}

// =============================================================================
// DISPUTES
// =============================================================================

func TestAPI_DisputeLifecycle(t *testing.T) {
	// GIVEN: A credited transaction
	// WHEN: Opening, listing and approving a dispute over HTTP
	// THEN: State transitions surface correctly and the compensation lands

	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/api/accounts/user-1/earn", api.AmountRequest{Amount: 100})
	tx := decode[api.TransactionDTO](t, resp)

	// The entry reports itself disputable.
	resp = e.do(t, http.MethodGet, fmt.Sprintf("/api/transactions/%d", tx.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decode[api.TransactionDetailDTO](t, resp)
	assert.True(t, detail.Disputable)
	assert.Equal(t, 71, detail.HoursLeft)

	requested := int64(20)
	resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/transactions/%d/disputes", tx.ID), api.OpenDisputeRequest{
		UserID:          "user-1",
		Reason:          "the campaign promised more points than credited",
		RequestedAmount: &requested,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	d := decode[api.DisputeDTO](t, resp)
	assert.Equal(t, "PENDING", d.Status)

	// Duplicate open is a conflict.
	resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/transactions/%d/disputes", tx.ID), api.OpenDisputeRequest{
		UserID: "user-1", Reason: "the campaign promised more points than credited",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/disputes/pending", nil)
	queue := decode[[]api.DisputeDTO](t, resp)
	require.Len(t, queue, 1)

	resp = e.do(t, http.MethodPost, "/api/disputes/"+d.ID+"/resolve", api.ResolveDisputeRequest{
		Outcome: "APPROVED", Notes: "confirmed against campaign terms",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resolved := decode[api.DisputeDTO](t, resp)
	assert.Equal(t, "APPROVED", resolved.Status)
	assert.NotEmpty(t, resolved.ResolvedAt)

	resp = e.do(t, http.MethodGet, "/api/accounts/user-1", nil)
	sum := decode[api.AccountSummaryDTO](t, resp)
	assert.Equal(t, int64(120), sum.Balance)

	// Double resolve is rejected.
	resp = e.do(t, http.MethodPost, "/api/disputes/"+d.ID+"/resolve", api.ResolveDisputeRequest{Outcome: "REJECTED"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	er := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "INVALID_DISPUTE_TRANSITION", er.Code)
}

func TestAPI_Dispute_ShortReason(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/api/accounts/user-1/earn", api.AmountRequest{Amount: 100})
	tx := decode[api.TransactionDTO](t, resp)

	resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/transactions/%d/disputes", tx.ID), api.OpenDisputeRequest{
		UserID: "user-1", Reason: "nope",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	er := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "INVALID_REASON", er.Code)
}

func TestAPI_Dispute_CancelByOtherUser(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/api/accounts/user-1/earn", api.AmountRequest{Amount: 100})
	tx := decode[api.TransactionDTO](t, resp)

	resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/transactions/%d/disputes", tx.ID), api.OpenDisputeRequest{
		UserID: "user-1", Reason: "the campaign promised more points than credited",
	})
	d := decode[api.DisputeDTO](t, resp)

	resp = e.do(t, http.MethodPost, "/api/disputes/"+d.ID+"/cancel", api.CancelDisputeRequest{UserID: "user-2"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	er := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "NOT_DISPUTE_OWNER", er.Code)

	resp = e.do(t, http.MethodPost, "/api/disputes/"+d.ID+"/cancel", api.CancelDisputeRequest{UserID: "user-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAPI_Admin_AdjustAndVerify(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/api/accounts/user-1/earn", api.AmountRequest{Amount: 100})

	resp := e.do(t, http.MethodPost, "/api/admin/accounts/user-1/adjust", api.AmountRequest{Amount: -40, Description: "fraud rollback"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tx := decode[api.TransactionDTO](t, resp)
	assert.Equal(t, "ADJUSTMENT", tx.Type)
	assert.Equal(t, int64(60), tx.BalanceAfter)

	resp = e.do(t, http.MethodPost, "/api/admin/accounts/user-1/verify", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decode[api.VerifyResponse](t, resp)
	assert.True(t, v.Consistent)
}

func TestAPI_Admin_DisableAccount(t *testing.T) {
	// GIVEN: A disabled account
	// WHEN: New operations arrive
	// THEN: Rejected until re-enabled; reads keep working

	e := newEnv(t)
	e.do(t, http.MethodPost, "/api/accounts/user-1/earn", api.AmountRequest{Amount: 100})

	resp := e.do(t, http.MethodPost, "/api/admin/accounts/user-1/disable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/accounts/user-1/earn", api.AmountRequest{Amount: 10})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	er := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "ACCOUNT_DISABLED", er.Code)

	resp = e.do(t, http.MethodGet, "/api/accounts/user-1/transactions", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	e.do(t, http.MethodPost, "/api/admin/accounts/user-1/enable", nil)
	resp = e.do(t, http.MethodPost, "/api/accounts/user-1/earn", api.AmountRequest{Amount: 10})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

// =============================================================================
// MISC
// =============================================================================

func TestAPI_Levels(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodGet, "/api/levels", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	levels := decode[[]api.LevelDTO](t, resp)
	require.Len(t, levels, 5)
	assert.Equal(t, "Bronze", levels[0].Name)
	assert.Nil(t, levels[4].MaxPoints)
}

func TestAPI_Healthz(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
