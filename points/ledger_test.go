package points_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-engine/points"
)

// =============================================================================
// LISTING & PAGINATION
// =============================================================================

func seedHistory(t *testing.T, engine *points.Engine, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, err := engine.Earn(ctx, "user-1", 10, points.Reference{ID: fmt.Sprintf("act-%d", i)}, fmt.Sprintf("activity %d", i))
		require.NoError(t, err)
	}
}

func TestLedger_List_NewestFirst(t *testing.T) {
	// GIVEN: Five appended entries
	// WHEN: Listing the first page
	// THEN: Entries come back newest first with a correct total

	engine, mem := newTestEngine()
	seedHistory(t, engine, 5)

	page, err := points.NewLedger(mem).List(context.Background(), "user-1", points.ListFilter{}, points.PageRequest{})
	require.NoError(t, err)

	assert.Equal(t, 5, page.TotalCount)
	require.Len(t, page.Items, 5)
	for i := 1; i < len(page.Items); i++ {
		assert.Greater(t, page.Items[i-1].ID, page.Items[i].ID)
	}
}

func TestLedger_List_Pagination(t *testing.T) {
	// GIVEN: 25 entries and a page size of 10
	// WHEN: Walking the pages
	// THEN: 10 + 10 + 5, with a stable total on every page

	engine, mem := newTestEngine()
	seedHistory(t, engine, 25)
	ledger := points.NewLedger(mem)
	ctx := context.Background()

	sizes := []int{10, 10, 5}
	for i, want := range sizes {
		page, err := ledger.List(ctx, "user-1", points.ListFilter{}, points.PageRequest{Page: i + 1, Size: 10})
		require.NoError(t, err)
		assert.Len(t, page.Items, want, "page %d", i+1)
		assert.Equal(t, 25, page.TotalCount)
	}
}

func TestLedger_List_CursorStableUnderAppends(t *testing.T) {
	// GIVEN: A listing anchored at the newest ID of page one
	// WHEN: New entries are appended before page two is fetched
	// THEN: The cursor keeps later pages from shifting or duplicating

	engine, mem := newTestEngine()
	seedHistory(t, engine, 10)
	ledger := points.NewLedger(mem)
	ctx := context.Background()

	first, err := ledger.List(ctx, "user-1", points.ListFilter{}, points.PageRequest{Page: 1, Size: 5})
	require.NoError(t, err)
	cursor := first.Items[0].ID

	// Concurrent activity lands between page fetches.
	seedHistory(t, engine, 3)

	filter := points.ListFilter{BeforeID: &cursor}
	anchored1, err := ledger.List(ctx, "user-1", filter, points.PageRequest{Page: 1, Size: 5})
	require.NoError(t, err)
	anchored2, err := ledger.List(ctx, "user-1", filter, points.PageRequest{Page: 2, Size: 5})
	require.NoError(t, err)

	assert.Equal(t, 10, anchored1.TotalCount, "appends after the cursor are invisible")
	assert.Equal(t, first.Items, anchored1.Items)

	seen := map[points.TransactionID]bool{}
	for _, tx := range append(anchored1.Items, anchored2.Items...) {
		assert.False(t, seen[tx.ID], "entry %d appeared twice", tx.ID)
		seen[tx.ID] = true
	}
	assert.Len(t, seen, 10)
}

func TestLedger_List_Filters(t *testing.T) {
	// GIVEN: A mixed history of earns and spends
	// WHEN: Filtering by type and keyword
	// THEN: Only matching entries are returned

	engine, mem := newTestEngine()
	ctx := context.Background()

	_, err := engine.Earn(ctx, "user-1", 100, points.Reference{ID: "act-1"}, "daily login")
	require.NoError(t, err)
	_, err = engine.Spend(ctx, "user-1", 30, points.Reference{ID: "order-7"}, "coffee voucher")
	require.NoError(t, err)
	_, err = engine.Earn(ctx, "user-1", 50, points.Reference{ID: "act-2"}, "survey completed")
	require.NoError(t, err)

	ledger := points.NewLedger(mem)

	spend := points.TxSpend
	page, err := ledger.List(ctx, "user-1", points.ListFilter{Type: &spend}, points.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "coffee voucher", page.Items[0].Description)

	page, err = ledger.List(ctx, "user-1", points.ListFilter{Keyword: "survey"}, points.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	page, err = ledger.List(ctx, "user-1", points.ListFilter{Keyword: "order-7"}, points.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1, "keyword also matches reference IDs")
}

func TestLedger_List_KeywordCaseFolding(t *testing.T) {
	// GIVEN: Descriptions with mixed ASCII case and a CJK description
	// WHEN: Filtering by keyword
	// THEN: ASCII matches ignore case; non-ASCII matches exact-case only,
	//       the same folding SQLite LIKE applies

	engine, mem := newTestEngine()
	ctx := context.Background()

	_, err := engine.Earn(ctx, "user-1", 100, points.Reference{ID: "act-1"}, "Coffee Voucher")
	require.NoError(t, err)
	_, err = engine.Earn(ctx, "user-1", 50, points.Reference{ID: "act-2"}, "新春活动奖励")
	require.NoError(t, err)

	ledger := points.NewLedger(mem)

	page, err := ledger.List(ctx, "user-1", points.ListFilter{Keyword: "COFFEE"}, points.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	page, err = ledger.List(ctx, "user-1", points.ListFilter{Keyword: "新春"}, points.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
}

func TestLedger_List_EmptyAccount(t *testing.T) {
	_, mem := newTestEngine()

	page, err := points.NewLedger(mem).List(context.Background(), "nobody", points.ListFilter{}, points.PageRequest{})
	require.NoError(t, err)
	assert.NotNil(t, page.Items, "empty page is [], not null")
	assert.Empty(t, page.Items)
	assert.Equal(t, 0, page.TotalCount)
}

// =============================================================================
// VERIFICATION
// =============================================================================

func TestLedger_Verify_DetectsCorruption(t *testing.T) {
	// GIVEN: A healthy account whose stored balance is then corrupted
	// WHEN: Verifying
	// THEN: The replay reports the three disagreeing views

	engine, mem := newTestEngine()
	ctx := context.Background()

	_, err := engine.Earn(ctx, "user-1", 100, points.Reference{ID: "a1"}, "")
	require.NoError(t, err)

	ledger := points.NewLedger(mem)
	require.NoError(t, ledger.Verify(ctx, "user-1"))

	acct, _ := mem.GetAccount(ctx, "user-1")
	acct.Balance = 999
	require.NoError(t, mem.SaveAccount(ctx, *acct))

	err = ledger.Verify(ctx, "user-1")
	require.Error(t, err)

	var mismatch *points.LedgerMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, int64(999), mismatch.StoredBalance)
	assert.Equal(t, int64(100), mismatch.ReplayedSum)
	assert.Equal(t, int64(100), mismatch.LastAfter)
}

func TestLedger_Verify_UnknownAccount(t *testing.T) {
	_, mem := newTestEngine()

	err := points.NewLedger(mem).Verify(context.Background(), "ghost")
	assert.ErrorIs(t, err, points.ErrAccountNotFound)
}

func TestLedger_Get(t *testing.T) {
	engine, mem := newTestEngine()
	ctx := context.Background()

	tx, err := engine.Earn(ctx, "user-1", 100, points.Reference{ID: "a1"}, "")
	require.NoError(t, err)

	ledger := points.NewLedger(mem)
	got, err := ledger.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
	assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)

	_, err = ledger.Get(ctx, 9999)
	assert.ErrorIs(t, err, points.ErrTransactionNotFound)
}

// =============================================================================
// PAGE NORMALIZATION
// =============================================================================

func TestPageRequest_Normalize(t *testing.T) {
	p := points.PageRequest{}.Normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.Size)

	p = points.PageRequest{Page: -3, Size: 10000}.Normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 200, p.Size, "size is capped")

	assert.Equal(t, 40, points.PageRequest{Page: 3, Size: 20}.Offset())
}
