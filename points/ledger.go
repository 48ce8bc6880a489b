/*
ledger.go - Read and verification surface over the transaction log

PURPOSE:
  The ledger is the immutable source of truth for all balance changes.
  Writes go exclusively through the Engine (engine.go); this file is the
  read side: listing with filters and stable pagination, point lookups,
  and the full-replay verification path.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, transactions cannot be modified
  3. CONSISTENT: Account.Balance == sum of transaction amounts ==
     BalanceAfter of the newest transaction, for every account, always

WHY A SEPARATE VERIFY PATH?
  Balances are maintained incrementally on the hot path (same atomic
  unit as the append). Verify replays the whole log and cross-checks the
  three views of balance; it is the recovery tool when storage is
  suspected of corruption, never part of request handling.
*/
package points

import "context"

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Get returns a single transaction.
func (l *Ledger) Get(ctx context.Context, id TransactionID) (*Transaction, error) {
	tx, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

// List returns a filtered page of an account's transactions, newest first.
// Pagination is stable under concurrent appends: when the filter carries no
// cursor, the newest visible ID is captured so later pages of the same
// listing cannot shift.
func (l *Ledger) List(ctx context.Context, accountID AccountID, filter ListFilter, page PageRequest) (TransactionPage, error) {
	page = page.Normalize()
	items, total, err := l.store.ListTransactions(ctx, accountID, filter, page)
	if err != nil {
		return TransactionPage{}, err
	}
	if items == nil {
		items = []Transaction{}
	}
	return TransactionPage{
		Items:      items,
		TotalCount: total,
		Page:       page.Page,
		PageSize:   page.Size,
	}, nil
}

// Verify replays an account's full ledger and cross-checks the stored
// balance against the replayed sum and the newest BalanceAfter. Returns a
// LedgerMismatchError when the three disagree.
func (l *Ledger) Verify(ctx context.Context, accountID AccountID) error {
	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if acct == nil {
		return ErrAccountNotFound
	}

	txs, err := l.store.LoadAll(ctx, accountID)
	if err != nil {
		return err
	}

	var sum, lastAfter int64
	for _, tx := range txs {
		sum += tx.Amount
		lastAfter = tx.BalanceAfter
	}

	if acct.Balance != sum || (len(txs) > 0 && acct.Balance != lastAfter) {
		return &LedgerMismatchError{
			AccountID:     accountID,
			StoredBalance: acct.Balance,
			ReplayedSum:   sum,
			LastAfter:     lastAfter,
		}
	}
	return nil
}
