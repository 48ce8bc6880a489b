/*
store.go - Persistence interface for the ledger and related data

PURPOSE:
  Defines the interface between the domain logic and the database.
  The Store handles persistence while maintaining append-only semantics
  for the transaction log. Different implementations can use SQLite,
  PostgreSQL, or in-memory storage.

APPEND-ONLY CONTRACT:
  Transactions have exactly one write operation: AppendTransaction.
  There is NO update and NO delete for ledger entries. Corrections are
  new ADJUSTMENT or REFUND entries.

IDEMPOTENCY:
  When a transaction carries an idempotency key, AppendTransaction must
  reject a second write with the same key (ErrDuplicateIdempotencyKey).
  This makes caller retries safe after timeouts.

OPTIMISTIC CONCURRENCY:
  SaveAccount performs a compare-and-swap on Account.Version and returns
  ErrConcurrencyConflict when the row moved underneath the caller. The
  engine retries the commit step a bounded number of times.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - points/store/memory.go: In-memory for testing
*/
package points

import "context"

// =============================================================================
// STORE - Ledger, accounts, inventory, orders
// =============================================================================

type Store interface {
	// AppendTransaction persists a ledger entry, assigns its monotonic ID,
	// and returns the stored transaction. The ONLY ledger write.
	AppendTransaction(ctx context.Context, tx Transaction) (Transaction, error)

	// GetTransaction returns a transaction, or nil when absent.
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// ListTransactions returns a filtered page, newest first (ID descending),
	// plus the total count matching the filter.
	ListTransactions(ctx context.Context, accountID AccountID, filter ListFilter, page PageRequest) ([]Transaction, int, error)

	// LoadAll returns every transaction for an account, oldest first.
	// Recovery/verification path only; never on the hot path.
	LoadAll(ctx context.Context, accountID AccountID) ([]Transaction, error)

	// HasIdempotencyKey checks if a key was already used.
	HasIdempotencyKey(ctx context.Context, key string) (bool, error)

	// GetAccount returns an account, or nil when absent.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// SaveAccount inserts (Version 0) or updates with a version check.
	SaveAccount(ctx context.Context, acct Account) error

	// CountAccounts returns the number of accounts.
	CountAccounts(ctx context.Context) (int, error)

	// RankByEarned returns the 1-based rank of the account by TotalEarned.
	RankByEarned(ctx context.Context, id AccountID) (int, error)

	// GetItem returns a mall item, or nil when absent.
	GetItem(ctx context.Context, id string) (*MallItem, error)

	// SaveItem inserts or updates a mall item.
	SaveItem(ctx context.Context, item MallItem) error

	// DecrementStock atomically takes qty units off an item's stock.
	// Returns ErrOutOfStock when fewer than qty units remain; stock can
	// never go negative, even under concurrent decrements.
	DecrementStock(ctx context.Context, itemID string, qty int64) error

	// SaveOrder persists a redemption order.
	SaveOrder(ctx context.Context, order RedemptionOrder) error

	// ListOrdersByAccount returns an account's redemption orders, newest first.
	ListOrdersByAccount(ctx context.Context, accountID AccountID) ([]RedemptionOrder, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic composite operations
// =============================================================================

// TxStore wraps Store with transaction support. Every engine operation runs
// inside WithTx so ledger append, balance update, stock decrement and order
// creation commit or fail together.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, all writes are rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
