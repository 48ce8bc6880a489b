/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements points.TxStore and dispute.Store using SQLite. In production
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

APPEND-ONLY ENFORCEMENT:
  The transactions table is append-only:
  - No UPDATE statements on transactions
  - No DELETE statements on transactions
  - Corrections via new ADJUSTMENT/REFUND entries only

KEY TABLES:
  accounts:          Derived aggregate per user, optimistic version column
  transactions:      Immutable ledger (INTEGER PRIMARY KEY = monotonic cursor)
  mall_items:        Redeemable inventory, stock never negative
  redemption_orders: One row per successful redemption
  disputes:          Dispute lifecycle rows; a partial unique index enforces
                     at most one PENDING dispute per transaction

CONCURRENCY:
  Uses sync.RWMutex for in-process thread-safety plus an optimistic
  version check on accounts. Composite operations run inside WithTx so
  ledger append, balance update, stock decrement and order creation
  commit or fail together.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - points/store.go: Interface definitions
  - points/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/points-engine/dispute"
	"github.com/warp/points-engine/points"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", points.ErrStoreUnavailable, err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Accounts (derived aggregate; version column guards lost updates)
	CREATE TABLE IF NOT EXISTS accounts (
		user_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		total_earned INTEGER NOT NULL DEFAULT 0,
		total_spent INTEGER NOT NULL DEFAULT 0,
		level INTEGER NOT NULL DEFAULT 1,
		disabled INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_total_earned
		ON accounts(total_earned DESC);

	-- Transactions (append-only ledger; rowid doubles as the cursor)
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		reference_id TEXT,
		reference_type TEXT,
		description TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON transactions(account_id, id DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_created_at
		ON transactions(created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id) WHERE reference_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_type
		ON transactions(account_id, tx_type);

	-- Mall inventory
	CREATE TABLE IF NOT EXISTS mall_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		points_cost INTEGER NOT NULL CHECK (points_cost >= 0),
		stock INTEGER NOT NULL CHECK (stock >= 0),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Redemption orders
	CREATE TABLE IF NOT EXISTS redemption_orders (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		points_spent INTEGER NOT NULL,
		transaction_id INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_account
		ON redemption_orders(account_id, created_at DESC);

	-- Disputes
	CREATE TABLE IF NOT EXISTS disputes (
		id TEXT PRIMARY KEY,
		transaction_id INTEGER NOT NULL,
		account_id TEXT NOT NULL,
		created_by TEXT NOT NULL,
		reason TEXT NOT NULL,
		requested_amount INTEGER,
		status TEXT NOT NULL DEFAULT 'PENDING',
		resolver_notes TEXT,
		created_at TEXT NOT NULL,
		resolved_at TEXT
	);

	-- CRITICAL: at most one PENDING dispute per transaction. Concurrent
	-- opens race on this index; the loser gets a constraint violation.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_disputes_pending
		ON disputes(transaction_id) WHERE status = 'PENDING';

	CREATE INDEX IF NOT EXISTS idx_disputes_account
		ON disputes(account_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_disputes_status
		ON disputes(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx abstracts *sql.DB and *sql.Tx so the same helpers serve both the
// plain store and the transactional view.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONS (points.Store)
// =============================================================================

func (s *Store) AppendTransaction(ctx context.Context, tx points.Transaction) (points.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransaction(ctx, s.db, tx)
}

func appendTransaction(ctx context.Context, db dbtx, tx points.Transaction) (points.Transaction, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO transactions
		(account_id, tx_type, amount, balance_after, reference_id, reference_type,
		 description, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.AccountID,
		tx.Type,
		tx.Amount,
		tx.BalanceAfter,
		nullString(tx.ReferenceID),
		nullString(tx.ReferenceType),
		tx.Description,
		nullString(tx.IdempotencyKey),
		tx.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return points.Transaction{}, points.ErrDuplicateIdempotencyKey
		}
		return points.Transaction{}, fmt.Errorf("failed to append transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return points.Transaction{}, fmt.Errorf("failed to read transaction id: %w", err)
	}
	tx.ID = points.TransactionID(id)
	return tx, nil
}

const txSelect = `
	SELECT id, account_id, tx_type, amount, balance_after, reference_id,
	       reference_type, description, idempotency_key, created_at
	FROM transactions`

func (s *Store) GetTransaction(ctx context.Context, id points.TransactionID) (*points.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, id)
}

func getTransaction(ctx context.Context, db dbtx, id points.TransactionID) (*points.Transaction, error) {
	txs, err := queryTransactions(ctx, db, txSelect+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID points.AccountID, filter points.ListFilter, page points.PageRequest) ([]points.Transaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTransactions(ctx, s.db, accountID, filter, page)
}

func listTransactions(ctx context.Context, db dbtx, accountID points.AccountID, filter points.ListFilter, page points.PageRequest) ([]points.Transaction, int, error) {
	where := []string{"account_id = ?"}
	args := []any{accountID}

	if filter.Type != nil {
		where = append(where, "tx_type = ?")
		args = append(args, *filter.Type)
	}
	if filter.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.From.UTC().Format(time.RFC3339Nano))
	}
	if filter.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, filter.To.UTC().Format(time.RFC3339Nano))
	}
	if filter.BeforeID != nil {
		where = append(where, "id <= ?")
		args = append(args, *filter.BeforeID)
	}
	if filter.Keyword != "" {
		// LIKE folds case for ASCII only; non-ASCII keywords match
		// exact-case.
		where = append(where, "(description LIKE ? OR reference_id LIKE ?)")
		like := "%" + filter.Keyword + "%"
		args = append(args, like, like)
	}

	clause := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := txSelect + clause + " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, page.Size, page.Offset())

	txs, err := queryTransactions(ctx, db, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

func (s *Store) LoadAll(ctx context.Context, accountID points.AccountID) ([]points.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryTransactions(ctx, s.db, txSelect+" WHERE account_id = ? ORDER BY id ASC", accountID)
}

func (s *Store) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasIdempotencyKey(ctx, s.db, key)
}

func hasIdempotencyKey(ctx context.Context, db dbtx, key string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?", key,
	).Scan(&count)
	return count > 0, err
}

func queryTransactions(ctx context.Context, db dbtx, query string, args ...any) ([]points.Transaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []points.Transaction
	for rows.Next() {
		var (
			tx            points.Transaction
			referenceID   sql.NullString
			referenceType sql.NullString
			description   sql.NullString
			idemKey       sql.NullString
			createdAt     string
		)
		err := rows.Scan(
			&tx.ID, &tx.AccountID, &tx.Type, &tx.Amount, &tx.BalanceAfter,
			&referenceID, &referenceType, &description, &idemKey, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.ReferenceID = referenceID.String
		tx.ReferenceType = referenceType.String
		tx.Description = description.String
		tx.IdempotencyKey = idemKey.String
		tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id points.AccountID) (*points.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, id)
}

func getAccount(ctx context.Context, db dbtx, id points.AccountID) (*points.Account, error) {
	var (
		acct      points.Account
		disabled  int
		createdAt string
		updatedAt string
	)
	err := db.QueryRowContext(ctx, `
		SELECT user_id, balance, total_earned, total_spent, level, disabled, version, created_at, updated_at
		FROM accounts WHERE user_id = ?`, id,
	).Scan(&acct.UserID, &acct.Balance, &acct.TotalEarned, &acct.TotalSpent,
		&acct.Level, &disabled, &acct.Version, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	acct.Disabled = disabled != 0
	acct.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	acct.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &acct, nil
}

func (s *Store) SaveAccount(ctx context.Context, acct points.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveAccount(ctx, s.db, acct)
}

func saveAccount(ctx context.Context, db dbtx, acct points.Account) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if acct.Version == 0 {
		// First write for this account.
		_, err := db.ExecContext(ctx, `
			INSERT INTO accounts (user_id, balance, total_earned, total_spent, level, disabled, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			acct.UserID, acct.Balance, acct.TotalEarned, acct.TotalSpent,
			acct.Level, boolInt(acct.Disabled),
			acct.CreatedAt.UTC().Format(time.RFC3339Nano), now,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return points.ErrConcurrencyConflict
			}
			return fmt.Errorf("failed to insert account: %w", err)
		}
		return nil
	}

	res, err := db.ExecContext(ctx, `
		UPDATE accounts
		SET balance = ?, total_earned = ?, total_spent = ?, level = ?, disabled = ?,
		    version = version + 1, updated_at = ?
		WHERE user_id = ? AND version = ?`,
		acct.Balance, acct.TotalEarned, acct.TotalSpent, acct.Level,
		boolInt(acct.Disabled), now, acct.UserID, acct.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		// Row moved underneath us; the engine retries.
		return points.ErrConcurrencyConflict
	}
	return nil
}

func (s *Store) CountAccounts(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countAccounts(ctx, s.db)
}

func countAccounts(ctx context.Context, db dbtx) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts").Scan(&count)
	return count, err
}

func (s *Store) RankByEarned(ctx context.Context, id points.AccountID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rankByEarned(ctx, s.db, id)
}

func rankByEarned(ctx context.Context, db dbtx, id points.AccountID) (int, error) {
	acct, err := getAccount(ctx, db, id)
	if err != nil {
		return 0, err
	}
	if acct == nil {
		return 0, points.ErrAccountNotFound
	}

	var rank int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) + 1 FROM accounts WHERE total_earned > ?", acct.TotalEarned,
	).Scan(&rank)
	return rank, err
}

// =============================================================================
// INVENTORY & ORDERS
// =============================================================================

func (s *Store) GetItem(ctx context.Context, id string) (*points.MallItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getItem(ctx, s.db, id)
}

func getItem(ctx context.Context, db dbtx, id string) (*points.MallItem, error) {
	var (
		item      points.MallItem
		createdAt string
		updatedAt string
	)
	err := db.QueryRowContext(ctx,
		"SELECT id, name, points_cost, stock, created_at, updated_at FROM mall_items WHERE id = ?", id,
	).Scan(&item.ID, &item.Name, &item.PointsCost, &item.Stock, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	item.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	item.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &item, nil
}

func (s *Store) SaveItem(ctx context.Context, item points.MallItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveItem(ctx, s.db, item)
}

func saveItem(ctx context.Context, db dbtx, item points.MallItem) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := db.ExecContext(ctx, `
		INSERT INTO mall_items (id, name, points_cost, stock, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			points_cost = excluded.points_cost,
			stock = excluded.stock,
			updated_at = excluded.updated_at`,
		item.ID, item.Name, item.PointsCost, item.Stock, now, now,
	)
	return err
}

func (s *Store) DecrementStock(ctx context.Context, itemID string, qty int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return decrementStock(ctx, s.db, itemID, qty)
}

func decrementStock(ctx context.Context, db dbtx, itemID string, qty int64) error {
	// Guarded write: the WHERE clause is what makes the last unit safe
	// under concurrency.
	res, err := db.ExecContext(ctx,
		"UPDATE mall_items SET stock = stock - ? WHERE id = ? AND stock >= ?",
		qty, itemID, qty,
	)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		item, err := getItem(ctx, db, itemID)
		if err != nil {
			return err
		}
		if item == nil {
			return points.ErrItemNotFound
		}
		return &points.OutOfStockError{ItemID: itemID, Available: item.Stock, Requested: qty}
	}
	return nil
}

func (s *Store) SaveOrder(ctx context.Context, order points.RedemptionOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveOrder(ctx, s.db, order)
}

func saveOrder(ctx context.Context, db dbtx, order points.RedemptionOrder) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO redemption_orders (id, account_id, item_id, quantity, points_spent, transaction_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.AccountID, order.ItemID, order.Quantity,
		order.PointsSpent, order.TransactionID,
		order.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) ListOrdersByAccount(ctx context.Context, accountID points.AccountID) ([]points.RedemptionOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOrdersByAccount(ctx, s.db, accountID)
}

func listOrdersByAccount(ctx context.Context, db dbtx, accountID points.AccountID) ([]points.RedemptionOrder, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, account_id, item_id, quantity, points_spent, transaction_id, created_at
		FROM redemption_orders
		WHERE account_id = ?
		ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []points.RedemptionOrder
	for rows.Next() {
		var o points.RedemptionOrder
		var createdAt string
		if err := rows.Scan(&o.ID, &o.AccountID, &o.ItemID, &o.Quantity,
			&o.PointsSpent, &o.TransactionID, &createdAt); err != nil {
			return nil, err
		}
		o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (points.TxStore)
// =============================================================================

// WithTx executes a function within a database transaction. The callback
// sees a Store view bound to the transaction; any error rolls everything
// back.
func (s *Store) WithTx(ctx context.Context, fn func(points.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", points.ErrStoreUnavailable, err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", points.ErrStoreUnavailable, err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) AppendTransaction(ctx context.Context, tx points.Transaction) (points.Transaction, error) {
	return appendTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) GetTransaction(ctx context.Context, id points.TransactionID) (*points.Transaction, error) {
	return getTransaction(ctx, ts.tx, id)
}

func (ts *txStore) ListTransactions(ctx context.Context, accountID points.AccountID, filter points.ListFilter, page points.PageRequest) ([]points.Transaction, int, error) {
	return listTransactions(ctx, ts.tx, accountID, filter, page)
}

func (ts *txStore) LoadAll(ctx context.Context, accountID points.AccountID) ([]points.Transaction, error) {
	return queryTransactions(ctx, ts.tx, txSelect+" WHERE account_id = ? ORDER BY id ASC", accountID)
}

func (ts *txStore) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	return hasIdempotencyKey(ctx, ts.tx, key)
}

func (ts *txStore) GetAccount(ctx context.Context, id points.AccountID) (*points.Account, error) {
	return getAccount(ctx, ts.tx, id)
}

func (ts *txStore) SaveAccount(ctx context.Context, acct points.Account) error {
	return saveAccount(ctx, ts.tx, acct)
}

func (ts *txStore) CountAccounts(ctx context.Context) (int, error) {
	return countAccounts(ctx, ts.tx)
}

func (ts *txStore) RankByEarned(ctx context.Context, id points.AccountID) (int, error) {
	return rankByEarned(ctx, ts.tx, id)
}

func (ts *txStore) GetItem(ctx context.Context, id string) (*points.MallItem, error) {
	return getItem(ctx, ts.tx, id)
}

func (ts *txStore) SaveItem(ctx context.Context, item points.MallItem) error {
	return saveItem(ctx, ts.tx, item)
}

func (ts *txStore) DecrementStock(ctx context.Context, itemID string, qty int64) error {
	return decrementStock(ctx, ts.tx, itemID, qty)
}

func (ts *txStore) SaveOrder(ctx context.Context, order points.RedemptionOrder) error {
	return saveOrder(ctx, ts.tx, order)
}

func (ts *txStore) ListOrdersByAccount(ctx context.Context, accountID points.AccountID) ([]points.RedemptionOrder, error) {
	return listOrdersByAccount(ctx, ts.tx, accountID)
}

// =============================================================================
// DISPUTES (dispute.Store)
// =============================================================================

func (s *Store) CreateDispute(ctx context.Context, d dispute.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disputes
		(id, transaction_id, account_id, created_by, reason, requested_amount, status, resolver_notes, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		d.ID, d.TransactionID, d.AccountID, d.CreatedBy, d.Reason,
		nullInt64(d.RequestedAmount), d.Status, d.ResolverNotes,
		d.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return points.ErrDuplicateDispute
		}
		return fmt.Errorf("failed to create dispute: %w", err)
	}
	return nil
}

func (s *Store) UpdateDispute(ctx context.Context, d dispute.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var resolvedAt any
	if d.ResolvedAt != nil {
		resolvedAt = d.ResolvedAt.UTC().Format(time.RFC3339Nano)
	}

	// The status guard makes the terminal transition exactly-once: two
	// racing resolutions both reading PENDING cannot both win the UPDATE.
	res, err := s.db.ExecContext(ctx, `
		UPDATE disputes
		SET status = ?, resolver_notes = ?, resolved_at = ?
		WHERE id = ? AND status = 'PENDING'`,
		d.Status, d.ResolverNotes, resolvedAt, d.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update dispute: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		var count int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM disputes WHERE id = ?", d.ID,
		).Scan(&count); err != nil {
			return fmt.Errorf("failed to check dispute existence: %w", err)
		}
		if count == 0 {
			return points.ErrDisputeNotFound
		}
		return points.ErrInvalidDisputeTransition
	}
	return nil
}

func (s *Store) GetDispute(ctx context.Context, id string) (*dispute.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	disputes, err := s.queryDisputes(ctx, disputeSelect+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(disputes) == 0 {
		return nil, nil
	}
	return &disputes[0], nil
}

func (s *Store) HasPendingDispute(ctx context.Context, txID points.TransactionID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM disputes WHERE transaction_id = ? AND status = 'PENDING'", txID,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) ListDisputesByAccount(ctx context.Context, accountID points.AccountID) ([]dispute.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryDisputes(ctx, disputeSelect+" WHERE account_id = ? ORDER BY created_at DESC", accountID)
}

func (s *Store) ListPendingDisputes(ctx context.Context) ([]dispute.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryDisputes(ctx, disputeSelect+" WHERE status = 'PENDING' ORDER BY created_at ASC")
}

const disputeSelect = `
	SELECT id, transaction_id, account_id, created_by, reason, requested_amount,
	       status, resolver_notes, created_at, resolved_at
	FROM disputes`

func (s *Store) queryDisputes(ctx context.Context, query string, args ...any) ([]dispute.Dispute, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query disputes: %w", err)
	}
	defer rows.Close()

	var disputes []dispute.Dispute
	for rows.Next() {
		var (
			d               dispute.Dispute
			requestedAmount sql.NullInt64
			notes           sql.NullString
			createdAt       string
			resolvedAt      sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.TransactionID, &d.AccountID, &d.CreatedBy,
			&d.Reason, &requestedAmount, &d.Status, &notes, &createdAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dispute: %w", err)
		}
		if requestedAmount.Valid {
			v := requestedAmount.Int64
			d.RequestedAmount = &v
		}
		d.ResolverNotes = notes.String
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if resolvedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, resolvedAt.String)
			d.ResolvedAt = &t
		}
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
