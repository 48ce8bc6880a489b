// Package store provides in-memory Store implementations for tests and dev.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/points-engine/dispute"
	"github.com/warp/points-engine/points"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory implements points.TxStore and dispute.Store. Transaction IDs are
// assigned from a single counter, mirroring the production AUTOINCREMENT.
type Memory struct {
	mu           sync.RWMutex
	nextID       points.TransactionID
	transactions map[points.AccountID][]points.Transaction // ID ascending
	byID         map[points.TransactionID]points.Transaction
	idempotency  map[string]bool
	accounts     map[points.AccountID]points.Account
	items        map[string]points.MallItem
	orders       map[points.AccountID][]points.RedemptionOrder
	disputes     map[string]dispute.Dispute
}

func NewMemory() *Memory {
	return &Memory{
		nextID:       1,
		transactions: make(map[points.AccountID][]points.Transaction),
		byID:         make(map[points.TransactionID]points.Transaction),
		idempotency:  make(map[string]bool),
		accounts:     make(map[points.AccountID]points.Account),
		items:        make(map[string]points.MallItem),
		orders:       make(map[points.AccountID][]points.RedemptionOrder),
		disputes:     make(map[string]dispute.Dispute),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) AppendTransaction(ctx context.Context, tx points.Transaction) (points.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) appendLocked(tx points.Transaction) (points.Transaction, error) {
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return points.Transaction{}, points.ErrDuplicateIdempotencyKey
	}

	tx.ID = m.nextID
	m.nextID++
	m.transactions[tx.AccountID] = append(m.transactions[tx.AccountID], tx)
	m.byID[tx.ID] = tx
	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
	return tx, nil
}

func (m *Memory) GetTransaction(ctx context.Context, id points.TransactionID) (*points.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

func (m *Memory) ListTransactions(ctx context.Context, accountID points.AccountID, filter points.ListFilter, page points.PageRequest) ([]points.Transaction, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []points.Transaction
	for _, tx := range m.transactions[accountID] {
		if matches(tx, filter) {
			matched = append(matched, tx)
		}
	}
	// Newest first.
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := len(matched)
	start := page.Offset()
	if start > total {
		start = total
	}
	end := start + page.Size
	if end > total {
		end = total
	}
	out := make([]points.Transaction, end-start)
	copy(out, matched[start:end])
	return out, total, nil
}

func matches(tx points.Transaction, f points.ListFilter) bool {
	if f.Type != nil && tx.Type != *f.Type {
		return false
	}
	if f.From != nil && tx.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && tx.CreatedAt.After(*f.To) {
		return false
	}
	if f.BeforeID != nil && tx.ID > *f.BeforeID {
		return false
	}
	if f.Keyword != "" {
		if !containsFold(tx.Description, f.Keyword) &&
			!containsFold(tx.ReferenceID, f.Keyword) {
			return false
		}
	}
	return true
}

// containsFold reports whether s contains sub ignoring ASCII case only,
// matching the folding SQLite's LIKE applies in production. Non-ASCII
// keywords match exact-case in both stores.
func containsFold(s, sub string) bool {
	return strings.Contains(asciiLower(s), asciiLower(sub))
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}

func (m *Memory) LoadAll(ctx context.Context, accountID points.AccountID) ([]points.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.transactions[accountID]
	out := make([]points.Transaction, len(src))
	copy(out, src)
	return out, nil
}

func (m *Memory) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[key], nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) GetAccount(ctx context.Context, id points.AccountID) (*points.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	return &acct, nil
}

func (m *Memory) SaveAccount(ctx context.Context, acct points.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveAccountLocked(acct)
}

func (m *Memory) saveAccountLocked(acct points.Account) error {
	existing, ok := m.accounts[acct.UserID]
	if ok && existing.Version != acct.Version {
		return points.ErrConcurrencyConflict
	}
	if !ok && acct.Version != 0 {
		return points.ErrConcurrencyConflict
	}
	acct.Version++
	m.accounts[acct.UserID] = acct
	return nil
}

func (m *Memory) CountAccounts(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts), nil
}

func (m *Memory) RankByEarned(ctx context.Context, id points.AccountID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[id]
	if !ok {
		return 0, points.ErrAccountNotFound
	}
	rank := 1
	for _, other := range m.accounts {
		if other.TotalEarned > acct.TotalEarned {
			rank++
		}
	}
	return rank, nil
}

// =============================================================================
// INVENTORY & ORDERS
// =============================================================================

func (m *Memory) GetItem(ctx context.Context, id string) (*points.MallItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *Memory) SaveItem(ctx context.Context, item points.MallItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return nil
}

func (m *Memory) DecrementStock(ctx context.Context, itemID string, qty int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decrementStockLocked(itemID, qty)
}

func (m *Memory) decrementStockLocked(itemID string, qty int64) error {
	item, ok := m.items[itemID]
	if !ok {
		return points.ErrItemNotFound
	}
	if item.Stock < qty {
		return &points.OutOfStockError{ItemID: itemID, Available: item.Stock, Requested: qty}
	}
	item.Stock -= qty
	m.items[itemID] = item
	return nil
}

func (m *Memory) SaveOrder(ctx context.Context, order points.RedemptionOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.AccountID] = append(m.orders[order.AccountID], order)
	return nil
}

func (m *Memory) ListOrdersByAccount(ctx context.Context, accountID points.AccountID) ([]points.RedemptionOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.orders[accountID]
	out := make([]points.RedemptionOrder, len(src))
	copy(out, src)
	// Newest first.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// DISPUTES (dispute.Store)
// =============================================================================

func (m *Memory) CreateDispute(ctx context.Context, d dispute.Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Pending-uniqueness guard, mirroring the production partial index.
	for _, existing := range m.disputes {
		if existing.TransactionID == d.TransactionID && existing.Status == dispute.StatusPending {
			return points.ErrDuplicateDispute
		}
	}
	m.disputes[d.ID] = d
	return nil
}

func (m *Memory) UpdateDispute(ctx context.Context, d dispute.Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.disputes[d.ID]
	if !ok {
		return points.ErrDisputeNotFound
	}
	// Terminal transitions are exactly-once: once a resolution wins, a
	// racing one must fail rather than overwrite it.
	if existing.Status.Terminal() {
		return points.ErrInvalidDisputeTransition
	}
	m.disputes[d.ID] = d
	return nil
}

func (m *Memory) GetDispute(ctx context.Context, id string) (*dispute.Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.disputes[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *Memory) HasPendingDispute(ctx context.Context, txID points.TransactionID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, d := range m.disputes {
		if d.TransactionID == txID && d.Status == dispute.StatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListDisputesByAccount(ctx context.Context, accountID points.AccountID) ([]dispute.Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []dispute.Dispute
	for _, d := range m.disputes {
		if d.AccountID == accountID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListPendingDisputes(ctx context.Context) ([]dispute.Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []dispute.Dispute
	for _, d := range m.disputes {
		if d.Status == dispute.StatusPending {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// TRANSACTIONAL VIEW - snapshot + rollback on error
// =============================================================================

// WithTx simulates a store transaction: state is snapshotted up front and
// restored when fn fails.
func (m *Memory) WithTx(ctx context.Context, fn func(points.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	nextID       points.TransactionID
	transactions map[points.AccountID][]points.Transaction
	byID         map[points.TransactionID]points.Transaction
	idempotency  map[string]bool
	accounts     map[points.AccountID]points.Account
	items        map[string]points.MallItem
	orders       map[points.AccountID][]points.RedemptionOrder
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		nextID:       m.nextID,
		transactions: make(map[points.AccountID][]points.Transaction, len(m.transactions)),
		byID:         make(map[points.TransactionID]points.Transaction, len(m.byID)),
		idempotency:  make(map[string]bool, len(m.idempotency)),
		accounts:     make(map[points.AccountID]points.Account, len(m.accounts)),
		items:        make(map[string]points.MallItem, len(m.items)),
		orders:       make(map[points.AccountID][]points.RedemptionOrder, len(m.orders)),
	}
	for k, v := range m.transactions {
		s.transactions[k] = append([]points.Transaction{}, v...)
	}
	for k, v := range m.byID {
		s.byID[k] = v
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.items {
		s.items[k] = v
	}
	for k, v := range m.orders {
		s.orders[k] = append([]points.RedemptionOrder{}, v...)
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.nextID = s.nextID
	m.transactions = s.transactions
	m.byID = s.byID
	m.idempotency = s.idempotency
	m.accounts = s.accounts
	m.items = s.items
	m.orders = s.orders
}

// txView runs against the parent's state without re-locking; the parent
// holds the write lock for the duration of WithTx.
type txView struct {
	parent *Memory
}

func (tv *txView) AppendTransaction(ctx context.Context, tx points.Transaction) (points.Transaction, error) {
	return tv.parent.appendLocked(tx)
}

func (tv *txView) GetTransaction(ctx context.Context, id points.TransactionID) (*points.Transaction, error) {
	tx, ok := tv.parent.byID[id]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

func (tv *txView) ListTransactions(ctx context.Context, accountID points.AccountID, filter points.ListFilter, page points.PageRequest) ([]points.Transaction, int, error) {
	var matched []points.Transaction
	for _, tx := range tv.parent.transactions[accountID] {
		if matches(tx, filter) {
			matched = append(matched, tx)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	total := len(matched)
	start := page.Offset()
	if start > total {
		start = total
	}
	end := start + page.Size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (tv *txView) LoadAll(ctx context.Context, accountID points.AccountID) ([]points.Transaction, error) {
	return tv.parent.transactions[accountID], nil
}

func (tv *txView) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	return tv.parent.idempotency[key], nil
}

func (tv *txView) GetAccount(ctx context.Context, id points.AccountID) (*points.Account, error) {
	acct, ok := tv.parent.accounts[id]
	if !ok {
		return nil, nil
	}
	return &acct, nil
}

func (tv *txView) SaveAccount(ctx context.Context, acct points.Account) error {
	return tv.parent.saveAccountLocked(acct)
}

func (tv *txView) CountAccounts(ctx context.Context) (int, error) {
	return len(tv.parent.accounts), nil
}

func (tv *txView) RankByEarned(ctx context.Context, id points.AccountID) (int, error) {
	acct, ok := tv.parent.accounts[id]
	if !ok {
		return 0, points.ErrAccountNotFound
	}
	rank := 1
	for _, other := range tv.parent.accounts {
		if other.TotalEarned > acct.TotalEarned {
			rank++
		}
	}
	return rank, nil
}

func (tv *txView) GetItem(ctx context.Context, id string) (*points.MallItem, error) {
	item, ok := tv.parent.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (tv *txView) SaveItem(ctx context.Context, item points.MallItem) error {
	tv.parent.items[item.ID] = item
	return nil
}

func (tv *txView) DecrementStock(ctx context.Context, itemID string, qty int64) error {
	return tv.parent.decrementStockLocked(itemID, qty)
}

func (tv *txView) SaveOrder(ctx context.Context, order points.RedemptionOrder) error {
	tv.parent.orders[order.AccountID] = append(tv.parent.orders[order.AccountID], order)
	return nil
}

func (tv *txView) ListOrdersByAccount(ctx context.Context, accountID points.AccountID) ([]points.RedemptionOrder, error) {
	return tv.parent.orders[accountID], nil
}
