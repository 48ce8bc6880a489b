/*
engine.go - The transaction engine

PURPOSE:
  Orchestrates every point-affecting operation (earn, spend, adjust,
  refund, redeem, transfer) as an atomic unit against the ledger, the
  account aggregate, and - for redemptions - mall inventory.

CONCURRENCY MODEL:
  Per-account serialization. Each operation takes a per-account mutex
  (ordered acquisition for transfers, so two opposing transfers cannot
  deadlock), then runs inside a store transaction. Two concurrent spends
  against the same account therefore cannot both read a stale balance;
  unrelated accounts never contend on a shared lock.

  Underneath the in-process locks, SaveAccount performs an optimistic
  version check. Losing that race rolls the whole unit back and the
  engine retries the commit step - only the commit step, never any
  caller side effects - a bounded number of times with backoff before
  surfacing ErrConcurrencyConflict.

ATOMICITY:
  Composite operations (redeem, transfer) perform all checks and all
  mutations inside one WithTx. Stock decremented without points deducted
  (or the reverse) is a correctness violation, not a degraded mode; if
  any leg fails, everything rolls back.

VALIDATION:
  Amount validation happens before any mutation and returns without
  side effects. Balance and stock checks happen inside the transaction,
  against current state.

EVENTS:
  transaction.created is published after commit, fire-and-forget.
*/
package points

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	commitRetries = 3
	retryBackoff  = 10 * time.Millisecond
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store  TxStore
	Levels *Catalog
	Events Publisher
	Log    zerolog.Logger
	Now    func() time.Time

	locks accountLocks
}

func NewEngine(store TxStore, levels *Catalog) *Engine {
	return &Engine{
		Store:  store,
		Levels: levels,
		Events: NopPublisher{},
		Log:    zerolog.Nop(),
		Now:    time.Now,
	}
}

// =============================================================================
// PUBLIC OPERATIONS
// =============================================================================

// Earn appends an EARN entry, increasing balance and totalEarned.
// The account is created on first activity.
func (e *Engine) Earn(ctx context.Context, accountID AccountID, amount int64, ref Reference, description string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, &InvalidAmountError{Op: "earn", Amount: amount}
	}
	return e.single(ctx, accountID, true, func(s Store, acct *Account) (Transaction, error) {
		acct.Balance += amount
		acct.TotalEarned += amount
		acct.Level = e.Levels.LevelFor(acct.TotalEarned).Level
		return e.writeEntry(ctx, s, acct, TxEarn, amount, ref, description)
	})
}

// Spend appends a SPEND entry (negative amount), decreasing balance and
// increasing totalSpent. Fails with InsufficientBalance when the account
// holds fewer points than requested.
func (e *Engine) Spend(ctx context.Context, accountID AccountID, amount int64, ref Reference, description string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, &InvalidAmountError{Op: "spend", Amount: amount}
	}
	return e.single(ctx, accountID, false, func(s Store, acct *Account) (Transaction, error) {
		if acct.Balance < amount {
			return Transaction{}, &InsufficientBalanceError{AccountID: accountID, Available: acct.Balance, Requested: amount}
		}
		acct.Balance -= amount
		acct.TotalSpent += amount
		return e.writeEntry(ctx, s, acct, TxSpend, -amount, ref, description)
	})
}

// Adjust appends an ADJUSTMENT entry with the given signed delta. Fails
// when the delta would drive the balance negative. Totals are untouched:
// adjustments correct the balance, they are not earnings or spending.
func (e *Engine) Adjust(ctx context.Context, accountID AccountID, delta int64, ref Reference, description string) (Transaction, error) {
	if delta == 0 {
		return Transaction{}, &InvalidAmountError{Op: "adjust", Amount: delta}
	}
	return e.single(ctx, accountID, false, func(s Store, acct *Account) (Transaction, error) {
		if acct.Balance+delta < 0 {
			return Transaction{}, &InsufficientBalanceError{AccountID: accountID, Available: acct.Balance, Requested: -delta}
		}
		acct.Balance += delta
		return e.writeEntry(ctx, s, acct, TxAdjustment, delta, ref, description)
	})
}

// Refund appends a REFUND entry, increasing balance. Refunds do not
// re-increase totalEarned, so they never inflate the account's level.
func (e *Engine) Refund(ctx context.Context, accountID AccountID, amount int64, ref Reference, description string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, &InvalidAmountError{Op: "refund", Amount: amount}
	}
	return e.single(ctx, accountID, false, func(s Store, acct *Account) (Transaction, error) {
		acct.Balance += amount
		return e.writeEntry(ctx, s, acct, TxRefund, amount, ref, description)
	})
}

// Redeem exchanges points for a mall item: within one atomic unit it
// verifies stock and balance, decrements stock, appends the SPEND entry
// and creates the redemption order. Under concurrent redemptions of the
// last unit, exactly one succeeds.
func (e *Engine) Redeem(ctx context.Context, accountID AccountID, itemID string, quantity int64, idempotencyKey string) (RedemptionOrder, Transaction, error) {
	if quantity <= 0 {
		return RedemptionOrder{}, Transaction{}, &InvalidAmountError{Op: "redeem", Amount: quantity}
	}

	orderID := uuid.NewString()
	var order RedemptionOrder
	var spendTx Transaction

	unlock := e.locks.lock(accountID)
	defer unlock()

	err := e.withRetry(ctx, func() error {
		return e.Store.WithTx(ctx, func(s Store) error {
			item, err := s.GetItem(ctx, itemID)
			if err != nil {
				return err
			}
			if item == nil {
				return ErrItemNotFound
			}
			if item.Stock < quantity {
				return &OutOfStockError{ItemID: itemID, Available: item.Stock, Requested: quantity}
			}

			acct, err := e.loadAccount(ctx, s, accountID, false)
			if err != nil {
				return err
			}

			cost := item.PointsCost * quantity
			if acct.Balance < cost {
				return &InsufficientBalanceError{AccountID: accountID, Available: acct.Balance, Requested: cost}
			}

			// Guarded decrement; a concurrent redemption of the same last
			// unit fails here with OutOfStock and rolls back.
			if err := s.DecrementStock(ctx, itemID, quantity); err != nil {
				return err
			}

			acct.Balance -= cost
			acct.TotalSpent += cost
			tx, err := e.writeEntry(ctx, s, acct, TxSpend, -cost,
				Reference{ID: orderID, Type: "mall_order", IdempotencyKey: idempotencyKey},
				fmt.Sprintf("redeem %dx %s", quantity, item.Name))
			if err != nil {
				return err
			}

			order = RedemptionOrder{
				ID:            orderID,
				AccountID:     accountID,
				ItemID:        itemID,
				Quantity:      quantity,
				PointsSpent:   cost,
				TransactionID: tx.ID,
				CreatedAt:     e.Now().UTC(),
			}
			if err := s.SaveOrder(ctx, order); err != nil {
				return err
			}
			spendTx = tx
			return s.SaveAccount(ctx, *acct)
		})
	})
	if err != nil {
		return RedemptionOrder{}, Transaction{}, err
	}

	e.published(spendTx)
	return order, spendTx, nil
}

// Transfer moves points between two accounts as spend(from) + earn(to) in
// one atomic unit. No partial transfer is ever observable: if the credit
// leg fails, the debit leg rolls back with it.
func (e *Engine) Transfer(ctx context.Context, fromID, toID AccountID, amount int64, ref Reference) (Transaction, Transaction, error) {
	if amount <= 0 {
		return Transaction{}, Transaction{}, &InvalidAmountError{Op: "transfer", Amount: amount}
	}
	if fromID == toID {
		return Transaction{}, Transaction{}, fmt.Errorf("transfer to self: %w", ErrInvalidAmount)
	}

	// Ordered acquisition so opposing transfers cannot deadlock.
	first, second := fromID, toID
	if second < first {
		first, second = second, first
	}
	unlockFirst := e.locks.lock(first)
	defer unlockFirst()
	unlockSecond := e.locks.lock(second)
	defer unlockSecond()

	var debit, credit Transaction
	err := e.withRetry(ctx, func() error {
		return e.Store.WithTx(ctx, func(s Store) error {
			from, err := e.loadAccount(ctx, s, fromID, false)
			if err != nil {
				return err
			}
			if from.Balance < amount {
				return &InsufficientBalanceError{AccountID: fromID, Available: from.Balance, Requested: amount}
			}
			to, err := e.loadAccount(ctx, s, toID, true)
			if err != nil {
				return err
			}

			from.Balance -= amount
			from.TotalSpent += amount
			debitRef := ref
			debit, err = e.writeEntry(ctx, s, from, TxSpend, -amount, debitRef,
				fmt.Sprintf("transfer to %s", toID))
			if err != nil {
				return err
			}

			to.Balance += amount
			to.TotalEarned += amount
			to.Level = e.Levels.LevelFor(to.TotalEarned).Level
			creditRef := ref
			if creditRef.IdempotencyKey != "" {
				creditRef.IdempotencyKey += "-credit"
			}
			credit, err = e.writeEntry(ctx, s, to, TxEarn, amount, creditRef,
				fmt.Sprintf("transfer from %s", fromID))
			if err != nil {
				return err
			}

			if err := s.SaveAccount(ctx, *from); err != nil {
				return err
			}
			return s.SaveAccount(ctx, *to)
		})
	})
	if err != nil {
		return Transaction{}, Transaction{}, err
	}

	e.published(debit)
	e.published(credit)
	return debit, credit, nil
}

// GetAccount returns the derived aggregate for an account.
func (e *Engine) GetAccount(ctx context.Context, accountID AccountID) (*Account, error) {
	acct, err := e.Store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, ErrAccountNotFound
	}
	return acct, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// single runs one account mutation under the account lock, inside a store
// transaction, with bounded commit retry.
func (e *Engine) single(ctx context.Context, accountID AccountID, createIfMissing bool, fn func(Store, *Account) (Transaction, error)) (Transaction, error) {
	unlock := e.locks.lock(accountID)
	defer unlock()

	var out Transaction
	err := e.withRetry(ctx, func() error {
		return e.Store.WithTx(ctx, func(s Store) error {
			acct, err := e.loadAccount(ctx, s, accountID, createIfMissing)
			if err != nil {
				return err
			}
			tx, err := fn(s, acct)
			if err != nil {
				return err
			}
			if err := s.SaveAccount(ctx, *acct); err != nil {
				return err
			}
			out = tx
			return nil
		})
	})
	if err != nil {
		return Transaction{}, err
	}
	e.published(out)
	return out, nil
}

func (e *Engine) loadAccount(ctx context.Context, s Store, accountID AccountID, createIfMissing bool) (*Account, error) {
	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		if !createIfMissing {
			return nil, ErrAccountNotFound
		}
		now := e.Now().UTC()
		acct = &Account{
			UserID:    accountID,
			Level:     e.Levels.LevelFor(0).Level,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return acct, nil
	}
	if acct.Disabled {
		return nil, ErrAccountDisabled
	}
	return acct, nil
}

func (e *Engine) writeEntry(ctx context.Context, s Store, acct *Account, txType TransactionType, amount int64, ref Reference, description string) (Transaction, error) {
	now := e.Now().UTC()
	acct.UpdatedAt = now
	return s.AppendTransaction(ctx, Transaction{
		AccountID:      acct.UserID,
		Type:           txType,
		Amount:         amount,
		BalanceAfter:   acct.Balance,
		ReferenceID:    ref.ID,
		ReferenceType:  ref.Type,
		Description:    description,
		IdempotencyKey: ref.IdempotencyKey,
		CreatedAt:      now,
	})
}

// withRetry re-runs fn after a lost commit race. Validation and business
// errors abort immediately; only the commit conflict is retried.
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= commitRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff << (attempt - 1)):
			}
			e.Log.Debug().Int("attempt", attempt).Msg("retrying commit after conflict")
		}
		err = fn()
		if err == nil || !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
	}
	return err
}

func (e *Engine) published(tx Transaction) {
	e.Events.Publish(Event{
		Type:      EventTransactionCreated,
		AccountID: tx.AccountID,
		Payload: map[string]any{
			"transaction_id": int64(tx.ID),
			"type":           string(tx.Type),
			"amount":         tx.Amount,
			"balance_after":  tx.BalanceAfter,
		},
		OccurredAt: tx.CreatedAt,
	})
}

// =============================================================================
// PER-ACCOUNT LOCKS
// =============================================================================

// accountLocks hands out one mutex per account. The table only grows; the
// set of active accounts is bounded by the user base.
type accountLocks struct {
	mu sync.Mutex
	m  map[AccountID]*sync.Mutex
}

func (a *accountLocks) lock(id AccountID) func() {
	a.mu.Lock()
	if a.m == nil {
		a.m = make(map[AccountID]*sync.Mutex)
	}
	l, ok := a.m[id]
	if !ok {
		l = &sync.Mutex{}
		a.m[id] = l
	}
	a.mu.Unlock()

	l.Lock()
	return l.Unlock
}
