// ledger.go implements the wallet ledger: the single source of truth for
// user funds. Every balance is split into available (spendable) and locked
// (reserved against open orders). All arithmetic uses decimal values with
// four-digit scale; no floating point touches money.
//
// Operation semantics:
//   - Deposit/Withdraw move funds in and out of the exchange and emit
//     DEPOSIT/WITHDRAWAL transactions.
//   - Lock/Unlock move funds between available and locked with no
//     transaction; the caller records the order-level event.
//   - ConsumeLocked removes locked funds entirely (trade cost leaves the
//     wallet); Credit adds available funds (settlement payout). The caller
//     emits ORDER_EXECUTED / SETTLEMENT transactions.
//
// A single RWMutex serializes all wallet mutations, so a match touching two
// wallets commits both legs atomically with respect to any concurrent
// ledger operation.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"predx/pkg/types"
)

// Ledger tracks every user's wallet. Wallets are created lazily: the first
// reference to an existing user yields a zero-balance wallet.
type Ledger struct {
	mu      sync.RWMutex
	wallets map[string]*types.Wallet
	txns    *TxnLog
	logger  *slog.Logger
}

// NewLedger creates an empty ledger that records deposits and withdrawals
// into the given transaction log.
func NewLedger(txns *TxnLog, logger *slog.Logger) *Ledger {
	return &Ledger{
		wallets: make(map[string]*types.Wallet),
		txns:    txns,
		logger:  logger.With("component", "ledger"),
	}
}

// getOrCreateLocked returns the wallet for a user, creating a zero-balance
// wallet on first reference. Caller must hold l.mu.
func (l *Ledger) getOrCreateLocked(userID string) *types.Wallet {
	w, ok := l.wallets[userID]
	if !ok {
		now := time.Now()
		w = &types.Wallet{
			UserID:    userID,
			Available: decimal.Zero,
			Locked:    decimal.Zero,
			CreatedAt: now,
			UpdatedAt: now,
		}
		l.wallets[userID] = w
	}
	return w
}

// Balance returns a copy of the user's wallet, creating it if absent.
func (l *Ledger) Balance(userID string) types.Wallet {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.getOrCreateLocked(userID)
}

// Deposit adds funds to the available balance and emits a DEPOSIT txn.
func (l *Ledger) Deposit(userID string, amount decimal.Decimal) (types.Wallet, error) {
	if !amount.IsPositive() {
		return types.Wallet{}, fmt.Errorf("deposit %s: %w", amount, ErrInvalidAmount)
	}

	l.mu.Lock()
	w := l.getOrCreateLocked(userID)
	w.Available = w.Available.Add(amount)
	w.UpdatedAt = time.Now()
	out := *w
	l.mu.Unlock()

	l.txns.Append(userID, types.TxnDeposit, amount, "", "wallet deposit")
	return out, nil
}

// Withdraw removes funds from the available balance and emits a WITHDRAWAL
// txn. Fails with ErrInsufficientFunds if available < amount.
func (l *Ledger) Withdraw(userID string, amount decimal.Decimal) (types.Wallet, error) {
	if !amount.IsPositive() {
		return types.Wallet{}, fmt.Errorf("withdraw %s: %w", amount, ErrInvalidAmount)
	}

	l.mu.Lock()
	w := l.getOrCreateLocked(userID)
	if w.Available.LessThan(amount) {
		l.mu.Unlock()
		return types.Wallet{}, fmt.Errorf("withdraw %s with available %s: %w", amount, w.Available, ErrInsufficientFunds)
	}
	w.Available = w.Available.Sub(amount)
	w.UpdatedAt = time.Now()
	out := *w
	l.mu.Unlock()

	l.txns.Append(userID, types.TxnWithdrawal, amount, "", "wallet withdrawal")
	return out, nil
}

// Lock reserves available funds against an open order.
func (l *Ledger) Lock(userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("lock %s: %w", amount, ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.getOrCreateLocked(userID)
	if w.Available.LessThan(amount) {
		return fmt.Errorf("lock %s with available %s: %w", amount, w.Available, ErrInsufficientFunds)
	}
	w.Available = w.Available.Sub(amount)
	w.Locked = w.Locked.Add(amount)
	w.UpdatedAt = time.Now()
	return nil
}

// Unlock releases locked funds back to the available balance, used for
// cancellation refunds and price-improvement refunds on execution.
func (l *Ledger) Unlock(userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("unlock %s: %w", amount, ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.getOrCreateLocked(userID)
	if w.Locked.LessThan(amount) {
		return fmt.Errorf("unlock %s with locked %s: %w", amount, w.Locked, ErrInsufficientLocked)
	}
	w.Locked = w.Locked.Sub(amount)
	w.Available = w.Available.Add(amount)
	w.UpdatedAt = time.Now()
	return nil
}

// ConsumeLocked removes locked funds from the wallet entirely: the cost of
// an executed trade leaves the user.
func (l *Ledger) ConsumeLocked(userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("consume %s: %w", amount, ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.getOrCreateLocked(userID)
	if w.Locked.LessThan(amount) {
		return fmt.Errorf("consume %s with locked %s: %w", amount, w.Locked, ErrInsufficientLocked)
	}
	w.Locked = w.Locked.Sub(amount)
	w.UpdatedAt = time.Now()
	return nil
}

// Credit adds funds to the available balance without a transaction record;
// settlement uses it and emits its own SETTLEMENT txn.
func (l *Ledger) Credit(userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("credit %s: %w", amount, ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.getOrCreateLocked(userID)
	w.Available = w.Available.Add(amount)
	w.UpdatedAt = time.Now()
	return nil
}

// debit removes available funds without a transaction record. It is the
// inverse of Credit and exists only for settlement rollback.
func (l *Ledger) debit(userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("debit %s: %w", amount, ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.getOrCreateLocked(userID)
	if w.Available.LessThan(amount) {
		return fmt.Errorf("debit %s with available %s: %w", amount, w.Available, ErrInsufficientFunds)
	}
	w.Available = w.Available.Sub(amount)
	w.UpdatedAt = time.Now()
	return nil
}

// restoreLocked puts funds straight back into the locked balance. It is the
// inverse of ConsumeLocked and exists only for match rollback.
func (l *Ledger) restoreLocked(userID string, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.getOrCreateLocked(userID)
	w.Locked = w.Locked.Add(amount)
	w.UpdatedAt = time.Now()
}

// Wallets returns a copy of every wallet, for snapshots and global
// conservation checks.
func (l *Ledger) Wallets() []types.Wallet {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.Wallet, 0, len(l.wallets))
	for _, w := range l.wallets {
		out = append(out, *w)
	}
	return out
}

// Restore replaces the ledger contents from a snapshot.
func (l *Ledger) Restore(wallets []types.Wallet) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.wallets = make(map[string]*types.Wallet, len(wallets))
	for i := range wallets {
		w := wallets[i]
		l.wallets[w.UserID] = &w
	}
}
