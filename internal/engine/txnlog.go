// txnlog.go implements the append-only audit log of monetary events.
// Records are never updated or deleted; a global sequence number orders
// them, and timestamps are forced monotonic so a wallet's history always
// reads in causal order.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"predx/pkg/types"
)

// Archiver receives every appended transaction for durable storage.
// Archive failures are logged, not propagated: the in-memory log is the
// source of truth for the running process.
type Archiver interface {
	ArchiveTransaction(txn types.Transaction) error
}

// TxnLog is the append-only transaction log.
type TxnLog struct {
	mu     sync.Mutex
	seq    uint64
	last   time.Time
	txns   []types.Transaction
	arch   Archiver
	logger *slog.Logger
}

// NewTxnLog creates an empty log.
func NewTxnLog(logger *slog.Logger) *TxnLog {
	return &TxnLog{logger: logger.With("component", "txnlog")}
}

// SetArchiver attaches a durable sink for appended transactions.
func (t *TxnLog) SetArchiver(a Archiver) {
	t.mu.Lock()
	t.arch = a
	t.mu.Unlock()
}

// Append records a transaction and returns it. Amounts are always positive;
// the type says which direction the money moved.
func (t *TxnLog) Append(userID string, typ types.TxnType, amount decimal.Decimal, orderID, description string) types.Transaction {
	t.mu.Lock()

	now := time.Now()
	if now.Before(t.last) {
		now = t.last
	}
	t.last = now
	t.seq++

	txn := types.Transaction{
		ID:          uuid.NewString(),
		Seq:         t.seq,
		UserID:      userID,
		Type:        typ,
		Amount:      amount,
		OrderID:     orderID,
		Description: description,
		CreatedAt:   now,
	}
	t.txns = append(t.txns, txn)
	arch := t.arch
	t.mu.Unlock()

	if arch != nil {
		if err := arch.ArchiveTransaction(txn); err != nil {
			t.logger.Error("failed to archive transaction", "seq", txn.Seq, "error", err)
		}
	}
	return txn
}

// ByUser returns the user's transactions in append order.
func (t *TxnLog) ByUser(userID string) []types.Transaction {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []types.Transaction
	for _, txn := range t.txns {
		if txn.UserID == userID {
			out = append(out, txn)
		}
	}
	return out
}

// All returns a copy of the full log in append order.
func (t *TxnLog) All() []types.Transaction {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]types.Transaction, len(t.txns))
	copy(out, t.txns)
	return out
}

// Len returns the number of recorded transactions.
func (t *TxnLog) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.txns)
}

// Restore replaces the log contents from a snapshot and resumes the
// sequence after the highest restored entry.
func (t *TxnLog) Restore(txns []types.Transaction) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.txns = make([]types.Transaction, len(txns))
	copy(t.txns, txns)
	t.seq = 0
	for _, txn := range txns {
		if txn.Seq > t.seq {
			t.seq = txn.Seq
		}
		if txn.CreatedAt.After(t.last) {
			t.last = txn.CreatedAt
		}
	}
}
