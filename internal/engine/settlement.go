// settlement.go resolves a market to its winning outcome. Settlement is
// terminal: it cancels every live order with a refund, pays one monetary
// unit per winning share, clears positions, and moves the market to
// SETTLED. The winning outcome is an explicit input from the operator;
// there is no oracle.
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"predx/pkg/types"
)

// settlementPayout records one user's payout for the state phase.
type settlementPayout struct {
	userID string
	amount decimal.Decimal
}

// Settle resolves a market. It is atomic: the ledger phase (order refunds
// and payout credits) runs first with an undo stack, and only after every
// ledger operation succeeded does the infallible state phase flip orders,
// positions, and the market itself — so a failure leaves the market exactly
// as it was.
func (e *Engine) Settle(marketID string, winner types.Outcome) (types.Market, error) {
	if winner != types.YES && winner != types.NO {
		return types.Market{}, fmt.Errorf("outcome %q: %w", winner, ErrInvalidOrder)
	}

	ms, err := e.marketState(marketID)
	if err != nil {
		return types.Market{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	e.stateMu.RLock()
	if ms.m.State == types.MarketSettled {
		e.stateMu.RUnlock()
		return types.Market{}, fmt.Errorf("market %s already settled: %w", marketID, ErrConflict)
	}
	live := e.liveOrdersLocked(marketID)
	e.stateMu.RUnlock()

	var undo []func()
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}

	// Ledger phase 1: refund the unfilled remainder of every live order.
	type cancelled struct {
		order  *types.Order
		refund decimal.Decimal
	}
	var cancels []cancelled
	for _, o := range live {
		refund := o.CostPerShare().Mul(decimal.NewFromInt(o.Remaining()))
		if refund.IsPositive() {
			if err := e.ledger.Unlock(o.UserID, refund); err != nil {
				rollback()
				return types.Market{}, fmt.Errorf("settle %s: refund order %s: %w", marketID, o.ID, err)
			}
			r := refund
			uid := o.UserID
			undo = append(undo, func() {
				if err := e.ledger.Lock(uid, r); err != nil {
					e.logger.Error("settlement rollback relock failed", "user_id", uid, "error", err)
				}
			})
		}
		cancels = append(cancels, cancelled{order: o, refund: refund})
	}

	// Ledger phase 2: pay one unit per winning share.
	var payouts []settlementPayout
	for _, p := range e.positions.ByMarket(marketID) {
		shares := p.YesShares
		if winner == types.NO {
			shares = p.NoShares
		}
		payout := decimal.NewFromInt(shares)
		if payout.IsPositive() {
			if err := e.ledger.Credit(p.UserID, payout); err != nil {
				rollback()
				return types.Market{}, fmt.Errorf("settle %s: payout for %s: %w", marketID, p.UserID, err)
			}
			amt := payout
			uid := p.UserID
			undo = append(undo, func() {
				if err := e.ledger.debit(uid, amt); err != nil {
					e.logger.Error("settlement rollback debit failed", "user_id", uid, "error", err)
				}
			})
		}
		payouts = append(payouts, settlementPayout{userID: p.UserID, amount: payout})
	}

	// State phase: infallible once the ledger committed.
	now := time.Now()

	e.stateMu.Lock()
	for _, c := range cancels {
		c.order.State = types.OrderCancelled
		c.order.UpdatedAt = now
	}
	ms.m.State = types.MarketSettled
	ms.m.UpdatedAt = now
	e.settleEventIfDoneLocked(ms.m.EventID, now)
	out := *ms.m
	e.stateMu.Unlock()

	for _, c := range cancels {
		e.txns.Append(c.order.UserID, types.TxnOrderCancelled, c.refund, c.order.ID, "order cancelled at settlement")
	}
	for _, p := range payouts {
		if p.amount.IsPositive() {
			e.txns.Append(p.userID, types.TxnSettlement, p.amount, "", "settlement payout")
		}
		e.positions.Clear(p.userID, marketID)
	}

	e.logger.Info("market settled",
		"market_id", marketID,
		"winner", winner,
		"orders_cancelled", len(cancels),
		"positions_paid", len(payouts),
	)
	e.emit(StreamEvent{Type: "settlement", Timestamp: now, MarketID: marketID, Data: map[string]string{
		"winner": string(winner),
	}})
	return out, nil
}

// settleEventIfDoneLocked moves an event to SETTLED once every one of its
// markets is settled. Caller must hold stateMu.
func (e *Engine) settleEventIfDoneLocked(eventID string, now time.Time) {
	ev, ok := e.events[eventID]
	if !ok {
		return
	}
	for _, ms := range e.markets {
		if ms.m.EventID == eventID && ms.m.State != types.MarketSettled {
			return
		}
	}
	ev.State = types.EventSettled
	ev.UpdatedAt = now
}
