// matcher.go runs the continuous double auction for one market. A BUY order
// buys YES at its price p; a SELL order buys NO at the complementary price
// 1−p. The top of book crosses when best bid ≥ best ask, and every fill is
// settled against both wallets atomically before any order state changes.
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"predx/pkg/types"
)

// matchLocked runs the matching loop until the book no longer crosses.
// Caller must hold the market mutex. Returns the number of fills applied.
//
// Each iteration is atomic: the four ledger legs (consume both sides,
// refund price improvement where positive) either all commit or are all
// rolled back, and order/market/position state is touched only after the
// ledger phase succeeds. A failed iteration aborts the loop and leaves
// every earlier fill intact.
func (e *Engine) matchLocked(ms *marketState) (int, error) {
	fills := 0
	for {
		e.stateMu.RLock()
		book := buildBook(e.liveOrdersLocked(ms.m.ID))
		e.stateMu.RUnlock()

		if !book.Crosses() {
			return fills, nil
		}

		buy, sell := book.Bids[0], book.Asks[0]
		if err := e.applyMatch(ms, buy, sell); err != nil {
			return fills, err
		}
		fills++
	}
}

// applyMatch executes one fill between a crossing bid and ask.
func (e *Engine) applyMatch(ms *marketState, buy, sell *types.Order) error {
	// Execution price is the maker's limit: the older order sets the price
	// and the newer order gets the improvement refunded.
	x := maker(buy, sell).Price
	q := buy.Remaining()
	if r := sell.Remaining(); r < q {
		q = r
	}
	qd := decimal.NewFromInt(q)

	payBuy := x.Mul(qd)
	paySell := one.Sub(x).Mul(qd)
	refundBuy := buy.Price.Sub(x).Mul(qd)
	refundSell := x.Sub(sell.Price).Mul(qd)

	// Ledger phase. Collect inverse operations so a failed leg unwinds the
	// ones already applied.
	var undo []func()
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}

	if payBuy.IsPositive() {
		if err := e.ledger.ConsumeLocked(buy.UserID, payBuy); err != nil {
			return fmt.Errorf("match %s/%s buy leg: %w", buy.ID, sell.ID, err)
		}
		undo = append(undo, func() { e.ledger.restoreLocked(buy.UserID, payBuy) })
	}

	if refundBuy.IsPositive() {
		if err := e.ledger.Unlock(buy.UserID, refundBuy); err != nil {
			rollback()
			return fmt.Errorf("match %s/%s buy refund: %w", buy.ID, sell.ID, err)
		}
		undo = append(undo, func() {
			if err := e.ledger.Lock(buy.UserID, refundBuy); err != nil {
				e.logger.Error("rollback relock failed", "user_id", buy.UserID, "error", err)
			}
		})
	}

	// paySell is zero when the trade prints at 1; the NO side costs nothing.
	if paySell.IsPositive() {
		if err := e.ledger.ConsumeLocked(sell.UserID, paySell); err != nil {
			rollback()
			return fmt.Errorf("match %s/%s sell leg: %w", buy.ID, sell.ID, err)
		}
		undo = append(undo, func() { e.ledger.restoreLocked(sell.UserID, paySell) })
	}

	if refundSell.IsPositive() {
		if err := e.ledger.Unlock(sell.UserID, refundSell); err != nil {
			rollback()
			return fmt.Errorf("match %s/%s sell refund: %w", buy.ID, sell.ID, err)
		}
	}

	// State phase: infallible once the ledger committed.
	now := time.Now()
	e.stateMu.Lock()
	fillOrder(buy, q, x, now)
	fillOrder(sell, q, x, now)
	ms.m.LastPrice = x
	ms.m.UpdatedAt = now
	ms.volume = ms.volume.Add(payBuy)
	e.stateMu.Unlock()

	if _, err := e.positions.AddShares(buy.UserID, ms.m.ID, types.YES, q, x); err != nil {
		e.logger.Error("position update failed", "order_id", buy.ID, "error", err)
	}
	if _, err := e.positions.AddShares(sell.UserID, ms.m.ID, types.NO, q, one.Sub(x)); err != nil {
		e.logger.Error("position update failed", "order_id", sell.ID, "error", err)
	}

	notional := payBuy
	e.txns.Append(buy.UserID, types.TxnOrderExecuted, notional, buy.ID, "order executed")
	e.txns.Append(sell.UserID, types.TxnOrderExecuted, notional, sell.ID, "order executed")

	e.logger.Info("orders matched",
		"market_id", ms.m.ID,
		"buy_order_id", buy.ID,
		"sell_order_id", sell.ID,
		"price", x,
		"quantity", q,
	)
	e.emit(StreamEvent{Type: "trade", Timestamp: now, MarketID: ms.m.ID, Data: types.Trade{
		MarketID:    ms.m.ID,
		Price:       x,
		Quantity:    q,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		BuyerID:     buy.UserID,
		SellerID:    sell.UserID,
		ExecutedAt:  now,
	}})
	return nil
}

// fillOrder applies one fill to an order. Caller must hold stateMu.
func fillOrder(o *types.Order, q int64, price decimal.Decimal, now time.Time) {
	o.FilledQuantity += q
	o.ExecutionPrice = price
	if o.FilledQuantity >= o.Quantity {
		o.State = types.OrderFilled
	} else {
		o.State = types.OrderPartiallyFilled
	}
	o.UpdatedAt = now
}

// MatchMarket is the administrative trigger: it runs the matching loop on
// an ACTIVE market and returns the number of fills applied.
func (e *Engine) MatchMarket(marketID string) (int, error) {
	ms, err := e.marketState(marketID)
	if err != nil {
		return 0, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	e.stateMu.RLock()
	state := ms.m.State
	e.stateMu.RUnlock()
	if state != types.MarketActive {
		return 0, fmt.Errorf("market %s is %s: %w", marketID, state, ErrMarketNotTradable)
	}
	return e.matchLocked(ms)
}
