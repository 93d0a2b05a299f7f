// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the exchange — events, markets,
// orders, wallets, positions, and transaction records. It has no dependencies
// on internal packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order. In a binary market a BUY order
// acquires YES shares and a SELL order acquires NO shares; both are quoted
// as a YES-side price in (0, 1].
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Outcome identifies one of the two sides of a binary market.
type Outcome string

const (
	YES Outcome = "YES"
	NO  Outcome = "NO"
)

// OrderState enumerates the order lifecycle.
// PENDING → (PARTIALLY_FILLED)* → FILLED, or any non-terminal → CANCELLED.
type OrderState string

const (
	OrderPending         OrderState = "PENDING"
	OrderPartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderFilled          OrderState = "FILLED"
	OrderCancelled       OrderState = "CANCELLED"
)

// Live reports whether an order in this state still rests on the book.
func (s OrderState) Live() bool {
	return s == OrderPending || s == OrderPartiallyFilled
}

// MarketState enumerates the market lifecycle.
// ACTIVE ↔ SUSPENDED; ACTIVE|SUSPENDED → SETTLED (terminal).
type MarketState string

const (
	MarketActive    MarketState = "ACTIVE"
	MarketSuspended MarketState = "SUSPENDED"
	MarketSettled   MarketState = "SETTLED"
)

// EventState enumerates the event lifecycle.
type EventState string

const (
	EventOpen    EventState = "OPEN"
	EventClosed  EventState = "CLOSED"
	EventSettled EventState = "SETTLED"
)

// TxnType classifies entries in the transaction log.
type TxnType string

const (
	TxnDeposit        TxnType = "DEPOSIT"
	TxnWithdrawal     TxnType = "WITHDRAWAL"
	TxnOrderPlaced    TxnType = "ORDER_PLACED"
	TxnOrderExecuted  TxnType = "ORDER_EXECUTED"
	TxnOrderCancelled TxnType = "ORDER_CANCELLED"
	TxnSettlement     TxnType = "SETTLEMENT"
)

// ————————————————————————————————————————————————————————————————————————
// Events and markets
// ————————————————————————————————————————————————————————————————————————

// Event is a real-world question that one or more binary markets trade on.
// The engine reads only its identifier and state.
type Event struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	State       EventState `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Market is one binary outcome under an event, with its own order book.
// LastPrice is the price of the most recent execution expressed as a YES
// price; it is unset (zero) until the first trade.
type Market struct {
	ID           string          `json:"id"`
	EventID      string          `json:"event_id"`
	OutcomeLabel string          `json:"outcome_label"`
	State        MarketState     `json:"state"`
	LastPrice    decimal.Decimal `json:"last_price"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// HasTraded reports whether any execution has set LastPrice.
// Execution prices lie in (0, 1], so zero always means "no trade yet".
func (m *Market) HasTraded() bool {
	return !m.LastPrice.IsZero()
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// Order is a limit order to buy YES (BUY) or NO (SELL) shares.
// Price is the YES-side price with four-decimal precision; a SELL at YES
// price p is a purchase of NO shares at price 1−p. Quantity is a whole
// number of shares.
type Order struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	MarketID       string          `json:"market_id"`
	Side           Side            `json:"side"`
	Price          decimal.Decimal `json:"price"`
	Quantity       int64           `json:"quantity"`
	FilledQuantity int64           `json:"filled_quantity"`
	State          OrderState      `json:"state"`
	ExecutionPrice decimal.Decimal `json:"execution_price"` // zero until the first fill
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Remaining returns the unfilled share count.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.FilledQuantity
}

// HasExecution reports whether the order has filled at least once.
func (o *Order) HasExecution() bool {
	return o.FilledQuantity > 0
}

// CostPerShare returns the funds locked per share when the order was
// admitted: the YES price for a BUY, its complement for a SELL.
func (o *Order) CostPerShare() decimal.Decimal {
	if o.Side == BUY {
		return o.Price
	}
	return decimal.NewFromInt(1).Sub(o.Price)
}

// ————————————————————————————————————————————————————————————————————————
// Wallets and positions
// ————————————————————————————————————————————————————————————————————————

// Wallet holds a user's funds. Available can be spent or withdrawn; Locked
// is reserved against open orders. All amounts are fixed-decimal with four
// fractional digits.
type Wallet struct {
	UserID    string          `json:"user_id"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Total returns available + locked.
func (w *Wallet) Total() decimal.Decimal {
	return w.Available.Add(w.Locked)
}

// Position is a user's holdings in one market: YES and NO share counts with
// the weighted-average entry cost per side. A user may hold both sides at
// once (hedged). Average costs are zero when the corresponding share count
// is zero.
type Position struct {
	UserID     string          `json:"user_id"`
	MarketID   string          `json:"market_id"`
	YesShares  int64           `json:"yes_shares"`
	NoShares   int64           `json:"no_shares"`
	AvgYesCost decimal.Decimal `json:"avg_yes_cost"`
	AvgNoCost  decimal.Decimal `json:"avg_no_cost"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NetExposure returns yesShares − noShares.
func (p *Position) NetExposure() int64 {
	return p.YesShares - p.NoShares
}

// ————————————————————————————————————————————————————————————————————————
// Transaction log
// ————————————————————————————————————————————————————————————————————————

// Transaction is an append-only audit record of a monetary event. Seq is a
// global monotonic sequence assigned by the log; CreatedAt is monotonic with
// respect to causal order for a single wallet.
type Transaction struct {
	ID          string          `json:"id"`
	Seq         uint64          `json:"seq"`
	UserID      string          `json:"user_id"`
	Type        TxnType         `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	OrderID     string          `json:"order_id,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Trade describes a single execution between a BUY and a SELL order.
// Quantity shares changed hands at Price (YES side); the NO side implicitly
// traded at 1−Price.
type Trade struct {
	MarketID    string          `json:"market_id"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	BuyerID     string          `json:"buyer_id"`
	SellerID    string          `json:"seller_id"`
	ExecutedAt  time.Time       `json:"executed_at"`
}
