// Package engine implements the trading core of the exchange.
//
// It wires together the four tightly coupled subsystems:
//
//  1. Ledger — wallet balances with lock/consume/refund semantics.
//  2. TxnLog — append-only audit records of every monetary event.
//  3. PositionStore — per (user, market) YES/NO holdings with
//     weighted-average cost.
//  4. Matcher + Settlement — continuous double-auction matching and
//     terminal market resolution (matcher.go, settlement.go).
//
// Concurrency model: each market owns a mutex that serializes every state
// change touching it — admission, matching, cancellation, settlement.
// Cross-market operations run in parallel. A separate RWMutex (stateMu)
// guards the registries and entity fields for short reads and writes, and
// the ledger serializes wallet mutations internally.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"predx/pkg/types"
)

// UserDirectory answers whether a user identity exists. The auth layer
// implements it; tests use a stub.
type UserDirectory interface {
	UserExists(userID string) bool
}

// StreamEvent is pushed to the market-data stream after engine state
// changes. Type is one of "order", "trade", "settlement".
type StreamEvent struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	MarketID  string      `json:"market_id"`
	Data      interface{} `json:"data"`
}

// marketState pairs a market with its serialization mutex and running
// BUY-side executed notional (the market's trade volume).
type marketState struct {
	mu     sync.Mutex // serializes admission, matching, cancel, settlement
	m      *types.Market
	volume decimal.Decimal
}

// Engine is the trading core. All public methods are safe for concurrent
// use.
type Engine struct {
	ledger    *Ledger
	txns      *TxnLog
	positions *PositionStore
	users     UserDirectory
	logger    *slog.Logger

	// stateMu guards the maps below and the fields of the entities they
	// point to. Multi-step operations additionally hold the market mutex.
	stateMu sync.RWMutex
	events  map[string]*types.Event
	markets map[string]*marketState
	orders  map[string]*types.Order

	stream chan StreamEvent
}

// New creates an engine with empty state.
func New(users UserDirectory, logger *slog.Logger) *Engine {
	txns := NewTxnLog(logger)
	return &Engine{
		ledger:    NewLedger(txns, logger),
		txns:      txns,
		positions: NewPositionStore(),
		users:     users,
		logger:    logger.With("component", "engine"),
		events:    make(map[string]*types.Event),
		markets:   make(map[string]*marketState),
		orders:    make(map[string]*types.Order),
		stream:    make(chan StreamEvent, 256),
	}
}

// Stream returns the market-data event channel consumed by the API hub.
func (e *Engine) Stream() <-chan StreamEvent {
	return e.stream
}

// SetArchiver attaches a durable sink for the transaction log.
func (e *Engine) SetArchiver(a Archiver) {
	e.txns.SetArchiver(a)
}

// emit pushes a stream event without blocking; slow consumers drop events.
func (e *Engine) emit(evt StreamEvent) {
	select {
	case e.stream <- evt:
	default:
	}
}

// ————————————————————————————————————————————————————————————————————————
// Events and markets registry
// ————————————————————————————————————————————————————————————————————————

// CreateEvent registers a new OPEN event.
func (e *Engine) CreateEvent(title, description string) types.Event {
	now := time.Now()
	ev := &types.Event{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		State:       types.EventOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	e.stateMu.Lock()
	e.events[ev.ID] = ev
	e.stateMu.Unlock()

	e.logger.Info("event created", "event_id", ev.ID, "title", title)
	return *ev
}

// CreateMarket registers a new ACTIVE market under an existing OPEN event.
func (e *Engine) CreateMarket(eventID, outcomeLabel string) (types.Market, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	ev, ok := e.events[eventID]
	if !ok {
		return types.Market{}, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	if ev.State != types.EventOpen {
		return types.Market{}, fmt.Errorf("event %s is %s: %w", eventID, ev.State, ErrConflict)
	}

	now := time.Now()
	m := &types.Market{
		ID:           uuid.NewString(),
		EventID:      eventID,
		OutcomeLabel: outcomeLabel,
		State:        types.MarketActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	e.markets[m.ID] = &marketState{m: m, volume: decimal.Zero}

	e.logger.Info("market created", "market_id", m.ID, "event_id", eventID, "outcome", outcomeLabel)
	return *m, nil
}

// SuspendMarket halts trading on an ACTIVE market.
func (e *Engine) SuspendMarket(marketID string) (types.Market, error) {
	return e.transitionMarket(marketID, types.MarketActive, types.MarketSuspended)
}

// ResumeMarket reopens a SUSPENDED market.
func (e *Engine) ResumeMarket(marketID string) (types.Market, error) {
	return e.transitionMarket(marketID, types.MarketSuspended, types.MarketActive)
}

func (e *Engine) transitionMarket(marketID string, from, to types.MarketState) (types.Market, error) {
	ms, err := e.marketState(marketID)
	if err != nil {
		return types.Market{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if ms.m.State != from {
		return types.Market{}, fmt.Errorf("market %s is %s, not %s: %w", marketID, ms.m.State, from, ErrConflict)
	}
	ms.m.State = to
	ms.m.UpdatedAt = time.Now()
	e.logger.Info("market state changed", "market_id", marketID, "from", from, "to", to)
	return *ms.m, nil
}

// GetEvent returns a copy of an event.
func (e *Engine) GetEvent(eventID string) (types.Event, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	ev, ok := e.events[eventID]
	if !ok {
		return types.Event{}, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	return *ev, nil
}

// ListEvents returns copies of all events.
func (e *Engine) ListEvents() []types.Event {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	out := make([]types.Event, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, *ev)
	}
	return out
}

// GetMarket returns a copy of a market.
func (e *Engine) GetMarket(marketID string) (types.Market, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	ms, ok := e.markets[marketID]
	if !ok {
		return types.Market{}, fmt.Errorf("market %s: %w", marketID, ErrNotFound)
	}
	return *ms.m, nil
}

// ListMarkets returns copies of all markets.
func (e *Engine) ListMarkets() []types.Market {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	out := make([]types.Market, 0, len(e.markets))
	for _, ms := range e.markets {
		out = append(out, *ms.m)
	}
	return out
}

// Volume returns the market's cumulative BUY-side executed notional.
// The matcher guarantees every fill pairs a BUY with a SELL, so the
// BUY-side notional is the trade volume.
func (e *Engine) Volume(marketID string) (decimal.Decimal, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	ms, ok := e.markets[marketID]
	if !ok {
		return decimal.Zero, fmt.Errorf("market %s: %w", marketID, ErrNotFound)
	}
	return ms.volume, nil
}

// marketState fetches the serialization holder for a market.
func (e *Engine) marketState(marketID string) (*marketState, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	ms, ok := e.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", marketID, ErrNotFound)
	}
	return ms, nil
}

// ————————————————————————————————————————————————————————————————————————
// Admission
// ————————————————————————————————————————————————————————————————————————

// one is the payout of a winning share and the price ceiling.
var one = decimal.NewFromInt(1)

// requiredFunds computes the lock for an order: price×qty for a BUY,
// (1−price)×qty for a SELL (a SELL at YES price p buys NO at 1−p).
func requiredFunds(side types.Side, price decimal.Decimal, quantity int64) decimal.Decimal {
	q := decimal.NewFromInt(quantity)
	if side == types.BUY {
		return price.Mul(q)
	}
	return one.Sub(price).Mul(q)
}

// validateOrder checks price ∈ (0,1] at four-decimal precision and
// quantity ≥ 1.
func validateOrder(side types.Side, price decimal.Decimal, quantity int64) error {
	if side != types.BUY && side != types.SELL {
		return fmt.Errorf("side %q: %w", side, ErrInvalidOrder)
	}
	if !price.IsPositive() || price.GreaterThan(one) {
		return fmt.Errorf("price %s outside (0,1]: %w", price, ErrInvalidOrder)
	}
	if !price.Equal(price.Round(4)) {
		return fmt.Errorf("price %s has more than four decimals: %w", price, ErrInvalidOrder)
	}
	if quantity < 1 {
		return fmt.Errorf("quantity %d: %w", quantity, ErrInvalidOrder)
	}
	return nil
}

// PlaceOrder admits a new limit order: validates it, locks the required
// funds, persists it PENDING, records ORDER_PLACED, and runs the matcher on
// the market. A matching failure does not roll back admission — the order
// stays live in its last consistent state.
func (e *Engine) PlaceOrder(userID, marketID string, side types.Side, price decimal.Decimal, quantity int64) (types.Order, error) {
	if e.users != nil && !e.users.UserExists(userID) {
		return types.Order{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	ms, err := e.marketState(marketID)
	if err != nil {
		return types.Order{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	e.stateMu.RLock()
	state := ms.m.State
	e.stateMu.RUnlock()
	if state != types.MarketActive {
		return types.Order{}, fmt.Errorf("market %s is %s: %w", marketID, state, ErrMarketNotTradable)
	}

	if err := validateOrder(side, price, quantity); err != nil {
		return types.Order{}, err
	}

	// A SELL at price 1 buys NO at cost 0 and locks nothing.
	required := requiredFunds(side, price, quantity)
	if required.IsPositive() {
		if err := e.ledger.Lock(userID, required); err != nil {
			return types.Order{}, err
		}
	}

	now := time.Now()
	o := &types.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		MarketID:  marketID,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		State:     types.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	e.stateMu.Lock()
	e.orders[o.ID] = o
	e.stateMu.Unlock()

	e.txns.Append(userID, types.TxnOrderPlaced, required, o.ID, "order placed")
	e.logger.Info("order placed",
		"order_id", o.ID,
		"market_id", marketID,
		"side", side,
		"price", price,
		"quantity", quantity,
	)
	e.emit(StreamEvent{Type: "order", Timestamp: now, MarketID: marketID, Data: *o})

	if _, err := e.matchLocked(ms); err != nil {
		// Admission already committed; the order remains live and stays
		// eligible for later matching.
		e.logger.Error("matching failed after admission", "market_id", marketID, "error", err)
	}

	e.stateMu.RLock()
	out := *o
	e.stateMu.RUnlock()
	return out, nil
}

// ————————————————————————————————————————————————————————————————————————
// Cancel
// ————————————————————————————————————————————————————————————————————————

// CancelOrder cancels a live order and refunds the locked funds for the
// unfilled remainder: price×unfilled for a BUY, (1−price)×unfilled for a
// SELL.
func (e *Engine) CancelOrder(orderID string) (types.Order, error) {
	e.stateMu.RLock()
	o, ok := e.orders[orderID]
	var marketID string
	if ok {
		marketID = o.MarketID
	}
	e.stateMu.RUnlock()
	if !ok {
		return types.Order{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}

	ms, err := e.marketState(marketID)
	if err != nil {
		return types.Order{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if !o.State.Live() {
		return types.Order{}, fmt.Errorf("order %s is %s: %w", orderID, o.State, ErrConflict)
	}

	unfilled := o.Remaining()
	refund := o.CostPerShare().Mul(decimal.NewFromInt(unfilled))
	if refund.IsPositive() {
		if err := e.ledger.Unlock(o.UserID, refund); err != nil {
			return types.Order{}, fmt.Errorf("cancel order %s: %w", orderID, err)
		}
	}

	o.State = types.OrderCancelled
	o.UpdatedAt = time.Now()

	e.txns.Append(o.UserID, types.TxnOrderCancelled, refund, o.ID, "order cancelled")
	e.logger.Info("order cancelled", "order_id", o.ID, "refund", refund)
	e.emit(StreamEvent{Type: "order", Timestamp: o.UpdatedAt, MarketID: marketID, Data: *o})
	return *o, nil
}

// ————————————————————————————————————————————————————————————————————————
// Reads
// ————————————————————————————————————————————————————————————————————————

// GetOrder returns a copy of an order.
func (e *Engine) GetOrder(orderID string) (types.Order, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	o, ok := e.orders[orderID]
	if !ok {
		return types.Order{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return *o, nil
}

// OrdersByUser returns copies of all of a user's orders.
func (e *Engine) OrdersByUser(userID string) []types.Order {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	var out []types.Order
	for _, o := range e.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out
}

// BookSnapshot returns copies of a market's live orders in priority order.
func (e *Engine) BookSnapshot(marketID string) (bids, asks []types.Order, err error) {
	if _, err := e.marketState(marketID); err != nil {
		return nil, nil, err
	}

	e.stateMu.RLock()
	book := buildBook(e.liveOrdersLocked(marketID))
	bids = make([]types.Order, len(book.Bids))
	for i, o := range book.Bids {
		bids[i] = *o
	}
	asks = make([]types.Order, len(book.Asks))
	for i, o := range book.Asks {
		asks[i] = *o
	}
	e.stateMu.RUnlock()
	return bids, asks, nil
}

// liveOrdersLocked collects the live orders of a market. Caller must hold
// stateMu.
func (e *Engine) liveOrdersLocked(marketID string) []*types.Order {
	var out []*types.Order
	for _, o := range e.orders {
		if o.MarketID == marketID && o.State.Live() {
			out = append(out, o)
		}
	}
	return out
}

// Position returns the user's position in a market, if any.
func (e *Engine) Position(userID, marketID string) (types.Position, bool) {
	return e.positions.Get(userID, marketID)
}

// PositionsByUser returns all of a user's positions.
func (e *Engine) PositionsByUser(userID string) []types.Position {
	return e.positions.ByUser(userID)
}

// ————————————————————————————————————————————————————————————————————————
// Wallet operations
// ————————————————————————————————————————————————————————————————————————

// Deposit funds a user's wallet.
func (e *Engine) Deposit(userID string, amount decimal.Decimal) (types.Wallet, error) {
	if e.users != nil && !e.users.UserExists(userID) {
		return types.Wallet{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return e.ledger.Deposit(userID, amount)
}

// Withdraw removes available funds from a user's wallet.
func (e *Engine) Withdraw(userID string, amount decimal.Decimal) (types.Wallet, error) {
	if e.users != nil && !e.users.UserExists(userID) {
		return types.Wallet{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return e.ledger.Withdraw(userID, amount)
}

// Balance returns the user's wallet.
func (e *Engine) Balance(userID string) (types.Wallet, error) {
	if e.users != nil && !e.users.UserExists(userID) {
		return types.Wallet{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return e.ledger.Balance(userID), nil
}

// Transactions returns the user's transaction history.
func (e *Engine) Transactions(userID string) []types.Transaction {
	return e.txns.ByUser(userID)
}

// ————————————————————————————————————————————————————————————————————————
// Snapshot / restore
// ————————————————————————————————————————————————————————————————————————

// Snapshot is a full copy of engine state for persistence.
type Snapshot struct {
	Events       []types.Event              `json:"events"`
	Markets      []types.Market             `json:"markets"`
	Volumes      map[string]decimal.Decimal `json:"volumes"`
	Orders       []types.Order              `json:"orders"`
	Wallets      []types.Wallet             `json:"wallets"`
	Positions    []types.Position           `json:"positions"`
	Transactions []types.Transaction        `json:"transactions"`
}

// Snapshot captures the full engine state. It takes stateMu exclusively, so
// in-flight operations either complete before or start after the snapshot.
func (e *Engine) Snapshot() Snapshot {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	snap := Snapshot{Volumes: make(map[string]decimal.Decimal, len(e.markets))}
	for _, ev := range e.events {
		snap.Events = append(snap.Events, *ev)
	}
	for id, ms := range e.markets {
		snap.Markets = append(snap.Markets, *ms.m)
		snap.Volumes[id] = ms.volume
	}
	for _, o := range e.orders {
		snap.Orders = append(snap.Orders, *o)
	}
	snap.Wallets = e.ledger.Wallets()
	snap.Positions = e.positions.All()
	snap.Transactions = e.txns.All()
	return snap
}

// Restore replaces engine state from a snapshot. Call before serving
// traffic.
func (e *Engine) Restore(snap Snapshot) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	e.events = make(map[string]*types.Event, len(snap.Events))
	for i := range snap.Events {
		ev := snap.Events[i]
		e.events[ev.ID] = &ev
	}
	e.markets = make(map[string]*marketState, len(snap.Markets))
	for i := range snap.Markets {
		m := snap.Markets[i]
		vol, ok := snap.Volumes[m.ID]
		if !ok {
			vol = decimal.Zero
		}
		e.markets[m.ID] = &marketState{m: &m, volume: vol}
	}
	e.orders = make(map[string]*types.Order, len(snap.Orders))
	for i := range snap.Orders {
		o := snap.Orders[i]
		e.orders[o.ID] = &o
	}
	e.ledger.Restore(snap.Wallets)
	e.positions.Restore(snap.Positions)
	e.txns.Restore(snap.Transactions)
}
