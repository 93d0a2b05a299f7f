package engine

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"predx/pkg/types"
)

// allowAll treats every user as registered.
type allowAll struct{}

func (allowAll) UserExists(string) bool { return true }

// newTestMarket builds an engine with one active market and two users
// funded with 1000 each.
func newTestMarket(t *testing.T) (*Engine, string) {
	t.Helper()

	e := New(allowAll{}, testLogger())
	ev := e.CreateEvent("Will it rain tomorrow?", "Binary weather market")
	m, err := e.CreateMarket(ev.ID, "Rain")
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	for _, user := range []string{"alice", "bob"} {
		if _, err := e.Deposit(user, d("1000")); err != nil {
			t.Fatalf("deposit %s: %v", user, err)
		}
	}
	return e, m.ID
}

func wallet(t *testing.T, e *Engine, user string) types.Wallet {
	t.Helper()
	w, err := e.Balance(user)
	if err != nil {
		t.Fatalf("balance %s: %v", user, err)
	}
	return w
}

func assertWallet(t *testing.T, e *Engine, user, available, locked string) {
	t.Helper()
	w := wallet(t, e, user)
	if !w.Available.Equal(d(available)) || !w.Locked.Equal(d(locked)) {
		t.Fatalf("%s wallet = (%s, %s), want (%s, %s)", user, w.Available, w.Locked, available, locked)
	}
}

func TestExactCross(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	buy, err := e.PlaceOrder("alice", mid, types.BUY, d("0.60"), 100)
	if err != nil {
		t.Fatalf("place buy: %v", err)
	}
	sell, err := e.PlaceOrder("bob", mid, types.SELL, d("0.60"), 100)
	if err != nil {
		t.Fatalf("place sell: %v", err)
	}

	buy, _ = e.GetOrder(buy.ID)
	sell, _ = e.GetOrder(sell.ID)
	if buy.State != types.OrderFilled || sell.State != types.OrderFilled {
		t.Fatalf("states = %s/%s, want FILLED/FILLED", buy.State, sell.State)
	}
	if !buy.ExecutionPrice.Equal(d("0.60")) {
		t.Fatalf("execution price = %s, want 0.60", buy.ExecutionPrice)
	}

	assertWallet(t, e, "alice", "940", "0")
	assertWallet(t, e, "bob", "960", "0")

	ap, _ := e.Position("alice", mid)
	if ap.YesShares != 100 || !ap.AvgYesCost.Equal(d("0.60")) {
		t.Fatalf("alice position = %d yes @ %s, want 100 @ 0.60", ap.YesShares, ap.AvgYesCost)
	}
	bp, _ := e.Position("bob", mid)
	if bp.NoShares != 100 || !bp.AvgNoCost.Equal(d("0.40")) {
		t.Fatalf("bob position = %d no @ %s, want 100 @ 0.40", bp.NoShares, bp.AvgNoCost)
	}

	m, _ := e.GetMarket(mid)
	if !m.LastPrice.Equal(d("0.60")) {
		t.Fatalf("lastPrice = %s, want 0.60", m.LastPrice)
	}
}

func TestPriceImprovementRefund(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	if _, err := e.PlaceOrder("alice", mid, types.BUY, d("0.70"), 100); err != nil {
		t.Fatalf("place buy: %v", err)
	}
	sell, err := e.PlaceOrder("bob", mid, types.SELL, d("0.60"), 100)
	if err != nil {
		t.Fatalf("place sell: %v", err)
	}

	// Alice is maker, so the trade prints at 0.70. Bob locked 40 for the NO
	// side, paid 30, and gets 10 back.
	sell, _ = e.GetOrder(sell.ID)
	if !sell.ExecutionPrice.Equal(d("0.70")) {
		t.Fatalf("execution price = %s, want maker price 0.70", sell.ExecutionPrice)
	}
	assertWallet(t, e, "alice", "930", "0")
	assertWallet(t, e, "bob", "970", "0")

	ap, _ := e.Position("alice", mid)
	if ap.YesShares != 100 || !ap.AvgYesCost.Equal(d("0.70")) {
		t.Fatalf("alice position = %d yes @ %s, want 100 @ 0.70", ap.YesShares, ap.AvgYesCost)
	}
	bp, _ := e.Position("bob", mid)
	if bp.NoShares != 100 || !bp.AvgNoCost.Equal(d("0.30")) {
		t.Fatalf("bob position = %d no @ %s, want 100 @ 0.30", bp.NoShares, bp.AvgNoCost)
	}
}

func TestPartialFill(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	buy, err := e.PlaceOrder("alice", mid, types.BUY, d("0.60"), 100)
	if err != nil {
		t.Fatalf("place buy: %v", err)
	}
	sell, err := e.PlaceOrder("bob", mid, types.SELL, d("0.60"), 50)
	if err != nil {
		t.Fatalf("place sell: %v", err)
	}

	buy, _ = e.GetOrder(buy.ID)
	sell, _ = e.GetOrder(sell.ID)
	if buy.State != types.OrderPartiallyFilled || buy.FilledQuantity != 50 {
		t.Fatalf("buy = %s filled=%d, want PARTIALLY_FILLED filled=50", buy.State, buy.FilledQuantity)
	}
	if sell.State != types.OrderFilled {
		t.Fatalf("sell = %s, want FILLED", sell.State)
	}

	// Alice paid 30 for the filled half; the other 30 stays locked.
	assertWallet(t, e, "alice", "940", "30")

	ap, _ := e.Position("alice", mid)
	if ap.YesShares != 50 {
		t.Fatalf("alice yes = %d, want 50", ap.YesShares)
	}
	bp, _ := e.Position("bob", mid)
	if bp.NoShares != 50 {
		t.Fatalf("bob no = %d, want 50", bp.NoShares)
	}
}

func TestCancelRefund(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	o, err := e.PlaceOrder("alice", mid, types.BUY, d("0.60"), 100)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	assertWallet(t, e, "alice", "940", "60")

	cancelled, err := e.CancelOrder(o.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.State != types.OrderCancelled {
		t.Fatalf("state = %s, want CANCELLED", cancelled.State)
	}
	assertWallet(t, e, "alice", "1000", "0")

	var placed, cancelledTxns int
	for _, txn := range e.Transactions("alice") {
		switch txn.Type {
		case types.TxnOrderPlaced:
			placed++
		case types.TxnOrderCancelled:
			cancelledTxns++
		}
	}
	if placed != 1 || cancelledTxns != 1 {
		t.Fatalf("txns placed=%d cancelled=%d, want 1/1", placed, cancelledTxns)
	}
}

func TestCancelSellRefundsComplement(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	// SELL 100 @ 0.60 locks (1−0.60)×100 = 40.
	o, err := e.PlaceOrder("bob", mid, types.SELL, d("0.60"), 100)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	assertWallet(t, e, "bob", "960", "40")

	if _, err := e.CancelOrder(o.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	assertWallet(t, e, "bob", "1000", "0")
}

func TestCancelPartiallyFilledRefundsRemainder(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	buy, err := e.PlaceOrder("alice", mid, types.BUY, d("0.60"), 100)
	if err != nil {
		t.Fatalf("place buy: %v", err)
	}
	if _, err := e.PlaceOrder("bob", mid, types.SELL, d("0.60"), 50); err != nil {
		t.Fatalf("place sell: %v", err)
	}

	if _, err := e.CancelOrder(buy.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// 30 consumed by the fill, 30 refunded.
	assertWallet(t, e, "alice", "970", "0")
}

func TestCancelTerminalOrderRejected(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	buy, err := e.PlaceOrder("alice", mid, types.BUY, d("0.60"), 100)
	if err != nil {
		t.Fatalf("place buy: %v", err)
	}
	if _, err := e.PlaceOrder("bob", mid, types.SELL, d("0.60"), 100); err != nil {
		t.Fatalf("place sell: %v", err)
	}

	if _, err := e.CancelOrder(buy.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("cancel filled order: err = %v, want ErrConflict", err)
	}
}

func TestInsufficientFundsRejectsAdmission(t *testing.T) {
	t.Parallel()
	e := New(allowAll{}, testLogger())
	ev := e.CreateEvent("Test", "")
	m, err := e.CreateMarket(ev.ID, "Outcome")
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	if _, err := e.Deposit("alice", d("100")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// 200 @ 0.80 needs a 160 lock against a balance of 100.
	if _, err := e.PlaceOrder("alice", m.ID, types.BUY, d("0.80"), 200); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if got := len(e.OrdersByUser("alice")); got != 0 {
		t.Fatalf("%d orders persisted after rejection, want 0", got)
	}
	assertWallet(t, e, "alice", "100", "0")
}

func TestOrderValidation(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	cases := []struct {
		name     string
		side     types.Side
		price    string
		quantity int64
	}{
		{"zero price", types.BUY, "0", 10},
		{"negative price", types.BUY, "-0.5", 10},
		{"price above one", types.BUY, "1.0001", 10},
		{"too many decimals", types.BUY, "0.60001", 10},
		{"zero quantity", types.BUY, "0.60", 0},
		{"negative quantity", types.SELL, "0.60", -5},
		{"bad side", types.Side("HOLD"), "0.60", 10},
	}
	for _, tc := range cases {
		if _, err := e.PlaceOrder("alice", mid, tc.side, d(tc.price), tc.quantity); !errors.Is(err, ErrInvalidOrder) {
			t.Fatalf("%s: err = %v, want ErrInvalidOrder", tc.name, err)
		}
	}
}

func TestUnknownUserAndMarket(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	if _, err := e.PlaceOrder("alice", "no-such-market", types.BUY, d("0.60"), 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown market: err = %v, want ErrNotFound", err)
	}
	if _, err := e.CancelOrder("no-such-order"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown order: err = %v, want ErrNotFound", err)
	}
	if _, _, err := e.BookSnapshot("no-such-market"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown market book: err = %v, want ErrNotFound", err)
	}
	_ = mid
}

func TestSuspendBlocksTrading(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	if _, err := e.SuspendMarket(mid); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if _, err := e.PlaceOrder("alice", mid, types.BUY, d("0.60"), 10); !errors.Is(err, ErrMarketNotTradable) {
		t.Fatalf("err = %v, want ErrMarketNotTradable", err)
	}
	if _, err := e.MatchMarket(mid); !errors.Is(err, ErrMarketNotTradable) {
		t.Fatalf("match on suspended: err = %v, want ErrMarketNotTradable", err)
	}

	if _, err := e.ResumeMarket(mid); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := e.PlaceOrder("alice", mid, types.BUY, d("0.60"), 10); err != nil {
		t.Fatalf("place after resume: %v", err)
	}
}

func TestMatchTriggerCountsFills(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	// Matching runs on placement; a manual trigger on a quiet book is a
	// no-op that still succeeds.
	if _, err := e.PlaceOrder("alice", mid, types.BUY, d("0.55"), 10); err != nil {
		t.Fatalf("place: %v", err)
	}
	n, err := e.MatchMarket(mid)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if n != 0 {
		t.Fatalf("fills = %d, want 0", n)
	}
}

func TestVolumeCountsBuyNotional(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	if _, err := e.PlaceOrder("alice", mid, types.BUY, d("0.60"), 100); err != nil {
		t.Fatalf("place buy: %v", err)
	}
	if _, err := e.PlaceOrder("bob", mid, types.SELL, d("0.60"), 100); err != nil {
		t.Fatalf("place sell: %v", err)
	}

	vol, err := e.Volume(mid)
	if err != nil {
		t.Fatalf("volume: %v", err)
	}
	if !vol.Equal(d("60")) {
		t.Fatalf("volume = %s, want 60", vol)
	}
}

func TestMultiLevelSweep(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	// Two resting asks; one large bid sweeps both, each at its maker price.
	if _, err := e.PlaceOrder("bob", mid, types.SELL, d("0.55"), 30); err != nil {
		t.Fatalf("place ask 1: %v", err)
	}
	if _, err := e.PlaceOrder("bob", mid, types.SELL, d("0.60"), 30); err != nil {
		t.Fatalf("place ask 2: %v", err)
	}
	buy, err := e.PlaceOrder("alice", mid, types.BUY, d("0.65"), 60)
	if err != nil {
		t.Fatalf("place bid: %v", err)
	}

	buy, _ = e.GetOrder(buy.ID)
	if buy.State != types.OrderFilled || buy.FilledQuantity != 60 {
		t.Fatalf("buy = %s filled=%d, want FILLED filled=60", buy.State, buy.FilledQuantity)
	}

	// Fill 1 at 0.55 (pay 16.5, refund 3), fill 2 at 0.60 (pay 18, refund
	// 1.5). Alice locked 39, ends with 1000 − 34.5.
	assertWallet(t, e, "alice", "965.5", "0")

	m, _ := e.GetMarket(mid)
	if !m.LastPrice.Equal(d("0.60")) {
		t.Fatalf("lastPrice = %s, want 0.60 from second fill", m.LastPrice)
	}

	ap, _ := e.Position("alice", mid)
	// (30×0.55 + 30×0.60)/60 = 0.575
	if ap.YesShares != 60 || !ap.AvgYesCost.Equal(d("0.575")) {
		t.Fatalf("alice position = %d yes @ %s, want 60 @ 0.575", ap.YesShares, ap.AvgYesCost)
	}
}

func TestBookSnapshotOrdering(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	if _, err := e.PlaceOrder("alice", mid, types.BUY, d("0.40"), 10); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := e.PlaceOrder("alice", mid, types.BUY, d("0.45"), 10); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := e.PlaceOrder("bob", mid, types.SELL, d("0.70"), 10); err != nil {
		t.Fatalf("place: %v", err)
	}

	bids, asks, err := e.BookSnapshot(mid)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if len(bids) != 2 || len(asks) != 1 {
		t.Fatalf("book = %d bids / %d asks, want 2/1", len(bids), len(asks))
	}
	if !bids[0].Price.Equal(d("0.45")) {
		t.Fatalf("best bid = %s, want 0.45", bids[0].Price)
	}
}

// Global conservation: available + locked across all wallets plus consumed
// trade costs must account for every deposited unit.
func TestConservationAcrossTrades(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	if _, err := e.PlaceOrder("alice", mid, types.BUY, d("0.70"), 40); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := e.PlaceOrder("bob", mid, types.SELL, d("0.55"), 25); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := e.PlaceOrder("bob", mid, types.SELL, d("0.65"), 25); err != nil {
		t.Fatalf("place: %v", err)
	}

	// Every trade consumes exactly one monetary unit per share across the
	// two legs, so wallets + shares outstanding = total deposits.
	a := wallet(t, e, "alice")
	b := wallet(t, e, "bob")
	total := a.Total().Add(b.Total())

	ap, _ := e.Position("alice", mid)
	shares := decimal.NewFromInt(ap.YesShares)
	if !total.Add(shares).Equal(d("2000")) {
		t.Fatalf("wallets %s + shares %s ≠ deposits 2000", total, shares)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	if _, err := e.PlaceOrder("alice", mid, types.BUY, d("0.60"), 100); err != nil {
		t.Fatalf("place buy: %v", err)
	}
	if _, err := e.PlaceOrder("bob", mid, types.SELL, d("0.60"), 50); err != nil {
		t.Fatalf("place sell: %v", err)
	}

	snap := e.Snapshot()

	e2 := New(allowAll{}, testLogger())
	e2.Restore(snap)

	assertWallet(t, e2, "alice", "940", "30")
	m, err := e2.GetMarket(mid)
	if err != nil {
		t.Fatalf("restored market: %v", err)
	}
	if !m.LastPrice.Equal(d("0.60")) {
		t.Fatalf("restored lastPrice = %s, want 0.60", m.LastPrice)
	}
	vol, err := e2.Volume(mid)
	if err != nil {
		t.Fatalf("restored volume: %v", err)
	}
	if !vol.Equal(d("30")) {
		t.Fatalf("restored volume = %s, want 30", vol)
	}

	// The restored engine keeps trading where the old one stopped.
	if _, err := e2.PlaceOrder("bob", mid, types.SELL, d("0.60"), 50); err != nil {
		t.Fatalf("place on restored engine: %v", err)
	}
	assertWallet(t, e2, "alice", "940", "0")
}
