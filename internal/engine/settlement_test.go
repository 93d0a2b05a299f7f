package engine

import (
	"errors"
	"testing"

	"predx/pkg/types"
)

func TestSettleYesWins(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	if _, err := e.PlaceOrder("alice", mid, types.BUY, d("0.60"), 100); err != nil {
		t.Fatalf("place buy: %v", err)
	}
	if _, err := e.PlaceOrder("bob", mid, types.SELL, d("0.60"), 100); err != nil {
		t.Fatalf("place sell: %v", err)
	}

	m, err := e.Settle(mid, types.YES)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if m.State != types.MarketSettled {
		t.Fatalf("market state = %s, want SETTLED", m.State)
	}

	// Alice's 100 yes-shares pay one unit each; Bob's no-shares pay nothing.
	assertWallet(t, e, "alice", "1040", "0")
	assertWallet(t, e, "bob", "960", "0")

	for _, user := range []string{"alice", "bob"} {
		p, ok := e.Position(user, mid)
		if ok && (p.YesShares != 0 || p.NoShares != 0) {
			t.Fatalf("%s position not cleared: (%d,%d)", user, p.YesShares, p.NoShares)
		}
	}

	var settlements int
	for _, txn := range e.Transactions("alice") {
		if txn.Type == types.TxnSettlement {
			settlements++
			if !txn.Amount.Equal(d("100")) {
				t.Fatalf("settlement amount = %s, want 100", txn.Amount)
			}
		}
	}
	if settlements != 1 {
		t.Fatalf("alice settlement txns = %d, want 1", settlements)
	}
}

func TestSettleNoWins(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	if _, err := e.PlaceOrder("alice", mid, types.BUY, d("0.60"), 100); err != nil {
		t.Fatalf("place buy: %v", err)
	}
	if _, err := e.PlaceOrder("bob", mid, types.SELL, d("0.60"), 100); err != nil {
		t.Fatalf("place sell: %v", err)
	}

	if _, err := e.Settle(mid, types.NO); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// Bob's 100 no-shares pay out; Alice's yes-shares are worthless.
	assertWallet(t, e, "alice", "940", "0")
	assertWallet(t, e, "bob", "1060", "0")
}

func TestSettleCancelsLiveOrders(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	resting, err := e.PlaceOrder("alice", mid, types.BUY, d("0.55"), 40)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	assertWallet(t, e, "alice", "978", "22")

	if _, err := e.Settle(mid, types.YES); err != nil {
		t.Fatalf("settle: %v", err)
	}

	o, _ := e.GetOrder(resting.ID)
	if o.State != types.OrderCancelled {
		t.Fatalf("resting order = %s after settlement, want CANCELLED", o.State)
	}
	assertWallet(t, e, "alice", "1000", "0")
}

func TestSettleTwiceRejected(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	if _, err := e.Settle(mid, types.YES); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if _, err := e.Settle(mid, types.NO); !errors.Is(err, ErrConflict) {
		t.Fatalf("second settle: err = %v, want ErrConflict", err)
	}
}

func TestSettleRejectsBadOutcome(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	if _, err := e.Settle(mid, types.Outcome("MAYBE")); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("err = %v, want ErrInvalidOrder", err)
	}
}

func TestSettledMarketIsReadOnly(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)

	resting, err := e.PlaceOrder("alice", mid, types.BUY, d("0.55"), 10)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := e.Settle(mid, types.YES); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if _, err := e.PlaceOrder("alice", mid, types.BUY, d("0.55"), 10); !errors.Is(err, ErrMarketNotTradable) {
		t.Fatalf("place after settle: err = %v, want ErrMarketNotTradable", err)
	}
	if _, err := e.CancelOrder(resting.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("cancel after settle: err = %v, want ErrConflict", err)
	}
	if _, err := e.MatchMarket(mid); !errors.Is(err, ErrMarketNotTradable) {
		t.Fatalf("match after settle: err = %v, want ErrMarketNotTradable", err)
	}
}

func TestEventSettlesWhenAllMarketsSettle(t *testing.T) {
	t.Parallel()
	e := New(allowAll{}, testLogger())

	ev := e.CreateEvent("Championship winner", "")
	m1, err := e.CreateMarket(ev.ID, "Team A")
	if err != nil {
		t.Fatalf("create m1: %v", err)
	}
	m2, err := e.CreateMarket(ev.ID, "Team B")
	if err != nil {
		t.Fatalf("create m2: %v", err)
	}

	if _, err := e.Settle(m1.ID, types.NO); err != nil {
		t.Fatalf("settle m1: %v", err)
	}
	got, _ := e.GetEvent(ev.ID)
	if got.State != types.EventOpen {
		t.Fatalf("event = %s with one market open, want OPEN", got.State)
	}

	if _, err := e.Settle(m2.ID, types.YES); err != nil {
		t.Fatalf("settle m2: %v", err)
	}
	got, _ = e.GetEvent(ev.ID)
	if got.State != types.EventSettled {
		t.Fatalf("event = %s after all markets settled, want SETTLED", got.State)
	}
}

func TestHedgedPositionPaysWinningSideOnly(t *testing.T) {
	t.Parallel()
	e, mid := newTestMarket(t)
	if _, err := e.Deposit("carol", d("1000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Carol ends up hedged: 50 YES from one trade, 30 NO from another.
	if _, err := e.PlaceOrder("carol", mid, types.BUY, d("0.50"), 50); err != nil {
		t.Fatalf("carol buy: %v", err)
	}
	if _, err := e.PlaceOrder("bob", mid, types.SELL, d("0.50"), 50); err != nil {
		t.Fatalf("bob sell: %v", err)
	}
	if _, err := e.PlaceOrder("alice", mid, types.BUY, d("0.50"), 30); err != nil {
		t.Fatalf("alice buy: %v", err)
	}
	if _, err := e.PlaceOrder("carol", mid, types.SELL, d("0.50"), 30); err != nil {
		t.Fatalf("carol sell: %v", err)
	}

	p, _ := e.Position("carol", mid)
	if p.YesShares != 50 || p.NoShares != 30 {
		t.Fatalf("carol position = (%d,%d), want (50,30)", p.YesShares, p.NoShares)
	}

	// Carol paid 25 + 15 = 40; YES settlement pays her 50.
	if _, err := e.Settle(mid, types.YES); err != nil {
		t.Fatalf("settle: %v", err)
	}
	assertWallet(t, e, "carol", "1010", "0")
}
