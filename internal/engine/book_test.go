package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"predx/pkg/types"
)

func bookOrder(id string, side types.Side, price string, createdAt time.Time) *types.Order {
	return &types.Order{
		ID:        id,
		Side:      side,
		Price:     decimal.RequireFromString(price),
		Quantity:  10,
		State:     types.OrderPending,
		CreatedAt: createdAt,
	}
}

func TestBuildBookPriceTimePriority(t *testing.T) {
	t.Parallel()
	t0 := time.Now()

	book := buildBook([]*types.Order{
		bookOrder("b-late", types.BUY, "0.60", t0.Add(time.Second)),
		bookOrder("b-early", types.BUY, "0.60", t0),
		bookOrder("b-best", types.BUY, "0.65", t0.Add(2*time.Second)),
		bookOrder("a-best", types.SELL, "0.55", t0.Add(time.Second)),
		bookOrder("a-worse", types.SELL, "0.70", t0),
	})

	wantBids := []string{"b-best", "b-early", "b-late"}
	for i, id := range wantBids {
		if book.Bids[i].ID != id {
			t.Fatalf("bids[%d] = %s, want %s", i, book.Bids[i].ID, id)
		}
	}
	wantAsks := []string{"a-best", "a-worse"}
	for i, id := range wantAsks {
		if book.Asks[i].ID != id {
			t.Fatalf("asks[%d] = %s, want %s", i, book.Asks[i].ID, id)
		}
	}
}

func TestBuildBookSkipsTerminalOrders(t *testing.T) {
	t.Parallel()
	t0 := time.Now()

	filled := bookOrder("filled", types.BUY, "0.60", t0)
	filled.State = types.OrderFilled
	cancelled := bookOrder("cancelled", types.SELL, "0.60", t0)
	cancelled.State = types.OrderCancelled

	book := buildBook([]*types.Order{filled, cancelled, bookOrder("live", types.BUY, "0.50", t0)})
	if len(book.Bids) != 1 || book.Bids[0].ID != "live" {
		t.Fatalf("bids = %v, want only the live order", book.Bids)
	}
	if len(book.Asks) != 0 {
		t.Fatalf("asks = %v, want empty", book.Asks)
	}
}

func TestBookTieBreakByID(t *testing.T) {
	t.Parallel()
	t0 := time.Now()

	a := bookOrder("aaa", types.BUY, "0.60", t0)
	b := bookOrder("bbb", types.BUY, "0.60", t0)
	if !olderFirst(a, b) || olderFirst(b, a) {
		t.Fatal("exact timestamp tie must break by lexicographic ID")
	}
	if maker(a, b) != a {
		t.Fatal("maker with identical timestamps must be the smaller ID")
	}
}

func TestBookCrosses(t *testing.T) {
	t.Parallel()
	t0 := time.Now()

	crossed := buildBook([]*types.Order{
		bookOrder("b", types.BUY, "0.60", t0),
		bookOrder("a", types.SELL, "0.60", t0),
	})
	if !crossed.Crosses() {
		t.Fatal("bid 0.60 vs ask 0.60 must cross")
	}

	apart := buildBook([]*types.Order{
		bookOrder("b", types.BUY, "0.55", t0),
		bookOrder("a", types.SELL, "0.60", t0),
	})
	if apart.Crosses() {
		t.Fatal("bid 0.55 vs ask 0.60 must not cross")
	}

	empty := buildBook(nil)
	if empty.Crosses() {
		t.Fatal("empty book must not cross")
	}
}
