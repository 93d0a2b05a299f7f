// book.go builds the per-market order book view: the live orders of a
// market split by side and sorted with price–time priority. The book is a
// logical view derived from the engine's order map on every matching
// invocation, so it always reflects the latest committed state.
package engine

import (
	"sort"

	"predx/pkg/types"
)

// BookView is a snapshot of one market's live orders.
// Bids are BUY orders sorted best-first: price descending, then createdAt
// ascending, then ID. Asks are SELL orders sorted price ascending with the
// same time/ID tie-break.
type BookView struct {
	Bids []*types.Order
	Asks []*types.Order
}

// buildBook splits live orders by side and sorts both lists.
// Terminal orders are skipped.
func buildBook(orders []*types.Order) BookView {
	var book BookView
	for _, o := range orders {
		if !o.State.Live() {
			continue
		}
		if o.Side == types.BUY {
			book.Bids = append(book.Bids, o)
		} else {
			book.Asks = append(book.Asks, o)
		}
	}

	sort.Slice(book.Bids, func(i, j int) bool {
		a, b := book.Bids[i], book.Bids[j]
		if !a.Price.Equal(b.Price) {
			return a.Price.GreaterThan(b.Price)
		}
		return olderFirst(a, b)
	})
	sort.Slice(book.Asks, func(i, j int) bool {
		a, b := book.Asks[i], book.Asks[j]
		if !a.Price.Equal(b.Price) {
			return a.Price.LessThan(b.Price)
		}
		return olderFirst(a, b)
	})
	return book
}

// olderFirst orders two orders by createdAt ascending, breaking exact ties
// deterministically by ID.
func olderFirst(a, b *types.Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// maker returns the older of two crossing orders; its limit price becomes
// the execution price, giving price improvement to the newer (taker) order.
func maker(a, b *types.Order) *types.Order {
	if olderFirst(a, b) {
		return a
	}
	return b
}

// Crosses reports whether the top of book crosses: best bid price ≥ best
// ask price. Both sides trade opposite outcomes of the same binary event,
// so the funds locked by the two orders cover any execution price between
// the ask and the bid.
func (b BookView) Crosses() bool {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return false
	}
	return b.Bids[0].Price.GreaterThanOrEqual(b.Asks[0].Price)
}
