package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// lot is an open quantity acquired at a specific price. Remaining is
// negative for short lots. All lots in a book share the same sign at any
// instant: FIFO netting fully consumes one side before opening the other.
type lot struct {
	price      decimal.Decimal
	remaining  decimal.Decimal
	acquiredAt time.Time
}

// book holds the per-ticker FIFO lot queue and the running realized P&L.
// Consumption advances head instead of re-slicing, so partially consumed
// history stays addressable until compaction.
type book struct {
	lots     []lot
	head     int
	realized decimal.Decimal
}

func newBook() *book {
	return &book{realized: decimal.Zero}
}

// openQuantity returns the signed sum of remaining lot quantity.
func (b *book) openQuantity() decimal.Decimal {
	total := decimal.Zero
	for i := b.head; i < len(b.lots); i++ {
		total = total.Add(b.lots[i].remaining)
	}
	return total
}

// openCost returns the signed sum of price * remaining over open lots.
func (b *book) openCost() decimal.Decimal {
	total := decimal.Zero
	for i := b.head; i < len(b.lots); i++ {
		total = total.Add(b.lots[i].price.Mul(b.lots[i].remaining))
	}
	return total
}

// longQuantity returns open quantity counting long lots only.
func (b *book) longQuantity() decimal.Decimal {
	total := decimal.Zero
	for i := b.head; i < len(b.lots); i++ {
		if b.lots[i].remaining.IsPositive() {
			total = total.Add(b.lots[i].remaining)
		}
	}
	return total
}

// frontIsShort reports whether the front lot is a short lot.
func (b *book) frontIsShort() bool {
	return b.head < len(b.lots) && b.lots[b.head].remaining.IsNegative()
}

// frontIsLong reports whether the front lot is a long lot.
func (b *book) frontIsLong() bool {
	return b.head < len(b.lots) && b.lots[b.head].remaining.IsPositive()
}

// append adds a new lot to the back of the queue.
func (b *book) append(price, quantity decimal.Decimal, at time.Time) {
	b.lots = append(b.lots, lot{price: price, remaining: quantity, acquiredAt: at})
}

// consumeFront reduces the front lot by up to want (positive magnitude) and
// returns the consumed magnitude and the lot's cost basis. The caller picks
// the matching direction; a fully consumed lot is destroyed by advancing
// head.
func (b *book) consumeFront(want decimal.Decimal) (consumed, basis decimal.Decimal) {
	front := &b.lots[b.head]
	avail := front.remaining.Abs()

	consumed = want
	if avail.LessThan(want) {
		consumed = avail
	}
	basis = front.price

	if front.remaining.IsPositive() {
		front.remaining = front.remaining.Sub(consumed)
	} else {
		front.remaining = front.remaining.Add(consumed)
	}

	if front.remaining.IsZero() {
		b.head++
		b.compact()
	}

	return consumed, basis
}

// compact drops fully consumed lots once they dominate the backing slice.
func (b *book) compact() {
	if b.head < 64 || b.head*2 < len(b.lots) {
		return
	}
	remaining := make([]lot, len(b.lots)-b.head)
	copy(remaining, b.lots[b.head:])
	b.lots = remaining
	b.head = 0
}
