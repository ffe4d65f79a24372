package execution

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// minusLotHorizonYears is the Italian loss carry-forward horizon: realized
// losses can offset gains until the end of the fourth year after the trade.
const minusLotHorizonYears = 4

// MinusLot is a carried-forward capital loss with an inclusive expiry date.
type MinusLot struct {
	Amount decimal.Decimal
	Expiry time.Time
}

// MinusBag tracks loss carry-forward lots across rebalancing cycles.
//
// Lots are kept ordered soonest-expiry-first so consumption always uses the
// losses that would expire first. The bag is not safe for concurrent use;
// callers serialize access per account, one rebalancing cycle at a time.
type MinusBag struct {
	lots []MinusLot
}

// NewMinusBag builds a bag from existing loss lots, ordering them by expiry.
func NewMinusBag(lots ...MinusLot) *MinusBag {
	bag := &MinusBag{lots: make([]MinusLot, len(lots))}
	copy(bag.lots, lots)
	bag.sortByExpiry()
	return bag
}

func (b *MinusBag) sortByExpiry() {
	sort.SliceStable(b.lots, func(i, j int) bool {
		return b.lots[i].Expiry.Before(b.lots[j].Expiry)
	})
}

// purge drops lots whose expiry falls strictly before asOf.
func (b *MinusBag) purge(asOf time.Time) {
	kept := b.lots[:0]
	for _, lot := range b.lots {
		if !lot.Expiry.Before(asOf) {
			kept = append(kept, lot)
		}
	}
	b.lots = kept
}

// PurgeExpired removes lots that can no longer offset gains as of the given
// date and returns the total amount dropped.
func (b *MinusBag) PurgeExpired(asOf time.Time) decimal.Decimal {
	before := b.Total()
	b.purge(asOf)
	return before.Sub(b.Total())
}

// Consume uses available losses to offset up to amount of taxable gain and
// returns the value actually utilised. Expired lots are purged first;
// remaining lots are drawn soonest-expiry-first. The bag total never goes
// negative and no new carry-forward is created by consumption.
func (b *MinusBag) Consume(amount decimal.Decimal, asOf time.Time) decimal.Decimal {
	if amount.Sign() <= 0 {
		return decimal.Zero
	}
	b.purge(asOf)

	remaining := amount
	consumed := decimal.Zero
	updated := b.lots[:0]
	for _, lot := range b.lots {
		if remaining.Sign() <= 0 {
			updated = append(updated, lot)
			continue
		}
		usable := decimal.Min(lot.Amount, remaining)
		consumed = consumed.Add(usable)
		remaining = remaining.Sub(usable)
		if leftover := lot.Amount.Sub(usable); leftover.Sign() > 0 {
			updated = append(updated, MinusLot{Amount: leftover, Expiry: lot.Expiry})
		}
	}
	b.lots = updated
	return consumed
}

// AddLoss stores a new loss with the statutory four-year expiry counted from
// the trade date. Non-positive amounts are ignored.
func (b *MinusBag) AddLoss(amount decimal.Decimal, tradeDate time.Time) {
	if amount.Sign() <= 0 {
		return
	}
	b.lots = append(b.lots, MinusLot{
		Amount: amount,
		Expiry: addYears(tradeDate, minusLotHorizonYears),
	})
	b.sortByExpiry()
}

// Snapshot returns a copy of the remaining loss lots in expiry order.
func (b *MinusBag) Snapshot() []MinusLot {
	out := make([]MinusLot, len(b.lots))
	copy(out, b.lots)
	return out
}

// Total is the loss amount still available for offsetting.
func (b *MinusBag) Total() decimal.Decimal {
	total := decimal.Zero
	for _, lot := range b.lots {
		total = total.Add(lot.Amount)
	}
	return total
}

// addYears advances a date by whole calendar years. February 29th falls back
// to February 28th when the target year is not a leap year.
func addYears(start time.Time, years int) time.Time {
	year := start.Year() + years
	month := start.Month()
	day := start.Day()
	if month == time.February && day == 29 && !isLeapYear(year) {
		day = 28
	}
	return time.Date(year, month, day, 0, 0, 0, 0, start.Location())
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
