package execution

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Lot matching methods for the capital-gains engine.
const (
	MethodFIFO   = "fifo"
	MethodLIFO   = "lifo"
	MethodMinTax = "min_tax"
)

// Italian capital-gains regime defaults.
const (
	DefaultStampDutyRate   = 0.002 // pro-rata "bollo" on the portfolio value
	DefaultGoviesThreshold = 0.51  // government share triggering the 12.5% rate
	DefaultStandardRate    = 0.26
	DefaultGoviesRate      = 0.125
)

// quantityTolerance absorbs float noise when comparing sold quantities
// against lot inventory.
var quantityTolerance = decimal.NewFromFloat(1e-9)

// ErrInsufficientInventory is returned when a batch tries to sell more of an
// instrument than its lot inventory holds. The whole batch is rejected and
// neither the inventory nor the minus bag is mutated.
var ErrInsufficientInventory = errors.New("insufficient inventory")

// Lot is a held position slice with its own cost basis and acquisition date.
type Lot struct {
	InstrumentID string
	LotID        string
	Quantity     decimal.Decimal
	CostBasis    decimal.Decimal
	Acquired     time.Time
	GoviesShare  float64
}

// Order is a proposed trade. Negative quantities are sells and consume lots;
// buys are carried through untouched by the capital-gains engine.
type Order struct {
	InstrumentID string
	Quantity     float64
	Price        float64
	TradeDate    time.Time
	GoviesShare  float64
}

// TaxRules configures a capital-gains computation.
type TaxRules struct {
	Method          string
	StampDutyRate   float64
	GoviesThreshold float64
	StandardRate    float64
	GoviesRate      float64
	PortfolioValue  float64

	// GoviesChronological forces chronological (FIFO) matching for orders on
	// qualifying government securities regardless of Method. This mirrors
	// the observed behaviour of the jurisdiction rules; it is configurable
	// pending confirmation against the authoritative tax text.
	GoviesChronological bool

	// MinusBag is the persistent loss carry-forward ledger shared across
	// rebalancing cycles. Optional; when nil, no offsets are applied and no
	// new losses are recorded.
	MinusBag *MinusBag
}

// NewTaxRules returns TaxRules for the given matching method with the
// standard Italian defaults applied.
func NewTaxRules(method string) TaxRules {
	return TaxRules{
		Method:              method,
		StampDutyRate:       DefaultStampDutyRate,
		GoviesThreshold:     DefaultGoviesThreshold,
		StandardRate:        DefaultStandardRate,
		GoviesRate:          DefaultGoviesRate,
		GoviesChronological: true,
	}
}

// TaxResult summarises one ledger resolution.
type TaxResult struct {
	CapitalGainsTax float64 `json:"capital_gains_tax"`
	StampDuty       float64 `json:"stamp_duty"`
	TaxableOther    float64 `json:"taxable_other"`
	TaxableGovies   float64 `json:"taxable_govies"`
	MinusConsumed   float64 `json:"minus_consumed"`
	MinusAdded      float64 `json:"minus_added"`
}

// TotalTax is the combined capital-gains and stamp-duty burden.
func (r TaxResult) TotalTax() float64 {
	return r.CapitalGainsTax + r.StampDuty
}

// workingLot tracks the mutable remainder of an inventory lot during
// matching. sequence preserves input order for deterministic tie-breaks.
type workingLot struct {
	sequence  int
	remaining decimal.Decimal
	costBasis decimal.Decimal
	acquired  time.Time
	govies    float64
	source    *Lot
}

// ComputeTaxPenalty resolves a batch of orders against the lot inventory
// under the configured matching method and returns the tax due together
// with the surviving inventory.
//
// The computation is transactional: on any error the returned inventory is
// nil and the rules' minus bag is untouched. Gains are realized per closed
// lot as (price - cost_basis) * quantity, bucketed into government and
// non-government amounts; current-period losses offset the standard bucket
// first, then the preferential one, and only then is the minus bag drawn
// down (soonest expiry first). Losses left over after all offsets are
// deposited into the bag with the statutory four-year horizon.
func ComputeTaxPenalty(orders []Order, inventory []Lot, rules TaxRules) (TaxResult, []Lot, error) {
	method := strings.ToLower(rules.Method)
	if method != MethodFIFO && method != MethodLIFO && method != MethodMinTax {
		return TaxResult{}, nil, fmt.Errorf("unsupported tax matching method: %q", rules.Method)
	}

	working := make([]workingLot, len(inventory))
	byInstrument := make(map[string][]*workingLot)
	for i := range inventory {
		lot := &inventory[i]
		if lot.Quantity.Sign() < 0 {
			return TaxResult{}, nil, fmt.Errorf("lot %s/%s has negative quantity", lot.InstrumentID, lot.LotID)
		}
		working[i] = workingLot{
			sequence:  i,
			remaining: lot.Quantity,
			costBasis: lot.CostBasis,
			acquired:  lot.Acquired,
			govies:    lot.GoviesShare,
			source:    lot,
		}
		byInstrument[lot.InstrumentID] = append(byInstrument[lot.InstrumentID], &working[i])
	}

	type gainRecord struct {
		gain   decimal.Decimal
		govies bool
	}
	var records []gainRecord
	var tradeDates []time.Time

	for _, order := range orders {
		if order.Quantity >= 0 {
			continue
		}
		tradeQty := decimal.NewFromFloat(-order.Quantity)
		if tradeQty.Sign() == 0 {
			continue
		}
		available := byInstrument[order.InstrumentID]

		total := decimal.Zero
		for _, lot := range available {
			total = total.Add(lot.remaining)
		}
		if tradeQty.GreaterThan(total.Add(quantityTolerance)) {
			return TaxResult{}, nil, fmt.Errorf("%w for instrument %s", ErrInsufficientInventory, order.InstrumentID)
		}

		tradeDates = append(tradeDates, order.TradeDate)
		price := decimal.NewFromFloat(order.Price)

		orderMethod := method
		if rules.GoviesChronological && order.GoviesShare >= rules.GoviesThreshold && allGovies(available, rules.GoviesThreshold) {
			orderMethod = MethodFIFO
		}

		remaining := tradeQty
		for _, lot := range sortLots(available, orderMethod) {
			if remaining.Sign() <= 0 {
				break
			}
			if lot.remaining.Sign() <= 0 {
				continue
			}
			take := decimal.Min(lot.remaining, remaining)
			lot.remaining = lot.remaining.Sub(take)
			records = append(records, gainRecord{
				gain:   price.Sub(lot.costBasis).Mul(take),
				govies: lot.govies >= rules.GoviesThreshold,
			})
			remaining = remaining.Sub(take)
		}
		if remaining.GreaterThan(quantityTolerance) {
			return TaxResult{}, nil, fmt.Errorf("%w: lot matching failed for instrument %s", ErrInsufficientInventory, order.InstrumentID)
		}
	}

	otherGains := decimal.Zero
	goviesGains := decimal.Zero
	lossPool := decimal.Zero
	for _, rec := range records {
		switch {
		case rec.gain.Sign() < 0:
			lossPool = lossPool.Add(rec.gain.Neg())
		case rec.govies:
			goviesGains = goviesGains.Add(rec.gain)
		default:
			otherGains = otherGains.Add(rec.gain)
		}
	}

	taxableOther := decimal.Max(decimal.Zero, otherGains.Sub(lossPool))
	remainingLosses := decimal.Max(decimal.Zero, lossPool.Sub(otherGains))
	taxableGovies := decimal.Max(decimal.Zero, goviesGains.Sub(remainingLosses))
	leftoverLosses := decimal.Max(decimal.Zero, remainingLosses.Sub(goviesGains))

	referenceDate := time.Now().UTC()
	if len(tradeDates) > 0 {
		referenceDate = tradeDates[0]
		for _, d := range tradeDates[1:] {
			if d.After(referenceDate) {
				referenceDate = d
			}
		}
	}

	minusConsumed := decimal.Zero
	minusAdded := decimal.Zero
	if rules.MinusBag != nil {
		consumedOther := rules.MinusBag.Consume(taxableOther, referenceDate)
		taxableOther = decimal.Max(decimal.Zero, taxableOther.Sub(consumedOther))
		consumedGovies := rules.MinusBag.Consume(taxableGovies, referenceDate)
		taxableGovies = decimal.Max(decimal.Zero, taxableGovies.Sub(consumedGovies))
		minusConsumed = consumedOther.Add(consumedGovies)
		if leftoverLosses.Sign() > 0 {
			rules.MinusBag.AddLoss(leftoverLosses, referenceDate)
			minusAdded = leftoverLosses
		}
	}

	capitalGainsTax := decimal.NewFromFloat(rules.StandardRate).Mul(taxableOther).
		Add(decimal.NewFromFloat(rules.GoviesRate).Mul(taxableGovies))
	stampDuty := math.Max(0, rules.StampDutyRate) * math.Max(0, rules.PortfolioValue)

	result := TaxResult{
		CapitalGainsTax: capitalGainsTax.InexactFloat64(),
		StampDuty:       stampDuty,
		TaxableOther:    taxableOther.InexactFloat64(),
		TaxableGovies:   taxableGovies.InexactFloat64(),
		MinusConsumed:   minusConsumed.InexactFloat64(),
		MinusAdded:      minusAdded.InexactFloat64(),
	}

	remaining := make([]Lot, 0, len(working))
	for i := range working {
		if working[i].remaining.Sign() <= 0 {
			continue
		}
		lot := *working[i].source
		lot.Quantity = working[i].remaining
		remaining = append(remaining, lot)
	}
	return result, remaining, nil
}

// TaxPenalty estimates the Italian tax burden from aggregate realized PnL
// arrays, without lot-level matching. Gains from instruments whose
// government share meets the default threshold are taxed at the
// preferential rate; all losses pool against the standard bucket first.
// Stamp duty is levied on the sum of positive gains.
func TaxPenalty(realizedPnL, goviesRatio []float64, stampDutyRate float64) (float64, error) {
	if len(realizedPnL) != len(goviesRatio) {
		return 0, fmt.Errorf("tax penalty: realized_pnl and govies_ratio must share the same length")
	}

	otherGains := 0.0
	goviesGains := 0.0
	lossPool := 0.0
	for i, pnl := range realizedPnL {
		switch {
		case pnl < 0:
			lossPool -= pnl
		case goviesRatio[i] >= DefaultGoviesThreshold:
			goviesGains += pnl
		default:
			otherGains += pnl
		}
	}

	taxableOther := math.Max(0, otherGains-lossPool)
	remainingLosses := math.Max(0, lossPool-otherGains)
	taxableGovies := math.Max(0, goviesGains-remainingLosses)

	capitalGainsTax := DefaultStandardRate*taxableOther + DefaultGoviesRate*taxableGovies
	stampDuty := stampDutyRate * (otherGains + goviesGains)
	return capitalGainsTax + stampDuty, nil
}

func allGovies(lots []*workingLot, threshold float64) bool {
	for _, lot := range lots {
		if lot.govies < threshold {
			return false
		}
	}
	return len(lots) > 0
}

// sortLots returns the candidate lots in consumption order for the given
// method. Each method is a total order over lots; ties always fall back to
// the original inventory sequence so results are deterministic.
func sortLots(lots []*workingLot, method string) []*workingLot {
	sorted := make([]*workingLot, len(lots))
	copy(sorted, lots)

	switch method {
	case MethodFIFO:
		sort.SliceStable(sorted, func(i, j int) bool {
			if !sorted[i].acquired.Equal(sorted[j].acquired) {
				return sorted[i].acquired.Before(sorted[j].acquired)
			}
			return sorted[i].sequence < sorted[j].sequence
		})
	case MethodLIFO:
		sort.SliceStable(sorted, func(i, j int) bool {
			if !sorted[i].acquired.Equal(sorted[j].acquired) {
				return sorted[i].acquired.After(sorted[j].acquired)
			}
			return sorted[i].sequence > sorted[j].sequence
		})
	case MethodMinTax:
		// Highest cost basis first: the lots closest to break-even (or in
		// loss) realize the smallest immediate taxable gain.
		sort.SliceStable(sorted, func(i, j int) bool {
			if !sorted[i].costBasis.Equal(sorted[j].costBasis) {
				return sorted[i].costBasis.GreaterThan(sorted[j].costBasis)
			}
			if !sorted[i].acquired.Equal(sorted[j].acquired) {
				return sorted[i].acquired.Before(sorted[j].acquired)
			}
			return sorted[i].sequence < sorted[j].sequence
		})
	}
	return sorted
}
