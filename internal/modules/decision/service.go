// Package decision composes the execution primitives into one rebalancing
// decision cycle: size the trade, price its costs and taxes, bound the
// expected benefit, and gate the result.
package decision

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/federico-bidone/FAIR-sub001/internal/modules/execution"
	"github.com/federico-bidone/FAIR-sub001/internal/modules/ledger"
)

// Scenario is one fully-specified decision cycle. All per-instrument slices
// must share the same length and ordering.
type Scenario struct {
	PortfolioValue float64 `json:"portfolio_value" yaml:"portfolio_value"`

	WeightsOld []float64 `json:"weights_old" yaml:"weights_old"`
	WeightsNew []float64 `json:"weights_new" yaml:"weights_new"`

	// Risk contributions are optional; when empty the drift check uses
	// weights only.
	RiskContribOld []float64 `json:"risk_contrib_old,omitempty" yaml:"risk_contrib_old"`
	RiskContribNew []float64 `json:"risk_contrib_new,omitempty" yaml:"risk_contrib_new"`

	// Returns is the historical panel, one row per period, one column per
	// instrument.
	Returns [][]float64 `json:"returns" yaml:"returns"`

	Prices   []float64 `json:"prices" yaml:"prices"`
	Spreads  []float64 `json:"spreads" yaml:"spreads"`
	ADV      []float64 `json:"adv" yaml:"adv"`
	Eta      []float64 `json:"eta" yaml:"eta"`
	Fees     []float64 `json:"fees,omitempty" yaml:"fees"`
	LotSizes []float64 `json:"lot_sizes" yaml:"lot_sizes"`

	// MaxTurnover caps one-way turnover 0.5*sum|dW|; zero or negative
	// means no cap.
	MaxTurnover float64 `json:"max_turnover,omitempty" yaml:"max_turnover"`

	// Sells are resolved against the tax-lot ledger when one is attached;
	// otherwise RealizedPnL/GoviesRatio feed the aggregate shortcut.
	Sells        []SaleLeg `json:"sells,omitempty" yaml:"sells"`
	RealizedPnL  []float64 `json:"realized_pnl,omitempty" yaml:"realized_pnl"`
	GoviesRatio  []float64 `json:"govies_ratio,omitempty" yaml:"govies_ratio"`
	TradeDate    string    `json:"trade_date,omitempty" yaml:"trade_date"`
}

// SaleLeg is one sell order to price against lot inventory.
type SaleLeg struct {
	InstrumentID string  `json:"instrument_id" yaml:"instrument_id"`
	Quantity     float64 `json:"quantity" yaml:"quantity"`
	Price        float64 `json:"price" yaml:"price"`
	GoviesShare  float64 `json:"govies_share" yaml:"govies_share"`
}

// Report is the full outcome of one decision cycle. Tax is populated only
// when sell legs were resolved against the lot ledger; aggregate scenarios
// carry the combined figure in Breakdown.TotalTaxes alone.
type Report struct {
	Breakdown  execution.DecisionBreakdown `json:"breakdown"`
	NetBenefit float64                     `json:"net_benefit"`
	Turnover   float64                     `json:"turnover"`
	Lots       []int                       `json:"lots"`
	Quantities []float64                   `json:"quantities"`
	Tax        *execution.TaxResult        `json:"tax,omitempty"`
}

// Service evaluates decision scenarios. The ledger is optional; without one,
// taxes come from the scenario's aggregate realized-PnL figures.
type Service struct {
	ledger *ledger.Service
	opts   execution.BootstrapOptions
	rules  execution.TaxRules
	band   float64
	log    zerolog.Logger
}

// New creates a decision service. A nil ledgerSvc disables lot-level tax
// resolution.
func New(ledgerSvc *ledger.Service, opts execution.BootstrapOptions, rules execution.TaxRules, driftBand float64, log zerolog.Logger) *Service {
	return &Service{
		ledger: ledgerSvc,
		opts:   opts,
		rules:  rules,
		band:   driftBand,
		log:    log.With().Str("service", "decision").Logger(),
	}
}

// Evaluate runs the full pipeline for one scenario. It never commits ledger
// state; sell legs are priced in preview mode.
func (s *Service) Evaluate(sc Scenario) (Report, error) {
	n := len(sc.WeightsOld)
	if n == 0 || len(sc.WeightsNew) != n {
		return Report{}, fmt.Errorf("weights_old and weights_new must be non-empty and equal length")
	}

	deltaW := make([]float64, n)
	floats.SubTo(deltaW, sc.WeightsNew, sc.WeightsOld)

	rcOld, rcNew := sc.RiskContribOld, sc.RiskContribNew
	if len(rcOld) == 0 && len(rcNew) == 0 {
		rcOld = make([]float64, n)
		rcNew = make([]float64, n)
	}
	driftOK, err := execution.DriftBandsExceeded(sc.WeightsOld, sc.WeightsNew, rcOld, rcNew, s.band)
	if err != nil {
		return Report{}, fmt.Errorf("drift check: %w", err)
	}

	turnover := 0.5 * floats.Norm(deltaW, 1)
	turnoverOK := sc.MaxTurnover <= 0 || turnover <= sc.MaxTurnover

	lots, err := execution.SizeOrders(deltaW, sc.PortfolioValue, sc.Prices, sc.LotSizes)
	if err != nil {
		return Report{}, fmt.Errorf("lot sizing: %w", err)
	}
	quantities := make([]float64, n)
	for i, count := range lots {
		quantities[i] = float64(count) * sc.LotSizes[i]
	}

	cost, err := execution.AlmgrenChrissCost(quantities, sc.Prices, sc.Spreads, sc.ADV, sc.Eta, sc.Fees)
	if err != nil {
		return Report{}, fmt.Errorf("cost model: %w", err)
	}

	panel, err := panelMatrix(sc.Returns, n)
	if err != nil {
		return Report{}, err
	}
	ebLB, err := execution.ExpectedBenefitLowerBound(panel, deltaW, sc.WeightsOld, sc.WeightsNew, s.opts)
	if err != nil {
		return Report{}, fmt.Errorf("benefit bound: %w", err)
	}

	tax, taxResult, err := s.taxes(sc)
	if err != nil {
		return Report{}, fmt.Errorf("tax model: %w", err)
	}

	breakdown := execution.SummariseDecision(driftOK, ebLB, cost, tax, turnoverOK)
	s.log.Debug().
		Bool("execute", breakdown.Execute).
		Float64("eb_lb", ebLB).
		Float64("cost", cost).
		Float64("tax", tax).
		Float64("turnover", turnover).
		Msg("Decision cycle evaluated")

	return Report{
		Breakdown:  breakdown,
		NetBenefit: breakdown.NetBenefit(),
		Turnover:   turnover,
		Lots:       lots,
		Quantities: quantities,
		Tax:        taxResult,
	}, nil
}

func (s *Service) taxes(sc Scenario) (float64, *execution.TaxResult, error) {
	rules := s.rules
	rules.PortfolioValue = sc.PortfolioValue

	if s.ledger != nil && len(sc.Sells) > 0 {
		tradeDate, err := parseTradeDate(sc.TradeDate)
		if err != nil {
			return 0, nil, err
		}
		orders := make([]execution.Order, len(sc.Sells))
		for i, leg := range sc.Sells {
			orders[i] = execution.Order{
				InstrumentID: leg.InstrumentID,
				Quantity:     leg.Quantity,
				Price:        leg.Price,
				TradeDate:    tradeDate,
				GoviesShare:  leg.GoviesShare,
			}
		}
		result, err := s.ledger.Preview(orders, rules)
		if err != nil {
			return 0, nil, err
		}
		return result.TotalTax(), &result, nil
	}

	if len(sc.RealizedPnL) == 0 {
		return 0, nil, nil
	}
	tax, err := execution.TaxPenalty(sc.RealizedPnL, sc.GoviesRatio, rules.StampDutyRate)
	if err != nil {
		return 0, nil, err
	}
	return tax, nil, nil
}

func panelMatrix(rows [][]float64, cols int) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("returns panel must not be empty")
	}
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("returns row %d has %d columns, want %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), cols, data), nil
}

func parseTradeDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("trade_date must be YYYY-MM-DD: %w", err)
	}
	return parsed, nil
}
