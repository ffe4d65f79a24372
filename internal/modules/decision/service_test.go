package decision

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/federico-bidone/FAIR-sub001/internal/modules/execution"
	"github.com/federico-bidone/FAIR-sub001/pkg/logger"
)

func testService(t *testing.T) *Service {
	t.Helper()
	opts := execution.DefaultBootstrapOptions()
	opts.Resamples = 200
	opts.BlockSize = 20
	rules := execution.NewTaxRules(execution.MethodFIFO)
	return New(nil, opts, rules, 0.05, logger.New(logger.Config{Level: "error"}))
}

func testScenario(t *testing.T) Scenario {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	returns := make([][]float64, 240)
	for i := range returns {
		returns[i] = []float64{
			0.02 + 0.01*rng.NormFloat64(),
			0.005 + 0.002*rng.NormFloat64(),
		}
	}
	return Scenario{
		PortfolioValue: 1_000_000,
		WeightsOld:     []float64{0.30, 0.70},
		WeightsNew:     []float64{0.45, 0.55},
		Returns:        returns,
		Prices:         []float64{50, 100},
		Spreads:        []float64{0.001, 0.001},
		ADV:            []float64{1e6, 1e6},
		Eta:            []float64{0.1, 0.1},
		LotSizes:       []float64{10, 5},
	}
}

func TestEvaluateFullPipeline(t *testing.T) {
	svc := testService(t)
	report, err := svc.Evaluate(testScenario(t))
	require.NoError(t, err)

	// Drift of 0.15 exceeds the 0.05 band; no turnover cap configured.
	assert.True(t, report.Breakdown.DriftOK)
	assert.True(t, report.Breakdown.TurnoverOK)
	assert.InDelta(t, 0.15, report.Turnover, 1e-12)

	require.Len(t, report.Lots, 2)
	assert.Equal(t, 300, report.Lots[0], "0.15*1e6 / (50*10)")
	assert.Equal(t, -300, report.Lots[1], "-0.15*1e6 / (100*5)")
	assert.Equal(t, []float64{3000, -1500}, report.Quantities)

	assert.Positive(t, report.Breakdown.TotalCosts)
	assert.Zero(t, report.Breakdown.TotalTaxes, "no realized gains in scenario")
	assert.Nil(t, report.Tax)
	assert.InDelta(t, report.Breakdown.NetBenefit(), report.NetBenefit, 1e-12)
	assert.Equal(t,
		report.Breakdown.DriftOK && report.Breakdown.TurnoverOK && report.NetBenefit > 0,
		report.Breakdown.Execute)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	svc := testService(t)
	first, err := svc.Evaluate(testScenario(t))
	require.NoError(t, err)
	second, err := svc.Evaluate(testScenario(t))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEvaluateTurnoverCap(t *testing.T) {
	svc := testService(t)
	scenario := testScenario(t)
	scenario.MaxTurnover = 0.10

	report, err := svc.Evaluate(scenario)
	require.NoError(t, err)
	assert.False(t, report.Breakdown.TurnoverOK)
	assert.False(t, report.Breakdown.Execute)
}

func TestEvaluateDriftInsideBand(t *testing.T) {
	svc := testService(t)
	scenario := testScenario(t)
	scenario.WeightsNew = []float64{0.31, 0.69}

	report, err := svc.Evaluate(scenario)
	require.NoError(t, err)
	assert.False(t, report.Breakdown.DriftOK)
	assert.False(t, report.Breakdown.Execute)
}

func TestEvaluateAggregateTaxes(t *testing.T) {
	svc := testService(t)
	scenario := testScenario(t)
	scenario.RealizedPnL = []float64{1000, -200, 500}
	scenario.GoviesRatio = []float64{0.2, 0.2, 0.7}

	report, err := svc.Evaluate(scenario)
	require.NoError(t, err)

	want, err := execution.TaxPenalty(scenario.RealizedPnL, scenario.GoviesRatio, execution.DefaultStampDutyRate)
	require.NoError(t, err)
	assert.InDelta(t, want, report.Breakdown.TotalTaxes, 1e-12)
}

func TestEvaluateInputValidation(t *testing.T) {
	svc := testService(t)

	tests := []struct {
		name   string
		mutate func(*Scenario)
	}{
		{"empty weights", func(sc *Scenario) { sc.WeightsOld = nil }},
		{"length mismatch", func(sc *Scenario) { sc.WeightsNew = []float64{0.5} }},
		{"ragged returns row", func(sc *Scenario) { sc.Returns[3] = []float64{0.01} }},
		{"empty returns", func(sc *Scenario) { sc.Returns = nil }},
		{"mismatched realized pnl", func(sc *Scenario) {
			sc.RealizedPnL = []float64{100, 50}
			sc.GoviesRatio = []float64{0.1}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			scenario := testScenario(t)
			tc.mutate(&scenario)
			_, err := svc.Evaluate(scenario)
			assert.Error(t, err)
		})
	}
}
