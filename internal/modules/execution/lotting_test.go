package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeOrdersRoundsAndHandlesZeroInputs(t *testing.T) {
	lots, err := SizeOrders(
		[]float64{0.02, -0.01, 0.001},
		1000000.0,
		[]float64{50.0, 100.0, 0.0},
		[]float64{10.0, 5.0, 1.0},
	)
	require.NoError(t, err)
	assert.Equal(t, []int{40, -20, 0}, lots)
}

func TestSizeOrdersSignFollowsDelta(t *testing.T) {
	deltaW := []float64{0.05, -0.03, 0.0, -0.08}
	prices := []float64{12.0, 33.0, 7.0, 151.0}
	lotSizes := []float64{1.0, 2.0, 5.0, 1.0}

	lots, err := SizeOrders(deltaW, 500000.0, prices, lotSizes)
	require.NoError(t, err)
	for i, lot := range lots {
		switch {
		case deltaW[i] > 0:
			assert.GreaterOrEqual(t, lot, 0, "index %d", i)
		case deltaW[i] < 0:
			assert.LessOrEqual(t, lot, 0, "index %d", i)
		default:
			assert.Zero(t, lot, "index %d", i)
		}
	}
}

func TestSizeOrdersRoundsHalfToEven(t *testing.T) {
	// 0.5 lots should round down to 0, 1.5 lots up to 2.
	lots, err := SizeOrders(
		[]float64{0.005, 0.015},
		100000.0,
		[]float64{100.0, 100.0},
		[]float64{10.0, 10.0},
	)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, lots)
}

func TestSizeOrdersNonPositiveLotSizeYieldsZero(t *testing.T) {
	lots, err := SizeOrders(
		[]float64{0.1, 0.1},
		100000.0,
		[]float64{10.0, 10.0},
		[]float64{0.0, -1.0},
	)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, lots)
}

func TestSizeOrdersValidation(t *testing.T) {
	_, err := SizeOrders([]float64{0.1}, -1.0, []float64{10.0}, []float64{1.0})
	assert.Error(t, err)

	_, err = SizeOrders([]float64{0.1, 0.2}, 100.0, []float64{10.0}, []float64{1.0, 1.0})
	assert.Error(t, err)
}

func TestTargetToLotsAliasesSizeOrders(t *testing.T) {
	deltaW := []float64{0.01, 0.0}
	prices := []float64{25.0, 50.0}
	lotSizes := []float64{10.0, 10.0}

	alias, err := TargetToLots(deltaW, 100000.0, prices, lotSizes)
	require.NoError(t, err)
	direct, err := SizeOrders(deltaW, 100000.0, prices, lotSizes)
	require.NoError(t, err)
	assert.Equal(t, direct, alias)
}
