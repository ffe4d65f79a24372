package execution

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DriftBandsExceeded reports whether the maximum absolute drift of either
// the weight vector or the risk-contribution vector exceeds the policy
// band. All four vectors must share the same length and the band must be
// non-negative.
func DriftBandsExceeded(wOld, wNew, rcOld, rcNew []float64, band float64) (bool, error) {
	n := len(wOld)
	if len(wNew) != n || len(rcOld) != n || len(rcNew) != n {
		return false, fmt.Errorf("drift bands: all inputs must share the same length")
	}
	if band < 0 {
		return false, fmt.Errorf("drift bands: band must be non-negative, got %f", band)
	}

	weightDrift := 0.0
	rcDrift := 0.0
	for i := 0; i < n; i++ {
		weightDrift = math.Max(weightDrift, math.Abs(wNew[i]-wOld[i]))
		rcDrift = math.Max(rcDrift, math.Abs(rcNew[i]-rcOld[i]))
	}
	return weightDrift > band || rcDrift > band, nil
}

// ExpectedBenefit computes the mean-variance utility delta of moving from
// wOld to wNew: the expected-return gain minus half the variance increase.
//
// deltaW must equal wNew - wOld element-wise within floating tolerance and
// sigma must be square with dimension matching the weight vectors.
func ExpectedBenefit(deltaW, mu []float64, sigma mat.Symmetric, wOld, wNew []float64) (float64, error) {
	n := len(wOld)
	if len(wNew) != n || len(mu) != n || len(deltaW) != n {
		return 0, fmt.Errorf("expected benefit: all vector inputs must share the same length")
	}
	if sigma == nil || sigma.SymmetricDim() != n {
		return 0, fmt.Errorf("expected benefit: sigma must be square with dimension matching weights")
	}
	for i := 0; i < n; i++ {
		if !closeTo(deltaW[i], wNew[i]-wOld[i]) {
			return 0, fmt.Errorf("expected benefit: delta_w must equal w_new - w_old")
		}
	}

	vOld := mat.NewVecDense(n, wOld)
	vNew := mat.NewVecDense(n, wNew)

	muGain := floats.Dot(wNew, mu) - floats.Dot(wOld, mu)
	varianceChange := mat.Inner(vNew, sigma, vNew) - mat.Inner(vOld, sigma, vOld)
	return muGain - 0.5*varianceChange, nil
}

// closeTo mirrors numpy allclose defaults (rtol 1e-5, atol 1e-8).
func closeTo(a, b float64) bool {
	return math.Abs(a-b) <= 1e-8+1e-5*math.Abs(b)
}
