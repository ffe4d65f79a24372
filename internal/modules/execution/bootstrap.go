package execution

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// BootstrapOptions parameterises the block-bootstrap estimate of the
// expected-benefit distribution.
type BootstrapOptions struct {
	BlockSize int     // consecutive observations per block
	Resamples int     // number of bootstrap draws
	Alpha     float64 // quantile extracted by ExpectedBenefitLowerBound
	Seed      int64   // base seed; draw i uses Seed + i
}

// DefaultBootstrapOptions returns the production defaults: 60-observation
// blocks, 1000 draws, a conservative 5% quantile.
func DefaultBootstrapOptions() BootstrapOptions {
	return BootstrapOptions{BlockSize: 60, Resamples: 1000, Alpha: 0.05, Seed: 42}
}

// ExpectedBenefitDistribution draws overlapping block-bootstrap resamples
// of the historical returns panel, evaluates the mean-variance expected
// benefit on each resample's estimated mean vector and covariance matrix,
// and returns one benefit value per draw (indexed by draw).
//
// Draws run in parallel. Each draw i seeds its own generator with
// opts.Seed + i, so the distribution is reproducible and independent of
// scheduling; only the summation order inside gonum varies, which a
// quantile consumer never observes.
//
// The panel has one row per observation and one column per instrument; its
// column count must match len(deltaW). Panels with missing values (NaN) or
// no observations are rejected, as are non-positive block sizes, block
// sizes longer than the panel, and non-positive resample counts.
func ExpectedBenefitDistribution(panel *mat.Dense, deltaW, wOld, wNew []float64, opts BootstrapOptions) ([]float64, error) {
	if panel == nil {
		return nil, fmt.Errorf("bootstrap: panel must contain at least one observation")
	}
	rows, cols := panel.Dims()
	if rows == 0 {
		return nil, fmt.Errorf("bootstrap: panel must contain at least one observation")
	}
	if cols != len(deltaW) {
		return nil, fmt.Errorf("bootstrap: panel has %d columns but delta_w has %d entries", cols, len(deltaW))
	}
	if opts.BlockSize < 1 {
		return nil, fmt.Errorf("bootstrap: block size must be >= 1")
	}
	if opts.BlockSize > rows {
		return nil, fmt.Errorf("bootstrap: block size cannot exceed the number of observations")
	}
	if opts.Resamples < 1 {
		return nil, fmt.Errorf("bootstrap: resamples must be >= 1")
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if math.IsNaN(panel.At(i, j)) {
				return nil, fmt.Errorf("bootstrap: panel must not contain missing values")
			}
		}
	}

	// Validate the weight vectors once, against the sample estimates of the
	// full panel, before spending any work on resampling. A NaN here means
	// the panel is too short to estimate a covariance at all; failing now
	// beats handing the decision gate a silently wrong bound.
	if eb, err := evaluateResample(panel, deltaW, wOld, wNew); err != nil {
		return nil, err
	} else if math.IsNaN(eb) {
		return nil, fmt.Errorf("bootstrap: panel is too short to estimate a covariance matrix")
	}

	reps := (rows + opts.BlockSize - 1) / opts.BlockSize
	maxStart := rows - opts.BlockSize + 1

	benefits := make([]float64, opts.Resamples)
	errs := make([]error, opts.Resamples)

	var wg sync.WaitGroup
	for draw := 0; draw < opts.Resamples; draw++ {
		wg.Add(1)
		go func(draw int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(opts.Seed + int64(draw)))

			resample := mat.NewDense(rows, cols, nil)
			row := 0
			for rep := 0; rep < reps && row < rows; rep++ {
				start := rng.Intn(maxStart)
				for k := 0; k < opts.BlockSize && row < rows; k++ {
					resample.SetRow(row, mat.Row(nil, start+k, panel))
					row++
				}
			}

			benefits[draw], errs[draw] = evaluateResample(resample, deltaW, wOld, wNew)
		}(draw)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return benefits, nil
}

// ExpectedBenefitLowerBound is the alpha-quantile of the bootstrap
// expected-benefit distribution: the conservative estimate the decision
// aggregator trades on. Alpha must lie in the open interval (0, 1).
func ExpectedBenefitLowerBound(panel *mat.Dense, deltaW, wOld, wNew []float64, opts BootstrapOptions) (float64, error) {
	if opts.Alpha <= 0 || opts.Alpha >= 1 {
		return 0, fmt.Errorf("bootstrap: alpha must fall in the open interval (0, 1)")
	}
	benefits, err := ExpectedBenefitDistribution(panel, deltaW, wOld, wNew, opts)
	if err != nil {
		return 0, err
	}

	sorted := make([]float64, len(benefits))
	copy(sorted, benefits)
	sort.Float64s(sorted)
	return stat.Quantile(opts.Alpha, stat.Empirical, sorted, nil), nil
}

// evaluateResample estimates the mean vector and covariance matrix of one
// resampled panel and evaluates the expected benefit on them.
func evaluateResample(sample *mat.Dense, deltaW, wOld, wNew []float64) (float64, error) {
	_, cols := sample.Dims()

	mu := make([]float64, cols)
	for j := 0; j < cols; j++ {
		mu[j] = stat.Mean(mat.Col(nil, j, sample), nil)
	}

	sigma := mat.NewSymDense(cols, nil)
	stat.CovarianceMatrix(sigma, sample, nil)

	return ExpectedBenefit(deltaW, mu, sigma, wOld, wNew)
}
