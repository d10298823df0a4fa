// Package density estimates the high-fidelity output density from the
// probabilistic mapping's predictions over the Monte-Carlo feature
// population. All estimates are reported on a caller-supplied support grid.
package density

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Numerical safeguards for the pairwise bivariate-Gaussian accumulation.
// A slightly negative determinant is an expected floating-point artifact of
// the Monte-Carlo covariance estimate and is recovered locally, never
// surfaced as an error.
const (
	detFloor    = 1e-6
	covDamping  = 0.95
	maxExponent = 40
	meanShrink  = 0.9995
	minStdDev   = 1e-12
)

// Support builds an evenly spaced support grid of n points on [min, max].
func Support(min, max float64, n int) ([]float64, error) {
	if n < 2 {
		return nil, fmt.Errorf("density: support grid needs at least 2 points, got %d", n)
	}
	if !(max > min) {
		return nil, fmt.Errorf("density: support range [%v, %v] is empty", min, max)
	}
	grid := make([]float64, n)
	step := (max - min) / float64(n-1)
	for i := range grid {
		grid[i] = min + float64(i)*step
	}
	return grid, nil
}

// Mean computes the posterior mean estimate of the HF output density: the
// Monte-Carlo average over all samples of a Gaussian density with that
// sample's predicted mean and standard deviation. This is a uniform-weight
// Gaussian mixture evaluated on the support grid.
//
// Components narrower than the grid spacing cannot be represented on the
// grid; their standard deviation is floored at the spacing so the mixture
// stays normalized. Near-zero predictive variances at interpolated points
// would otherwise turn into deltas whose trapezoidal mass exceeds one.
func Mean(support, mean, variance []float64) ([]float64, error) {
	if len(mean) == 0 {
		return nil, errors.New("density: no predictions to average")
	}
	if len(mean) != len(variance) {
		return nil, fmt.Errorf("density: %d means but %d variances", len(mean), len(variance))
	}
	floor := gridSpacing(support)
	if floor < minStdDev {
		floor = minStdDev
	}
	out := make([]float64, len(support))
	for i := range mean {
		sd := math.Sqrt(variance[i])
		if sd < floor {
			sd = floor
		}
		norm := 1 / (sd * math.Sqrt(2*math.Pi))
		for k, s := range support {
			d := (s - mean[i]) / sd
			out[k] += norm * math.Exp(-0.5*d*d)
		}
	}
	invN := 1 / float64(len(mean))
	for k := range out {
		out[k] *= invN
	}
	return out, nil
}

// PredictiveVariance computes the posterior predictive variance of the HF
// output density on the support grid. For every unordered pair of
// Monte-Carlo samples the two predictive marginals and their posterior
// covariance form a bivariate normal whose density at (s, s) is accumulated
// over the grid; the accumulated sum is normalized by the pair count and
// shrunk by the squared posterior mean density.
//
// The accumulation is a pure reduction over index pairs with an associative
// sum per support point, so chunked partial sums could be combined without
// shared state. The cost is O(N^2 * len(support)); callers thin large
// populations before calling (see the analysis stride option).
func PredictiveVariance(support, mean, variance []float64, cov mat.Symmetric, pMean []float64) ([]float64, error) {
	n := len(mean)
	if n < 2 {
		return nil, errors.New("density: predictive variance needs at least two samples")
	}
	if len(variance) != n {
		return nil, fmt.Errorf("density: %d means but %d variances", n, len(variance))
	}
	if cov == nil || cov.SymmetricDim() != n {
		return nil, errors.New("density: posterior covariance does not match the prediction count")
	}
	if len(pMean) != len(support) {
		return nil, fmt.Errorf("density: mean density has %d points, support has %d", len(pMean), len(support))
	}

	grid := make([]float64, len(support))
	pairs := 0
	for i := 0; i < n; i++ {
		v1 := variance[i]
		m1 := mean[i]
		for j := i + 1; j < n; j++ {
			v2 := variance[j]
			m2 := mean[j]
			c := cov.At(i, j)

			det := v1*v2 - c*c
			if det < 0 {
				det = detFloor
				c *= covDamping
			}
			logNorm := -math.Log(math.Sqrt(4 * math.Pi * math.Pi * det))
			invDet := 1 / det
			for k, s := range support {
				d1 := s - m1
				d2 := s - m2
				quad := (d1*d1*v2 - 2*d1*d2*c + d2*d2*v1) * invDet
				arg := -0.5*quad + logNorm
				if arg > maxExponent {
					arg = maxExponent
				}
				grid[k] += math.Exp(arg)
			}
			pairs++
		}
	}

	out := make([]float64, len(support))
	invPairs := 1 / float64(pairs)
	for k := range out {
		out[k] = grid[k]*invPairs - meanShrink*pMean[k]*pMean[k]
	}
	return out, nil
}

// gridSpacing returns the smallest positive step of the support grid, zero
// when the grid has fewer than two points.
func gridSpacing(support []float64) float64 {
	step := 0.0
	for k := 1; k < len(support); k++ {
		if d := support[k] - support[k-1]; d > 0 && (step == 0 || d < step) {
			step = d
		}
	}
	return step
}

// Thin returns every stride-th index of [0, n), the documented cost cap for
// the quadratic predictive-variance accumulation.
func Thin(n, stride int) []int {
	if stride < 1 {
		stride = 1
	}
	out := make([]int, 0, n/stride+1)
	for i := 0; i < n; i += stride {
		out = append(out, i)
	}
	return out
}

// KDE evaluates a Gaussian kernel density estimate of the samples on the
// support grid.
func KDE(samples []float64, bandwidth float64, support []float64) ([]float64, error) {
	if len(samples) == 0 {
		return nil, errors.New("density: no samples for kernel density estimate")
	}
	if bandwidth <= 0 {
		return nil, fmt.Errorf("density: bandwidth must be positive, got %v", bandwidth)
	}
	out := make([]float64, len(support))
	norm := 1 / (bandwidth * math.Sqrt(2*math.Pi) * float64(len(samples)))
	for k, s := range support {
		sum := 0.0
		for _, x := range samples {
			d := (s - x) / bandwidth
			sum += math.Exp(-0.5 * d * d)
		}
		out[k] = sum * norm
	}
	return out, nil
}

// SilvermanBandwidth picks a KDE bandwidth with Silverman's rule of thumb,
// using the smaller of the sample standard deviation and the normalized
// interquartile range.
func SilvermanBandwidth(samples []float64) (float64, error) {
	n := len(samples)
	if n < 2 {
		return 0, errors.New("density: bandwidth estimation needs at least two samples")
	}
	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)

	sd := stat.StdDev(sorted, nil)
	iqr := stat.Quantile(0.75, stat.Empirical, sorted, nil) - stat.Quantile(0.25, stat.Empirical, sorted, nil)
	spread := sd
	if norm := iqr / 1.349; norm > 0 && norm < spread {
		spread = norm
	}
	if spread <= 0 {
		return 0, errors.New("density: samples have zero spread")
	}
	return 0.9 * spread * math.Pow(float64(n), -0.2), nil
}
