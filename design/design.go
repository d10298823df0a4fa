// Package design selects the training inputs for the multi-fidelity
// probabilistic mapping. A Design describes how the optimal training set
// X_train is obtained, either by drawing fresh Monte-Carlo samples from the
// uncertain-parameter distributions or by picking rows from an existing
// low-fidelity Monte-Carlo pool.
package design

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrUnknownDesign is returned when a design method tag is not supported.
var ErrUnknownDesign = errors.New("design: unknown design method")

// Marginal is the distribution of a single uncertain parameter. The set of
// supported marginals is closed; each variant carries its own parameters.
type Marginal interface {
	dist(src rand.Source) distuv.Rander
}

// Uniform is a continuous uniform distribution on [Min, Max].
type Uniform struct {
	Min, Max float64
}

func (u Uniform) dist(src rand.Source) distuv.Rander {
	return distuv.Uniform{Min: u.Min, Max: u.Max, Src: src}
}

// Normal is a Gaussian distribution with the given mean and standard
// deviation.
type Normal struct {
	Mean, StdDev float64
}

func (n Normal) dist(src rand.Source) distuv.Rander {
	return distuv.Normal{Mu: n.Mean, Sigma: n.StdDev, Src: src}
}

// LogNormal is a log-normal distribution parameterized by the mean and
// standard deviation of the underlying normal.
type LogNormal struct {
	Mu, Sigma float64
}

func (l LogNormal) dist(src rand.Source) distuv.Rander {
	return distuv.LogNormal{Mu: l.Mu, Sigma: l.Sigma, Src: src}
}

// Parameter is one uncertain scalar input of the simulation model.
type Parameter struct {
	Name string
	Dist Marginal
}

// Parameters is the ordered uncertain-parameter description of a model. The
// column order of every sample matrix follows this order.
type Parameters []Parameter

// Sample draws n independent realizations of all parameters with a
// deterministic seed and returns them as an n×d matrix, one row per sample.
func (p Parameters) Sample(n int, seed uint64) (*mat.Dense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("design: number of samples must be positive, got %d", n)
	}
	if len(p) == 0 {
		return nil, errors.New("design: empty parameter description")
	}
	src := rand.NewPCG(seed, seed)
	dists := make([]distuv.Rander, len(p))
	for j, param := range p {
		if param.Dist == nil {
			return nil, fmt.Errorf("design: parameter %q has no distribution", param.Name)
		}
		dists[j] = param.Dist.dist(src)
	}
	x := mat.NewDense(n, len(p), nil)
	for i := 0; i < n; i++ {
		for j := range p {
			x.Set(i, j, dists[j].Rand())
		}
	}
	return x, nil
}

// Design determines the training inputs for the probabilistic mapping.
// RandomDesign is the only supported variant; Parse rejects unknown tags.
type Design interface {
	// Sample draws a fresh training set from the parameter distributions.
	Sample(params Parameters) (*mat.Dense, error)
	// SelectFrom picks training rows from an existing Monte-Carlo pool and
	// returns the selected rows together with their pool indices.
	SelectFrom(pool *mat.Dense) (*mat.Dense, []int, error)
}

// RandomDesign draws training points by plain seeded Monte-Carlo sampling.
type RandomDesign struct {
	Seed      uint64
	NumPoints int
}

// Parse maps a design method tag onto its Design variant. Unknown tags fail
// with ErrUnknownDesign before any model evaluation takes place.
func Parse(method string, seed uint64, numPoints int) (Design, error) {
	switch method {
	case "random":
		if numPoints <= 0 {
			return nil, fmt.Errorf("design: number of training points must be positive, got %d", numPoints)
		}
		return RandomDesign{Seed: seed, NumPoints: numPoints}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDesign, method)
	}
}

// Sample draws NumPoints fresh samples from the parameter distributions.
func (d RandomDesign) Sample(params Parameters) (*mat.Dense, error) {
	return params.Sample(d.NumPoints, d.Seed)
}

// SelectFrom draws NumPoints distinct rows from the pool without
// replacement. The returned indices locate each training row in the pool, so
// no floating-point row matching is needed later to recover them.
func (d RandomDesign) SelectFrom(pool *mat.Dense) (*mat.Dense, []int, error) {
	if pool == nil {
		return nil, nil, errors.New("design: nil sample pool")
	}
	rows, cols := pool.Dims()
	if d.NumPoints > rows {
		return nil, nil, fmt.Errorf("design: requested %d training points from a pool of %d samples", d.NumPoints, rows)
	}
	rng := rand.New(rand.NewPCG(d.Seed, d.Seed))
	perm := rng.Perm(rows)
	indices := perm[:d.NumPoints]

	x := mat.NewDense(d.NumPoints, cols, nil)
	for i, idx := range indices {
		x.SetRow(i, pool.RawRowView(idx))
	}
	out := make([]int, d.NumPoints)
	copy(out, indices)
	return x, out, nil
}

// MatchRows recovers the pool index of every row of x by exact value
// comparison. It exists for externally supplied training sets whose indices
// were never recorded; an unmatched row is a data error, not an excuse to
// pick the nearest neighbour.
func MatchRows(pool, x *mat.Dense) ([]int, error) {
	poolRows, poolCols := pool.Dims()
	xRows, xCols := x.Dims()
	if poolCols != xCols {
		return nil, fmt.Errorf("design: dimension mismatch: pool has %d columns, training set has %d", poolCols, xCols)
	}
	indices := make([]int, xRows)
	for i := 0; i < xRows; i++ {
		row := x.RawRowView(i)
		found := -1
		for j := 0; j < poolRows; j++ {
			if equalRows(row, pool.RawRowView(j)) {
				found = j
				break
			}
		}
		if found < 0 {
			return nil, fmt.Errorf("design: training row %d has no exact match in the Monte-Carlo pool", i)
		}
		indices[i] = found
	}
	return indices, nil
}

func equalRows(a, b []float64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
