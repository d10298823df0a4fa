// Package mapping provides the probabilistic mapping between low-fidelity
// features and the high-fidelity model output. A Mapping is a regression
// model with predictive uncertainty: it is built exactly once on the
// training set (Z_train, Y_HF_train) and then queried for mean/variance
// predictions over the Monte-Carlo feature population.
package mapping

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNotBuilt is returned when a mapping is queried before Build.
	ErrNotBuilt = errors.New("mapping: mapping has not been built yet")
	// ErrUnknownType is returned for mapping type tags outside the registry.
	ErrUnknownType = errors.New("mapping: unknown mapping type")
)

// Mapping is the capability interface every regression backend satisfies.
// Build mutates the mapping exactly once; predictions never mutate it.
type Mapping interface {
	// Build fits the mapping on the training features z (n x d) and the
	// high-fidelity training output y (n x 1).
	Build(z, y *mat.Dense) error
	// Predict returns the predictive mean and marginal variance for every
	// row of z.
	Predict(z *mat.Dense) (mean, variance []float64, err error)
	// PredictFull additionally returns the full posterior covariance over
	// the query points.
	PredictFull(z *mat.Dense) (mean []float64, cov *mat.SymDense, err error)
}

// Factory creates a fresh, unbuilt mapping instance.
type Factory func() Mapping

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a mapping backend available under a configuration tag.
// Backends register themselves in their init functions.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("mapping: backend %q registered twice", name))
	}
	registry[name] = f
}

// New creates an unbuilt mapping of the given type. Unknown tags indicate a
// malformed analysis configuration and fail fast.
func New(name string) (Mapping, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownType, name, Types())
	}
	return f(), nil
}

// Types lists the registered mapping types in sorted order.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CrossValidate estimates the mapping accuracy with k-fold cross-validation:
// the rows of (z, y) are split into kFold disjoint folds, a fresh mapping is
// fit on the remaining folds and predicts the held-out one. Predictions are
// scattered back into original row order, so the result is row-aligned with
// y.
func CrossValidate(factory Factory, z, y *mat.Dense, kFold int) ([]float64, error) {
	if factory == nil {
		return nil, errors.New("mapping: nil mapping factory for cross-validation")
	}
	n, d := z.Dims()
	yn, _ := y.Dims()
	if n != yn {
		return nil, fmt.Errorf("mapping: feature matrix has %d rows, output has %d", n, yn)
	}
	if kFold < 2 || kFold > n {
		return nil, fmt.Errorf("mapping: k_fold must be in [2, %d], got %d", n, kFold)
	}

	folds := foldPartition(n, kFold)
	predictions := make([]float64, n)
	for _, hold := range folds {
		trainIdx := complement(n, hold)

		zTrain := pickRows(z, trainIdx, d)
		yTrain := pickRows(y, trainIdx, 1)
		zHold := pickRows(z, hold, d)

		m := factory()
		if err := m.Build(zTrain, yTrain); err != nil {
			return nil, fmt.Errorf("mapping: cross-validation fold fit: %w", err)
		}
		mean, _, err := m.Predict(zHold)
		if err != nil {
			return nil, fmt.Errorf("mapping: cross-validation fold predict: %w", err)
		}
		for i, idx := range hold {
			predictions[idx] = mean[i]
		}
	}
	return predictions, nil
}

// foldPartition splits [0, n) into kFold contiguous, disjoint index sets
// whose sizes differ by at most one.
func foldPartition(n, kFold int) [][]int {
	folds := make([][]int, kFold)
	base := n / kFold
	rest := n % kFold
	start := 0
	for f := 0; f < kFold; f++ {
		size := base
		if f < rest {
			size++
		}
		idx := make([]int, size)
		for i := range idx {
			idx[i] = start + i
		}
		folds[f] = idx
		start += size
	}
	return folds
}

func complement(n int, hold []int) []int {
	inHold := make([]bool, n)
	for _, i := range hold {
		inHold[i] = true
	}
	out := make([]int, 0, n-len(hold))
	for i := 0; i < n; i++ {
		if !inHold[i] {
			out = append(out, i)
		}
	}
	return out
}

func pickRows(m *mat.Dense, indices []int, cols int) *mat.Dense {
	out := mat.NewDense(len(indices), cols, nil)
	for i, idx := range indices {
		out.SetRow(i, m.RawRowView(idx))
	}
	return out
}
