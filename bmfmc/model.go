// Package bmfmc orchestrates Bayesian multi-fidelity Monte-Carlo analyses.
// An Analysis wires a low-fidelity Monte-Carlo snapshot, an optional
// high-fidelity benchmark or model, a feature configuration, and a
// probabilistic mapping backend into a fixed stage sequence that estimates
// the high-fidelity output density.
package bmfmc

import (
	"errors"

	"gonum.org/v1/gonum/mat"

	"github.com/Jannis298/queens/features"
)

// ErrNotImplemented marks configuration choices the pipeline recognizes but
// deliberately does not support.
var ErrNotImplemented = errors.New("bmfmc: not implemented")

// Model is a forward simulation model. Evaluate runs the model on every row
// of the sample matrix and returns one output row per sample.
type Model interface {
	Evaluate(samples *mat.Dense) (*mat.Dense, error)
}

// ModelFunc adapts a plain function to the Model interface.
type ModelFunc func(samples *mat.Dense) (*mat.Dense, error)

func (f ModelFunc) Evaluate(samples *mat.Dense) (*mat.Dense, error) { return f(samples) }

// Snapshot is the persisted outcome of a Monte-Carlo campaign: the input
// samples, the row-aligned model outputs, and the random-field metadata
// needed for input-space reduction.
type Snapshot struct {
	// Input is the n x d Monte-Carlo sample matrix.
	Input *mat.Dense
	// Output holds the model output, one row per sample. For low-fidelity
	// snapshots each column belongs to one LF model.
	Output *mat.Dense
	// NumRandVar is the number of leading uncorrelated input columns; the
	// remaining columns belong to the random fields in order.
	NumRandVar int
	Fields     []features.RandomField
}

// DataIterator hands the pipeline its Monte-Carlo data. Implementations read
// snapshot files or serve in-memory data in tests.
type DataIterator interface {
	ReadSnapshot() (*Snapshot, error)
}

// ResultWriter persists the outcome of an analysis run.
type ResultWriter interface {
	WriteResults(r *Results) error
}

// Visualizer consumes side-channel diagnostics during a run. It never
// influences the pipeline.
type Visualizer interface {
	// FeatureRanking receives the correlation scores of the automatic
	// feature selection, one per candidate dimension.
	FeatureRanking(scores []float64)
}

// NopVisualizer discards all diagnostics. It is the default.
type NopVisualizer struct{}

func (NopVisualizer) FeatureRanking([]float64) {}

// Results is the bundle an analysis emits: the posterior density estimate of
// the high-fidelity output with all data needed to reproduce or plot it.
type Results struct {
	RunID string

	// Support is the output grid all density curves share.
	Support []float64
	// PMean is the posterior mean estimate of the HF output density.
	PMean []float64
	// PVar is the posterior predictive variance of the density estimate.
	// It is nil when the variance stage was disabled.
	PVar []float64

	ZTrain *mat.Dense
	ZMC    *mat.Dense
	// MeanMC and VarMC are the mapping's predictions over the Monte-Carlo
	// feature population.
	MeanMC []float64
	VarMC  []float64

	// Baseline is the no-features reference density, present when the
	// baseline comparison was requested and the run used features.
	Baseline []float64
	// Reference is the kernel density estimate of the HF benchmark output,
	// present when requested and a benchmark snapshot was available.
	Reference []float64

	// CVErrors holds the cross-validation error measures of the mapping,
	// keyed by measure name. Nil when cross-validation was disabled.
	CVErrors map[string]float64
}
