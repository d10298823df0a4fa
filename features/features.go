// Package features builds the low-fidelity feature matrix Z that feeds the
// probabilistic multi-fidelity mapping. Z always starts with the LF model
// output columns; depending on the configuration, informative features
// derived from the model input, the experimental coordinates, or the
// observation times are appended.
package features

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrUnknownConfig is returned for feature configuration tags outside the
// supported set.
var ErrUnknownConfig = errors.New("features: unknown feature configuration")

// Config selects how informative features are constructed. The variant set
// is closed; configuration strings are mapped onto it exhaustively by the
// analysis configuration, so an unknown tag never reaches the pipeline.
type Config interface {
	configTag() string
}

// NoFeatures uses the LF output unchanged, Z = Y_LF.
type NoFeatures struct{}

func (NoFeatures) configTag() string { return "no_features" }

// ManFeatures appends manually selected columns of the input matrix X.
// The inverse-analysis variant standardizes the columns before appending.
type ManFeatures struct {
	Columns     []int
	Standardize bool
}

func (ManFeatures) configTag() string { return "man_features" }

// CoordFeatures appends the experimental spatial coordinates, tiled to the
// sample count.
type CoordFeatures struct {
	Coords *mat.Dense
}

func (CoordFeatures) configTag() string { return "coord_features" }

// TimeFeatures appends the observation time vector, linearly rescaled into
// the range of the observed output and repeated to the sample count.
type TimeFeatures struct {
	Times    []float64
	Observed []float64
}

func (TimeFeatures) configTag() string { return "time_features" }

// OptFeatures selects the Num most informative dimensions of the reduced
// input space automatically, ranked by absolute correlation with the
// standardized LF output.
type OptFeatures struct {
	Num int
	// ExplainedVar is the truncation threshold in percent for the
	// Karhunen-Loeve expansion of random fields.
	ExplainedVar float64
}

func (OptFeatures) configTag() string { return "opt_features" }

// NewOptFeatures validates the feature count before any model evaluation
// can happen.
func NewOptFeatures(num int, explainedVar float64) (OptFeatures, error) {
	if num < 1 {
		return OptFeatures{}, fmt.Errorf("features: you specified %d informative features, which is an invalid value; only values greater than zero are allowed", num)
	}
	if explainedVar <= 0 || explainedVar > 100 {
		return OptFeatures{}, fmt.Errorf("features: explained-variance threshold %v is outside (0, 100]", explainedVar)
	}
	return OptFeatures{Num: num, ExplainedVar: explainedVar}, nil
}

// BuildZ assembles the feature matrix for one population (training or
// Monte-Carlo). yLF holds one column per LF model, x the row-aligned input
// samples. OptFeatures is not handled here: optimal selection needs the
// whole Monte-Carlo population at once and lives in SelectOptimal.
func BuildZ(cfg Config, yLF, x *mat.Dense) (*mat.Dense, error) {
	if yLF == nil {
		return nil, errors.New("features: nil LF output matrix")
	}
	switch c := cfg.(type) {
	case NoFeatures:
		return yLF, nil
	case ManFeatures:
		gammas, err := pickColumns(x, c.Columns)
		if err != nil {
			return nil, err
		}
		if c.Standardize {
			gammas = Standardize(gammas)
		}
		return AppendColumns(yLF, gammas)
	case CoordFeatures:
		tiled, err := tile(c.Coords, rowCount(yLF))
		if err != nil {
			return nil, err
		}
		return AppendColumns(yLF, tiled)
	case TimeFeatures:
		col, err := timeColumn(c.Times, c.Observed, rowCount(yLF))
		if err != nil {
			return nil, err
		}
		return AppendColumns(yLF, mat.NewDense(len(col), 1, col))
	case OptFeatures:
		return nil, errors.New("features: opt_features requires the Monte-Carlo population, use SelectOptimal")
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownConfig, cfg)
	}
}

// AppendColumns concatenates the columns of gammas to the right of yLF.
func AppendColumns(yLF, gammas *mat.Dense) (*mat.Dense, error) {
	yr, yc := yLF.Dims()
	gr, gc := gammas.Dims()
	if yr != gr {
		return nil, fmt.Errorf("features: row mismatch: LF output has %d rows, features have %d", yr, gr)
	}
	z := mat.NewDense(yr, yc+gc, nil)
	for i := 0; i < yr; i++ {
		copy(z.RawRowView(i)[:yc], yLF.RawRowView(i))
		copy(z.RawRowView(i)[yc:], gammas.RawRowView(i))
	}
	return z, nil
}

// Rows extracts the given rows of m in index order, copying the data.
func Rows(m *mat.Dense, indices []int) (*mat.Dense, error) {
	rows, cols := m.Dims()
	out := mat.NewDense(len(indices), cols, nil)
	for i, idx := range indices {
		if idx < 0 || idx >= rows {
			return nil, fmt.Errorf("features: row index %d out of range [0, %d)", idx, rows)
		}
		out.SetRow(i, m.RawRowView(idx))
	}
	return out, nil
}

// Standardize returns a copy of m with every column shifted to zero mean and
// scaled to unit variance. Constant columns are only centered.
func Standardize(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, m)
		mean := stat.Mean(col, nil)
		sd := stat.PopStdDev(col, nil)
		for i := 0; i < rows; i++ {
			v := col[i] - mean
			if sd > 0 {
				v /= sd
			}
			out.Set(i, j, v)
		}
	}
	return out
}

// ScaleToRange maps a linearly onto the numeric range of ref, so that
// min(a) lands on min(ref) and max(a) on max(ref). A constant a maps to
// min(ref).
func ScaleToRange(a, ref []float64) []float64 {
	minRef := floats.Min(ref)
	maxRef := floats.Max(ref)
	minA := floats.Min(a)
	maxA := floats.Max(a)
	out := make([]float64, len(a))
	span := maxA - minA
	if span == 0 {
		for i := range out {
			out[i] = minRef
		}
		return out
	}
	scale := (maxRef - minRef) / span
	for i, v := range a {
		out[i] = minRef + (v-minA)*scale
	}
	return out
}

func pickColumns(x *mat.Dense, columns []int) (*mat.Dense, error) {
	if x == nil {
		return nil, errors.New("features: nil input matrix for man_features")
	}
	if len(columns) == 0 {
		return nil, errors.New("features: man_features needs at least one input column")
	}
	rows, cols := x.Dims()
	out := mat.NewDense(rows, len(columns), nil)
	buf := make([]float64, rows)
	for j, c := range columns {
		if c < 0 || c >= cols {
			return nil, fmt.Errorf("features: input column %d out of range [0, %d)", c, cols)
		}
		mat.Col(buf, c, x)
		out.SetCol(j, buf)
	}
	return out, nil
}

func tile(coords *mat.Dense, rows int) (*mat.Dense, error) {
	if coords == nil {
		return nil, errors.New("features: nil coordinates for coord_features")
	}
	cr, cc := coords.Dims()
	if cr == 0 || rows%cr != 0 {
		return nil, fmt.Errorf("features: cannot tile %d coordinate rows to %d samples", cr, rows)
	}
	out := mat.NewDense(rows, cc, nil)
	for i := 0; i < rows; i++ {
		out.SetRow(i, coords.RawRowView(i%cr))
	}
	return out, nil
}

// timeColumn repeats the observation times to the sample count and rescales
// them into the observed-output range, matching the inverse-analysis
// treatment of time as an informative feature.
func timeColumn(times, observed []float64, rows int) ([]float64, error) {
	if len(times) == 0 {
		return nil, errors.New("features: empty time vector for time_features")
	}
	if len(observed) == 0 {
		return nil, errors.New("features: time_features needs observation data for rescaling")
	}
	if rows%len(times) != 0 {
		return nil, fmt.Errorf("features: cannot repeat %d time points to %d samples", len(times), rows)
	}
	repeat := rows / len(times)
	maxT := floats.Max(times)
	if maxT == 0 {
		return nil, errors.New("features: time vector has zero range")
	}
	minObs := floats.Min(observed)
	maxObs := floats.Max(observed)
	out := make([]float64, 0, rows)
	for _, t := range times {
		v := t/maxT*(maxObs-minObs) + minObs
		for r := 0; r < repeat; r++ {
			out = append(out, v)
		}
	}
	return out, nil
}

func rowCount(m *mat.Dense) int {
	r, _ := m.Dims()
	return r
}
