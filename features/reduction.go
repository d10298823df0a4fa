package features

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// CorrNonStationarySquaredExp is the only random-field correlation structure
// the Karhunen-Loeve reduction supports.
const CorrNonStationarySquaredExp = "non_stationary_squared_exp"

// ErrUnsupportedCorrelation is returned when a random field declares a
// correlation structure the reduction cannot handle. Failing here beats
// silently approximating with the wrong basis.
var ErrUnsupportedCorrelation = errors.New("features: unsupported random-field correlation structure")

// RandomField describes one discretized random field in the input matrix.
// Its samples occupy NumPoints consecutive columns of X, after the
// uncorrelated random variables and any preceding fields.
type RandomField struct {
	Name       string
	NumPoints  int
	CorrStruct string
	// Eigenfunctions holds one discretized eigenfunction per row.
	Eigenfunctions *mat.Dense
	// Eigenvalues are ordered by decreasing magnitude.
	Eigenvalues []float64
}

// TruncatedField pairs the raw high-dimensional samples of a random field
// with its truncated eigenbasis.
type TruncatedField struct {
	Name string
	// Samples is the N x NumPoints slice of the Monte-Carlo input matrix
	// belonging to this field.
	Samples *mat.Dense
	// Basis holds the kept eigenfunctions, one per row.
	Basis *mat.Dense
}

// TruncateFields splits the Monte-Carlo input matrix into the uncorrelated
// random variables (the first numRandVar columns) and the random-field
// blocks, and truncates each field's eigenbasis at the explained-variance
// threshold (in percent).
func TruncateFields(xMC *mat.Dense, numRandVar int, fields []RandomField, explainedVar float64) (*mat.Dense, []TruncatedField, error) {
	if xMC == nil {
		return nil, nil, errors.New("features: nil Monte-Carlo input matrix")
	}
	rows, cols := xMC.Dims()
	if numRandVar < 0 || numRandVar > cols {
		return nil, nil, fmt.Errorf("features: %d uncorrelated variables declared but input has %d columns", numRandVar, cols)
	}

	// A nil xUncorr means the input consists of random fields only.
	var xUncorr *mat.Dense
	if numRandVar > 0 {
		xUncorr = mat.DenseCopyOf(xMC.Slice(0, rows, 0, numRandVar))
	}

	offset := numRandVar
	trunc := make([]TruncatedField, 0, len(fields))
	for _, field := range fields {
		if field.CorrStruct != CorrNonStationarySquaredExp {
			return nil, nil, fmt.Errorf("%w: field %q declares %q, only %q is implemented",
				ErrUnsupportedCorrelation, field.Name, field.CorrStruct, CorrNonStationarySquaredExp)
		}
		if offset+field.NumPoints > cols {
			return nil, nil, fmt.Errorf("features: field %q needs columns [%d, %d) but input has %d columns",
				field.Name, offset, offset+field.NumPoints, cols)
		}
		basis, err := truncateBasis(field, explainedVar)
		if err != nil {
			return nil, nil, err
		}
		samples := mat.DenseCopyOf(xMC.Slice(0, rows, offset, offset+field.NumPoints))
		trunc = append(trunc, TruncatedField{Name: field.Name, Samples: samples, Basis: basis})
		offset += field.NumPoints
	}
	return xUncorr, trunc, nil
}

// truncateBasis keeps the leading eigenfunctions until the cumulative
// explained variance exceeds the threshold. At least one mode survives.
func truncateBasis(field RandomField, explainedVar float64) (*mat.Dense, error) {
	if field.Eigenfunctions == nil || len(field.Eigenvalues) == 0 {
		return nil, fmt.Errorf("features: field %q is missing eigenfunction or eigenvalue data", field.Name)
	}
	modes, points := field.Eigenfunctions.Dims()
	if points != field.NumPoints {
		return nil, fmt.Errorf("features: field %q eigenfunctions have %d points, field declares %d",
			field.Name, points, field.NumPoints)
	}
	if len(field.Eigenvalues) < modes {
		modes = len(field.Eigenvalues)
	}

	total := 0.0
	for _, ev := range field.Eigenvalues[:modes] {
		total += ev
	}
	if total <= 0 {
		return nil, fmt.Errorf("features: field %q has a non-positive eigenvalue sum", field.Name)
	}
	keep := modes
	cum := 0.0
	for i, ev := range field.Eigenvalues[:modes] {
		cum += ev / total * 100
		if cum > explainedVar {
			keep = i + 1
			break
		}
	}
	return mat.DenseCopyOf(field.Eigenfunctions.Slice(0, keep, 0, field.NumPoints)), nil
}

// ProjectOnBases projects every field's samples onto its truncated basis and
// concatenates the projection coefficients column-wise in field order.
func ProjectOnBases(trunc []TruncatedField, numSamples int) (*mat.Dense, error) {
	if len(trunc) == 0 {
		return nil, nil
	}
	totalModes := 0
	for _, tf := range trunc {
		modes, _ := tf.Basis.Dims()
		totalModes += modes
	}
	coefs := mat.NewDense(numSamples, totalModes, nil)
	offset := 0
	for _, tf := range trunc {
		rows, _ := tf.Samples.Dims()
		if rows != numSamples {
			return nil, fmt.Errorf("features: field %q has %d sample rows, expected %d", tf.Name, rows, numSamples)
		}
		modes, _ := tf.Basis.Dims()
		var proj mat.Dense
		proj.Mul(tf.Samples, tf.Basis.T())
		coefs.Slice(0, numSamples, offset, offset+modes).(*mat.Dense).Copy(&proj)
		offset += modes
	}
	return coefs, nil
}

// ReducedInput assembles the dimensionality-reduced input representation:
// the uncorrelated random variables concatenated with the Karhunen-Loeve
// projection coefficients of all random fields, standardized per dimension.
func ReducedInput(xMC *mat.Dense, numRandVar int, fields []RandomField, explainedVar float64) (*mat.Dense, error) {
	xUncorr, trunc, err := TruncateFields(xMC, numRandVar, fields, explainedVar)
	if err != nil {
		return nil, err
	}
	rows, _ := xMC.Dims()
	coefs, err := ProjectOnBases(trunc, rows)
	if err != nil {
		return nil, err
	}
	var joined *mat.Dense
	switch {
	case xUncorr == nil && coefs == nil:
		return nil, errors.New("features: input has neither uncorrelated variables nor random fields")
	case xUncorr == nil:
		joined = coefs
	case coefs == nil:
		joined = xUncorr
	default:
		joined, err = AppendColumns(xUncorr, coefs)
		if err != nil {
			return nil, err
		}
	}
	return Standardize(joined), nil
}
