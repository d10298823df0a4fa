package features

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Ranking holds the correlation scores of the first greedy selection round,
// one per candidate dimension of the reduced input space. It is handed to
// the visualization side channel and has no influence on the pipeline.
type Ranking struct {
	Scores []float64
}

// SelectOptimal picks the opt.Num most informative dimensions of the
// reduced input space xRed for the Monte-Carlo population. In each greedy
// round the remaining candidate dimension with the highest absolute
// correlation against the standardized LF output is selected, linearly
// rescaled into the LF output range, and appended as a feature column.
// A selection mask keeps already-chosen dimensions from being reselected.
//
// The returned matrix has one column per selected feature, row-aligned with
// yLF; the index slice records the chosen dimensions in selection order.
func SelectOptimal(opt OptFeatures, xRed, yLF *mat.Dense) (*mat.Dense, []int, Ranking, error) {
	if opt.Num < 1 {
		return nil, nil, Ranking{}, fmt.Errorf("features: you specified %d informative features, which is an invalid value; only values greater than zero are allowed", opt.Num)
	}
	if xRed == nil || yLF == nil {
		return nil, nil, Ranking{}, errors.New("features: nil input for optimal feature selection")
	}
	rows, dims := xRed.Dims()
	yRows, _ := yLF.Dims()
	if rows != yRows {
		return nil, nil, Ranking{}, fmt.Errorf("features: reduced input has %d rows, LF output has %d", rows, yRows)
	}
	if opt.Num > dims {
		return nil, nil, Ranking{}, fmt.Errorf("features: requested %d features but the reduced input space has only %d dimensions", opt.Num, dims)
	}

	yStd := Standardize(yLF)
	scores := correlationScores(xRed, yStd)

	yFlat := flatten(yLF)
	gammas := mat.NewDense(rows, opt.Num, nil)
	selected := make([]int, 0, opt.Num)
	taken := make([]bool, dims)
	col := make([]float64, rows)
	for round := 0; round < opt.Num; round++ {
		best := -1
		bestScore := math.Inf(-1)
		for d := 0; d < dims; d++ {
			if taken[d] {
				continue
			}
			if scores[d] > bestScore {
				bestScore = scores[d]
				best = d
			}
		}
		taken[best] = true
		selected = append(selected, best)

		mat.Col(col, best, xRed)
		gammas.SetCol(round, ScaleToRange(col, yFlat))
	}
	return gammas, selected, Ranking{Scores: scores}, nil
}

// correlationScores computes, for each dimension of xRed, the largest
// absolute inner product with any standardized LF output column. With a
// standardized output this is an unnormalized Pearson correlation.
func correlationScores(xRed, yStd *mat.Dense) []float64 {
	var prod mat.Dense
	prod.Mul(xRed.T(), yStd)
	dims, lfs := prod.Dims()
	scores := make([]float64, dims)
	for d := 0; d < dims; d++ {
		maxAbs := 0.0
		for l := 0; l < lfs; l++ {
			if v := math.Abs(prod.At(d, l)); v > maxAbs {
				maxAbs = v
			}
		}
		scores[d] = maxAbs
	}
	return scores
}

func flatten(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}
