package mapping

import (
	"fmt"
	"math"
)

// Measure identifies an error metric for assessing the probabilistic
// mapping's cross-validation accuracy.
type Measure string

const (
	SumSquared      Measure = "sum_squared"
	MeanSquared     Measure = "mean_squared"
	RootMeanSquared Measure = "root_mean_squared"
	SumAbs          Measure = "sum_abs"
	MeanAbs         Measure = "mean_abs"
	AbsMax          Measure = "abs_max"
)

// Error computes a single error metric between the true values and the
// predictions. Unknown measures fail with a not-implemented error.
func Error(yAct, yPred []float64, measure Measure) (float64, error) {
	if len(yAct) != len(yPred) {
		return 0, fmt.Errorf("mapping: %d true values but %d predictions", len(yAct), len(yPred))
	}
	if len(yAct) == 0 {
		return 0, fmt.Errorf("mapping: empty data for error measure %q", measure)
	}
	n := float64(len(yAct))
	switch measure {
	case SumSquared, MeanSquared, RootMeanSquared:
		sum := 0.0
		for i := range yAct {
			d := yAct[i] - yPred[i]
			sum += d * d
		}
		switch measure {
		case SumSquared:
			return sum, nil
		case MeanSquared:
			return sum / n, nil
		default:
			return math.Sqrt(sum / n), nil
		}
	case SumAbs, MeanAbs, AbsMax:
		sum, maxAbs := 0.0, 0.0
		for i := range yAct {
			d := math.Abs(yAct[i] - yPred[i])
			sum += d
			if d > maxAbs {
				maxAbs = d
			}
		}
		switch measure {
		case SumAbs:
			return sum, nil
		case MeanAbs:
			return sum / n, nil
		default:
			return maxAbs, nil
		}
	default:
		return 0, fmt.Errorf("mapping: error measure %q is not implemented", measure)
	}
}

// Errors computes several error metrics at once.
func Errors(yAct, yPred []float64, measures []Measure) (map[Measure]float64, error) {
	out := make(map[Measure]float64, len(measures))
	for _, m := range measures {
		v, err := Error(yAct, yPred, m)
		if err != nil {
			return nil, err
		}
		out[m] = v
	}
	return out, nil
}
