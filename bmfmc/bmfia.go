package bmfmc

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/Jannis298/queens/design"
	"github.com/Jannis298/queens/features"
)

// TrainingIterator generates the training data for the inverse-analysis
// variant: it draws fresh inputs from the uncertain-parameter distributions
// and evaluates both fidelity levels on them, instead of subsampling an
// existing Monte-Carlo pool.
type TrainingIterator struct {
	dsgn   design.Design
	params design.Parameters
	lf, hf Model
	fcfg   features.Config

	// ActiveLearning is recognized but deliberately unsupported; adaptive
	// point refinement needs an acquisition loop this iterator does not have.
	ActiveLearning bool

	log *logrus.Entry
}

// TrainingData is the output of one training-iterator run, ready to build
// the probabilistic mapping.
type TrainingData struct {
	XTrain *mat.Dense
	YLF    *mat.Dense
	YHF    *mat.Dense
	ZTrain *mat.Dense
}

// IteratorOption configures a TrainingIterator.
type IteratorOption func(*TrainingIterator)

// WithIteratorLogger replaces the default logger.
func WithIteratorLogger(l *logrus.Logger) IteratorOption {
	return func(it *TrainingIterator) { it.log = logrus.NewEntry(l) }
}

// WithActiveLearning requests adaptive training-point refinement. Running
// the iterator with it enabled fails with ErrNotImplemented.
func WithActiveLearning() IteratorOption {
	return func(it *TrainingIterator) { it.ActiveLearning = true }
}

// NewTrainingIterator builds an inverse-analysis training iterator from a
// validated configuration and the two fidelity models.
func NewTrainingIterator(cfg Config, lf, hf Model, opts ...IteratorOption) (*TrainingIterator, error) {
	if lf == nil || hf == nil {
		return nil, errors.New("bmfmc: training iterator needs both fidelity models")
	}
	dsgn, err := cfg.TrainingDesign()
	if err != nil {
		return nil, err
	}
	params, err := cfg.UncertainParameters()
	if err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, errors.New("bmfmc: training iterator needs uncertain-parameter descriptions")
	}
	fcfg, err := cfg.FeatureConfig()
	if err != nil {
		return nil, err
	}
	if _, auto := fcfg.(features.OptFeatures); auto {
		return nil, fmt.Errorf("%w: opt_features in the inverse-analysis iterator", ErrNotImplemented)
	}
	it := &TrainingIterator{
		dsgn:   dsgn,
		params: params,
		lf:     lf,
		hf:     hf,
		fcfg:   fcfg,
		log:    logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(it)
	}
	return it, nil
}

// Run draws the training inputs, evaluates both models on them, and builds
// the training feature matrix. Manually selected input features are always
// standardized here.
func (it *TrainingIterator) Run() (*TrainingData, error) {
	if it.ActiveLearning {
		return nil, fmt.Errorf("%w: active learning", ErrNotImplemented)
	}

	xTrain, err := it.dsgn.Sample(it.params)
	if err != nil {
		return nil, err
	}
	n, _ := xTrain.Dims()
	it.log.WithFields(logrus.Fields{"stage": "select", "points": n}).Info("sampled training inputs")

	yLF, err := it.lf.Evaluate(xTrain)
	if err != nil {
		return nil, fmt.Errorf("bmfmc: evaluating low-fidelity model: %w", err)
	}
	yHF, err := it.hf.Evaluate(xTrain)
	if err != nil {
		return nil, fmt.Errorf("bmfmc: evaluating high-fidelity model: %w", err)
	}
	if err := alignedOutputs(n, yLF, yHF); err != nil {
		return nil, err
	}

	fcfg := it.fcfg
	if man, ok := fcfg.(features.ManFeatures); ok {
		man.Standardize = true
		fcfg = man
	}
	zTrain, err := features.BuildZ(fcfg, yLF, xTrain)
	if err != nil {
		return nil, err
	}
	it.log.WithField("stage", "featurize").Info("built training features")

	return &TrainingData{XTrain: xTrain, YLF: yLF, YHF: yHF, ZTrain: zTrain}, nil
}

func alignedOutputs(n int, yLF, yHF *mat.Dense) error {
	if yLF == nil || yHF == nil {
		return errors.New("bmfmc: model returned no output")
	}
	lfRows, _ := yLF.Dims()
	hfRows, _ := yHF.Dims()
	if lfRows != n || hfRows != n {
		return fmt.Errorf("bmfmc: model outputs have %d and %d rows for %d inputs", lfRows, hfRows, n)
	}
	return nil
}
