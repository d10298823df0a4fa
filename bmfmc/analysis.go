package bmfmc

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/Jannis298/queens/density"
	"github.com/Jannis298/queens/features"
	"github.com/Jannis298/queens/mapping"
)

// Analysis runs one multi-fidelity Monte-Carlo estimation. The stage
// sequence is fixed: Load, Select, Evaluate, Featurize, Fit, Propagate,
// Emit; no stage ever branches back.
type Analysis struct {
	cfg Config
	lf  DataIterator

	hfBenchmark DataIterator
	hfModel     Model
	writer      ResultWriter
	vis         Visualizer
	log         *logrus.Entry
}

// AnalysisOption configures an Analysis.
type AnalysisOption func(*Analysis)

// WithHFBenchmark supplies a high-fidelity benchmark snapshot row-aligned
// with the LF Monte-Carlo pool. Training outputs are then looked up by index
// instead of running the HF model.
func WithHFBenchmark(it DataIterator) AnalysisOption {
	return func(a *Analysis) { a.hfBenchmark = it }
}

// WithHFModel supplies a high-fidelity model to evaluate the selected
// training points when no benchmark snapshot exists.
func WithHFModel(m Model) AnalysisOption {
	return func(a *Analysis) { a.hfModel = m }
}

// WithResultWriter persists the Results bundle after the run.
func WithResultWriter(w ResultWriter) AnalysisOption {
	return func(a *Analysis) { a.writer = w }
}

// WithVisualizer routes side-channel diagnostics to v.
func WithVisualizer(v Visualizer) AnalysisOption {
	return func(a *Analysis) { a.vis = v }
}

// WithLogger replaces the default logger.
func WithLogger(l *logrus.Logger) AnalysisOption {
	return func(a *Analysis) { a.log = logrus.NewEntry(l) }
}

// NewAnalysis creates an analysis over the given LF Monte-Carlo data. The
// configuration must already be validated.
func NewAnalysis(cfg Config, lf DataIterator, opts ...AnalysisOption) (*Analysis, error) {
	if lf == nil {
		return nil, errors.New("bmfmc: analysis needs a low-fidelity data iterator")
	}
	a := &Analysis{
		cfg: cfg,
		lf:  lf,
		vis: NopVisualizer{},
		log: logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Run executes the pipeline and returns the Results bundle.
func (a *Analysis) Run() (*Results, error) {
	runID := uuid.New().String()
	log := a.log.WithField("run_id", runID)

	// Load
	log.WithField("stage", "load").Info("reading low-fidelity Monte-Carlo snapshot")
	snap, err := a.lf.ReadSnapshot()
	if err != nil {
		return nil, err
	}
	if err := checkSnapshot(snap); err != nil {
		return nil, err
	}
	var hfSnap *Snapshot
	if a.hfBenchmark != nil {
		hfSnap, err = a.hfBenchmark.ReadSnapshot()
		if err != nil {
			return nil, fmt.Errorf("bmfmc: reading high-fidelity benchmark: %w", err)
		}
		if err := checkBenchmark(snap, hfSnap); err != nil {
			return nil, err
		}
	}

	// Select
	dsgn, err := a.cfg.TrainingDesign()
	if err != nil {
		return nil, err
	}
	xTrain, indices, err := dsgn.SelectFrom(snap.Input)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"stage": "select", "points": len(indices)}).Info("selected training points")

	// Evaluate
	yHFTrain, err := a.trainingOutput(hfSnap, xTrain, indices)
	if err != nil {
		return nil, err
	}

	// Featurize
	fcfg, err := a.cfg.FeatureConfig()
	if err != nil {
		return nil, err
	}
	zMC, err := a.featurize(fcfg, snap)
	if err != nil {
		return nil, err
	}
	zTrain, err := features.Rows(zMC, indices)
	if err != nil {
		return nil, err
	}
	_, nFeat := zMC.Dims()
	log.WithFields(logrus.Fields{"stage": "featurize", "features": nFeat}).Info("built feature matrices")

	// Fit
	m, err := mapping.New(a.cfg.Mapping)
	if err != nil {
		return nil, err
	}
	if err := m.Build(zTrain, yHFTrain); err != nil {
		return nil, err
	}
	var cvErrors map[string]float64
	if a.cfg.KFold >= 2 {
		cvErrors, err = a.crossValidate(zTrain, yHFTrain)
		if err != nil {
			return nil, err
		}
		log.WithFields(logrus.Fields{"stage": "fit", "cv": cvErrors}).Info("cross-validated mapping")
	}

	// Propagate
	meanMC, varMC, err := m.Predict(zMC)
	if err != nil {
		return nil, err
	}
	support, err := a.supportGrid(meanMC, varMC)
	if err != nil {
		return nil, err
	}
	pMean, err := density.Mean(support, meanMC, varMC)
	if err != nil {
		return nil, err
	}
	var pVar []float64
	if a.cfg.Variance {
		pVar, err = a.predictiveVariance(m, zMC, support)
		if err != nil {
			return nil, err
		}
	}
	log.WithField("stage", "propagate").Info("estimated high-fidelity output density")

	results := &Results{
		RunID:    runID,
		Support:  support,
		PMean:    pMean,
		PVar:     pVar,
		ZTrain:   zTrain,
		ZMC:      zMC,
		MeanMC:   meanMC,
		VarMC:    varMC,
		CVErrors: cvErrors,
	}

	// Side computations never gate the pipeline: a baseline or reference
	// failure degrades the bundle, not the run.
	if a.cfg.Baseline {
		if _, plain := fcfg.(features.NoFeatures); !plain {
			baseline, err := a.baselineDensity(snap, yHFTrain, indices, support)
			if err != nil {
				log.WithField("stage", "emit").WithError(err).Warn("no-features baseline failed")
			} else {
				results.Baseline = baseline
			}
		}
	}
	if a.cfg.HFReference && hfSnap != nil {
		reference, err := benchmarkKDE(hfSnap, support)
		if err != nil {
			log.WithField("stage", "emit").WithError(err).Warn("high-fidelity reference density failed")
		} else {
			results.Reference = reference
		}
	}

	// Emit
	if a.writer != nil {
		if err := a.writer.WriteResults(results); err != nil {
			return nil, err
		}
	}
	log.WithField("stage", "emit").Info("analysis finished")
	return results, nil
}

// trainingOutput obtains Y_HF for the training points: by index lookup
// against the benchmark when one exists, by running the HF model otherwise.
func (a *Analysis) trainingOutput(hfSnap *Snapshot, xTrain *mat.Dense, indices []int) (*mat.Dense, error) {
	if hfSnap != nil {
		return features.Rows(hfSnap.Output, indices)
	}
	if a.hfModel != nil {
		y, err := a.hfModel.Evaluate(xTrain)
		if err != nil {
			return nil, fmt.Errorf("bmfmc: evaluating high-fidelity model: %w", err)
		}
		return y, nil
	}
	return nil, errors.New("bmfmc: no high-fidelity benchmark or model to obtain training outputs")
}

// featurize builds the Monte-Carlo feature matrix. Automatic selection
// needs the whole population and the input-space reduction; everything else
// goes through the per-population constructor.
func (a *Analysis) featurize(fcfg features.Config, snap *Snapshot) (*mat.Dense, error) {
	opt, automatic := fcfg.(features.OptFeatures)
	if !automatic {
		return features.BuildZ(fcfg, snap.Output, snap.Input)
	}
	xRed, err := features.ReducedInput(snap.Input, snap.NumRandVar, snap.Fields, opt.ExplainedVar)
	if err != nil {
		return nil, err
	}
	gammas, _, ranking, err := features.SelectOptimal(opt, xRed, snap.Output)
	if err != nil {
		return nil, err
	}
	a.vis.FeatureRanking(ranking.Scores)
	return features.AppendColumns(snap.Output, gammas)
}

func (a *Analysis) crossValidate(zTrain, yHFTrain *mat.Dense) (map[string]float64, error) {
	factory := func() mapping.Mapping {
		m, err := mapping.New(a.cfg.Mapping)
		if err != nil {
			panic(err) // tag was validated before Fit
		}
		return m
	}
	preds, err := mapping.CrossValidate(factory, zTrain, yHFTrain, a.cfg.KFold)
	if err != nil {
		return nil, err
	}
	yAct := mat.Col(nil, 0, yHFTrain)
	measured, err := mapping.Errors(yAct, preds, []mapping.Measure{
		mapping.RootMeanSquared, mapping.MeanAbs, mapping.AbsMax,
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(measured))
	for k, v := range measured {
		out[string(k)] = v
	}
	return out, nil
}

// supportGrid derives the output grid from the configuration, falling back
// to the predicted mean range padded by three predictive standard
// deviations.
func (a *Analysis) supportGrid(meanMC, varMC []float64) ([]float64, error) {
	lo, hi := a.cfg.SupportMin, a.cfg.SupportMax
	if !(hi > lo) {
		lo = floats.Min(meanMC)
		hi = floats.Max(meanMC)
		pad := 3 * maxStdDev(varMC)
		if pad == 0 {
			pad = 0.5 * (hi - lo)
		}
		if pad == 0 {
			pad = 1
		}
		lo -= pad
		hi += pad
	}
	return density.Support(lo, hi, a.cfg.SupportPoints)
}

func (a *Analysis) predictiveVariance(m mapping.Mapping, zMC *mat.Dense, support []float64) ([]float64, error) {
	n, _ := zMC.Dims()
	thin := density.Thin(n, a.cfg.VarianceStride)
	zThin, err := features.Rows(zMC, thin)
	if err != nil {
		return nil, err
	}
	meanT, cov, err := m.PredictFull(zThin)
	if err != nil {
		return nil, err
	}
	varT := make([]float64, len(meanT))
	for i := range varT {
		varT[i] = cov.At(i, i)
	}
	pMeanT, err := density.Mean(support, meanT, varT)
	if err != nil {
		return nil, err
	}
	return density.PredictiveVariance(support, meanT, varT, cov, pMeanT)
}

// baselineDensity re-runs mapping and propagation with Z = Y_LF, the
// reference the informative features are compared against.
func (a *Analysis) baselineDensity(snap *Snapshot, yHFTrain *mat.Dense, indices []int, support []float64) ([]float64, error) {
	zTrain, err := features.Rows(snap.Output, indices)
	if err != nil {
		return nil, err
	}
	m, err := mapping.New(a.cfg.Mapping)
	if err != nil {
		return nil, err
	}
	if err := m.Build(zTrain, yHFTrain); err != nil {
		return nil, err
	}
	mean, variance, err := m.Predict(snap.Output)
	if err != nil {
		return nil, err
	}
	return density.Mean(support, mean, variance)
}

// benchmarkKDE estimates the true HF output density from the benchmark
// snapshot with a Gaussian kernel.
func benchmarkKDE(hfSnap *Snapshot, support []float64) ([]float64, error) {
	samples := mat.Col(nil, 0, hfSnap.Output)
	bw, err := density.SilvermanBandwidth(samples)
	if err != nil {
		return nil, err
	}
	return density.KDE(samples, bw, support)
}

func checkSnapshot(snap *Snapshot) error {
	if snap == nil || snap.Input == nil || snap.Output == nil {
		return errors.New("bmfmc: snapshot is missing input or output data")
	}
	ir, _ := snap.Input.Dims()
	or, _ := snap.Output.Dims()
	if ir != or {
		return fmt.Errorf("bmfmc: snapshot input has %d rows, output has %d", ir, or)
	}
	return nil
}

func checkBenchmark(lf, hf *Snapshot) error {
	if err := checkSnapshot(hf); err != nil {
		return err
	}
	lfRows, _ := lf.Output.Dims()
	hfRows, _ := hf.Output.Dims()
	if lfRows != hfRows {
		return fmt.Errorf("bmfmc: benchmark has %d rows but the LF pool has %d; outputs must be row-aligned", hfRows, lfRows)
	}
	return nil
}

func maxStdDev(variance []float64) float64 {
	maxV := 0.0
	for _, v := range variance {
		if v > maxV {
			maxV = v
		}
	}
	if maxV <= 0 {
		return 0
	}
	return math.Sqrt(maxV)
}
