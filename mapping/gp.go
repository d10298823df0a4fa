package mapping

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func init() {
	Register("gp", func() Mapping { return NewGP() })
}

// GP is a Gaussian-process regression backend with a squared-exponential
// kernel. Hyperparameters default to data-driven heuristics: the length
// scale to the median pairwise distance of the training inputs, the signal
// variance to the training output variance.
type GP struct {
	lengthScale float64
	signalVar   float64
	noiseVar    float64

	x     *mat.Dense
	alpha *mat.VecDense
	chol  *mat.Cholesky
	yMean float64
	built bool
}

// GPOption configures a GP backend.
type GPOption func(*GP)

// WithLengthScale fixes the kernel length scale instead of using the median
// heuristic.
func WithLengthScale(l float64) GPOption {
	return func(g *GP) { g.lengthScale = l }
}

// WithSignalVariance fixes the kernel signal variance.
func WithSignalVariance(v float64) GPOption {
	return func(g *GP) { g.signalVar = v }
}

// WithNoiseVariance fixes the observation noise variance added to the
// kernel diagonal during training.
func WithNoiseVariance(v float64) GPOption {
	return func(g *GP) { g.noiseVar = v }
}

// NewGP creates an unbuilt GP mapping.
func NewGP(options ...GPOption) *GP {
	g := &GP{}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// Build fits the GP on the training data. It may be called again when the
// feature count changes under automatic feature selection; the previous fit
// is discarded.
func (g *GP) Build(z, y *mat.Dense) error {
	if z == nil || y == nil {
		return errors.New("mapping: nil training data")
	}
	n, d := z.Dims()
	yn, yc := y.Dims()
	if n == 0 || d == 0 {
		return errors.New("mapping: empty training feature matrix")
	}
	if yn != n || yc != 1 {
		return fmt.Errorf("mapping: training output has dims (%d, %d), want (%d, 1)", yn, yc, n)
	}

	g.x = mat.DenseCopyOf(z)
	yData := mat.Col(nil, 0, y)
	g.yMean = stat.Mean(yData, nil)
	centered := mat.NewVecDense(n, nil)
	for i, v := range yData {
		centered.SetVec(i, v-g.yMean)
	}

	if g.lengthScale <= 0 {
		g.lengthScale = medianHeuristic(g.x)
	}
	if g.signalVar <= 0 {
		g.signalVar = stat.PopVariance(yData, nil)
		if g.signalVar <= 0 {
			g.signalVar = 1
		}
	}
	noise := g.noiseVar
	if noise <= 0 {
		noise = 1e-6 * g.signalVar
	}

	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		xi := g.x.RawRowView(i)
		k.SetSym(i, i, g.signalVar+noise)
		for j := i + 1; j < n; j++ {
			k.SetSym(i, j, g.kernel(xi, g.x.RawRowView(j)))
		}
	}

	chol, err := factorizeWithJitter(k)
	if err != nil {
		return err
	}
	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, centered); err != nil {
		return fmt.Errorf("mapping: solving for GP weights: %w", err)
	}

	g.chol = chol
	g.alpha = alpha
	g.built = true
	return nil
}

// Predict returns the predictive mean and marginal variance of the latent
// function at every query row.
func (g *GP) Predict(z *mat.Dense) ([]float64, []float64, error) {
	kstar, err := g.crossKernel(z)
	if err != nil {
		return nil, nil, err
	}
	nq, n := kstar.Dims()

	mean := make([]float64, nq)
	meanVec := mat.NewVecDense(nq, mean)
	meanVec.MulVec(kstar, g.alpha)
	for i := range mean {
		mean[i] += g.yMean
	}

	v := mat.NewDense(n, nq, nil)
	if err := g.chol.SolveTo(v, kstar.T()); err != nil {
		return nil, nil, fmt.Errorf("mapping: GP variance solve: %w", err)
	}
	variance := make([]float64, nq)
	for i := 0; i < nq; i++ {
		reduction := 0.0
		row := kstar.RawRowView(i)
		for j := 0; j < n; j++ {
			reduction += row[j] * v.At(j, i)
		}
		variance[i] = math.Max(0, g.signalVar-reduction)
	}
	return mean, variance, nil
}

// PredictFull returns the predictive mean together with the full posterior
// covariance over all query rows. The covariance is an nq x nq matrix, so
// callers thin large Monte-Carlo populations before asking for it.
func (g *GP) PredictFull(z *mat.Dense) ([]float64, *mat.SymDense, error) {
	kstar, err := g.crossKernel(z)
	if err != nil {
		return nil, nil, err
	}
	nq, n := kstar.Dims()

	mean := make([]float64, nq)
	meanVec := mat.NewVecDense(nq, mean)
	meanVec.MulVec(kstar, g.alpha)
	for i := range mean {
		mean[i] += g.yMean
	}

	v := mat.NewDense(n, nq, nil)
	if err := g.chol.SolveTo(v, kstar.T()); err != nil {
		return nil, nil, fmt.Errorf("mapping: GP covariance solve: %w", err)
	}
	var reduction mat.Dense
	reduction.Mul(kstar, v)

	cov := mat.NewSymDense(nq, nil)
	for i := 0; i < nq; i++ {
		xi := z.RawRowView(i)
		diag := g.signalVar - reduction.At(i, i)
		cov.SetSym(i, i, math.Max(0, diag))
		for j := i + 1; j < nq; j++ {
			prior := g.kernel(xi, z.RawRowView(j))
			post := prior - 0.5*(reduction.At(i, j)+reduction.At(j, i))
			cov.SetSym(i, j, post)
		}
	}
	return mean, cov, nil
}

func (g *GP) crossKernel(z *mat.Dense) (*mat.Dense, error) {
	if !g.built {
		return nil, ErrNotBuilt
	}
	if z == nil {
		return nil, errors.New("mapping: nil query matrix")
	}
	nq, d := z.Dims()
	n, dTrain := g.x.Dims()
	if d != dTrain {
		return nil, fmt.Errorf("mapping: query has %d feature columns, mapping was built with %d", d, dTrain)
	}
	kstar := mat.NewDense(nq, n, nil)
	for i := 0; i < nq; i++ {
		zi := z.RawRowView(i)
		for j := 0; j < n; j++ {
			kstar.Set(i, j, g.kernel(zi, g.x.RawRowView(j)))
		}
	}
	return kstar, nil
}

func (g *GP) kernel(a, b []float64) float64 {
	sq := 0.0
	for i := range a {
		d := a[i] - b[i]
		sq += d * d
	}
	return g.signalVar * math.Exp(-0.5*sq/(g.lengthScale*g.lengthScale))
}

// factorizeWithJitter factorizes k, escalating a diagonal jitter when the
// matrix is numerically indefinite.
func factorizeWithJitter(k *mat.SymDense) (*mat.Cholesky, error) {
	var chol mat.Cholesky
	if chol.Factorize(k) {
		return &chol, nil
	}
	n := k.SymmetricDim()
	trace := 0.0
	for i := 0; i < n; i++ {
		trace += k.At(i, i)
	}
	jitter := 1e-10 * trace / float64(n)
	for attempt := 0; attempt < 10; attempt++ {
		jittered := mat.NewSymDense(n, nil)
		jittered.CopySym(k)
		for i := 0; i < n; i++ {
			jittered.SetSym(i, i, jittered.At(i, i)+jitter)
		}
		if chol.Factorize(jittered) {
			return &chol, nil
		}
		jitter *= 10
	}
	return nil, errors.New("mapping: Cholesky factorization failed even with jitter")
}

// medianHeuristic returns the median pairwise Euclidean distance between
// training rows, the usual default for squared-exponential length scales.
func medianHeuristic(x *mat.Dense) float64 {
	n, d := x.Dims()
	if n < 2 {
		return 1
	}
	dists := make([]float64, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		xi := x.RawRowView(i)
		for j := i + 1; j < n; j++ {
			xj := x.RawRowView(j)
			sq := 0.0
			for c := 0; c < d; c++ {
				diff := xi[c] - xj[c]
				sq += diff * diff
			}
			if sq > 0 {
				dists = append(dists, math.Sqrt(sq))
			}
		}
	}
	if len(dists) == 0 {
		return 1
	}
	sort.Float64s(dists)
	return dists[len(dists)/2]
}
