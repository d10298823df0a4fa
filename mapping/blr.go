package mapping

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func init() {
	Register("blr", func() Mapping { return NewBLR() })
}

// BLR is a Bayesian linear regression backend. The weight posterior starts
// from a zero-mean Gaussian prior with precision 1/alpha and absorbs the
// training rows through rank-1 Sherman-Morrison updates, so Build costs
// O(n d^2) without ever forming the precision matrix.
type BLR struct {
	alpha float64 // prior variance of the weights
	sigma float64 // observation noise standard deviation

	dim   int
	mu    *mat.VecDense
	cov   *mat.Dense
	yMean float64
	built bool
}

// BLROption configures a BLR backend.
type BLROption func(*BLR)

// WithPriorVariance sets the prior variance of the regression weights.
func WithPriorVariance(alpha float64) BLROption {
	return func(b *BLR) { b.alpha = alpha }
}

// WithNoiseStdDev sets the observation noise standard deviation.
func WithNoiseStdDev(sigma float64) BLROption {
	return func(b *BLR) { b.sigma = sigma }
}

// NewBLR creates an unbuilt BLR mapping with unit prior variance and a
// noise standard deviation of 0.1.
func NewBLR(options ...BLROption) *BLR {
	b := &BLR{alpha: 1.0, sigma: 0.1}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// Build fits the weight posterior on the training data.
func (b *BLR) Build(z, y *mat.Dense) error {
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
	if b.alpha <= 0 || b.sigma <= 0 {
		return fmt.Errorf("mapping: BLR needs positive prior variance and noise, got alpha=%v sigma=%v", b.alpha, b.sigma)
	}

	yData := mat.Col(nil, 0, y)
	b.yMean = stat.Mean(yData, nil)

	b.dim = d
	b.mu = mat.NewVecDense(d, nil)
	b.cov = mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		b.cov.Set(i, i, b.alpha)
	}

	beta := 1.0 / (b.sigma * b.sigma)
	x := mat.NewVecDense(d, nil)
	ax := mat.NewVecDense(d, nil)
	outer := mat.NewDense(d, d, nil)
	update := mat.NewVecDense(d, nil)
	for i := 0; i < n; i++ {
		copy(x.RawVector().Data, z.RawRowView(i))

		ax.MulVec(b.cov, x)
		denom := 1.0 + beta*mat.Dot(x, ax)
		if denom < 1e-12 {
			continue
		}
		coef := beta / denom

		outer.Outer(coef, ax, ax)
		b.cov.Sub(b.cov, outer)
		symmetrize(b.cov)

		diff := (yData[i] - b.yMean) - mat.Dot(x, b.mu)
		update.ScaleVec(coef*diff, ax)
		b.mu.AddVec(b.mu, update)
	}

	b.built = true
	return nil
}

// Predict returns the predictive mean and variance for every query row. The
// variance is the full predictive variance including observation noise.
func (b *BLR) Predict(z *mat.Dense) ([]float64, []float64, error) {
	nq, err := b.checkQuery(z)
	if err != nil {
		return nil, nil, err
	}
	mean := make([]float64, nq)
	variance := make([]float64, nq)
	x := mat.NewVecDense(b.dim, nil)
	sx := mat.NewVecDense(b.dim, nil)
	noise := b.sigma * b.sigma
	for i := 0; i < nq; i++ {
		copy(x.RawVector().Data, z.RawRowView(i))
		mean[i] = mat.Dot(x, b.mu) + b.yMean
		sx.MulVec(b.cov, x)
		variance[i] = math.Max(0, mat.Dot(x, sx)) + noise
	}
	return mean, variance, nil
}

// PredictFull returns the predictive mean and the full posterior covariance
// cov[i,j] = x_i^T Sigma x_j, with the noise variance on the diagonal.
func (b *BLR) PredictFull(z *mat.Dense) ([]float64, *mat.SymDense, error) {
	nq, err := b.checkQuery(z)
	if err != nil {
		return nil, nil, err
	}
	mean := make([]float64, nq)
	x := mat.NewVecDense(b.dim, nil)
	for i := 0; i < nq; i++ {
		copy(x.RawVector().Data, z.RawRowView(i))
		mean[i] = mat.Dot(x, b.mu) + b.yMean
	}

	var zs mat.Dense
	zs.Mul(z, b.cov)
	var full mat.Dense
	full.Mul(&zs, z.T())

	noise := b.sigma * b.sigma
	cov := mat.NewSymDense(nq, nil)
	for i := 0; i < nq; i++ {
		cov.SetSym(i, i, math.Max(0, full.At(i, i))+noise)
		for j := i + 1; j < nq; j++ {
			cov.SetSym(i, j, 0.5*(full.At(i, j)+full.At(j, i)))
		}
	}
	return mean, cov, nil
}

func (b *BLR) checkQuery(z *mat.Dense) (int, error) {
	if !b.built {
		return 0, ErrNotBuilt
	}
	if z == nil {
		return 0, errors.New("mapping: nil query matrix")
	}
	nq, d := z.Dims()
	if d != b.dim {
		return 0, fmt.Errorf("mapping: query has %d feature columns, mapping was built with %d", d, b.dim)
	}
	return nq, nil
}

func symmetrize(m *mat.Dense) {
	n, _ := m.Dims()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			avg := 0.5 * (m.At(i, j) + m.At(j, i))
			m.Set(i, j, avg)
			m.Set(j, i, avg)
		}
	}
}

// blrState is the versioned serializable state of a built BLR mapping.
type blrState struct {
	Version int
	Alpha   float64
	Sigma   float64
	Dim     int
	YMean   float64
	MuData  []float64
	CovData []float64
}

// Save serializes the fitted posterior to gob format.
func (b *BLR) Save(w io.Writer) error {
	if !b.built {
		return ErrNotBuilt
	}
	state := blrState{
		Version: 1,
		Alpha:   b.alpha,
		Sigma:   b.sigma,
		Dim:     b.dim,
		YMean:   b.yMean,
	}
	state.MuData = make([]float64, b.dim)
	copy(state.MuData, b.mu.RawVector().Data)
	covRaw := b.cov.RawMatrix()
	state.CovData = make([]float64, len(covRaw.Data))
	copy(state.CovData, covRaw.Data)
	return gob.NewEncoder(w).Encode(state)
}

// LoadBLR deserializes a fitted BLR mapping from gob format.
func LoadBLR(r io.Reader) (*BLR, error) {
	var state blrState
	if err := gob.NewDecoder(r).Decode(&state); err != nil {
		return nil, err
	}
	if state.Version != 1 {
		return nil, errors.New("mapping: unsupported BLR state version")
	}
	if len(state.MuData) != state.Dim || len(state.CovData) != state.Dim*state.Dim {
		return nil, errors.New("mapping: corrupt BLR state data")
	}
	b := NewBLR(WithPriorVariance(state.Alpha), WithNoiseStdDev(state.Sigma))
	b.dim = state.Dim
	b.yMean = state.YMean
	mu := make([]float64, state.Dim)
	copy(mu, state.MuData)
	b.mu = mat.NewVecDense(state.Dim, mu)
	cov := make([]float64, len(state.CovData))
	copy(cov, state.CovData)
	b.cov = mat.NewDense(state.Dim, state.Dim, cov)
	b.built = true
	return b, nil
}
