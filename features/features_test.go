package features

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestBuildZNoFeaturesIdentity(t *testing.T) {
	yLF := mat.NewDense(4, 1, []float64{1.5, -0.25, 3.75, 0.125})
	z, err := BuildZ(NoFeatures{}, yLF, nil)
	if err != nil {
		t.Fatalf("BuildZ() error = %v", err)
	}
	if z != yLF {
		t.Error("no_features must return the LF output unchanged")
	}
	if !mat.Equal(z, yLF) {
		t.Error("no_features Z differs from Y_LF")
	}
}

func TestBuildZManFeatures(t *testing.T) {
	yLF := mat.NewDense(3, 1, []float64{1, 2, 3})
	x := mat.NewDense(3, 3, []float64{
		10, 0.1, 7,
		20, 0.2, 8,
		30, 0.3, 9,
	})
	z, err := BuildZ(ManFeatures{Columns: []int{0, 2}}, yLF, x)
	if err != nil {
		t.Fatalf("BuildZ() error = %v", err)
	}
	rows, cols := z.Dims()
	if rows != 3 || cols != 3 {
		t.Fatalf("Z dims = (%d, %d), want (3, 3)", rows, cols)
	}
	if z.At(1, 1) != 20 || z.At(2, 2) != 9 {
		t.Errorf("appended columns not taken from X: got %v, %v", z.At(1, 1), z.At(2, 2))
	}
}

func TestBuildZManFeaturesStandardized(t *testing.T) {
	yLF := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	x := mat.NewDense(4, 1, []float64{2, 4, 6, 8})
	z, err := BuildZ(ManFeatures{Columns: []int{0}, Standardize: true}, yLF, x)
	if err != nil {
		t.Fatalf("BuildZ() error = %v", err)
	}
	col := mat.Col(nil, 1, z)
	mean, sq := 0.0, 0.0
	for _, v := range col {
		mean += v
	}
	mean /= float64(len(col))
	for _, v := range col {
		sq += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(sq / float64(len(col)))
	if math.Abs(mean) > 1e-12 || math.Abs(sd-1) > 1e-12 {
		t.Errorf("standardized feature has mean %v, sd %v", mean, sd)
	}
}

func TestBuildZCoordFeatures(t *testing.T) {
	yLF := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	coords := mat.NewDense(2, 2, []float64{
		0.0, 0.5,
		1.0, 1.5,
	})
	z, err := BuildZ(CoordFeatures{Coords: coords}, yLF, nil)
	if err != nil {
		t.Fatalf("BuildZ() error = %v", err)
	}
	rows, cols := z.Dims()
	if rows != 4 || cols != 3 {
		t.Fatalf("Z dims = (%d, %d), want (4, 3)", rows, cols)
	}
	// Tiled coordinates repeat every two rows.
	if z.At(0, 1) != z.At(2, 1) || z.At(1, 2) != z.At(3, 2) {
		t.Error("coordinates were not tiled over the samples")
	}
}

func TestBuildZTimeFeatures(t *testing.T) {
	yLF := mat.NewDense(4, 1, []float64{2, 4, 6, 8})
	cfg := TimeFeatures{Times: []float64{1, 2}, Observed: []float64{2, 8}}
	z, err := BuildZ(cfg, yLF, nil)
	if err != nil {
		t.Fatalf("BuildZ() error = %v", err)
	}
	rows, cols := z.Dims()
	if rows != 4 || cols != 2 {
		t.Fatalf("Z dims = (%d, %d), want (4, 2)", rows, cols)
	}
	// t/maxT*(maxObs-minObs)+minObs: t=1 -> 5, t=2 -> 8, each repeated twice.
	want := []float64{5, 5, 8, 8}
	for i, w := range want {
		if math.Abs(z.At(i, 1)-w) > 1e-12 {
			t.Errorf("time feature row %d = %v, want %v", i, z.At(i, 1), w)
		}
	}
}

func TestBuildZRowAlignment(t *testing.T) {
	yLF := mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 6})
	x := mat.NewDense(6, 2, nil)
	coords := mat.NewDense(3, 1, []float64{0, 1, 2})
	configs := []Config{
		NoFeatures{},
		ManFeatures{Columns: []int{1}},
		CoordFeatures{Coords: coords},
		TimeFeatures{Times: []float64{1, 2, 3}, Observed: []float64{1, 6}},
	}
	for _, cfg := range configs {
		z, err := BuildZ(cfg, yLF, x)
		if err != nil {
			t.Fatalf("BuildZ(%T) error = %v", cfg, err)
		}
		if r, _ := z.Dims(); r != 6 {
			t.Errorf("BuildZ(%T) rows = %d, want 6", cfg, r)
		}
	}
}

func TestNewOptFeaturesValidation(t *testing.T) {
	tests := []struct {
		name    string
		num     int
		wantErr bool
	}{
		{name: "valid", num: 2, wantErr: false},
		{name: "zero features", num: 0, wantErr: true},
		{name: "negative features", num: -1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOptFeatures(tt.num, 95)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewOptFeatures(%d) error = %v, wantErr %v", tt.num, err, tt.wantErr)
			}
		})
	}
}

func TestSelectOptimal(t *testing.T) {
	// Column 1 of xRed is perfectly correlated with the output, column 0 is
	// constant noise-free junk, column 2 anticorrelated but weaker.
	n := 8
	xRed := mat.NewDense(n, 3, nil)
	yLF := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		v := float64(i)
		xRed.Set(i, 0, math.Sin(3*v)*0.01)
		xRed.Set(i, 1, v)
		xRed.Set(i, 2, -0.5*v)
		yLF.Set(i, 0, 2*v+1)
	}
	xStd := Standardize(xRed)

	opt := OptFeatures{Num: 2, ExplainedVar: 95}
	gammas, selected, ranking, err := SelectOptimal(opt, xStd, yLF)
	if err != nil {
		t.Fatalf("SelectOptimal() error = %v", err)
	}
	rows, cols := gammas.Dims()
	if rows != n || cols != 2 {
		t.Fatalf("gammas dims = (%d, %d), want (%d, 2)", rows, cols, n)
	}
	if len(selected) != 2 || selected[0] == selected[1] {
		t.Errorf("selected dimensions %v repeat or have wrong count", selected)
	}
	if selected[0] != 1 && selected[0] != 2 {
		t.Errorf("first selected dimension = %d, want a correlated one", selected[0])
	}
	if len(ranking.Scores) != 3 {
		t.Errorf("ranking has %d scores, want 3", len(ranking.Scores))
	}
	// Selected features are rescaled into the LF output range.
	for c := 0; c < 2; c++ {
		col := mat.Col(nil, c, gammas)
		for _, v := range col {
			if v < 1-1e-9 || v > 2*float64(n-1)+1+1e-9 {
				t.Errorf("feature value %v outside LF output range", v)
			}
		}
	}
}

func TestSelectOptimalFeatureCountInvariant(t *testing.T) {
	n, dims := 10, 5
	xRed := mat.NewDense(n, dims, nil)
	yLF := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		for d := 0; d < dims; d++ {
			xRed.Set(i, d, float64((i*7+d*3)%11)-5)
		}
		yLF.Set(i, 0, float64(i))
	}
	for k := 1; k <= dims; k++ {
		gammas, selected, _, err := SelectOptimal(OptFeatures{Num: k, ExplainedVar: 95}, xRed, yLF)
		if err != nil {
			t.Fatalf("SelectOptimal(k=%d) error = %v", k, err)
		}
		if _, cols := gammas.Dims(); cols != k {
			t.Errorf("k=%d: got %d feature columns", k, cols)
		}
		seen := make(map[int]bool)
		for _, s := range selected {
			if seen[s] {
				t.Errorf("k=%d: dimension %d selected twice", k, s)
			}
			seen[s] = true
		}
	}
}

func TestSelectOptimalInvalidCount(t *testing.T) {
	xRed := mat.NewDense(4, 2, nil)
	yLF := mat.NewDense(4, 1, nil)
	if _, _, _, err := SelectOptimal(OptFeatures{Num: 0}, xRed, yLF); err == nil {
		t.Error("SelectOptimal with zero features did not fail")
	}
}

func TestScaleToRange(t *testing.T) {
	a := []float64{0, 5, 10}
	ref := []float64{-2, 4}
	got := ScaleToRange(a, ref)
	want := []float64{-2, 1, 4}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("ScaleToRange()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBuildZUnknownConfig(t *testing.T) {
	yLF := mat.NewDense(2, 1, []float64{1, 2})
	_, err := BuildZ(nil, yLF, nil)
	if !errors.Is(err, ErrUnknownConfig) {
		t.Errorf("BuildZ(nil config) error = %v, want ErrUnknownConfig", err)
	}
}
