package design

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func testParameters() Parameters {
	return Parameters{
		{Name: "x1", Dist: Uniform{Min: -3.14, Max: 3.14}},
		{Name: "x2", Dist: Normal{Mean: 0, StdDev: 1}},
		{Name: "x3", Dist: LogNormal{Mu: 0, Sigma: 0.5}},
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		numPoints int
		wantErr   bool
	}{
		{name: "random design", method: "random", numPoints: 10, wantErr: false},
		{name: "unknown method", method: "latin_hypercube", numPoints: 10, wantErr: true},
		{name: "zero points", method: "random", numPoints: 0, wantErr: true},
		{name: "negative points", method: "random", numPoints: -5, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.method, 42, tt.numPoints)
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseUnknownIsSentinel(t *testing.T) {
	_, err := Parse("bogus", 1, 10)
	if !errors.Is(err, ErrUnknownDesign) {
		t.Errorf("Parse(bogus) error = %v, want ErrUnknownDesign", err)
	}
}

func TestSampleDeterministic(t *testing.T) {
	params := testParameters()
	a, err := params.Sample(100, 42)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	b, err := params.Sample(100, 42)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if !mat.Equal(a, b) {
		t.Error("two samples with the same seed differ")
	}
	rows, cols := a.Dims()
	if rows != 100 || cols != 3 {
		t.Errorf("Sample() dims = (%d, %d), want (100, 3)", rows, cols)
	}
}

func TestSampleRespectsMarginals(t *testing.T) {
	params := testParameters()
	x, err := params.Sample(500, 7)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	for i := 0; i < 500; i++ {
		if v := x.At(i, 0); v < -3.14 || v > 3.14 {
			t.Fatalf("uniform sample %v outside [-3.14, 3.14]", v)
		}
		if v := x.At(i, 2); v <= 0 {
			t.Fatalf("lognormal sample %v is not positive", v)
		}
	}
}

func TestSelectFromSubsetInvariant(t *testing.T) {
	pool := mat.NewDense(50, 2, nil)
	for i := 0; i < 50; i++ {
		pool.Set(i, 0, float64(i))
		pool.Set(i, 1, float64(i)*0.5)
	}
	d := RandomDesign{Seed: 42, NumPoints: 10}
	x, indices, err := d.SelectFrom(pool)
	if err != nil {
		t.Fatalf("SelectFrom() error = %v", err)
	}
	if len(indices) != 10 {
		t.Fatalf("SelectFrom() returned %d indices, want 10", len(indices))
	}
	seen := make(map[int]bool)
	for i, idx := range indices {
		if seen[idx] {
			t.Errorf("index %d selected twice", idx)
		}
		seen[idx] = true
		for j := 0; j < 2; j++ {
			if x.At(i, j) != pool.At(idx, j) {
				t.Errorf("training row %d is not a verbatim pool row", i)
			}
		}
	}
}

func TestSelectFromDeterministic(t *testing.T) {
	pool := mat.NewDense(30, 1, nil)
	for i := 0; i < 30; i++ {
		pool.Set(i, 0, float64(i))
	}
	d := RandomDesign{Seed: 11, NumPoints: 5}
	_, a, err := d.SelectFrom(pool)
	if err != nil {
		t.Fatalf("SelectFrom() error = %v", err)
	}
	_, b, err := d.SelectFrom(pool)
	if err != nil {
		t.Fatalf("SelectFrom() error = %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("indices differ between runs with the same seed: %v vs %v", a, b)
		}
	}
}

func TestSelectFromPoolTooSmall(t *testing.T) {
	pool := mat.NewDense(3, 1, []float64{1, 2, 3})
	d := RandomDesign{Seed: 1, NumPoints: 5}
	if _, _, err := d.SelectFrom(pool); err == nil {
		t.Error("SelectFrom() on an undersized pool did not fail")
	}
}

func TestMatchRows(t *testing.T) {
	pool := mat.NewDense(4, 2, []float64{
		0.1, 0.2,
		1.5, -0.5,
		2.25, 3.5,
		-1.0, 0.0,
	})
	x := mat.NewDense(2, 2, []float64{
		2.25, 3.5,
		0.1, 0.2,
	})
	indices, err := MatchRows(pool, x)
	if err != nil {
		t.Fatalf("MatchRows() error = %v", err)
	}
	want := []int{2, 0}
	for i := range want {
		if indices[i] != want[i] {
			t.Errorf("MatchRows() = %v, want %v", indices, want)
		}
	}
}

func TestMatchRowsUnmatched(t *testing.T) {
	pool := mat.NewDense(2, 1, []float64{1, 2})
	x := mat.NewDense(1, 1, []float64{3})
	if _, err := MatchRows(pool, x); err == nil {
		t.Error("MatchRows() with an unmatched row did not fail")
	}
}
