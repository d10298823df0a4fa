package bmfmc

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/Jannis298/queens/features"
)

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		Input:      mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6}),
		Output:     mat.NewDense(3, 1, []float64{10, 20, 30}),
		NumRandVar: 1,
		Fields: []features.RandomField{{
			Name:           "conductivity",
			NumPoints:      1,
			CorrStruct:     features.CorrNonStationarySquaredExp,
			Eigenfunctions: mat.NewDense(1, 1, []float64{0.7}),
			Eigenvalues:    []float64{1.5},
		}},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	snap := sampleSnapshot()
	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, snap))

	got, err := ReadSnapshot(&buf)
	require.NoError(t, err)

	assert.True(t, mat.Equal(snap.Input, got.Input), "input matrix changed")
	assert.True(t, mat.Equal(snap.Output, got.Output), "output matrix changed")
	assert.Equal(t, snap.NumRandVar, got.NumRandVar)
	require.Len(t, got.Fields, 1)
	assert.Equal(t, "conductivity", got.Fields[0].Name)
	assert.Equal(t, features.CorrNonStationarySquaredExp, got.Fields[0].CorrStruct)
	assert.True(t, mat.Equal(snap.Fields[0].Eigenfunctions, got.Fields[0].Eigenfunctions))
	assert.Equal(t, snap.Fields[0].Eigenvalues, got.Fields[0].Eigenvalues)
}

func TestFileIterator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lf.snapshot")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteSnapshot(f, sampleSnapshot()))
	require.NoError(t, f.Close())

	got, err := FileIterator{Path: path}.ReadSnapshot()
	require.NoError(t, err)
	assert.True(t, mat.Equal(sampleSnapshot().Output, got.Output))
}

func TestFileIteratorMissingFile(t *testing.T) {
	_, err := FileIterator{Path: filepath.Join(t.TempDir(), "absent.snapshot")}.ReadSnapshot()
	assert.Error(t, err, "a missing benchmark file must surface as a data error")
}

func TestWriteSnapshotIncomplete(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteSnapshot(&buf, &Snapshot{}))
}

func TestResultsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.results")
	results := &Results{
		RunID:   "test-run",
		Support: []float64{0, 1, 2},
		PMean:   []float64{0.1, 0.5, 0.1},
		PVar:    []float64{0.01, 0.02, 0.01},
		ZTrain:  mat.NewDense(2, 1, []float64{1, 2}),
		ZMC:     mat.NewDense(3, 1, []float64{1, 2, 3}),
		MeanMC:  []float64{1, 2, 3},
		VarMC:   []float64{0.1, 0.1, 0.1},
		CVErrors: map[string]float64{
			"root_mean_squared": 0.05,
		},
	}
	require.NoError(t, FileResultWriter{Path: path}.WriteResults(results))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	got, err := ReadResults(f)
	require.NoError(t, err)

	assert.Equal(t, results.RunID, got.RunID)
	assert.Equal(t, results.Support, got.Support)
	assert.Equal(t, results.PMean, got.PMean)
	assert.Equal(t, results.PVar, got.PVar)
	assert.True(t, mat.Equal(results.ZTrain, got.ZTrain))
	assert.True(t, mat.Equal(results.ZMC, got.ZMC))
	assert.Equal(t, results.CVErrors, got.CVErrors)
}
