package bmfmc

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/Jannis298/queens/features"
)

// matrixState is the serializable form of a dense matrix.
type matrixState struct {
	Rows, Cols int
	Data       []float64
}

func matrixToState(m *mat.Dense) matrixState {
	if m == nil {
		return matrixState{}
	}
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return matrixState{Rows: r, Cols: c, Data: data}
}

func (s matrixState) matrix() (*mat.Dense, error) {
	if s.Rows == 0 && s.Cols == 0 {
		return nil, nil
	}
	if len(s.Data) != s.Rows*s.Cols {
		return nil, fmt.Errorf("bmfmc: matrix state has %d values for %dx%d", len(s.Data), s.Rows, s.Cols)
	}
	return mat.NewDense(s.Rows, s.Cols, s.Data), nil
}

type fieldState struct {
	Name           string
	NumPoints      int
	CorrStruct     string
	Eigenfunctions matrixState
	Eigenvalues    []float64
}

// snapshotState is the versioned on-disk form of a Snapshot.
type snapshotState struct {
	Version    int
	Input      matrixState
	Output     matrixState
	NumRandVar int
	Fields     []fieldState
}

// WriteSnapshot serializes a snapshot to gob format.
func WriteSnapshot(w io.Writer, snap *Snapshot) error {
	if snap == nil || snap.Input == nil || snap.Output == nil {
		return errors.New("bmfmc: snapshot needs input and output matrices")
	}
	state := snapshotState{
		Version:    1,
		Input:      matrixToState(snap.Input),
		Output:     matrixToState(snap.Output),
		NumRandVar: snap.NumRandVar,
	}
	for _, f := range snap.Fields {
		state.Fields = append(state.Fields, fieldState{
			Name:           f.Name,
			NumPoints:      f.NumPoints,
			CorrStruct:     f.CorrStruct,
			Eigenfunctions: matrixToState(f.Eigenfunctions),
			Eigenvalues:    f.Eigenvalues,
		})
	}
	return gob.NewEncoder(w).Encode(state)
}

// ReadSnapshot deserializes a snapshot from gob format.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var state snapshotState
	if err := gob.NewDecoder(r).Decode(&state); err != nil {
		return nil, fmt.Errorf("bmfmc: decoding snapshot: %w", err)
	}
	if state.Version != 1 {
		return nil, fmt.Errorf("bmfmc: unsupported snapshot version %d", state.Version)
	}
	input, err := state.Input.matrix()
	if err != nil {
		return nil, err
	}
	output, err := state.Output.matrix()
	if err != nil {
		return nil, err
	}
	if input == nil || output == nil {
		return nil, errors.New("bmfmc: snapshot is missing input or output data")
	}
	snap := &Snapshot{Input: input, Output: output, NumRandVar: state.NumRandVar}
	for _, f := range state.Fields {
		eig, err := f.Eigenfunctions.matrix()
		if err != nil {
			return nil, err
		}
		snap.Fields = append(snap.Fields, features.RandomField{
			Name:           f.Name,
			NumPoints:      f.NumPoints,
			CorrStruct:     f.CorrStruct,
			Eigenfunctions: eig,
			Eigenvalues:    f.Eigenvalues,
		})
	}
	return snap, nil
}

// FileIterator reads one snapshot from a gob file on every ReadSnapshot call.
// A missing file is a data-availability error, not an excuse to run models.
type FileIterator struct {
	Path string
}

func (it FileIterator) ReadSnapshot() (*Snapshot, error) {
	f, err := os.Open(it.Path)
	if err != nil {
		return nil, fmt.Errorf("bmfmc: opening snapshot %q: %w", it.Path, err)
	}
	defer f.Close()
	return ReadSnapshot(f)
}

// MemoryIterator serves an in-memory snapshot. Used in tests and demos where
// the Monte-Carlo data is generated on the fly.
type MemoryIterator struct {
	Snapshot *Snapshot
}

func (it MemoryIterator) ReadSnapshot() (*Snapshot, error) {
	if it.Snapshot == nil {
		return nil, errors.New("bmfmc: memory iterator has no snapshot")
	}
	return it.Snapshot, nil
}

// resultsState is the versioned on-disk form of a Results bundle.
type resultsState struct {
	Version   int
	RunID     string
	Support   []float64
	PMean     []float64
	PVar      []float64
	ZTrain    matrixState
	ZMC       matrixState
	MeanMC    []float64
	VarMC     []float64
	Baseline  []float64
	Reference []float64
	CVErrors  map[string]float64
}

// FileResultWriter persists a Results bundle to a gob file.
type FileResultWriter struct {
	Path string
}

func (w FileResultWriter) WriteResults(r *Results) error {
	if r == nil {
		return errors.New("bmfmc: nil results")
	}
	f, err := os.Create(w.Path)
	if err != nil {
		return fmt.Errorf("bmfmc: creating result file %q: %w", w.Path, err)
	}
	state := resultsState{
		Version:   1,
		RunID:     r.RunID,
		Support:   r.Support,
		PMean:     r.PMean,
		PVar:      r.PVar,
		ZTrain:    matrixToState(r.ZTrain),
		ZMC:       matrixToState(r.ZMC),
		MeanMC:    r.MeanMC,
		VarMC:     r.VarMC,
		Baseline:  r.Baseline,
		Reference: r.Reference,
		CVErrors:  r.CVErrors,
	}
	if err := gob.NewEncoder(f).Encode(state); err != nil {
		f.Close()
		return fmt.Errorf("bmfmc: encoding results: %w", err)
	}
	return f.Close()
}

// ReadResults loads a Results bundle written by FileResultWriter.
func ReadResults(r io.Reader) (*Results, error) {
	var state resultsState
	if err := gob.NewDecoder(r).Decode(&state); err != nil {
		return nil, fmt.Errorf("bmfmc: decoding results: %w", err)
	}
	if state.Version != 1 {
		return nil, fmt.Errorf("bmfmc: unsupported results version %d", state.Version)
	}
	zTrain, err := state.ZTrain.matrix()
	if err != nil {
		return nil, err
	}
	zMC, err := state.ZMC.matrix()
	if err != nil {
		return nil, err
	}
	return &Results{
		RunID:     state.RunID,
		Support:   state.Support,
		PMean:     state.PMean,
		PVar:      state.PVar,
		ZTrain:    zTrain,
		ZMC:       zMC,
		MeanMC:    state.MeanMC,
		VarMC:     state.VarMC,
		Baseline:  state.Baseline,
		Reference: state.Reference,
		CVErrors:  state.CVErrors,
	}, nil
}
