package l3frames

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Snapshot is a deep copy of a Frame that stays valid after later decodes.
type Snapshot struct {
	Metadata
	Model    Model
	Matrices map[string]*mat.Dense
	Int32s   map[string]int32
	Float64s map[string]float64
}

// Snapshot copies the frame's metadata and every decoded field.
func (f *Frame) Snapshot() *Snapshot {
	s := &Snapshot{
		Metadata: f.Metadata,
		Model:    ModelFromSN(f.SensorID),
		Matrices: make(map[string]*mat.Dense),
		Int32s:   make(map[string]int32),
		Float64s: make(map[string]float64),
	}
	if f.Store == nil {
		return s
	}
	for name, c := range f.Store.cells {
		switch c.typ {
		case FieldMatrix:
			if c.mat != nil {
				s.Matrices[name] = mat.DenseCopyOf(c.mat)
			}
		case FieldInt32:
			s.Int32s[name] = c.i32
		case FieldFloat64:
			s.Float64s[name] = c.f64
		}
	}
	return s
}

// Matrix returns a copied matrix field, or nil when the frame did not carry it.
func (s *Snapshot) Matrix(name string) *mat.Dense {
	return s.Matrices[name]
}

// Vector3 returns the first row of a matrix field with at least three
// columns, such as the resultant force or moment.
func (s *Snapshot) Vector3(name string) (v [3]float64, ok bool) {
	m := s.Matrices[name]
	if m == nil {
		return v, false
	}
	r, c := m.Dims()
	if r < 1 || c < 3 {
		return v, false
	}
	for i := range v {
		v[i] = m.At(0, i)
	}
	return v, true
}

// Magnitude returns the Euclidean norm of v.
func Magnitude(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}
