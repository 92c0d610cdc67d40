package l3frames

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Field names every Store knows about.
const (
	FieldPositions          = "3D_Positions"
	FieldDisplacements      = "3D_Displacements"
	FieldForces             = "3D_Forces"
	FieldResultantForce     = "3D_ResultantForce"
	FieldResultantMoment    = "3D_ResultantMoment"
	FieldInitializeProgress = "InitializeProgress"
)

// ReadyProgress is the InitializeProgress value of a sensor that has finished
// warming up.
const ReadyProgress = 100.0

// cell is the storage for one named field. Only the member matching typ is used.
type cell struct {
	typ FieldType
	mat *mat.Dense
	i32 int32
	f64 float64
}

// Store is the name-addressed set of typed field cells holding the most
// recently decoded frame. Cells are reused across frames; a matrix cell is
// only reallocated when its dimensions change. A Store is not safe for
// concurrent use.
type Store struct {
	cells map[string]*cell
}

// FieldInfo describes a registered field.
type FieldInfo struct {
	Name string
	Type FieldType
}

// NewStore returns a Store with the standard sensor fields registered and
// InitializeProgress seeded to ReadyProgress, so a sensor that never reports
// progress is treated as ready.
func NewStore() *Store {
	s := &Store{cells: make(map[string]*cell)}
	for _, name := range []string{
		FieldPositions,
		FieldDisplacements,
		FieldForces,
		FieldResultantForce,
		FieldResultantMoment,
	} {
		s.cells[name] = &cell{typ: FieldMatrix}
	}
	s.cells[FieldInitializeProgress] = &cell{typ: FieldFloat64, f64: ReadyProgress}
	return s
}

// Register adds a field the decoder should fill. Registering an existing name
// with the same type is a no-op; with a different type it fails.
func (s *Store) Register(name string, t FieldType) error {
	if name == "" {
		return fmt.Errorf("field name must not be empty")
	}
	if t == FieldUnknown {
		return fmt.Errorf("field %q: cannot register unknown type", name)
	}
	if c, ok := s.cells[name]; ok {
		if c.typ != t {
			return fmt.Errorf("%w: %q registered as %s, not %s", ErrFieldTypeMismatch, name, c.typ, t)
		}
		return nil
	}
	s.cells[name] = &cell{typ: t}
	return nil
}

// Type returns the registered type of name.
func (s *Store) Type(name string) (FieldType, bool) {
	c, ok := s.cells[name]
	if !ok {
		return FieldUnknown, false
	}
	return c.typ, true
}

// Matrix returns the live matrix for name. The matrix is nil until the field
// has been decoded at least once and is overwritten by later frames.
func (s *Store) Matrix(name string) (*mat.Dense, bool) {
	c, ok := s.cells[name]
	if !ok || c.typ != FieldMatrix {
		return nil, false
	}
	return c.mat, true
}

// Int32 returns the value of an i32 field.
func (s *Store) Int32(name string) (int32, bool) {
	c, ok := s.cells[name]
	if !ok || c.typ != FieldInt32 {
		return 0, false
	}
	return c.i32, true
}

// Float64 returns the value of an f64 field.
func (s *Store) Float64(name string) (float64, bool) {
	c, ok := s.cells[name]
	if !ok || c.typ != FieldFloat64 {
		return 0, false
	}
	return c.f64, true
}

// SetFloat64 overwrites an f64 field.
func (s *Store) SetFloat64(name string, v float64) error {
	c, err := s.typed(name, FieldFloat64)
	if err != nil {
		return err
	}
	c.f64 = v
	return nil
}

// SetInt32 overwrites an i32 field.
func (s *Store) SetInt32(name string, v int32) error {
	c, err := s.typed(name, FieldInt32)
	if err != nil {
		return err
	}
	c.i32 = v
	return nil
}

// InitializeProgress returns the sensor's reported warm-up progress.
func (s *Store) InitializeProgress() float64 {
	v, _ := s.Float64(FieldInitializeProgress)
	return v
}

// Ready reports whether the readiness gate passes. The comparison is exact.
func (s *Store) Ready() bool {
	return s.InitializeProgress() == ReadyProgress
}

// Dump lists the registered fields sorted by name.
func (s *Store) Dump() []FieldInfo {
	out := make([]FieldInfo, 0, len(s.cells))
	for name, c := range s.cells {
		out = append(out, FieldInfo{Name: name, Type: c.typ})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) typed(name string, t FieldType) (*cell, error) {
	c, ok := s.cells[name]
	if !ok {
		return nil, fmt.Errorf("unknown field %q", name)
	}
	if c.typ != t {
		return nil, fmt.Errorf("%w: %q is %s, not %s", ErrFieldTypeMismatch, name, c.typ, t)
	}
	return c, nil
}

// matrix returns the matrix cell for name sized to rows x cols, reallocating
// only when the dimensions change.
func (c *cell) matrix(rows, cols int) *mat.Dense {
	if c.mat != nil {
		if r, cc := c.mat.Dims(); r == rows && cc == cols {
			return c.mat
		}
	}
	c.mat = mat.NewDense(rows, cols, nil)
	return c.mat
}
