package l3frames

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore_Defaults(t *testing.T) {
	s := NewStore()

	want := []FieldInfo{
		{Name: FieldDisplacements, Type: FieldMatrix},
		{Name: FieldForces, Type: FieldMatrix},
		{Name: FieldPositions, Type: FieldMatrix},
		{Name: FieldResultantForce, Type: FieldMatrix},
		{Name: FieldResultantMoment, Type: FieldMatrix},
		{Name: FieldInitializeProgress, Type: FieldFloat64},
	}
	if diff := cmp.Diff(want, s.Dump()); diff != "" {
		t.Errorf("Dump() mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, ReadyProgress, s.InitializeProgress())
	assert.True(t, s.Ready())

	m, ok := s.Matrix(FieldForces)
	assert.True(t, ok)
	assert.Nil(t, m, "matrix allocated lazily on first decode")
}

func TestStore_Register(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.Register("Temperature", FieldFloat64))
	require.NoError(t, s.Register("Temperature", FieldFloat64), "re-registering the same type is a no-op")

	err := s.Register("Temperature", FieldInt32)
	assert.ErrorIs(t, err, ErrFieldTypeMismatch)

	assert.Error(t, s.Register("", FieldInt32))
	assert.Error(t, s.Register("Mystery", FieldUnknown))

	typ, ok := s.Type("Temperature")
	assert.True(t, ok)
	assert.Equal(t, FieldFloat64, typ)

	_, ok = s.Type("Nope")
	assert.False(t, ok)
}

func TestStore_TypedAccess(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Register("Count", FieldInt32))

	require.NoError(t, s.SetInt32("Count", -7))
	v, ok := s.Int32("Count")
	assert.True(t, ok)
	assert.Equal(t, int32(-7), v)

	// The wrong accessor for a field's type reports not found.
	_, ok = s.Float64("Count")
	assert.False(t, ok)
	_, ok = s.Int32(FieldInitializeProgress)
	assert.False(t, ok)
	_, ok = s.Matrix(FieldInitializeProgress)
	assert.False(t, ok)

	assert.ErrorIs(t, s.SetFloat64("Count", 1), ErrFieldTypeMismatch)
	assert.Error(t, s.SetInt32("Missing", 1))

	require.NoError(t, s.SetFloat64(FieldInitializeProgress, 99.5))
	assert.False(t, s.Ready())
}

func TestCell_MatrixReusedUntilResized(t *testing.T) {
	c := &cell{typ: FieldMatrix}

	m1 := c.matrix(400, 3)
	m2 := c.matrix(400, 3)
	assert.Same(t, m1, m2)

	m3 := c.matrix(256, 3)
	assert.NotSame(t, m1, m3)
	r, cols := m3.Dims()
	assert.Equal(t, 256, r)
	assert.Equal(t, 3, cols)
}
