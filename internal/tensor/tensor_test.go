package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndShape(t *testing.T) {
	tr, err := New(Shape{2, 3}, Float32)
	require.NoError(t, err)
	assert.Equal(t, 6, tr.NumElements())
	assert.Equal(t, 24, len(tr.Data()))
	assert.True(t, tr.Shape().Equal(Shape{2, 3}))

	_, err = New(Shape{2, -1}, Float32)
	require.Error(t, err)
}

func TestScalar(t *testing.T) {
	s := Scalar(3.5)
	assert.Equal(t, 1, s.NumElements())
	assert.True(t, s.Shape().Equal(Shape{}))

	v, err := s.Item()
	require.NoError(t, err)
	assert.Equal(t, float32(3.5), v)
}

func TestFromFloat32(t *testing.T) {
	tr, err := FromFloat32([]float32{1, 2, 3, 4}, Shape{2, 2})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, tr.AsFloat32())

	_, err = FromFloat32([]float32{1, 2, 3}, Shape{2, 2})
	require.Error(t, err)
}

func TestItemRequiresSingleElement(t *testing.T) {
	tr, err := FromFloat32([]float32{1, 2}, Shape{2})
	require.NoError(t, err)
	_, err = tr.Item()
	require.Error(t, err)
}

func TestClone(t *testing.T) {
	tr, err := FromFloat32([]float32{1, 2}, Shape{2})
	require.NoError(t, err)

	clone := tr.Clone()
	clone.AsFloat32()[0] = 99
	assert.Equal(t, float32(1), tr.AsFloat32()[0])
}

func TestWithShape(t *testing.T) {
	tr, err := FromFloat32([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	require.NoError(t, err)

	view, err := tr.WithShape(Shape{3, 2})
	require.NoError(t, err)
	assert.True(t, view.Shape().Equal(Shape{3, 2}))

	// Views share storage.
	view.AsFloat32()[0] = 42
	assert.Equal(t, float32(42), tr.AsFloat32()[0])

	_, err = tr.WithShape(Shape{4})
	require.Error(t, err)
}

func TestDataTypeSize(t *testing.T) {
	assert.Equal(t, 4, Float32.Size())
	assert.Equal(t, 8, Int64.Size())
	assert.Equal(t, 1, Uint8.Size())
	assert.Equal(t, "float32", Float32.String())
}

func TestAsFloat32PanicsOnWrongType(t *testing.T) {
	tr, err := New(Shape{2}, Int64)
	require.NoError(t, err)
	assert.Panics(t, func() { tr.AsFloat32() })
}
