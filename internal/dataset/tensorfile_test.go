package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caliber-ml/caliber/internal/onnx"
	"github.com/caliber-ml/caliber/internal/tensor"
)

func writeTensorFile(t *testing.T, proto *onnx.TensorProto) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calib.pb")
	require.NoError(t, os.WriteFile(path, onnx.MarshalTensor(proto), 0o644))
	return path
}

func TestLoadTensorFile(t *testing.T) {
	path := writeTensorFile(t, &onnx.TensorProto{
		Name:      "batch",
		DataType:  onnx.TensorProtoFloat,
		Dims:      []int64{3, 2, 2},
		FloatData: []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
	})

	samples, err := LoadTensorFile(path, []int64{2, 2}, 0)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.True(t, samples[0].Shape().Equal(tensor.Shape{2, 2}))
	assert.Equal(t, []float32{1, 2, 3, 4}, samples[0].AsFloat32())
	assert.Equal(t, []float32{9, 10, 11, 12}, samples[2].AsFloat32())
}

func TestLoadTensorFileRawData(t *testing.T) {
	raw := make([]byte, 0, 16)
	for _, v := range []float32{1, 2, 3, 4} {
		raw = append(raw, float32le(v)...)
	}
	path := writeTensorFile(t, &onnx.TensorProto{
		DataType: onnx.TensorProtoFloat,
		Dims:     []int64{1, 4},
		RawData:  raw,
	})

	samples, err := LoadTensorFile(path, []int64{4}, 0)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, []float32{1, 2, 3, 4}, samples[0].AsFloat32())
}

func TestLoadTensorFileLimit(t *testing.T) {
	path := writeTensorFile(t, &onnx.TensorProto{
		DataType:  onnx.TensorProtoFloat,
		Dims:      []int64{4, 2},
		FloatData: []float32{1, 2, 3, 4, 5, 6, 7, 8},
	})

	samples, err := LoadTensorFile(path, []int64{2}, 2)
	require.NoError(t, err)
	assert.Len(t, samples, 2)
}

func TestLoadTensorFileShapeMismatch(t *testing.T) {
	path := writeTensorFile(t, &onnx.TensorProto{
		DataType:  onnx.TensorProtoFloat,
		Dims:      []int64{2, 3},
		FloatData: []float32{1, 2, 3, 4, 5, 6},
	})

	_, err := LoadTensorFile(path, []int64{2, 2}, 0)
	var shapeErr *ShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t,
		"calibration input has incorrect shape: the required shape is [-1 2 2], the real shape is [2 3]",
		err.Error())
}

func TestLoadTensorFileTrailingDimMismatch(t *testing.T) {
	path := writeTensorFile(t, &onnx.TensorProto{
		DataType:  onnx.TensorProtoFloat,
		Dims:      []int64{2, 4},
		FloatData: []float32{1, 2, 3, 4, 5, 6, 7, 8},
	})

	_, err := LoadTensorFile(path, []int64{2}, 0)
	var shapeErr *ShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, []int64{2, 4}, shapeErr.Actual)
}

func TestLoadTensorFileWrongDataType(t *testing.T) {
	path := writeTensorFile(t, &onnx.TensorProto{
		DataType:  onnx.TensorProtoInt64,
		Dims:      []int64{1, 2},
		Int64Data: []int64{1, 2},
	})

	_, err := LoadTensorFile(path, []int64{2}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "float32")
}

func TestLoadTensorFileMissing(t *testing.T) {
	_, err := LoadTensorFile(filepath.Join(t.TempDir(), "absent.pb"), []int64{2}, 0)
	require.Error(t, err)
}

func float32le(v float32) []byte {
	t, _ := tensor.New(tensor.Shape{1}, tensor.Float32)
	t.AsFloat32()[0] = v
	out := make([]byte, 4)
	copy(out, t.Data())
	return out
}
