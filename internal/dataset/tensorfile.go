package dataset

import (
	"fmt"
	"os"

	"github.com/caliber-ml/caliber/internal/onnx"
	"github.com/caliber-ml/caliber/internal/tensor"
)

// LoadTensorFile reads a serialized ONNX TensorProto holding the whole
// calibration batch and splits it into per-sample input tensors of the
// declared input shape.
//
// The file's leading dimension is the sample count; the remaining dimensions
// must match inputShape exactly. limit caps the number of samples taken
// (0 = all). A mismatched shape is fatal and reported verbatim.
func LoadTensorFile(path string, inputShape []int64, limit int) ([]*tensor.Tensor, error) {
	data, err := os.ReadFile(path) //nolint:gosec // dataset path is user-provided by design
	if err != nil {
		return nil, fmt.Errorf("failed to read tensor file: %w", err)
	}
	proto, err := onnx.ParseTensor(data)
	if err != nil {
		return nil, err
	}

	shape, err := sampleShape(inputShape)
	if err != nil {
		return nil, err
	}
	perSample := shape.NumElements()

	values, err := floatValues(proto)
	if err != nil {
		return nil, err
	}

	// The leading file dimension counts samples; everything after it must
	// match the declared input shape.
	if len(proto.Dims) != len(inputShape)+1 || len(values)%perSample != 0 {
		return nil, &ShapeError{Expected: append([]int64{-1}, inputShape...), Actual: proto.Dims}
	}
	for i, d := range inputShape {
		if proto.Dims[i+1] != d {
			return nil, &ShapeError{Expected: append([]int64{proto.Dims[0]}, inputShape...), Actual: proto.Dims}
		}
	}

	count := len(values) / perSample
	if limit > 0 && count > limit {
		count = limit
	}

	samples := make([]*tensor.Tensor, 0, count)
	for i := 0; i < count; i++ {
		t, err := tensor.FromFloat32(values[i*perSample:(i+1)*perSample], shape)
		if err != nil {
			return nil, err
		}
		samples = append(samples, t)
	}
	return samples, nil
}

// floatValues extracts the float32 payload from a TensorProto.
func floatValues(proto *onnx.TensorProto) ([]float32, error) {
	if proto.DataType != onnx.TensorProtoFloat {
		return nil, fmt.Errorf("tensor file holds data type %d, expected float32", proto.DataType)
	}
	if len(proto.FloatData) > 0 {
		return proto.FloatData, nil
	}
	if len(proto.RawData) > 0 {
		if len(proto.RawData)%4 != 0 {
			return nil, fmt.Errorf("tensor file raw data length %d is not a multiple of 4", len(proto.RawData))
		}
		t, err := tensor.New(tensor.Shape{len(proto.RawData) / 4}, tensor.Float32)
		if err != nil {
			return nil, err
		}
		copy(t.Data(), proto.RawData)
		return t.AsFloat32(), nil
	}
	return nil, fmt.Errorf("tensor file has no float data")
}
