package engine

import (
	"fmt"
	"math"

	"github.com/caliber-ml/caliber/internal/onnx"
	"github.com/caliber-ml/caliber/internal/tensor"
)

func (r *Registry) registerReduceOps() {
	r.Register("ReduceMin", fullReduce("ReduceMin", func(acc, v float32) float32 {
		return float32(math.Min(float64(acc), float64(v)))
	}, float32(math.Inf(1))))
	r.Register("ReduceMax", fullReduce("ReduceMax", func(acc, v float32) float32 {
		return float32(math.Max(float64(acc), float64(v)))
	}, float32(math.Inf(-1))))
}

// fullReduce builds a whole-tensor reduction handler. Probe nodes reduce over
// all axes, so only the no-axes form is implemented; keepdims controls
// whether the result is a scalar or an all-ones shape.
func fullReduce(name string, fold func(acc, v float32) float32, init float32) OpHandler {
	return func(node *onnx.NodeProto, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
		if len(inputs) < 1 || inputs[0] == nil {
			return nil, fmt.Errorf("%s requires 1 input", name)
		}
		if len(node.IntsAttr("axes")) > 0 {
			return nil, fmt.Errorf("%s: axis subsets are not supported", name)
		}
		in := inputs[0]
		if in.NumElements() == 0 {
			return nil, fmt.Errorf("%s: empty input", name)
		}

		acc := init
		for _, v := range in.AsFloat32() {
			acc = fold(acc, v)
		}

		outShape := tensor.Shape{}
		if node.IntAttr("keepdims", 1) != 0 {
			outShape = make(tensor.Shape, len(in.Shape()))
			for i := range outShape {
				outShape[i] = 1
			}
		}
		out, err := tensor.New(outShape, tensor.Float32)
		if err != nil {
			return nil, err
		}
		out.AsFloat32()[0] = acc
		return []*tensor.Tensor{out}, nil
	}
}
