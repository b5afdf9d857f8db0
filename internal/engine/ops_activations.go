package engine

import (
	"fmt"
	"math"

	"github.com/caliber-ml/caliber/internal/onnx"
	"github.com/caliber-ml/caliber/internal/tensor"
)

func (r *Registry) registerActivations() {
	r.Register("Relu", unaryElementwise("Relu", func(v float32) float32 {
		if v < 0 {
			return 0
		}
		return v
	}))
	r.Register("Sigmoid", unaryElementwise("Sigmoid", func(v float32) float32 {
		return float32(1 / (1 + math.Exp(-float64(v))))
	}))
	r.Register("Clip", opClip)
}

// unaryElementwise builds a float32 elementwise handler.
func unaryElementwise(name string, fn func(v float32) float32) OpHandler {
	return func(node *onnx.NodeProto, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
		if len(inputs) < 1 || inputs[0] == nil {
			return nil, fmt.Errorf("%s requires 1 input", name)
		}
		in := inputs[0]
		out, err := tensor.New(in.Shape(), tensor.Float32)
		if err != nil {
			return nil, err
		}
		iv, ov := in.AsFloat32(), out.AsFloat32()
		for i := range iv {
			ov[i] = fn(iv[i])
		}
		return []*tensor.Tensor{out}, nil
	}
}

// opClip clamps values to [min, max]. Bounds come from attributes (opset <=
// 10) or from the optional second and third inputs (opset 11+).
func opClip(node *onnx.NodeProto, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) < 1 || inputs[0] == nil {
		return nil, fmt.Errorf("Clip requires 1 input")
	}

	lo := float32(math.Inf(-1))
	hi := float32(math.Inf(1))
	lo, _ = node.FloatAttr("min", lo)
	hi, _ = node.FloatAttr("max", hi)
	if len(inputs) > 1 && inputs[1] != nil {
		v, err := inputs[1].Item()
		if err != nil {
			return nil, fmt.Errorf("Clip min input: %w", err)
		}
		lo = v
	}
	if len(inputs) > 2 && inputs[2] != nil {
		v, err := inputs[2].Item()
		if err != nil {
			return nil, fmt.Errorf("Clip max input: %w", err)
		}
		hi = v
	}

	in := inputs[0]
	out, err := tensor.New(in.Shape(), tensor.Float32)
	if err != nil {
		return nil, err
	}
	iv, ov := in.AsFloat32(), out.AsFloat32()
	for i := range iv {
		v := iv[i]
		if v < lo {
			v = lo
		}
		if v > hi {
			v = hi
		}
		ov[i] = v
	}
	return []*tensor.Tensor{out}, nil
}
