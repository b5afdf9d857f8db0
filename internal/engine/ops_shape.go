package engine

import (
	"fmt"

	"github.com/caliber-ml/caliber/internal/onnx"
	"github.com/caliber-ml/caliber/internal/tensor"
)

func (r *Registry) registerShapeOps() {
	r.Register("Reshape", opReshape)
	r.Register("Flatten", opFlatten)
	r.Register("Identity", opIdentity)
}

// opReshape reshapes per the int64 shape input. A -1 dimension is inferred;
// a 0 dimension copies the corresponding input dimension.
func opReshape(node *onnx.NodeProto, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 2 || inputs[0] == nil || inputs[1] == nil {
		return nil, fmt.Errorf("Reshape requires data and shape inputs")
	}
	in := inputs[0]
	spec := inputs[1].AsInt64()

	newShape := make(tensor.Shape, len(spec))
	inferred := -1
	known := 1
	for i, d := range spec {
		switch {
		case d == -1:
			if inferred >= 0 {
				return nil, fmt.Errorf("Reshape allows at most one -1 dimension")
			}
			inferred = i
		case d == 0:
			if i >= len(in.Shape()) {
				return nil, fmt.Errorf("Reshape dimension 0 at index %d has no source dimension", i)
			}
			newShape[i] = in.Shape()[i]
			known *= newShape[i]
		default:
			newShape[i] = int(d)
			known *= newShape[i]
		}
	}
	if inferred >= 0 {
		if known == 0 || in.NumElements()%known != 0 {
			return nil, fmt.Errorf("Reshape cannot infer dimension for %v from %v", spec, in.Shape())
		}
		newShape[inferred] = in.NumElements() / known
	}

	out, err := in.WithShape(newShape)
	if err != nil {
		return nil, fmt.Errorf("Reshape: %w", err)
	}
	return []*tensor.Tensor{out}, nil
}

// opFlatten flattens to 2D around the axis attribute (default 1).
func opFlatten(node *onnx.NodeProto, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 1 || inputs[0] == nil {
		return nil, fmt.Errorf("Flatten requires 1 input")
	}
	in := inputs[0]
	axis := int(node.IntAttr("axis", 1))
	shape := in.Shape()
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis > len(shape) {
		return nil, fmt.Errorf("Flatten axis %d out of range for shape %v", axis, shape)
	}

	rows, cols := 1, 1
	for i, d := range shape {
		if i < axis {
			rows *= d
		} else {
			cols *= d
		}
	}
	out, err := in.WithShape(tensor.Shape{rows, cols})
	if err != nil {
		return nil, fmt.Errorf("Flatten: %w", err)
	}
	return []*tensor.Tensor{out}, nil
}

func opIdentity(node *onnx.NodeProto, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 1 || inputs[0] == nil {
		return nil, fmt.Errorf("Identity requires 1 input")
	}
	return []*tensor.Tensor{inputs[0]}, nil
}
