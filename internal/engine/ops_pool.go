package engine

import (
	"fmt"
	"math"

	"github.com/caliber-ml/caliber/internal/onnx"
	"github.com/caliber-ml/caliber/internal/tensor"
)

func (r *Registry) registerPoolOps() {
	r.Register("MaxPool", opMaxPool)
	r.Register("GlobalAveragePool", opGlobalAveragePool)
}

// opMaxPool implements 2D max pooling for NCHW inputs. Attributes:
// kernel_shape (required), strides, pads (t,l,b,r).
func opMaxPool(node *onnx.NodeProto, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) < 1 || inputs[0] == nil {
		return nil, fmt.Errorf("MaxPool requires 1 input")
	}
	x := inputs[0]
	xs := x.Shape()
	if len(xs) != 4 {
		return nil, fmt.Errorf("MaxPool supports 4D NCHW tensors, got %v", xs)
	}
	kernel := node.IntsAttr("kernel_shape")
	if len(kernel) != 2 {
		return nil, fmt.Errorf("MaxPool requires a 2D kernel_shape, got %v", kernel)
	}
	strides := intsOrDefault(node.IntsAttr("strides"), []int64{1, 1})
	pads := intsOrDefault(node.IntsAttr("pads"), []int64{0, 0, 0, 0})

	batch, channels, inH, inW := xs[0], xs[1], xs[2], xs[3]
	kH, kW := int(kernel[0]), int(kernel[1])
	strideH, strideW := int(strides[0]), int(strides[1])
	padT, padL, padB, padR := int(pads[0]), int(pads[1]), int(pads[2]), int(pads[3])

	outH := (inH+padT+padB-kH)/strideH + 1
	outW := (inW+padL+padR-kW)/strideW + 1
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("MaxPool produces empty output for input %v kernel %v", xs, kernel)
	}

	out, err := tensor.New(tensor.Shape{batch, channels, outH, outW}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	xv, ov := x.AsFloat32(), out.AsFloat32()

	for n := 0; n < batch; n++ {
		for c := 0; c < channels; c++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					best := float32(math.Inf(-1))
					for kh := 0; kh < kH; kh++ {
						ih := oh*strideH - padT + kh
						if ih < 0 || ih >= inH {
							continue
						}
						for kw := 0; kw < kW; kw++ {
							iw := ow*strideW - padL + kw
							if iw < 0 || iw >= inW {
								continue
							}
							v := xv[((n*channels+c)*inH+ih)*inW+iw]
							if v > best {
								best = v
							}
						}
					}
					ov[((n*channels+c)*outH+oh)*outW+ow] = best
				}
			}
		}
	}
	return []*tensor.Tensor{out}, nil
}

// opGlobalAveragePool averages each NCHW channel plane down to [N, C, 1, 1].
func opGlobalAveragePool(node *onnx.NodeProto, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) < 1 || inputs[0] == nil {
		return nil, fmt.Errorf("GlobalAveragePool requires 1 input")
	}
	x := inputs[0]
	xs := x.Shape()
	if len(xs) != 4 {
		return nil, fmt.Errorf("GlobalAveragePool supports 4D NCHW tensors, got %v", xs)
	}
	batch, channels, plane := xs[0], xs[1], xs[2]*xs[3]

	out, err := tensor.New(tensor.Shape{batch, channels, 1, 1}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	xv, ov := x.AsFloat32(), out.AsFloat32()
	for n := 0; n < batch; n++ {
		for c := 0; c < channels; c++ {
			var sum float32
			base := (n*channels + c) * plane
			for i := 0; i < plane; i++ {
				sum += xv[base+i]
			}
			ov[n*channels+c] = sum / float32(plane)
		}
	}
	return []*tensor.Tensor{out}, nil
}
