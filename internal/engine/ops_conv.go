package engine

import (
	"fmt"

	"github.com/caliber-ml/caliber/internal/onnx"
	"github.com/caliber-ml/caliber/internal/tensor"
)

// opConv implements 2D convolution for NCHW inputs.
//
// Input shape: [N, C, H, W], weight shape: [M, C/group, kH, kW], optional
// bias [M]. Attributes: strides, pads (t,l,b,r), dilations, group.
//
//nolint:gocognit,gocyclo,cyclop // direct convolution is a nested loop by nature
func opConv(node *onnx.NodeProto, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) < 2 || inputs[0] == nil || inputs[1] == nil {
		return nil, fmt.Errorf("Conv requires input and weight")
	}
	x, w := inputs[0], inputs[1]
	xs, ws := x.Shape(), w.Shape()
	if len(xs) != 4 || len(ws) != 4 {
		return nil, fmt.Errorf("Conv supports 4D NCHW tensors, got input %v weight %v", xs, ws)
	}

	strides := intsOrDefault(node.IntsAttr("strides"), []int64{1, 1})
	pads := intsOrDefault(node.IntsAttr("pads"), []int64{0, 0, 0, 0})
	dilations := intsOrDefault(node.IntsAttr("dilations"), []int64{1, 1})
	group := int(node.IntAttr("group", 1))

	batch, inC, inH, inW := xs[0], xs[1], xs[2], xs[3]
	outC, kC, kH, kW := ws[0], ws[1], ws[2], ws[3]
	if group <= 0 || inC%group != 0 || outC%group != 0 || kC != inC/group {
		return nil, fmt.Errorf("Conv channel/group mismatch: input %v weight %v group %d", xs, ws, group)
	}

	strideH, strideW := int(strides[0]), int(strides[1])
	padT, padL, padB, padR := int(pads[0]), int(pads[1]), int(pads[2]), int(pads[3])
	dilH, dilW := int(dilations[0]), int(dilations[1])

	outH := (inH+padT+padB-dilH*(kH-1)-1)/strideH + 1
	outW := (inW+padL+padR-dilW*(kW-1)-1)/strideW + 1
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("Conv produces empty output for input %v weight %v", xs, ws)
	}

	out, err := tensor.New(tensor.Shape{batch, outC, outH, outW}, tensor.Float32)
	if err != nil {
		return nil, err
	}

	var bias []float32
	if len(inputs) > 2 && inputs[2] != nil {
		bias = inputs[2].AsFloat32()
		if len(bias) != outC {
			return nil, fmt.Errorf("Conv bias length %d does not match %d output channels", len(bias), outC)
		}
	}

	xv, wv, ov := x.AsFloat32(), w.AsFloat32(), out.AsFloat32()
	chPerGroup := outC / group

	for n := 0; n < batch; n++ {
		for oc := 0; oc < outC; oc++ {
			g := oc / chPerGroup
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					var sum float32
					for ic := 0; ic < kC; ic++ {
						srcC := g*kC + ic
						for kh := 0; kh < kH; kh++ {
							ih := oh*strideH - padT + kh*dilH
							if ih < 0 || ih >= inH {
								continue
							}
							for kw := 0; kw < kW; kw++ {
								iw := ow*strideW - padL + kw*dilW
								if iw < 0 || iw >= inW {
									continue
								}
								xIdx := ((n*inC+srcC)*inH+ih)*inW + iw
								wIdx := ((oc*kC+ic)*kH+kh)*kW + kw
								sum += xv[xIdx] * wv[wIdx]
							}
						}
					}
					if bias != nil {
						sum += bias[oc]
					}
					ov[((n*outC+oc)*outH+oh)*outW+ow] = sum
				}
			}
		}
	}
	return []*tensor.Tensor{out}, nil
}

// intsOrDefault returns attr when present, def otherwise.
func intsOrDefault(attr, def []int64) []int64 {
	if len(attr) == 0 {
		return def
	}
	return attr
}
