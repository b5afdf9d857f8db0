package calibrate

import (
	"fmt"
	"math"

	"github.com/caliber-ml/caliber/internal/onnx"
)

// Param holds the affine quantization parameters for one tensor:
// real = Scale * (quantized - ZeroPoint).
type Param struct {
	ZeroPoint uint8
	Scale     float32
}

// Params maps candidate output tensor names to quantization parameters.
type Params map[string]Param

// Options configures parameter derivation.
type Options struct {
	// Bits is the quantized width. Only 8 is supported.
	Bits int
	// Candidates is the operator set considered for quantization. Defaults
	// to DefaultCandidates when nil.
	Candidates CandidateOps
	// StrictStats makes a candidate without a statistics entry an error
	// instead of silently skipping it.
	StrictStats bool
}

// fusionKind classifies the activation fused into a candidate's consumer for
// range tightening.
type fusionKind int

const (
	fusionNone fusionKind = iota
	fusionClip            // bounded clip with constant bounds
	fusionRelu            // zero floor
)

// fusion is the range adjustment derived from a candidate's consumer.
type fusion struct {
	kind fusionKind
	lo   float32 // valid for fusionClip
	hi   float32 // valid for fusionClip
}

// ComputeParams derives per-candidate quantization parameters from aggregated
// statistics and the original (unaugmented) graph topology.
//
// Per candidate: the observed range is clamped to include zero, tightened
// when the candidate's sole consumer is a Clip or Relu (the fused op would
// discard the clipped values anyway), and converted to (scale, zero_point).
// A bit width other than 8 fails before any computation.
func ComputeParams(graph *onnx.GraphProto, stats Statistics, opts Options) (Params, error) {
	if opts.Bits != 8 {
		return nil, &ConfigError{Reason: fmt.Sprintf("unsupported bit width %d (only 8-bit quantization is supported)", opts.Bits)}
	}
	if stats == nil {
		return nil, &ConfigError{Reason: "no calibration statistics provided"}
	}
	candidates := opts.Candidates
	if candidates == nil {
		candidates = DefaultCandidates()
	}

	consumers := consumerIndex(graph)
	params := make(Params)
	for i := range graph.Nodes {
		node := &graph.Nodes[i]
		if !candidates[node.OpType] || len(node.Outputs) == 0 {
			continue
		}
		name := node.Outputs[0]
		r, ok := stats[name]
		if !ok {
			if opts.StrictStats {
				return nil, &MissingStatsError{Tensor: name}
			}
			continue
		}
		params[name] = deriveParam(r, classifyFusion(graph, consumers[name]))
	}
	return params, nil
}

// deriveParam turns an aggregated range into affine parameters.
func deriveParam(r Range, f fusion) Param {
	// Include zero so it is exactly representable.
	rmin := float32(math.Min(float64(r.Min), 0))
	rmax := float32(math.Max(float64(r.Max), 0))

	// Tighten, never expand, using the fused activation's bounds.
	switch f.kind {
	case fusionClip:
		if rmin < f.lo {
			rmin = f.lo
		}
		if rmax > f.hi {
			rmax = f.hi
		}
	case fusionRelu:
		if rmin < 0 {
			rmin = 0
		}
	case fusionNone:
	}

	scale := float32(1)
	if rmin != rmax {
		scale = (rmax - rmin) / 255
	}
	zp := (0 - rmin) / scale
	if zp < 0 {
		zp = 0
	}
	if zp > 255 {
		zp = 255
	}
	return Param{ZeroPoint: uint8(math.Round(float64(zp))), Scale: scale}
}

// consumerIndex maps each tensor name to the nodes consuming it. Consumers
// are resolved through tensor names, not node list positions, so the result
// is correct regardless of serialization order.
func consumerIndex(graph *onnx.GraphProto) map[string][]*onnx.NodeProto {
	index := make(map[string][]*onnx.NodeProto)
	for i := range graph.Nodes {
		node := &graph.Nodes[i]
		for _, input := range node.Inputs {
			if input != "" {
				index[input] = append(index[input], node)
			}
		}
	}
	return index
}

// classifyFusion inspects a candidate's consumers and returns the applicable
// range adjustment. Tightening is only safe when exactly one node consumes
// the output; with several consumers the untightened values remain visible.
func classifyFusion(graph *onnx.GraphProto, consumers []*onnx.NodeProto) fusion {
	if len(consumers) != 1 {
		return fusion{kind: fusionNone}
	}
	next := consumers[0]
	switch next.OpType {
	case "Relu":
		return fusion{kind: fusionRelu}
	case "Clip":
		lo, hi, ok := clipBounds(graph, next)
		if !ok {
			return fusion{kind: fusionNone}
		}
		return fusion{kind: fusionClip, lo: lo, hi: hi}
	default:
		return fusion{kind: fusionNone}
	}
}

// clipBounds extracts constant Clip bounds from attributes (opset <= 10) or
// from initializer inputs (opset 11+). Bounds fed by non-constant tensors
// disqualify the fusion.
func clipBounds(graph *onnx.GraphProto, node *onnx.NodeProto) (lo, hi float32, ok bool) {
	lo = float32(math.Inf(-1))
	hi = float32(math.Inf(1))
	found := false

	if v, has := node.FloatAttr("min", 0); has {
		lo, found = v, true
	}
	if v, has := node.FloatAttr("max", 0); has {
		hi, found = v, true
	}
	if found {
		return lo, hi, true
	}

	if len(node.Inputs) > 1 && node.Inputs[1] != "" {
		init, has := graph.Initializer(node.Inputs[1])
		if !has {
			return 0, 0, false
		}
		v, has := init.ScalarFloat()
		if !has {
			return 0, 0, false
		}
		lo, found = v, true
	}
	if len(node.Inputs) > 2 && node.Inputs[2] != "" {
		init, has := graph.Initializer(node.Inputs[2])
		if !has {
			return 0, 0, false
		}
		v, has := init.ScalarFloat()
		if !has {
			return 0, 0, false
		}
		hi, found = v, true
	}
	return lo, hi, found
}
