// Package calibrate implements the post-training quantization calibration
// pipeline: probe augmentation, statistics collection across a calibration
// dataset, and affine quantization parameter derivation.
package calibrate

import (
	"github.com/caliber-ml/caliber/internal/onnx"
)

// Probe output name suffixes. The min/max probe outputs for a candidate are
// its first output tensor name plus one of these, which keeps names unique
// and deterministic for a given graph.
const (
	minSuffix = "_ReduceMin"
	maxSuffix = "_ReduceMax"
)

// CandidateOps is the set of operator types selected for quantization.
// Calibration probes are inserted for these nodes only.
type CandidateOps map[string]bool

// DefaultCandidates returns the operator types quantized by default. Extend
// the set as more operators gain quantized kernels.
func DefaultCandidates() CandidateOps {
	return CandidateOps{"Conv": true, "MatMul": true}
}

// AugmentModel is Augment lifted to a whole model: it returns a new
// ModelProto sharing everything but the graph.
func AugmentModel(model *onnx.ModelProto, candidates CandidateOps) *onnx.ModelProto {
	out := *model
	out.Graph = Augment(model.Graph, candidates)
	return &out
}

// Augment returns a new graph equal to the input plus a ReduceMin and a
// ReduceMax probe node per quantization candidate, appended in traversal
// order (min first, then max), with matching scalar output declarations.
//
// The input graph is never mutated. Candidates with multiple outputs are
// probed on their first output only. If no node is eligible the result is
// equivalent to the input.
func Augment(graph *onnx.GraphProto, candidates CandidateOps) *onnx.GraphProto {
	out := *graph
	out.Nodes = append([]onnx.NodeProto(nil), graph.Nodes...)
	out.Outputs = append([]onnx.ValueInfoProto(nil), graph.Outputs...)

	for i := range graph.Nodes {
		node := &graph.Nodes[i]
		if !candidates[node.OpType] || len(node.Outputs) == 0 {
			continue
		}
		probed := node.Outputs[0]
		owner := node.Name
		if owner == "" {
			owner = probed
		}
		for _, op := range []string{"ReduceMin", "ReduceMax"} {
			probe := onnx.NodeProto{
				Name:    owner + "_" + op,
				OpType:  op,
				Inputs:  []string{probed},
				Outputs: []string{probed + "_" + op},
				Attributes: []onnx.AttributeProto{{
					Name: "keepdims",
					Type: onnx.AttributeProtoInt,
					I:    0,
				}},
			}
			out.Nodes = append(out.Nodes, probe)
			out.Outputs = append(out.Outputs, scalarFloatInfo(probe.Outputs[0]))
		}
	}
	return &out
}

// scalarFloatInfo declares a rank-0 float32 graph output.
func scalarFloatInfo(name string) onnx.ValueInfoProto {
	return onnx.ValueInfoProto{
		Name: name,
		Type: &onnx.TypeProto{
			TensorType: &onnx.TensorTypeProto{
				ElemType: onnx.TensorProtoFloat,
				Shape:    &onnx.TensorShapeProto{},
			},
		},
	}
}
