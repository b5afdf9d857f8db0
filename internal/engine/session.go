// Package engine provides a small reference execution engine for ONNX
// graphs. It covers the operator set that common convolutional calibration
// models need; any other engine can stand in behind the calibrate.Runner
// seam.
package engine

import (
	"context"
	"fmt"

	"github.com/caliber-ml/caliber/internal/onnx"
	"github.com/caliber-ml/caliber/internal/tensor"
)

// Output is one named graph output produced by a run.
type Output struct {
	Name  string
	Value *tensor.Tensor
}

// Session executes a fixed graph repeatedly. It is compiled once and is safe
// for sequential reuse across calibration samples.
type Session struct {
	graph       *onnx.GraphProto
	registry    *Registry
	weights     map[string]*tensor.Tensor
	inputNames  []string
	outputNames []string
	sortedNodes []onnx.NodeProto
}

// NewSession compiles a graph for execution. All node operator types must be
// supported by the registry.
func NewSession(graph *onnx.GraphProto) (*Session, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph is nil")
	}

	s := &Session{
		graph:       graph,
		registry:    NewRegistry(),
		inputNames:  graph.InputNames(),
		outputNames: graph.OutputNames(),
	}

	var unsupported []string
	for i := range graph.Nodes {
		if _, ok := s.registry.Get(graph.Nodes[i].OpType); !ok {
			unsupported = append(unsupported, graph.Nodes[i].OpType)
		}
	}
	if len(unsupported) > 0 {
		return nil, fmt.Errorf("unsupported operators: %v", unsupported)
	}

	s.weights = make(map[string]*tensor.Tensor, len(graph.Initializers))
	for i := range graph.Initializers {
		init := &graph.Initializers[i]
		t, err := tensorFromProto(init)
		if err != nil {
			return nil, fmt.Errorf("failed to load initializer %s: %w", init.Name, err)
		}
		s.weights[init.Name] = t
	}

	s.sortedNodes = topologicalSort(graph.Nodes)
	return s, nil
}

// InputNames returns the names of graph inputs.
func (s *Session) InputNames() []string {
	return s.inputNames
}

// OutputNames returns the declared graph output names in order.
func (s *Session) OutputNames() []string {
	return s.outputNames
}

// Run executes the graph with a single input tensor and returns all declared
// outputs in graph output order.
func (s *Session) Run(ctx context.Context, input *tensor.Tensor) ([]Output, error) {
	if len(s.inputNames) != 1 {
		return nil, fmt.Errorf("graph has %d inputs, use RunNamed", len(s.inputNames))
	}
	return s.RunNamed(ctx, map[string]*tensor.Tensor{s.inputNames[0]: input})
}

// RunNamed executes the graph with named inputs and returns all declared
// outputs in graph output order.
func (s *Session) RunNamed(ctx context.Context, inputs map[string]*tensor.Tensor) ([]Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tensors := make(map[string]*tensor.Tensor, len(s.weights)+len(inputs))
	for name, t := range s.weights {
		tensors[name] = t
	}
	for name, t := range inputs {
		tensors[name] = t
	}
	for _, name := range s.inputNames {
		if _, ok := tensors[name]; !ok {
			return nil, fmt.Errorf("missing input: %s", name)
		}
	}

	for nodeIdx := range s.sortedNodes {
		node := &s.sortedNodes[nodeIdx]

		nodeInputs := make([]*tensor.Tensor, len(node.Inputs))
		for i, inputName := range node.Inputs {
			if inputName == "" {
				// Optional input not provided.
				continue
			}
			t, ok := tensors[inputName]
			if !ok {
				return nil, fmt.Errorf("node %s: missing input %s", node.Name, inputName)
			}
			nodeInputs[i] = t
		}

		outputs, err := s.registry.Execute(node, nodeInputs)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", node.Name, node.OpType, err)
		}
		for i, outputName := range node.Outputs {
			if i < len(outputs) {
				tensors[outputName] = outputs[i]
			}
		}
	}

	result := make([]Output, 0, len(s.outputNames))
	for _, name := range s.outputNames {
		t, ok := tensors[name]
		if !ok {
			return nil, fmt.Errorf("missing output: %s", name)
		}
		result = append(result, Output{Name: name, Value: t})
	}
	return result, nil
}

// tensorFromProto converts an initializer TensorProto to a Tensor.
func tensorFromProto(proto *onnx.TensorProto) (*tensor.Tensor, error) {
	shape := make(tensor.Shape, len(proto.Dims))
	for i, dim := range proto.Dims {
		shape[i] = int(dim)
	}

	t, err := tensor.New(shape, protoTypeToDataType(proto.DataType))
	if err != nil {
		return nil, err
	}

	switch {
	case len(proto.RawData) > 0:
		copy(t.Data(), proto.RawData)
	case len(proto.FloatData) > 0:
		copy(t.AsFloat32(), proto.FloatData)
	case len(proto.Int64Data) > 0:
		copy(t.AsInt64(), proto.Int64Data)
	}
	return t, nil
}

// protoTypeToDataType converts an ONNX data type to tensor.DataType.
func protoTypeToDataType(onnxType int32) tensor.DataType {
	switch onnxType {
	case onnx.TensorProtoFloat:
		return tensor.Float32
	case onnx.TensorProtoDouble:
		return tensor.Float64
	case onnx.TensorProtoInt32:
		return tensor.Int32
	case onnx.TensorProtoInt64:
		return tensor.Int64
	case onnx.TensorProtoUint8:
		return tensor.Uint8
	case onnx.TensorProtoBool:
		return tensor.Bool
	default:
		return tensor.Float32
	}
}

// topologicalSort orders nodes so producers run before consumers.
func topologicalSort(nodes []onnx.NodeProto) []onnx.NodeProto {
	outputToNode := make(map[string]int)
	for i := range nodes {
		for _, output := range nodes[i].Outputs {
			outputToNode[output] = i
		}
	}

	visited := make([]bool, len(nodes))
	result := make([]onnx.NodeProto, 0, len(nodes))

	var visit func(i int)
	visit = func(i int) {
		if visited[i] {
			return
		}
		visited[i] = true
		for _, input := range nodes[i].Inputs {
			if depIdx, ok := outputToNode[input]; ok {
				visit(depIdx)
			}
		}
		result = append(result, nodes[i])
	}

	for i := range nodes {
		visit(i)
	}
	return result
}
