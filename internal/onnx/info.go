package onnx

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ModelInfo contains basic information about an ONNX model without fully
// loading it.
type ModelInfo struct {
	IRVersion       int64
	OpsetVersion    int64
	ProducerName    string
	ProducerVersion string
	InputNames      []string
	OutputNames     []string
	NodeCount       int
	WeightCount     int
}

// GetModelInfo extracts basic info from an ONNX file.
func GetModelInfo(path string) (*ModelInfo, error) {
	proto, err := ParseFile(path)
	if err != nil {
		return nil, err
	}

	info := &ModelInfo{
		IRVersion:       proto.IRVersion,
		OpsetVersion:    proto.OpsetVersion(),
		ProducerName:    proto.ProducerName,
		ProducerVersion: proto.ProducerVersion,
	}

	if proto.Graph != nil {
		info.InputNames = proto.Graph.InputNames()
		for i := range proto.Graph.Outputs {
			info.OutputNames = append(info.OutputNames, proto.Graph.Outputs[i].Name)
		}
		info.NodeCount = len(proto.Graph.Nodes)
		info.WeightCount = len(proto.Graph.Initializers)
	}

	return info, nil
}

// OpsetVersion returns the default-domain opset version.
func (m *ModelProto) OpsetVersion() int64 {
	for _, opset := range m.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			return opset.Version
		}
	}
	return 0
}

// InputNames returns the names of true graph inputs (graph inputs minus
// initializers).
func (g *GraphProto) InputNames() []string {
	initNames := make(map[string]bool, len(g.Initializers))
	for i := range g.Initializers {
		initNames[g.Initializers[i].Name] = true
	}
	var names []string
	for i := range g.Inputs {
		if !initNames[g.Inputs[i].Name] {
			names = append(names, g.Inputs[i].Name)
		}
	}
	return names
}

// OutputNames returns the declared graph output names in order.
func (g *GraphProto) OutputNames() []string {
	names := make([]string, len(g.Outputs))
	for i := range g.Outputs {
		names[i] = g.Outputs[i].Name
	}
	return names
}

// Initializer returns the initializer tensor with the given name, if present.
func (g *GraphProto) Initializer(name string) (*TensorProto, bool) {
	for i := range g.Initializers {
		if g.Initializers[i].Name == name {
			return &g.Initializers[i], true
		}
	}
	return nil, false
}

// InputShape returns the declared shape of the named graph input. Dynamic
// (named) dimensions default to 1; an input with no declared shape at all is
// an error since calibration needs fixed-size samples.
func (g *GraphProto) InputShape(name string) ([]int64, error) {
	for i := range g.Inputs {
		vi := &g.Inputs[i]
		if vi.Name != name {
			continue
		}
		if vi.Type == nil || vi.Type.TensorType == nil || vi.Type.TensorType.Shape == nil {
			return nil, fmt.Errorf("input %q has no declared shape", name)
		}
		dims := vi.Type.TensorType.Shape.Dims
		shape := make([]int64, len(dims))
		for j, d := range dims {
			if d.DimParam != "" {
				// Dynamic batch dimensions default to 1 for calibration.
				shape[j] = 1
				continue
			}
			shape[j] = d.DimValue
		}
		return shape, nil
	}
	return nil, fmt.Errorf("input %q not found in graph", name)
}

// ScalarFloat extracts a single float32 from a tensor proto, used for
// constant Clip bounds provided as initializer inputs.
func (t *TensorProto) ScalarFloat() (float32, bool) {
	if len(t.FloatData) == 1 {
		return t.FloatData[0], true
	}
	if t.DataType == TensorProtoFloat && len(t.RawData) == 4 {
		return float32frombytes(t.RawData), true
	}
	return 0, false
}

func float32frombytes(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
