package onnx

import (
	"path/filepath"
	"reflect"
	"testing"
)

func testModel() *ModelProto {
	return &ModelProto{
		IRVersion:       8,
		ProducerName:    "caliber",
		ProducerVersion: "0.1",
		OpsetImport:     []OperatorSetID{{Version: 13}},
		MetadataProps:   []StringStringEntry{{Key: "task", Value: "calibration"}},
		Graph: &GraphProto{
			Name: "tiny",
			Nodes: []NodeProto{
				{
					Name:    "conv0",
					OpType:  "Conv",
					Inputs:  []string{"X", "W"},
					Outputs: []string{"conv0_out"},
					Attributes: []AttributeProto{
						{Name: "strides", Type: AttributeProtoInts, Ints: []int64{1, 1}},
						{Name: "group", Type: AttributeProtoInt, I: 1},
					},
				},
				{
					Name:    "clip0",
					OpType:  "Clip",
					Inputs:  []string{"conv0_out"},
					Outputs: []string{"Y"},
					Attributes: []AttributeProto{
						{Name: "min", Type: AttributeProtoFloat, F: 0},
						{Name: "max", Type: AttributeProtoFloat, F: 6},
					},
				},
			},
			Inputs: []ValueInfoProto{{
				Name: "X",
				Type: &TypeProto{TensorType: &TensorTypeProto{
					ElemType: TensorProtoFloat,
					Shape: &TensorShapeProto{Dims: []DimensionProto{
						{DimParam: "batch"}, {DimValue: 3}, {DimValue: 8}, {DimValue: 8},
					}},
				}},
			}},
			Outputs: []ValueInfoProto{{
				Name: "Y",
				Type: &TypeProto{TensorType: &TensorTypeProto{
					ElemType: TensorProtoFloat,
					Shape:    &TensorShapeProto{},
				}},
			}},
			Initializers: []TensorProto{
				{Name: "W", DataType: TensorProtoFloat, Dims: []int64{1, 3, 1, 1}, FloatData: []float32{0.5, -1, 2}},
			},
		},
	}
}

func TestModelRoundTrip(t *testing.T) {
	original := testModel()
	parsed, err := Parse(Marshal(original))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !reflect.DeepEqual(original, parsed) {
		t.Errorf("round trip mismatch:\noriginal: %+v\nparsed:   %+v", original, parsed)
	}
}

func TestModelFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.onnx")
	original := testModel()
	if err := WriteFile(path, original); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	parsed, err := ParseFile(path)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !reflect.DeepEqual(original, parsed) {
		t.Errorf("file round trip mismatch")
	}
}

func TestTensorRoundTrip(t *testing.T) {
	original := &TensorProto{
		Name:     "calib_data",
		DataType: TensorProtoFloat,
		Dims:     []int64{2, 3},
		RawData:  []byte{0, 0, 128, 63, 0, 0, 0, 64, 0, 0, 64, 64, 0, 0, 128, 64, 0, 0, 160, 64, 0, 0, 192, 64},
	}
	parsed, err := ParseTensor(MarshalTensor(original))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !reflect.DeepEqual(original, parsed) {
		t.Errorf("tensor round trip mismatch:\noriginal: %+v\nparsed:   %+v", original, parsed)
	}
}

func TestAttributeRoundTrip(t *testing.T) {
	attrs := []AttributeProto{
		{Name: "f", Type: AttributeProtoFloat, F: 3.5},
		{Name: "i", Type: AttributeProtoInt, I: -2},
		{Name: "s", Type: AttributeProtoString, S: []byte("NOTSET")},
		{Name: "floats", Type: AttributeProtoFloats, Floats: []float32{1, 2.5}},
		{Name: "ints", Type: AttributeProtoInts, Ints: []int64{0, 6, 300}},
		{Name: "strings", Type: AttributeProtoStrings, Strings: [][]byte{[]byte("a"), []byte("b")}},
	}
	model := &ModelProto{Graph: &GraphProto{
		Nodes: []NodeProto{{OpType: "Custom", Attributes: attrs}},
	}}
	parsed, err := Parse(Marshal(model))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	got := parsed.Graph.Nodes[0].Attributes
	if !reflect.DeepEqual(attrs, got) {
		t.Errorf("attribute round trip mismatch:\nwant %+v\ngot  %+v", attrs, got)
	}
}

func TestParseTruncatedData(t *testing.T) {
	data := Marshal(testModel())
	if _, err := Parse(data[:len(data)/2]); err == nil {
		t.Error("expected error for truncated data")
	}
}

func TestParseFileNotFound(t *testing.T) {
	if _, err := ParseFile("/nonexistent/model.onnx"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestGetModelInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.onnx")
	if err := WriteFile(path, testModel()); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	info, err := GetModelInfo(path)
	if err != nil {
		t.Fatalf("GetModelInfo failed: %v", err)
	}
	if info.IRVersion != 8 {
		t.Errorf("IRVersion = %d, want 8", info.IRVersion)
	}
	if info.OpsetVersion != 13 {
		t.Errorf("OpsetVersion = %d, want 13", info.OpsetVersion)
	}
	if info.ProducerName != "caliber" {
		t.Errorf("ProducerName = %q", info.ProducerName)
	}
	if len(info.InputNames) != 1 || info.InputNames[0] != "X" {
		t.Errorf("InputNames = %v, want [X]", info.InputNames)
	}
	if info.NodeCount != 2 || info.WeightCount != 1 {
		t.Errorf("NodeCount = %d WeightCount = %d", info.NodeCount, info.WeightCount)
	}
}

func TestInputNamesExcludeInitializers(t *testing.T) {
	graph := &GraphProto{
		Inputs: []ValueInfoProto{{Name: "X"}, {Name: "W"}},
		Initializers: []TensorProto{
			{Name: "W", DataType: TensorProtoFloat, FloatData: []float32{1}},
		},
	}
	names := graph.InputNames()
	if len(names) != 1 || names[0] != "X" {
		t.Errorf("InputNames = %v, want [X]", names)
	}
}

func TestInputShape(t *testing.T) {
	graph := testModel().Graph

	shape, err := graph.InputShape("X")
	if err != nil {
		t.Fatalf("InputShape failed: %v", err)
	}
	// The named batch dimension defaults to 1.
	want := []int64{1, 3, 8, 8}
	if !reflect.DeepEqual(shape, want) {
		t.Errorf("InputShape = %v, want %v", shape, want)
	}

	if _, err := graph.InputShape("missing"); err == nil {
		t.Error("expected error for unknown input")
	}

	graph.Inputs[0].Type = nil
	if _, err := graph.InputShape("X"); err == nil {
		t.Error("expected error for input without declared shape")
	}
}

func TestScalarFloat(t *testing.T) {
	fromFloatData := &TensorProto{DataType: TensorProtoFloat, FloatData: []float32{6}}
	if v, ok := fromFloatData.ScalarFloat(); !ok || v != 6 {
		t.Errorf("ScalarFloat = (%v, %v), want (6, true)", v, ok)
	}

	fromRaw := &TensorProto{DataType: TensorProtoFloat, RawData: []byte{0, 0, 192, 64}}
	if v, ok := fromRaw.ScalarFloat(); !ok || v != 6 {
		t.Errorf("ScalarFloat = (%v, %v), want (6, true)", v, ok)
	}

	multi := &TensorProto{DataType: TensorProtoFloat, FloatData: []float32{1, 2}}
	if _, ok := multi.ScalarFloat(); ok {
		t.Error("ScalarFloat should reject multi-element tensors")
	}
}
