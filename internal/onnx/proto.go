package onnx

// ONNX protobuf data structures (hand-written, no protoc dependency).

// ModelProto represents an ONNX model.
type ModelProto struct {
	IRVersion       int64               // IR version (e.g., 7, 8, 9)
	OpsetImport     []OperatorSetID     // Opset version(s)
	ProducerName    string              // Framework name (e.g., "pytorch", "tf")
	ProducerVersion string              // Framework version
	Domain          string              // Model domain
	ModelVersion    int64               // Model version number
	DocString       string              // Model description
	Graph           *GraphProto         // Computation graph
	MetadataProps   []StringStringEntry // Key-value metadata
}

// GraphProto represents the computation graph.
type GraphProto struct {
	Name         string           // Graph name
	Nodes        []NodeProto      // Operation nodes
	Inputs       []ValueInfoProto // Graph inputs
	Outputs      []ValueInfoProto // Graph outputs
	Initializers []TensorProto    // Weight tensors
	DocString    string           // Graph description
}

// NodeProto represents a single operation.
type NodeProto struct {
	Name       string           // Node name (optional)
	OpType     string           // Operation type (e.g., "Conv", "MatMul", "Relu")
	Inputs     []string         // Input tensor names
	Outputs    []string         // Output tensor names
	Attributes []AttributeProto // Operation attributes
	Domain     string           // Custom domain (empty for default)
}

// TensorProto represents a tensor (weights/initializers).
type TensorProto struct {
	Name      string    // Tensor name
	DataType  int32     // Element data type
	Dims      []int64   // Tensor shape
	RawData   []byte    // Raw binary data (most common)
	FloatData []float32 // Float32 data (legacy)
	Int32Data []int32   // Int32 data (legacy)
	Int64Data []int64   // Int64 data (legacy)
}

// ValueInfoProto describes input/output tensor specifications.
type ValueInfoProto struct {
	Name string     // Tensor name
	Type *TypeProto // Tensor type information
}

// TypeProto describes tensor type.
type TypeProto struct {
	TensorType *TensorTypeProto
}

// TensorTypeProto describes tensor shape and element type.
type TensorTypeProto struct {
	ElemType int32
	Shape    *TensorShapeProto
}

// TensorShapeProto describes tensor dimensions.
type TensorShapeProto struct {
	Dims []DimensionProto
}

// DimensionProto describes a single dimension. Exactly one of DimValue or
// DimParam is meaningful; a named dimension is dynamic (e.g., "batch_size").
type DimensionProto struct {
	DimValue int64
	DimParam string
}

// AttributeProto represents node attributes.
type AttributeProto struct {
	Name    string    // Attribute name
	Type    int32     // Attribute type
	F       float32   // FLOAT value
	I       int64     // INT value
	S       []byte    // STRING value
	Floats  []float32 // FLOATS array
	Ints    []int64   // INTS array
	Strings [][]byte  // STRINGS array
}

// OperatorSetID identifies opset version.
type OperatorSetID struct {
	Domain  string // Operator domain (empty for default)
	Version int64  // Opset version number
}

// StringStringEntry represents key-value metadata.
type StringStringEntry struct {
	Key   string
	Value string
}

// ONNX data types (TensorProto.DataType).
const (
	TensorProtoUndefined = 0
	TensorProtoFloat     = 1  // float32
	TensorProtoUint8     = 2  // uint8
	TensorProtoInt8      = 3  // int8
	TensorProtoUint16    = 4  // uint16
	TensorProtoInt16     = 5  // int16
	TensorProtoInt32     = 6  // int32
	TensorProtoInt64     = 7  // int64
	TensorProtoString    = 8  // string
	TensorProtoBool      = 9  // bool
	TensorProtoFloat16   = 10 // float16
	TensorProtoDouble    = 11 // float64
	TensorProtoUint32    = 12 // uint32
	TensorProtoUint64    = 13 // uint64
)

// ONNX attribute types (AttributeProto.Type).
const (
	AttributeProtoUndefined = 0
	AttributeProtoFloat     = 1
	AttributeProtoInt       = 2
	AttributeProtoString    = 3
	AttributeProtoTensor    = 4
	AttributeProtoGraph     = 5
	AttributeProtoFloats    = 6
	AttributeProtoInts      = 7
	AttributeProtoStrings   = 8
)

// FloatAttr returns the float attribute with the given name, or (def, false)
// when absent.
func (n *NodeProto) FloatAttr(name string, def float32) (float32, bool) {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return n.Attributes[i].F, true
		}
	}
	return def, false
}

// IntAttr returns the int attribute with the given name, or def when absent.
func (n *NodeProto) IntAttr(name string, def int64) int64 {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return n.Attributes[i].I
		}
	}
	return def
}

// IntsAttr returns the int-array attribute with the given name, or nil.
func (n *NodeProto) IntsAttr(name string) []int64 {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return n.Attributes[i].Ints
		}
	}
	return nil
}
