package onnx

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// WriteFile serializes a model to the protobuf wire format and writes it to
// path. Used to persist augmented models as an intermediate artifact.
func WriteFile(path string, model *ModelProto) error {
	if err := os.WriteFile(path, Marshal(model), 0o644); err != nil { //nolint:gosec // model artifact, not a secret
		return fmt.Errorf("failed to write model: %w", err)
	}
	return nil
}

// Marshal serializes a model to the protobuf wire format.
func Marshal(model *ModelProto) []byte {
	e := &encoder{}
	e.writeModel(model)
	return e.buf
}

// MarshalTensor serializes a standalone TensorProto (calibration tensor file
// format).
func MarshalTensor(t *TensorProto) []byte {
	e := &encoder{}
	e.writeTensor(t)
	return e.buf
}

// encoder implements a minimal protobuf wire format encoder. Field numbers
// mirror the decoder in parser.go.
type encoder struct {
	buf []byte
}

func (e *encoder) writeModel(m *ModelProto) {
	if m.IRVersion != 0 {
		e.varintField(1, m.IRVersion)
	}
	e.stringField(2, m.ProducerName)
	e.stringField(3, m.ProducerVersion)
	e.stringField(4, m.Domain)
	if m.ModelVersion != 0 {
		e.varintField(5, m.ModelVersion)
	}
	e.stringField(6, m.DocString)
	if m.Graph != nil {
		e.messageField(7, func(sub *encoder) { sub.writeGraph(m.Graph) })
	}
	for i := range m.OpsetImport {
		opset := &m.OpsetImport[i]
		e.messageField(8, func(sub *encoder) {
			sub.stringField(1, opset.Domain)
			sub.varintField(2, opset.Version)
		})
	}
	for i := range m.MetadataProps {
		prop := &m.MetadataProps[i]
		e.messageField(14, func(sub *encoder) {
			sub.stringField(1, prop.Key)
			sub.stringField(2, prop.Value)
		})
	}
}

func (e *encoder) writeGraph(g *GraphProto) {
	for i := range g.Nodes {
		node := &g.Nodes[i]
		e.messageField(1, func(sub *encoder) { sub.writeNode(node) })
	}
	e.stringField(2, g.Name)
	for i := range g.Initializers {
		t := &g.Initializers[i]
		e.messageField(5, func(sub *encoder) { sub.writeTensor(t) })
	}
	e.stringField(10, g.DocString)
	for i := range g.Inputs {
		vi := &g.Inputs[i]
		e.messageField(11, func(sub *encoder) { sub.writeValueInfo(vi) })
	}
	for i := range g.Outputs {
		vi := &g.Outputs[i]
		e.messageField(12, func(sub *encoder) { sub.writeValueInfo(vi) })
	}
}

func (e *encoder) writeNode(n *NodeProto) {
	for _, in := range n.Inputs {
		e.stringField(1, in)
	}
	for _, out := range n.Outputs {
		e.stringField(2, out)
	}
	e.stringField(3, n.Name)
	e.stringField(4, n.OpType)
	for i := range n.Attributes {
		attr := &n.Attributes[i]
		e.messageField(5, func(sub *encoder) { sub.writeAttribute(attr) })
	}
	e.stringField(7, n.Domain)
}

func (e *encoder) writeTensor(t *TensorProto) {
	for _, dim := range t.Dims {
		e.varintField(1, dim)
	}
	if t.DataType != 0 {
		e.varintField(2, int64(t.DataType))
	}
	if len(t.FloatData) > 0 {
		e.tag(4, wireBytes)
		e.bytes(packFloats(t.FloatData))
	}
	if len(t.Int32Data) > 0 {
		e.tag(5, wireBytes)
		sub := &encoder{}
		for _, v := range t.Int32Data {
			sub.varint(int64(v))
		}
		e.bytes(sub.buf)
	}
	if len(t.Int64Data) > 0 {
		e.tag(7, wireBytes)
		sub := &encoder{}
		for _, v := range t.Int64Data {
			sub.varint(v)
		}
		e.bytes(sub.buf)
	}
	e.stringField(8, t.Name)
	if len(t.RawData) > 0 {
		e.tag(9, wireBytes)
		e.bytes(t.RawData)
	}
}

func (e *encoder) writeValueInfo(vi *ValueInfoProto) {
	e.stringField(1, vi.Name)
	if vi.Type == nil {
		return
	}
	e.messageField(2, func(typ *encoder) {
		if vi.Type.TensorType == nil {
			return
		}
		typ.messageField(1, func(tt *encoder) {
			tensorType := vi.Type.TensorType
			if tensorType.ElemType != 0 {
				tt.varintField(1, int64(tensorType.ElemType))
			}
			if tensorType.Shape == nil {
				return
			}
			tt.messageField(2, func(shape *encoder) {
				for i := range tensorType.Shape.Dims {
					dim := &tensorType.Shape.Dims[i]
					shape.messageField(1, func(d *encoder) {
						if dim.DimParam != "" {
							d.stringField(2, dim.DimParam)
						} else {
							d.varintField(1, dim.DimValue)
						}
					})
				}
			})
		})
	})
}

func (e *encoder) writeAttribute(a *AttributeProto) {
	e.stringField(1, a.Name)
	switch a.Type {
	case AttributeProtoFloat:
		e.tag(2, wire32Bit)
		e.float32(a.F)
	case AttributeProtoInt:
		e.varintField(3, a.I)
	case AttributeProtoString:
		e.tag(4, wireBytes)
		e.bytes(a.S)
	case AttributeProtoFloats:
		e.tag(6, wireBytes)
		e.bytes(packFloats(a.Floats))
	case AttributeProtoInts:
		e.tag(7, wireBytes)
		sub := &encoder{}
		for _, v := range a.Ints {
			sub.varint(v)
		}
		e.bytes(sub.buf)
	case AttributeProtoStrings:
		for _, s := range a.Strings {
			e.tag(8, wireBytes)
			e.bytes(s)
		}
	}
	if a.Type != 0 {
		e.varintField(20, int64(a.Type))
	}
}

// --- wire primitives ---

func (e *encoder) tag(fieldNum, wireType int) {
	e.varint(int64(fieldNum<<3 | wireType))
}

func (e *encoder) varint(v int64) {
	u := uint64(v) //nolint:gosec // two's complement varint per protobuf spec
	for u >= 0x80 {
		e.buf = append(e.buf, byte(u)|0x80)
		u >>= 7
	}
	e.buf = append(e.buf, byte(u))
}

func (e *encoder) bytes(data []byte) {
	e.varint(int64(len(data)))
	e.buf = append(e.buf, data...)
}

func (e *encoder) float32(f float32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
	e.buf = append(e.buf, b[:]...)
}

// varintField writes a tagged varint field.
func (e *encoder) varintField(fieldNum int, v int64) {
	e.tag(fieldNum, wireVarint)
	e.varint(v)
}

// stringField writes a tagged string field, omitting empty strings.
func (e *encoder) stringField(fieldNum int, s string) {
	if s == "" {
		return
	}
	e.tag(fieldNum, wireBytes)
	e.bytes([]byte(s))
}

// messageField writes a tagged embedded message produced by fn.
func (e *encoder) messageField(fieldNum int, fn func(*encoder)) {
	sub := &encoder{}
	fn(sub)
	e.tag(fieldNum, wireBytes)
	e.bytes(sub.buf)
}

func packFloats(fs []float32) []byte {
	out := make([]byte, len(fs)*4)
	for i, f := range fs {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}
