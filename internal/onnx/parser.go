package onnx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// ParseFile parses an ONNX model from a file.
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path) //nolint:gosec // model path is user-provided by design
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse parses an ONNX model from bytes.
func Parse(data []byte) (*ModelProto, error) {
	model := &ModelProto{}
	if err := (&parser{data: data}).readModel(model); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return model, nil
}

// ParseTensor parses a standalone serialized TensorProto (the format used by
// calibration tensor files).
func ParseTensor(data []byte) (*TensorProto, error) {
	t := &TensorProto{}
	if err := (&parser{data: data}).readTensor(t); err != nil {
		return nil, fmt.Errorf("failed to parse tensor: %w", err)
	}
	return t, nil
}

// parser implements a minimal protobuf wire format decoder.
type parser struct {
	data []byte
	pos  int
}

// Protobuf wire types.
const (
	wireVarint = 0 // int32, int64, bool, enum
	wire64Bit  = 1 // fixed64, double
	wireBytes  = 2 // string, bytes, embedded messages, packed repeated fields
	wire32Bit  = 5 // fixed32, float
)

// readSub reads a length-delimited embedded message and decodes it with fn.
func (p *parser) readSub(fn func(*parser) error) error {
	data, err := p.readBytes()
	if err != nil {
		return err
	}
	return fn(&parser{data: data})
}

// readString reads a length-delimited string field.
func (p *parser) readString(dst *string) error {
	data, err := p.readBytes()
	if err != nil {
		return err
	}
	*dst = string(data)
	return nil
}

// readPackedVarints reads a packed repeated varint field.
func (p *parser) readPackedVarints() ([]int64, error) {
	data, err := p.readBytes()
	if err != nil {
		return nil, err
	}
	sub := &parser{data: data}
	var out []int64
	for sub.pos < len(sub.data) {
		v, err := sub.readVarint()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// readPackedFloats reads a packed repeated float field.
func (p *parser) readPackedFloats() ([]float32, error) {
	data, err := p.readBytes()
	if err != nil {
		return nil, err
	}
	out := make([]float32, 0, len(data)/4)
	for i := 0; i+4 <= len(data); i += 4 {
		out = append(out, math.Float32frombits(binary.LittleEndian.Uint32(data[i:])))
	}
	return out, nil
}

//nolint:gocyclo,cyclop // protobuf decoding is a field-number switch by nature
func (p *parser) readModel(m *ModelProto) error {
	for p.pos < len(p.data) {
		fieldNum, wireType, err := p.readTag()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		switch fieldNum {
		case 1: // ir_version
			m.IRVersion, err = p.readVarint()
		case 2: // producer_name
			err = p.readString(&m.ProducerName)
		case 3: // producer_version
			err = p.readString(&m.ProducerVersion)
		case 4: // domain
			err = p.readString(&m.Domain)
		case 5: // model_version
			m.ModelVersion, err = p.readVarint()
		case 6: // doc_string
			err = p.readString(&m.DocString)
		case 7: // graph
			m.Graph = &GraphProto{}
			err = p.readSub(func(sub *parser) error { return sub.readGraph(m.Graph) })
		case 8: // opset_import
			opset := OperatorSetID{}
			err = p.readSub(func(sub *parser) error { return sub.readOperatorSetID(&opset) })
			m.OpsetImport = append(m.OpsetImport, opset)
		case 14: // metadata_props
			entry := StringStringEntry{}
			err = p.readSub(func(sub *parser) error { return sub.readStringStringEntry(&entry) })
			m.MetadataProps = append(m.MetadataProps, entry)
		default:
			err = p.skipField(wireType)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) readGraph(m *GraphProto) error {
	for p.pos < len(p.data) {
		fieldNum, wireType, err := p.readTag()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		switch fieldNum {
		case 1: // node
			node := NodeProto{}
			err = p.readSub(func(sub *parser) error { return sub.readNode(&node) })
			m.Nodes = append(m.Nodes, node)
		case 2: // name
			err = p.readString(&m.Name)
		case 5: // initializer
			t := TensorProto{}
			err = p.readSub(func(sub *parser) error { return sub.readTensor(&t) })
			m.Initializers = append(m.Initializers, t)
		case 10: // doc_string
			err = p.readString(&m.DocString)
		case 11: // input
			vi := ValueInfoProto{}
			err = p.readSub(func(sub *parser) error { return sub.readValueInfo(&vi) })
			m.Inputs = append(m.Inputs, vi)
		case 12: // output
			vi := ValueInfoProto{}
			err = p.readSub(func(sub *parser) error { return sub.readValueInfo(&vi) })
			m.Outputs = append(m.Outputs, vi)
		default:
			err = p.skipField(wireType)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) readNode(m *NodeProto) error {
	for p.pos < len(p.data) {
		fieldNum, wireType, err := p.readTag()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		switch fieldNum {
		case 1: // input
			var s string
			err = p.readString(&s)
			m.Inputs = append(m.Inputs, s)
		case 2: // output
			var s string
			err = p.readString(&s)
			m.Outputs = append(m.Outputs, s)
		case 3: // name
			err = p.readString(&m.Name)
		case 4: // op_type
			err = p.readString(&m.OpType)
		case 5: // attribute
			attr := AttributeProto{}
			err = p.readSub(func(sub *parser) error { return sub.readAttribute(&attr) })
			m.Attributes = append(m.Attributes, attr)
		case 7: // domain
			err = p.readString(&m.Domain)
		default:
			err = p.skipField(wireType)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

//nolint:gocyclo,cyclop // protobuf decoding is a field-number switch by nature
func (p *parser) readTensor(m *TensorProto) error {
	for p.pos < len(p.data) {
		fieldNum, wireType, err := p.readTag()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		switch fieldNum {
		case 1: // dims (repeated int64, packed or not)
			if wireType == wireBytes {
				var dims []int64
				dims, err = p.readPackedVarints()
				m.Dims = append(m.Dims, dims...)
			} else {
				var v int64
				v, err = p.readVarint()
				m.Dims = append(m.Dims, v)
			}
		case 2: // data_type
			var v int64
			v, err = p.readVarint()
			m.DataType = int32(v) //nolint:gosec // ONNX data type enum fits in int32
		case 4: // float_data (packed)
			var fs []float32
			fs, err = p.readPackedFloats()
			m.FloatData = append(m.FloatData, fs...)
		case 5: // int32_data (packed)
			var vs []int64
			vs, err = p.readPackedVarints()
			for _, v := range vs {
				m.Int32Data = append(m.Int32Data, int32(v)) //nolint:gosec // ONNX varint fits in int32
			}
		case 7: // int64_data (packed)
			var vs []int64
			vs, err = p.readPackedVarints()
			m.Int64Data = append(m.Int64Data, vs...)
		case 8: // name
			err = p.readString(&m.Name)
		case 9: // raw_data
			m.RawData, err = p.readBytes()
		default:
			err = p.skipField(wireType)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) readValueInfo(m *ValueInfoProto) error {
	for p.pos < len(p.data) {
		fieldNum, wireType, err := p.readTag()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		switch fieldNum {
		case 1: // name
			err = p.readString(&m.Name)
		case 2: // type
			m.Type = &TypeProto{}
			err = p.readSub(func(sub *parser) error { return sub.readType(m.Type) })
		default:
			err = p.skipField(wireType)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) readType(m *TypeProto) error {
	for p.pos < len(p.data) {
		fieldNum, wireType, err := p.readTag()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		switch fieldNum {
		case 1: // tensor_type
			m.TensorType = &TensorTypeProto{}
			err = p.readSub(func(sub *parser) error { return sub.readTensorType(m.TensorType) })
		default:
			err = p.skipField(wireType)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) readTensorType(m *TensorTypeProto) error {
	for p.pos < len(p.data) {
		fieldNum, wireType, err := p.readTag()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		switch fieldNum {
		case 1: // elem_type
			var v int64
			v, err = p.readVarint()
			m.ElemType = int32(v) //nolint:gosec // ONNX elem type enum fits in int32
		case 2: // shape
			m.Shape = &TensorShapeProto{}
			err = p.readSub(func(sub *parser) error { return sub.readTensorShape(m.Shape) })
		default:
			err = p.skipField(wireType)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) readTensorShape(m *TensorShapeProto) error {
	for p.pos < len(p.data) {
		fieldNum, wireType, err := p.readTag()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		switch fieldNum {
		case 1: // dim
			dim := DimensionProto{}
			err = p.readSub(func(sub *parser) error { return sub.readDimension(&dim) })
			m.Dims = append(m.Dims, dim)
		default:
			err = p.skipField(wireType)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) readDimension(m *DimensionProto) error {
	for p.pos < len(p.data) {
		fieldNum, wireType, err := p.readTag()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		switch fieldNum {
		case 1: // dim_value
			m.DimValue, err = p.readVarint()
		case 2: // dim_param
			err = p.readString(&m.DimParam)
		default:
			err = p.skipField(wireType)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

//nolint:gocyclo,cyclop // protobuf decoding is a field-number switch by nature
func (p *parser) readAttribute(m *AttributeProto) error {
	for p.pos < len(p.data) {
		fieldNum, wireType, err := p.readTag()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		switch fieldNum {
		case 1: // name
			err = p.readString(&m.Name)
		case 2: // f (float)
			m.F, err = p.readFloat32()
		case 3: // i (int)
			m.I, err = p.readVarint()
		case 4: // s (bytes)
			m.S, err = p.readBytes()
		case 6: // floats (packed)
			var fs []float32
			fs, err = p.readPackedFloats()
			m.Floats = append(m.Floats, fs...)
		case 7: // ints (packed)
			var vs []int64
			vs, err = p.readPackedVarints()
			m.Ints = append(m.Ints, vs...)
		case 8: // strings
			var data []byte
			data, err = p.readBytes()
			m.Strings = append(m.Strings, data)
		case 20: // type
			var v int64
			v, err = p.readVarint()
			m.Type = int32(v) //nolint:gosec // ONNX attribute type enum fits in int32
		default:
			err = p.skipField(wireType)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) readOperatorSetID(m *OperatorSetID) error {
	for p.pos < len(p.data) {
		fieldNum, wireType, err := p.readTag()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		switch fieldNum {
		case 1: // domain
			err = p.readString(&m.Domain)
		case 2: // version
			m.Version, err = p.readVarint()
		default:
			err = p.skipField(wireType)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) readStringStringEntry(m *StringStringEntry) error {
	for p.pos < len(p.data) {
		fieldNum, wireType, err := p.readTag()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		switch fieldNum {
		case 1: // key
			err = p.readString(&m.Key)
		case 2: // value
			err = p.readString(&m.Value)
		default:
			err = p.skipField(wireType)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readTag reads a protobuf field tag.
func (p *parser) readTag() (fieldNum, wireType int, err error) {
	if p.pos >= len(p.data) {
		return 0, 0, io.EOF
	}
	tag, err := p.readVarint()
	if err != nil {
		return 0, 0, err
	}
	fieldNum = int(tag >> 3)
	wireType = int(tag & 0x7)
	return fieldNum, wireType, nil
}

// readVarint reads a varint-encoded int64.
func (p *parser) readVarint() (int64, error) {
	var result uint64
	var shift uint
	for {
		if p.pos >= len(p.data) {
			return 0, io.EOF
		}
		b := p.data[p.pos]
		p.pos++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift >= 64 {
			return 0, errors.New("varint overflow")
		}
	}
	return int64(result), nil //nolint:gosec // protobuf varint fits in int64
}

// readBytes reads a length-delimited byte slice.
func (p *parser) readBytes() ([]byte, error) {
	length, err := p.readVarint()
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, errors.New("negative length")
	}
	end := p.pos + int(length)
	if end > len(p.data) {
		return nil, io.ErrUnexpectedEOF
	}
	result := p.data[p.pos:end]
	p.pos = end
	return result, nil
}

// readFloat32 reads a 32-bit float.
func (p *parser) readFloat32() (float32, error) {
	if p.pos+4 > len(p.data) {
		return 0, io.ErrUnexpectedEOF
	}
	bits := binary.LittleEndian.Uint32(p.data[p.pos:])
	p.pos += 4
	return math.Float32frombits(bits), nil
}

// skipField skips a field based on wire type.
func (p *parser) skipField(wireType int) error {
	switch wireType {
	case wireVarint:
		_, err := p.readVarint()
		return err
	case wire64Bit:
		if p.pos+8 > len(p.data) {
			return io.ErrUnexpectedEOF
		}
		p.pos += 8
		return nil
	case wireBytes:
		_, err := p.readBytes()
		return err
	case wire32Bit:
		if p.pos+4 > len(p.data) {
			return io.ErrUnexpectedEOF
		}
		p.pos += 4
		return nil
	default:
		return fmt.Errorf("unknown wire type: %d", wireType)
	}
}
