package onnx

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// Marshal encodes a model in the ONNX protobuf wire format.
//
// Modelled fields are written in declaration order followed by the raw
// Unknown bytes, so Parse(Marshal(m)) reproduces m and the output is a
// deterministic function of m.
func Marshal(m *ModelProto) []byte {
	e := &encoder{}
	e.writeModelProto(m)
	return e.buf
}

// MarshalAttribute encodes a single attribute. Two attributes encode to the
// same bytes exactly when every modelled and unmodelled field is equal.
func MarshalAttribute(a *AttributeProto) []byte {
	e := &encoder{}
	e.writeAttributeProto(a)
	return e.buf
}

// MarshalTensorValue encodes the type, shape and data of a tensor, leaving
// out its name and doc string. Equal encodings mean equal values; the same
// value stored in different fields encodes differently.
func MarshalTensorValue(t *TensorProto) []byte {
	v := *t
	v.Name, v.DocString = "", ""
	e := &encoder{}
	e.writeTensorProto(&v)
	return e.buf
}

// Write encodes a model to w.
func Write(w io.Writer, m *ModelProto) error {
	if _, err := w.Write(Marshal(m)); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	return nil
}

// WriteFile encodes a model to path, replacing any existing file.
func WriteFile(path string, m *ModelProto) error {
	if err := os.WriteFile(path, Marshal(m), 0o644); err != nil { //nolint:gosec // G306: models are not secret.
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Clone returns a deep copy of the model sharing no memory with m.
func (m *ModelProto) Clone() (*ModelProto, error) {
	return Parse(Marshal(m))
}

// encoder implements the protobuf wire format encoder matching parser.
type encoder struct {
	buf []byte
}

func (e *encoder) writeTag(fieldNum, wireType int) {
	e.writeVarint(uint64(fieldNum)<<3 | uint64(wireType)) //nolint:gosec // G115: field numbers are small and positive.
}

func (e *encoder) writeVarint(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

// int64 and int32 protobuf fields are both sign-extended to 64 bits.
func (e *encoder) varintField(fieldNum int, v int64) {
	e.writeTag(fieldNum, wireVarint)
	e.writeVarint(uint64(v)) //nolint:gosec // G115: two's complement is the wire encoding.
}

func (e *encoder) bytesField(fieldNum int, data []byte) {
	e.writeTag(fieldNum, wireBytes)
	e.writeVarint(uint64(len(data)))
	e.buf = append(e.buf, data...)
}

func (e *encoder) stringField(fieldNum int, s string) {
	e.writeTag(fieldNum, wireBytes)
	e.writeVarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// optionalString skips empty strings; proto2 readers default them to "".
func (e *encoder) optionalString(fieldNum int, s string) {
	if s != "" {
		e.stringField(fieldNum, s)
	}
}

func (e *encoder) float32Field(fieldNum int, f float32) {
	e.writeTag(fieldNum, wire32Bit)
	e.buf = binary.LittleEndian.AppendUint32(e.buf, math.Float32bits(f))
}

func (e *encoder) messageField(fieldNum int, write func(*encoder)) {
	sub := &encoder{}
	write(sub)
	e.bytesField(fieldNum, sub.buf)
}

func (e *encoder) packedVarints(fieldNum int, n int, at func(i int) int64) {
	if n == 0 {
		return
	}
	sub := &encoder{}
	for i := 0; i < n; i++ {
		sub.writeVarint(uint64(at(i))) //nolint:gosec // G115: two's complement is the wire encoding.
	}
	e.bytesField(fieldNum, sub.buf)
}

func (e *encoder) packedFloats(fieldNum int, values []float32) {
	if len(values) == 0 {
		return
	}
	data := make([]byte, 0, 4*len(values))
	for _, v := range values {
		data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
	}
	e.bytesField(fieldNum, data)
}

func (e *encoder) writeModelProto(m *ModelProto) {
	if m.IRVersion != 0 {
		e.varintField(1, m.IRVersion)
	}
	e.optionalString(2, m.ProducerName)
	e.optionalString(3, m.ProducerVersion)
	e.optionalString(4, m.Domain)
	if m.ModelVersion != 0 {
		e.varintField(5, m.ModelVersion)
	}
	e.optionalString(6, m.DocString)
	if m.Graph != nil {
		e.messageField(7, func(sub *encoder) { sub.writeGraphProto(m.Graph) })
	}
	for i := range m.OpsetImport {
		opset := &m.OpsetImport[i]
		e.messageField(8, func(sub *encoder) { sub.writeOperatorSetID(opset) })
	}
	for i := range m.MetadataProps {
		entry := &m.MetadataProps[i]
		e.messageField(14, func(sub *encoder) { sub.writeStringStringEntry(entry) })
	}
	e.buf = append(e.buf, m.Unknown...)
}

func (e *encoder) writeGraphProto(g *GraphProto) {
	for i := range g.Nodes {
		node := &g.Nodes[i]
		e.messageField(1, func(sub *encoder) { sub.writeNodeProto(node) })
	}
	e.optionalString(2, g.Name)
	for i := range g.Initializers {
		tensor := &g.Initializers[i]
		e.messageField(5, func(sub *encoder) { sub.writeTensorProto(tensor) })
	}
	e.optionalString(10, g.DocString)
	e.writeValueInfos(11, g.Inputs)
	e.writeValueInfos(12, g.Outputs)
	e.writeValueInfos(13, g.ValueInfo)
	e.buf = append(e.buf, g.Unknown...)
}

func (e *encoder) writeValueInfos(fieldNum int, infos []ValueInfoProto) {
	for i := range infos {
		vi := &infos[i]
		e.messageField(fieldNum, func(sub *encoder) { sub.writeValueInfoProto(vi) })
	}
}

func (e *encoder) writeNodeProto(n *NodeProto) {
	// Empty input names mark omitted optional inputs and must be kept.
	for _, in := range n.Inputs {
		e.stringField(1, in)
	}
	for _, out := range n.Outputs {
		e.stringField(2, out)
	}
	e.optionalString(3, n.Name)
	e.optionalString(4, n.OpType)
	for i := range n.Attributes {
		attr := &n.Attributes[i]
		e.messageField(5, func(sub *encoder) { sub.writeAttributeProto(attr) })
	}
	e.optionalString(6, n.DocString)
	e.optionalString(7, n.Domain)
	e.buf = append(e.buf, n.Unknown...)
}

func (e *encoder) writeTensorProto(t *TensorProto) {
	for _, d := range t.Dims {
		e.varintField(1, d)
	}
	if t.DataType != 0 {
		e.varintField(2, int64(t.DataType))
	}
	e.packedFloats(4, t.FloatData)
	e.packedVarints(5, len(t.Int32Data), func(i int) int64 { return int64(t.Int32Data[i]) })
	e.packedVarints(7, len(t.Int64Data), func(i int) int64 { return t.Int64Data[i] })
	e.optionalString(8, t.Name)
	if t.RawData != nil {
		e.bytesField(9, t.RawData)
	}
	e.optionalString(12, t.DocString)
	e.buf = append(e.buf, t.Unknown...)
}

func (e *encoder) writeValueInfoProto(vi *ValueInfoProto) {
	e.optionalString(1, vi.Name)
	if vi.Type != nil {
		e.messageField(2, func(sub *encoder) { sub.writeTypeProto(vi.Type) })
	}
	e.optionalString(3, vi.DocString)
	e.buf = append(e.buf, vi.Unknown...)
}

func (e *encoder) writeTypeProto(t *TypeProto) {
	if t.TensorType != nil {
		e.messageField(1, func(sub *encoder) { sub.writeTensorTypeProto(t.TensorType) })
	}
	e.optionalString(6, t.Denotation)
	e.buf = append(e.buf, t.Unknown...)
}

func (e *encoder) writeTensorTypeProto(t *TensorTypeProto) {
	if t.ElemType != 0 {
		e.varintField(1, int64(t.ElemType))
	}
	// A present but empty shape denotes a scalar, an absent one unknown rank.
	if t.Shape != nil {
		e.messageField(2, func(sub *encoder) { sub.writeTensorShapeProto(t.Shape) })
	}
	e.buf = append(e.buf, t.Unknown...)
}

func (e *encoder) writeTensorShapeProto(s *TensorShapeProto) {
	for i := range s.Dims {
		dim := &s.Dims[i]
		e.messageField(1, func(sub *encoder) { sub.writeDimensionProto(dim) })
	}
	e.buf = append(e.buf, s.Unknown...)
}

func (e *encoder) writeDimensionProto(d *DimensionProto) {
	switch {
	case d.HasValue:
		e.varintField(1, d.DimValue)
	case d.DimParam != "":
		e.stringField(2, d.DimParam)
	}
	e.buf = append(e.buf, d.Unknown...)
}

func (e *encoder) writeAttributeProto(a *AttributeProto) {
	e.optionalString(1, a.Name)
	if a.Type == AttributeProtoFloat || a.F != 0 {
		e.float32Field(2, a.F)
	}
	if a.Type == AttributeProtoInt || a.I != 0 {
		e.varintField(3, a.I)
	}
	if a.Type == AttributeProtoString || a.S != nil {
		e.bytesField(4, a.S)
	}
	for _, f := range a.Floats {
		e.float32Field(7, f)
	}
	for _, i := range a.Ints {
		e.varintField(8, i)
	}
	for _, s := range a.Strings {
		e.bytesField(9, s)
	}
	e.optionalString(13, a.DocString)
	if a.Type != 0 {
		e.varintField(20, int64(a.Type))
	}
	e.buf = append(e.buf, a.Unknown...)
}

func (e *encoder) writeOperatorSetID(o *OperatorSetID) {
	e.optionalString(1, o.Domain)
	if o.Version != 0 {
		e.varintField(2, o.Version)
	}
	e.buf = append(e.buf, o.Unknown...)
}

func (e *encoder) writeStringStringEntry(s *StringStringEntry) {
	e.optionalString(1, s.Key)
	e.optionalString(2, s.Value)
	e.buf = append(e.buf, s.Unknown...)
}
