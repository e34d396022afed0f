package onnx_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tpat/internal/onnx"
	"github.com/born-ml/tpat/internal/onnx/onnxtest"
)

func TestMarshalRoundTrip(t *testing.T) {
	model := onnxtest.ReduceChain()
	model.MetadataProps = []onnx.StringStringEntry{{Key: "author", Value: "tests"}}
	model.Graph.Nodes[0].DocString = "first"

	data := onnx.Marshal(model)
	parsed, err := onnx.Parse(data)
	require.NoError(t, err)

	if diff := cmp.Diff(model, parsed, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, data, onnx.Marshal(parsed), "marshal must be deterministic")
}

func TestMarshalKeepsUnknownFields(t *testing.T) {
	model := onnxtest.ReduceChain()
	// functions (field 25) and a node overload (field 8), neither modelled.
	model.Unknown = []byte{0xca, 0x01, 0x02, 'f', 'n'}
	model.Graph.Nodes[1].Unknown = []byte{0x42, 0x02, 'v', '2'}

	parsed, err := onnx.Parse(onnx.Marshal(model))
	require.NoError(t, err)
	assert.Equal(t, model.Unknown, parsed.Unknown)
	assert.Equal(t, model.Graph.Nodes[1].Unknown, parsed.Graph.Nodes[1].Unknown)
}

func TestMarshalZeroValues(t *testing.T) {
	model := onnxtest.Model(&onnx.GraphProto{
		Nodes: []onnx.NodeProto{
			onnxtest.Node("n", "ReduceMax", []string{"x", ""}, []string{"y"},
				onnxtest.Int("keepdims", 0), onnxtest.Float("alpha", 0)),
		},
		Inputs: []onnx.ValueInfoProto{onnxtest.Float32("x", 0, 4)},
	})

	parsed, err := onnx.Parse(onnx.Marshal(model))
	require.NoError(t, err)

	node := parsed.Graph.Nodes[0]
	assert.Equal(t, []string{"x", ""}, node.Inputs, "empty optional input must survive")
	require.Len(t, node.Attributes, 2)
	assert.Equal(t, int32(onnx.AttributeProtoInt), node.Attributes[0].Type)
	assert.Equal(t, int64(0), node.Attributes[0].I)

	dims := parsed.Graph.Inputs[0].Type.TensorType.Shape.Dims
	require.Len(t, dims, 2)
	assert.True(t, dims[0].HasValue, "explicit zero dimension must stay a value")
	assert.Equal(t, int64(0), dims[0].DimValue)
}

func TestMarshalScalarShape(t *testing.T) {
	vi := onnx.ValueInfoProto{
		Name: "s",
		Type: &onnx.TypeProto{TensorType: &onnx.TensorTypeProto{
			ElemType: onnx.TensorProtoFloat,
			Shape:    &onnx.TensorShapeProto{},
		}},
	}
	model := onnxtest.Model(&onnx.GraphProto{Inputs: []onnx.ValueInfoProto{vi}})

	parsed, err := onnx.Parse(onnx.Marshal(model))
	require.NoError(t, err)
	assert.NotNil(t, parsed.Graph.Inputs[0].Type.TensorType.Shape, "scalar shape must not become unknown rank")
}

func TestMarshalAttributeIgnoresNothing(t *testing.T) {
	a := onnxtest.Ints("axes", 1)
	b := onnxtest.Ints("axes", 1)
	assert.Equal(t, onnx.MarshalAttribute(&a), onnx.MarshalAttribute(&b))

	b.Unknown = []byte{0x2a, 0x00} // empty tensor value t
	assert.NotEqual(t, onnx.MarshalAttribute(&a), onnx.MarshalAttribute(&b))
}

func TestClone(t *testing.T) {
	model := onnxtest.ReduceChain()
	clone, err := model.Clone()
	require.NoError(t, err)

	clone.Graph.Nodes[0].OpType = "Changed"
	clone.Graph.Initializers[0].RawData[0] = 0xff
	assert.Equal(t, "Relu", model.Graph.Nodes[0].OpType)
	assert.Equal(t, byte(0), model.Graph.Initializers[0].RawData[0])
}

func TestWriteFile(t *testing.T) {
	model := onnxtest.ReduceChain()
	path := filepath.Join(t.TempDir(), "out.onnx")

	require.NoError(t, onnx.WriteFile(path, model))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, onnx.Marshal(model), data)

	parsed, err := onnx.ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, parsed.Graph.Nodes, len(model.Graph.Nodes))
}

func TestWriteAndParseReader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, onnx.Write(&buf, onnxtest.ReduceChain()))

	parsed, err := onnx.ParseReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, "reduce_chain", parsed.Graph.Name)
}
