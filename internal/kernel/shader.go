package kernel

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/born-ml/tpat/internal/onnx"
	"github.com/born-ml/tpat/internal/onnx/operators"
)

// ShaderBuilder emits WGSL compute shaders for element-wise operators and
// reductions over float32 tensors.
type ShaderBuilder struct {
	opts Options
}

// NewShaderBuilder creates a shader builder.
func NewShaderBuilder(opts Options) (*ShaderBuilder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &ShaderBuilder{opts: opts}, nil
}

// unaryExprs maps operators to a WGSL expression of x. Attribute
// placeholders are substituted by unaryExpr.
var unaryExprs = map[string]string{
	"Abs":        "abs(x)",
	"Cos":        "cos(x)",
	"Exp":        "exp(x)",
	"Log":        "log(x)",
	"Neg":        "-x",
	"Reciprocal": "1.0 / x",
	"Relu":       "max(0.0, x)",
	"Sigmoid":    "1.0 / (1.0 + exp(-x))",
	"Sin":        "sin(x)",
	"Sqrt":       "sqrt(x)",
	"Tanh":       "tanh(x)",
}

// binaryExprs maps operators to a WGSL expression of x and y.
var binaryExprs = map[string]string{
	"Add": "x + y",
	"Sub": "x - y",
	"Mul": "x * y",
	"Div": "x / y",
	"Pow": "pow(x, y)",
	"Max": "max(x, y)",
	"Min": "min(x, y)",
}

// reductions maps reduce operators to their fold and final expressions.
var reductions = map[string][2]string{
	"ReduceMax":  {"max(acc, v)", "acc"},
	"ReduceMin":  {"min(acc, v)", "acc"},
	"ReduceSum":  {"acc + v", "acc"},
	"ReduceMean": {"acc + v", "acc / f32(REDUCE)"},
}

// Build implements Builder.
func (b *ShaderBuilder) Build(ctx context.Context, g *onnx.Graph, node *onnx.NodeProto, plugin string) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if node.Domain != "" && node.Domain != "ai.onnx" {
		return nil, fmt.Errorf("%w: operator domain %q", ErrUnsupported, node.Domain)
	}

	var (
		tmpl   *template.Template
		data   shaderData
		params []string
		inputs []onnx.TensorSignature
		err    error
	)
	data.Plugin = plugin
	data.WorkgroupSize = workgroupSize

	switch {
	case unaryExprs[node.OpType] != "" || node.OpType == "LeakyRelu" || node.OpType == "Elu" || node.OpType == "HardSigmoid" || node.OpType == "Gelu":
		if inputs, err = b.floatInputs(g, node, 1); err != nil {
			return nil, err
		}
		if data.Expr, err = unaryExpr(node); err != nil {
			return nil, err
		}
		tmpl, params = unaryShader, []string{"size"}
	case binaryExprs[node.OpType] != "":
		if inputs, err = b.floatInputs(g, node, 2); err != nil {
			return nil, err
		}
		if !sameShape(inputs[0], inputs[1]) {
			return nil, fmt.Errorf("%w: %s with broadcasting (%s vs %s)", ErrUnsupported, node.OpType, inputs[0], inputs[1])
		}
		data.Expr = binaryExprs[node.OpType]
		tmpl, params = binaryShader, []string{"size"}
	case reductions[node.OpType] != [2]string{}:
		if inputs, err = b.floatInputs(g, node, 1); err != nil {
			return nil, err
		}
		axes, err := reduceAxes(g, node, len(inputs[0].Dims))
		if err != nil {
			return nil, err
		}
		if data.Reduce, data.Inner, err = b.reduceExtent(inputs[0], axes); err != nil {
			return nil, err
		}
		data.Combine, data.Finalize = reductions[node.OpType][0], reductions[node.OpType][1]
		tmpl, params = reduceShader, []string{"outer"}
	default:
		return nil, fmt.Errorf("%w: operator %s", ErrUnsupported, node.OpType)
	}

	data.Summary = summary(node, inputs)
	var src bytes.Buffer
	if err := tmpl.Execute(&src, data); err != nil {
		return nil, fmt.Errorf("render %s shader: %w", node.OpType, err)
	}

	art := &Artifact{
		Plugin:     plugin,
		OpType:     node.OpType,
		Language:   "wgsl",
		EntryPoint: "main",
		Source:     src.Bytes(),
		Params:     params,
		Batch:      b.opts,
	}
	for _, in := range inputs {
		art.Inputs = append(art.Inputs, in.String())
	}
	for _, out := range node.Outputs {
		sig, ok := g.Signature(out)
		if !ok {
			art.Outputs = append(art.Outputs, "unknown")
			continue
		}
		art.Outputs = append(art.Outputs, sig.String())
	}
	return art, nil
}

// floatInputs resolves the first n inputs, which must be float32 tensors
// whose shape the build can specialise on.
func (b *ShaderBuilder) floatInputs(g *onnx.Graph, node *onnx.NodeProto, n int) ([]onnx.TensorSignature, error) {
	if len(node.Inputs) < n {
		return nil, fmt.Errorf("%s expects %d inputs, got %d", node.OpType, n, len(node.Inputs))
	}
	sigs := make([]onnx.TensorSignature, n)
	for i := 0; i < n; i++ {
		sig, ok := g.Signature(node.Inputs[i])
		if !ok {
			return nil, fmt.Errorf("input %q has no declared type", node.Inputs[i])
		}
		if sig.ElemType != onnx.TensorProtoFloat {
			return nil, fmt.Errorf("%w: input %q is %s, only float32 is supported",
				ErrUnsupported, node.Inputs[i], onnx.DataTypeName(sig.ElemType))
		}
		if err := b.checkShape(node.Inputs[i], sig); err != nil {
			return nil, err
		}
		sigs[i] = sig
	}
	return sigs, nil
}

// checkShape requires a static shape, or with a dynamic batch a shape whose
// only symbolic dimension is the leading one.
func (b *ShaderBuilder) checkShape(name string, sig onnx.TensorSignature) error {
	if sig.Static() {
		return nil
	}
	if b.opts.DynamicBatch && sig.Complete() && len(sig.Dims) > 0 {
		rest := onnx.TensorSignature{ElemType: sig.ElemType, RankKnown: true, Dims: sig.Dims[1:]}
		if rest.Static() {
			return nil
		}
	}
	return fmt.Errorf("%w: input %q has dynamic shape %s", ErrUnsupported, name, sig)
}

func sameShape(a, b onnx.TensorSignature) bool {
	if a.ElemType != b.ElemType || len(a.Dims) != len(b.Dims) {
		return false
	}
	for i := range a.Dims {
		if a.Dims[i].HasValue != b.Dims[i].HasValue ||
			a.Dims[i].DimValue != b.Dims[i].DimValue ||
			a.Dims[i].DimParam != b.Dims[i].DimParam {
			return false
		}
	}
	return true
}

// reduceExtent returns the number of reduced elements and the number of
// elements after the reduced block.
func (b *ShaderBuilder) reduceExtent(sig onnx.TensorSignature, axes []int) (reduce, inner int64, err error) {
	reduce, inner = 1, 1
	for i, d := range sig.Dims {
		switch {
		case i < axes[0]:
			continue
		case i <= axes[len(axes)-1]:
			if !d.HasValue {
				return 0, 0, fmt.Errorf("%w: reducing over dynamic dimension %d", ErrUnsupported, i)
			}
			reduce *= d.DimValue
		default:
			if !d.HasValue {
				return 0, 0, fmt.Errorf("%w: dynamic dimension %d after the reduced axes", ErrUnsupported, i)
			}
			inner *= d.DimValue
		}
	}
	if reduce == 0 || inner == 0 {
		return 0, 0, fmt.Errorf("%w: empty reduction over %s", ErrUnsupported, sig)
	}
	if reduce > math.MaxUint32 || inner > math.MaxUint32 {
		return 0, 0, fmt.Errorf("%w: reduction extent exceeds u32", ErrUnsupported)
	}
	return reduce, inner, nil
}

// reduceAxes returns the normalized, sorted reduced axes. They come from
// the axes attribute, or from a constant second input in newer opsets.
func reduceAxes(g *onnx.Graph, node *onnx.NodeProto, rank int) ([]int, error) {
	raw := operators.GetAttrInts(node, "axes")
	if len(node.Inputs) > 1 && node.Inputs[1] != "" {
		init, ok := g.Initializer(node.Inputs[1])
		if !ok {
			return nil, fmt.Errorf("%w: axes input %q is not a constant", ErrUnsupported, node.Inputs[1])
		}
		values, err := int64Values(init)
		if err != nil {
			return nil, err
		}
		raw = values
	}

	if len(raw) == 0 {
		if operators.GetAttrInt(node, "noop_with_empty_axes", 0) != 0 {
			return nil, fmt.Errorf("%w: reduction with noop_with_empty_axes", ErrUnsupported)
		}
		for i := 0; i < rank; i++ {
			raw = append(raw, int64(i))
		}
	}

	seen := make(map[int]bool, len(raw))
	axes := make([]int, 0, len(raw))
	for _, a := range raw {
		if a < -int64(rank) || a >= int64(rank) {
			return nil, fmt.Errorf("axis %d out of range for rank %d", a, rank)
		}
		if a < 0 {
			a += int64(rank)
		}
		if !seen[int(a)] {
			seen[int(a)] = true
			axes = append(axes, int(a))
		}
	}
	sort.Ints(axes)
	if len(axes) == 0 {
		return nil, fmt.Errorf("%w: reduction of a scalar", ErrUnsupported)
	}
	if axes[len(axes)-1]-axes[0] != len(axes)-1 {
		return nil, fmt.Errorf("%w: non-contiguous reduction axes %v", ErrUnsupported, axes)
	}
	return axes, nil
}

// int64Values decodes an INT64 initializer.
func int64Values(t *onnx.TensorProto) ([]int64, error) {
	if t.DataType != onnx.TensorProtoInt64 {
		return nil, fmt.Errorf("axes tensor %q is %s, want int64", t.Name, onnx.DataTypeName(t.DataType))
	}
	if len(t.Int64Data) > 0 {
		return t.Int64Data, nil
	}
	if len(t.RawData)%8 != 0 {
		return nil, fmt.Errorf("axes tensor %q has %d raw bytes", t.Name, len(t.RawData))
	}
	values := make([]int64, len(t.RawData)/8)
	for i := range values {
		values[i] = int64(binary.LittleEndian.Uint64(t.RawData[8*i:])) //nolint:gosec // G115: two's complement int64 data.
	}
	return values, nil
}

// unaryExpr returns the WGSL expression of a unary operator with its
// attributes baked in.
func unaryExpr(node *onnx.NodeProto) (string, error) {
	switch node.OpType {
	case "LeakyRelu":
		alpha, err := wgslFloat(operators.GetAttrFloat(node, "alpha", 0.01))
		return "select(" + alpha + " * x, x, x >= 0.0)", err
	case "Elu":
		alpha, err := wgslFloat(operators.GetAttrFloat(node, "alpha", 1.0))
		return "select(" + alpha + " * (exp(x) - 1.0), x, x > 0.0)", err
	case "HardSigmoid":
		alpha, err := wgslFloat(operators.GetAttrFloat(node, "alpha", 0.2))
		if err != nil {
			return "", err
		}
		beta, err := wgslFloat(operators.GetAttrFloat(node, "beta", 0.5))
		return "clamp(" + alpha + " * x + " + beta + ", 0.0, 1.0)", err
	case "Gelu":
		// WGSL has no erf, so only the tanh approximation is expressible.
		if mode := operators.GetAttrString(node, "approximate", "none"); mode != "tanh" {
			return "", fmt.Errorf("%w: Gelu with approximate=%q", ErrUnsupported, mode)
		}
		return "0.5 * x * (1.0 + tanh(0.7978845608 * (x + 0.044715 * x * x * x)))", nil
	default:
		return unaryExprs[node.OpType], nil
	}
}

// wgslFloat formats f as an f32 literal.
func wgslFloat(f float32) (string, error) {
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		return "", fmt.Errorf("%w: non-finite attribute value %v", ErrUnsupported, f)
	}
	s := strconv.FormatFloat(float64(f), 'g', -1, 32)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s, nil
}

// summary renders the shader header: operator, attributes and input types.
func summary(node *onnx.NodeProto, inputs []onnx.TensorSignature) string {
	var b strings.Builder
	b.WriteString(node.OpType)
	for i := range node.Attributes {
		attr := &node.Attributes[i]
		b.WriteByte(' ')
		b.WriteString(attr.Name)
		b.WriteByte('=')
		switch attr.Type {
		case onnx.AttributeProtoInt:
			b.WriteString(strconv.FormatInt(attr.I, 10))
		case onnx.AttributeProtoFloat:
			b.WriteString(strconv.FormatFloat(float64(attr.F), 'g', -1, 32))
		case onnx.AttributeProtoInts:
			fmt.Fprint(&b, attr.Ints)
		case onnx.AttributeProtoString:
			b.WriteString(strconv.Quote(string(attr.S)))
		default:
			b.WriteString("...")
		}
	}
	for _, in := range inputs {
		b.WriteByte(' ')
		b.WriteString(in.String())
	}
	return b.String()
}
