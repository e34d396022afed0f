package operators

import (
	"sort"
)

// Registry is the set of operator types the target engine resolves to
// built-in kernels.
type Registry struct {
	ops map[string]struct{}
}

// NewRegistry creates a registry holding every operator of the default
// ONNX domain up to opset 24, including ones later opsets removed.
func NewRegistry() *Registry {
	r := &Registry{
		ops: make(map[string]struct{}),
	}

	r.registerMathOps()
	r.registerActivations()
	r.registerShapeOps()
	r.registerUtilityOps()
	r.registerNNOps()

	return r
}

// Register adds native operator types.
func (r *Registry) Register(opTypes ...string) {
	for _, op := range opTypes {
		r.ops[op] = struct{}{}
	}
}

// IsNative reports whether opType is implemented by the engine itself.
func (r *Registry) IsNative(opType string) bool {
	_, ok := r.ops[opType]
	return ok
}

// SupportedOps returns all native operator types in sorted order.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.ops))
	for op := range r.ops {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func (r *Registry) registerMathOps() {
	r.Register(
		"Abs", "Acos", "Acosh", "Add", "Asin", "Asinh", "Atan", "Atanh", "BitShift",
		"BitwiseAnd", "BitwiseNot", "BitwiseOr", "BitwiseXor", "Ceil", "Cos", "Cosh",
		"Det", "Div", "Einsum", "Erf", "Exp", "Floor", "Gemm", "IsInf", "IsNaN", "Log",
		"MatMul", "MatMulInteger", "Max", "Mean", "Min", "Mod", "Mul", "Neg", "Pow",
		"QLinearMatMul", "Reciprocal", "Round", "Sign", "Sin", "Sinh", "Sqrt", "Sub",
		"Sum", "Tan",
	)
}

func (r *Registry) registerActivations() {
	r.Register(
		"Celu", "Clip", "Elu", "Gelu", "Hardmax", "HardSigmoid", "HardSwish", "LeakyRelu",
		"LogSoftmax", "Mish", "PRelu", "Relu", "Selu", "Shrink", "Sigmoid", "Silu",
		"Softmax", "Softplus", "Softsign", "Swish", "Tanh", "ThresholdedRelu",
	)
}

func (r *Registry) registerShapeOps() {
	r.Register(
		"CenterCropPad", "Col2Im", "Compress", "Concat", "DepthToSpace", "Expand",
		"Flatten", "Gather", "GatherElements", "GatherND", "Pad", "Reshape", "Resize",
		"ReverseSequence", "ScatterElements", "ScatterND", "Slice", "SpaceToDepth",
		"Split", "Squeeze", "TensorScatter", "Tile", "Transpose", "Trilu", "Unsqueeze",
	)
}

func (r *Registry) registerUtilityOps() {
	r.Register(
		"And", "ArgMax", "ArgMin", "Bernoulli", "Cast", "CastLike", "Constant",
		"ConstantOfShape", "CumSum", "Dropout", "Equal", "EyeLike", "Greater",
		"GreaterOrEqual", "Identity", "If", "Less", "LessOrEqual", "Loop", "Multinomial",
		"NonMaxSuppression", "NonZero", "Not", "OneHot", "Or", "RandomNormal",
		"RandomNormalLike", "RandomUniform", "RandomUniformLike", "Range", "Scan",
		"Shape", "Size", "TopK", "Unique", "Where", "Xor",
	)
	// Sequences, optionals and strings.
	r.Register(
		"ConcatFromSequence", "Optional", "OptionalGetElement", "OptionalHasElement",
		"RegexFullMatch", "SequenceAt", "SequenceConstruct", "SequenceEmpty",
		"SequenceErase", "SequenceInsert", "SequenceLength", "SequenceMap",
		"SplitToSequence", "StringConcat", "StringNormalizer", "StringSplit",
		"TfIdfVectorizer",
	)
	// Signal and image processing.
	r.Register(
		"AffineGrid", "BlackmanWindow", "DFT", "GridSample", "HammingWindow",
		"HannWindow", "ImageDecoder", "MelWeightMatrix", "STFT",
	)
	// Quantization.
	r.Register(
		"ConvInteger", "DequantizeLinear", "DynamicQuantizeLinear", "QLinearConv",
		"QuantizeLinear",
	)
	// Removed from later opsets but still found in older models.
	r.Register(
		"Affine", "Crop", "DynamicSlice", "GivenTensorFill", "ImageScaler",
		"ParametricSoftplus", "ScaledTanh", "Scatter", "Upsample",
	)
}

func (r *Registry) registerNNOps() {
	r.Register(
		"Attention", "AveragePool", "BatchNormalization", "Conv", "ConvTranspose",
		"DeformConv", "GlobalAveragePool", "GlobalLpPool", "GlobalMaxPool", "GRU",
		"GroupNormalization", "InstanceNormalization", "LayerNormalization",
		"LpNormalization", "LpPool", "LRN", "LSTM", "MaxPool", "MaxRoiPool",
		"MaxUnpool", "MeanVarianceNormalization", "NegativeLogLikelihoodLoss",
		"RMSNormalization", "RNN", "RoiAlign", "RotaryEmbedding",
		"SoftmaxCrossEntropyLoss",
		"ReduceL1", "ReduceL2", "ReduceLogSum", "ReduceLogSumExp", "ReduceMax",
		"ReduceMean", "ReduceMin", "ReduceProd", "ReduceSum", "ReduceSumSquare",
	)
}
