package kernel

import (
	"text/template"
)

// WGSL compute shader templates. Operator specifics (expressions, sizes,
// attribute values) are baked in at build time; only element counts that
// may vary with the batch are passed as uniform parameters.

// workgroupSize is the default number of threads per workgroup.
const workgroupSize = 256

// unaryShader applies an element-wise expression of x.
var unaryShader = template.Must(template.New("unary").Parse(`// {{.Plugin}}: {{.Summary}}
@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size({{.WorkgroupSize}})
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        let x = input[idx];
        result[idx] = {{.Expr}};
    }
}
`))

// binaryShader combines two same-shaped inputs element-wise.
var binaryShader = template.Must(template.New("binary").Parse(`// {{.Plugin}}: {{.Summary}}
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size({{.WorkgroupSize}})
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        let x = a[idx];
        let y = b[idx];
        result[idx] = {{.Expr}};
    }
}
`))

// reduceShader reduces a contiguous block of axes. The input is viewed as
// [outer, REDUCE, INNER]; each invocation produces one output element.
var reduceShader = template.Must(template.New("reduce").Parse(`// {{.Plugin}}: {{.Summary}}
@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read_write> result: array<f32>;

struct Params {
    outer: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

const REDUCE: u32 = {{.Reduce}}u;
const INNER: u32 = {{.Inner}}u;

@compute @workgroup_size({{.WorkgroupSize}})
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx >= params.outer * INNER) {
        return;
    }
    let o = idx / INNER;
    let i = idx % INNER;
    let base = o * REDUCE * INNER + i;
    var acc: f32 = input[base];
    for (var k: u32 = 1u; k < REDUCE; k = k + 1u) {
        let v = input[base + k * INNER];
        acc = {{.Combine}};
    }
    result[idx] = {{.Finalize}};
}
`))

// shaderData is the template input shared by all shaders.
type shaderData struct {
	Plugin        string
	Summary       string
	WorkgroupSize int
	Expr          string // unary and binary
	Reduce        int64  // reduce
	Inner         int64  // reduce
	Combine       string // reduce: folds v into acc
	Finalize      string // reduce: final value from acc
}
