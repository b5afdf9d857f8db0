package engine

import (
	"fmt"

	"github.com/caliber-ml/caliber/internal/onnx"
	"github.com/caliber-ml/caliber/internal/tensor"
)

func (r *Registry) registerMathOps() {
	r.Register("Add", binaryElementwise("Add", func(a, b float32) float32 { return a + b }))
	r.Register("Sub", binaryElementwise("Sub", func(a, b float32) float32 { return a - b }))
	r.Register("Mul", binaryElementwise("Mul", func(a, b float32) float32 { return a * b }))
	r.Register("MatMul", opMatMul)
	r.Register("Gemm", opGemm)
	r.Register("Conv", opConv)
}

// binaryElementwise builds a float32 elementwise handler. The second operand
// may be a scalar or share the first operand's trailing dimension
// (per-channel constants); full NumPy broadcasting is not needed here.
func binaryElementwise(name string, fn func(a, b float32) float32) OpHandler {
	return func(node *onnx.NodeProto, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
		if len(inputs) != 2 || inputs[0] == nil || inputs[1] == nil {
			return nil, fmt.Errorf("%s requires 2 inputs", name)
		}
		a, b := inputs[0], inputs[1]
		av, bv := a.AsFloat32(), b.AsFloat32()

		out, err := tensor.New(a.Shape(), tensor.Float32)
		if err != nil {
			return nil, err
		}
		ov := out.AsFloat32()

		switch {
		case a.Shape().Equal(b.Shape()):
			for i := range av {
				ov[i] = fn(av[i], bv[i])
			}
		case b.NumElements() == 1:
			for i := range av {
				ov[i] = fn(av[i], bv[0])
			}
		case len(av)%len(bv) == 0 && lastDim(a.Shape()) == len(bv):
			for i := range av {
				ov[i] = fn(av[i], bv[i%len(bv)])
			}
		default:
			return nil, fmt.Errorf("%s: incompatible shapes %v and %v", name, a.Shape(), b.Shape())
		}
		return []*tensor.Tensor{out}, nil
	}
}

func lastDim(s tensor.Shape) int {
	if len(s) == 0 {
		return 1
	}
	return s[len(s)-1]
}

// opMatMul implements 2D matrix multiplication [M,K] x [K,N] -> [M,N].
func opMatMul(node *onnx.NodeProto, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 2 || inputs[0] == nil || inputs[1] == nil {
		return nil, fmt.Errorf("MatMul requires 2 inputs")
	}
	a, b := inputs[0], inputs[1]
	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 {
		return nil, fmt.Errorf("MatMul supports 2D inputs only, got %v x %v", as, bs)
	}
	m, k, n := as[0], as[1], bs[1]
	if bs[0] != k {
		return nil, fmt.Errorf("MatMul inner dimensions mismatch: %v x %v", as, bs)
	}

	out, err := tensor.New(tensor.Shape{m, n}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	matmul(a.AsFloat32(), b.AsFloat32(), out.AsFloat32(), m, k, n)
	return []*tensor.Tensor{out}, nil
}

// matmul computes c = a x b for row-major dense matrices.
func matmul(a, b, c []float32, m, k, n int) {
	for i := 0; i < m; i++ {
		for p := 0; p < k; p++ {
			av := a[i*k+p]
			if av == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				c[i*n+j] += av * b[p*n+j]
			}
		}
	}
}

// opGemm implements Y = alpha*A'*B' + beta*C with optional transposes and
// bias broadcasting over rows.
func opGemm(node *onnx.NodeProto, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) < 2 || inputs[0] == nil || inputs[1] == nil {
		return nil, fmt.Errorf("Gemm requires at least 2 inputs")
	}
	alpha, _ := node.FloatAttr("alpha", 1)
	beta, _ := node.FloatAttr("beta", 1)
	transA := node.IntAttr("transA", 0) != 0
	transB := node.IntAttr("transB", 0) != 0

	a := maybeTranspose(inputs[0], transA)
	b := maybeTranspose(inputs[1], transB)
	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 || as[1] != bs[0] {
		return nil, fmt.Errorf("Gemm shape mismatch: %v x %v", as, bs)
	}
	m, k, n := as[0], as[1], bs[1]

	out, err := tensor.New(tensor.Shape{m, n}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	ov := out.AsFloat32()
	matmul(a.AsFloat32(), b.AsFloat32(), ov, m, k, n)
	if alpha != 1 {
		for i := range ov {
			ov[i] *= alpha
		}
	}

	if len(inputs) > 2 && inputs[2] != nil && beta != 0 {
		cv := inputs[2].AsFloat32()
		switch {
		case len(cv) == m*n:
			for i := range ov {
				ov[i] += beta * cv[i]
			}
		case len(cv) == n:
			for i := range ov {
				ov[i] += beta * cv[i%n]
			}
		case len(cv) == 1:
			for i := range ov {
				ov[i] += beta * cv[0]
			}
		default:
			return nil, fmt.Errorf("Gemm bias shape %v not broadcastable to [%d %d]",
				inputs[2].Shape(), m, n)
		}
	}
	return []*tensor.Tensor{out}, nil
}

// maybeTranspose returns the 2D transpose of t when trans is set.
func maybeTranspose(t *tensor.Tensor, trans bool) *tensor.Tensor {
	if !trans {
		return t
	}
	s := t.Shape()
	rows, cols := s[0], s[1]
	out, _ := tensor.New(tensor.Shape{cols, rows}, tensor.Float32)
	src, dst := t.AsFloat32(), out.AsFloat32()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[j*rows+i] = src[i*cols+j]
		}
	}
	return out
}
