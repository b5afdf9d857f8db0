package engine

import (
	"fmt"

	"github.com/caliber-ml/caliber/internal/onnx"
	"github.com/caliber-ml/caliber/internal/tensor"
)

// OpHandler executes one graph node and returns its output tensors.
type OpHandler func(node *onnx.NodeProto, inputs []*tensor.Tensor) ([]*tensor.Tensor, error)

// Registry maps ONNX operator types to handler functions.
type Registry struct {
	handlers map[string]OpHandler
}

// NewRegistry creates an operator registry with all built-in operators.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]OpHandler)}
	r.registerMathOps()
	r.registerActivations()
	r.registerShapeOps()
	r.registerReduceOps()
	r.registerPoolOps()
	return r
}

// Register adds a custom operator handler.
func (r *Registry) Register(opType string, handler OpHandler) {
	r.handlers[opType] = handler
}

// Get returns the handler for an operator type.
func (r *Registry) Get(opType string) (OpHandler, bool) {
	h, ok := r.handlers[opType]
	return h, ok
}

// Execute runs an operator with the given inputs.
func (r *Registry) Execute(node *onnx.NodeProto, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	handler, ok := r.handlers[node.OpType]
	if !ok {
		return nil, fmt.Errorf("unsupported operator: %s", node.OpType)
	}
	return handler(node, inputs)
}

// SupportedOps returns a list of all supported operator types.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	return ops
}
