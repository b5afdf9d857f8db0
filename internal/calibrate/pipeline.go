package calibrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/caliber-ml/caliber/internal/onnx"
	"github.com/caliber-ml/caliber/internal/tensor"
)

// Pipeline runs the three calibration stages end to end: augment the graph
// with probes, collect statistics over the dataset, derive quantization
// parameters. The graph is owned by the pipeline for the duration of a run;
// each stage is a one-shot pure transformation.
type Pipeline struct {
	// Candidates is the quantization-eligible operator set. Defaults to
	// DefaultCandidates when nil.
	Candidates CandidateOps
	// Mode is the aggregation mode. Defaults to ModeNaive when empty.
	Mode Mode
	// Bits is the target quantized width. Defaults to 8 when zero.
	Bits int
	// StrictStats turns candidates without statistics into errors.
	StrictStats bool
	// NewRunner builds the execution collaborator for the augmented model.
	NewRunner func(*onnx.ModelProto) (Runner, error)
	// Logger receives progress events. Defaults to a discarding logger.
	Logger *slog.Logger
}

// Result holds the pipeline artifacts: the augmented model (persisted by the
// caller as an intermediate file), the aggregated statistics, and the final
// parameter map handed to the downstream quantizer.
type Result struct {
	Augmented *onnx.ModelProto
	Stats     Statistics
	Params    Params
}

// Run calibrates a model over the given samples.
func (p *Pipeline) Run(ctx context.Context, model *onnx.ModelProto, samples []*tensor.Tensor) (*Result, error) {
	if model == nil || model.Graph == nil {
		return nil, &ConfigError{Reason: "model has no graph"}
	}
	if p.NewRunner == nil {
		return nil, &ConfigError{Reason: "no runner factory provided"}
	}

	candidates := p.Candidates
	if candidates == nil {
		candidates = DefaultCandidates()
	}
	mode := p.Mode
	if mode == "" {
		mode = ModeNaive
	}
	bits := p.Bits
	if bits == 0 {
		bits = 8
	}
	log := p.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	augmented := AugmentModel(model, candidates)
	probeCount := (len(augmented.Graph.Outputs) - len(model.Graph.Outputs)) / 2
	log.Info("graph augmented",
		"nodes", len(model.Graph.Nodes),
		"probed_nodes", probeCount)

	runner, err := p.NewRunner(augmented)
	if err != nil {
		return nil, fmt.Errorf("failed to build runner for augmented model: %w", err)
	}

	collector, err := NewCollector(runner, len(model.Graph.Outputs), mode)
	if err != nil {
		return nil, err
	}
	stats, err := collector.Collect(ctx, samples)
	if err != nil {
		return nil, err
	}
	log.Info("statistics collected", "samples", len(samples), "tensors", len(stats))

	params, err := ComputeParams(model.Graph, stats, Options{
		Bits:        bits,
		Candidates:  candidates,
		StrictStats: p.StrictStats,
	})
	if err != nil {
		return nil, err
	}
	log.Info("quantization parameters derived", "tensors", len(params))

	return &Result{Augmented: augmented, Stats: stats, Params: params}, nil
}
