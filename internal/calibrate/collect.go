package calibrate

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/caliber-ml/caliber/internal/tensor"
)

// Mode selects the cross-sample aggregation strategy.
type Mode string

// ModeNaive folds per-sample probe values with plain min/max. It is the only
// strategy implemented; percentile or entropy based selection would slot in
// here.
const ModeNaive Mode = "naive"

// Range is the aggregated (min, max) observed for one tensor across the
// calibration dataset.
type Range struct {
	Min float32
	Max float32
}

// Statistics maps a candidate node's output tensor name to its aggregated
// range. Valid only after a full dataset pass.
type Statistics map[string]Range

// Output is one named graph output produced by an inference run.
type Output struct {
	Name  string
	Value *tensor.Tensor
}

// Runner executes the augmented graph on a single input and returns all
// declared outputs in graph output order: the original outputs first, then
// the appended probe outputs in augmentation order.
type Runner interface {
	Run(ctx context.Context, input *tensor.Tensor) ([]Output, error)
}

// Collector aggregates per-candidate value ranges across a calibration
// dataset by running the augmented graph once per sample.
type Collector struct {
	runner        Runner
	originalCount int // outputs declared by the pre-augmentation graph
}

// NewCollector validates the aggregation mode and returns a collector.
// originalOutputCount is the number of outputs the graph declared before
// augmentation; everything after that offset in a run's output list is a
// probe output. An unknown mode fails here, before any inference executes.
func NewCollector(runner Runner, originalOutputCount int, mode Mode) (*Collector, error) {
	if mode != ModeNaive {
		return nil, &ConfigError{Reason: fmt.Sprintf("unknown calibration mode %q (only %q is supported)", mode, ModeNaive)}
	}
	if runner == nil {
		return nil, &ConfigError{Reason: "no runner provided"}
	}
	if originalOutputCount < 0 {
		return nil, &ConfigError{Reason: "negative original output count"}
	}
	return &Collector{runner: runner, originalCount: originalOutputCount}, nil
}

// Collect runs one inference per sample, in order, and folds the probe
// outputs into per-candidate ranges. Min and max form commutative monoids,
// so the result is independent of sample order. Any inference error aborts
// the whole run; there is no retry and no partial result. The context is
// checked between samples, giving callers a cancellation point.
func (c *Collector) Collect(ctx context.Context, samples []*tensor.Tensor) (Statistics, error) {
	if len(samples) == 0 {
		return nil, &ConfigError{Reason: "empty calibration dataset"}
	}

	stats := make(Statistics)
	for i, sample := range samples {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("calibration canceled before sample %d: %w", i, err)
		}
		outputs, err := c.runner.Run(ctx, sample)
		if err != nil {
			return nil, fmt.Errorf("inference failed on sample %d: %w", i, err)
		}
		if err := c.fold(stats, outputs, i); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// fold merges one sample's probe outputs into the aggregate. Probe outputs
// are the snapshot entries past the original output count, paired
// (min, max) per owner in augmentation order.
func (c *Collector) fold(stats Statistics, outputs []Output, sample int) error {
	if len(outputs) < c.originalCount {
		return fmt.Errorf("sample %d: run returned %d outputs, fewer than the %d original outputs",
			sample, len(outputs), c.originalCount)
	}
	probes := outputs[c.originalCount:]
	if len(probes)%2 != 0 {
		return fmt.Errorf("sample %d: %d probe outputs, expected (min, max) pairs", sample, len(probes))
	}

	for j := 0; j+1 < len(probes); j += 2 {
		lo, hi := probes[j], probes[j+1]
		owner := strings.TrimSuffix(lo.Name, minSuffix)
		if owner == lo.Name || hi.Name != owner+maxSuffix {
			return fmt.Errorf("sample %d: probe outputs %q, %q are not a (min, max) pair", sample, lo.Name, hi.Name)
		}

		minV, err := lo.Value.Item()
		if err != nil {
			return fmt.Errorf("sample %d: probe %s: %w", sample, lo.Name, err)
		}
		maxV, err := hi.Value.Item()
		if err != nil {
			return fmt.Errorf("sample %d: probe %s: %w", sample, hi.Name, err)
		}

		r, seen := stats[owner]
		if !seen {
			stats[owner] = Range{Min: minV, Max: maxV}
			continue
		}
		stats[owner] = Range{
			Min: float32(math.Min(float64(r.Min), float64(minV))),
			Max: float32(math.Max(float64(r.Max), float64(maxV))),
		}
	}
	return nil
}
