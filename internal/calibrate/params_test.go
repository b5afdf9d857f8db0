package calibrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caliber-ml/caliber/internal/onnx"
)

func opts8() Options { return Options{Bits: 8} }

// singleConvGraph wires conv0 -> follower -> output. When followerOp is
// empty the conv output feeds the graph output directly.
func singleConvGraph(followerOp string, followerAttrs ...onnx.AttributeProto) *onnx.GraphProto {
	g := &onnx.GraphProto{
		Nodes: []onnx.NodeProto{
			{Name: "conv0", OpType: "Conv", Inputs: []string{"X", "W"}, Outputs: []string{"conv0_out"}},
		},
		Inputs:  []onnx.ValueInfoProto{{Name: "X"}},
		Outputs: []onnx.ValueInfoProto{{Name: "Y"}},
	}
	if followerOp == "" {
		g.Nodes[0].Outputs[0] = "Y"
		return g
	}
	g.Nodes = append(g.Nodes, onnx.NodeProto{
		Name:       "post0",
		OpType:     followerOp,
		Inputs:     []string{"conv0_out"},
		Outputs:    []string{"Y"},
		Attributes: followerAttrs,
	})
	return g
}

func TestComputeParamsBasicRange(t *testing.T) {
	graph := singleConvGraph("")
	stats := Statistics{"Y": {Min: -1, Max: 4}}

	params, err := ComputeParams(graph, stats, opts8())
	require.NoError(t, err)
	require.Contains(t, params, "Y")

	p := params["Y"]
	assert.InDelta(t, 5.0/255, p.Scale, 1e-7)
	// zero_point = round((0 - (-1)) / (5/255)) = round(51) = 51
	assert.Equal(t, uint8(51), p.ZeroPoint)
}

func TestComputeParamsZeroInclusion(t *testing.T) {
	graph := singleConvGraph("")

	// All-positive range: rmin clamps to 0, zero_point lands at 0.
	params, err := ComputeParams(graph, Statistics{"Y": {Min: 2, Max: 10}}, opts8())
	require.NoError(t, err)
	assert.InDelta(t, 10.0/255, params["Y"].Scale, 1e-7)
	assert.Equal(t, uint8(0), params["Y"].ZeroPoint)

	// All-negative range: rmax clamps to 0, zero_point lands at 255.
	params, err = ComputeParams(graph, Statistics{"Y": {Min: -5, Max: -1}}, opts8())
	require.NoError(t, err)
	assert.InDelta(t, 5.0/255, params["Y"].Scale, 1e-7)
	assert.Equal(t, uint8(255), params["Y"].ZeroPoint)
}

func TestComputeParamsDegenerateRange(t *testing.T) {
	graph := singleConvGraph("")
	params, err := ComputeParams(graph, Statistics{"Y": {Min: 2, Max: 2}}, opts8())
	require.NoError(t, err)

	// rmin clamps to 0 but rmax stays 2, so the range is fine; force a truly
	// degenerate range with an exact zero.
	assert.Greater(t, params["Y"].Scale, float32(0))

	params, err = ComputeParams(graph, Statistics{"Y": {Min: 0, Max: 0}}, opts8())
	require.NoError(t, err)
	assert.Equal(t, float32(1), params["Y"].Scale)
	assert.Equal(t, uint8(0), params["Y"].ZeroPoint)
}

func TestComputeParamsClipFusionViaAttributes(t *testing.T) {
	graph := singleConvGraph("Clip",
		onnx.AttributeProto{Name: "min", Type: onnx.AttributeProtoFloat, F: 0},
		onnx.AttributeProto{Name: "max", Type: onnx.AttributeProtoFloat, F: 6},
	)
	stats := Statistics{"conv0_out": {Min: -2, Max: 10}}

	params, err := ComputeParams(graph, stats, opts8())
	require.NoError(t, err)
	require.Contains(t, params, "conv0_out")

	p := params["conv0_out"]
	assert.InDelta(t, 6.0/255, p.Scale, 1e-7)
	assert.Equal(t, uint8(0), p.ZeroPoint)
}

func TestComputeParamsClipFusionViaInitializers(t *testing.T) {
	graph := singleConvGraph("Clip")
	clip := &graph.Nodes[1]
	clip.Inputs = []string{"conv0_out", "clip_min", "clip_max"}
	graph.Initializers = []onnx.TensorProto{
		{Name: "clip_min", DataType: onnx.TensorProtoFloat, FloatData: []float32{0}},
		{Name: "clip_max", DataType: onnx.TensorProtoFloat, FloatData: []float32{6}},
	}
	stats := Statistics{"conv0_out": {Min: -2, Max: 10}}

	params, err := ComputeParams(graph, stats, opts8())
	require.NoError(t, err)
	p := params["conv0_out"]
	assert.InDelta(t, 6.0/255, p.Scale, 1e-7)
	assert.Equal(t, uint8(0), p.ZeroPoint)
}

func TestComputeParamsClipWithDynamicBoundsNotFused(t *testing.T) {
	graph := singleConvGraph("Clip")
	graph.Nodes[1].Inputs = []string{"conv0_out", "runtime_min", "runtime_max"}
	// Bounds are graph-computed tensors, not initializers: no tightening.
	stats := Statistics{"conv0_out": {Min: -2, Max: 10}}

	params, err := ComputeParams(graph, stats, opts8())
	require.NoError(t, err)
	assert.InDelta(t, 12.0/255, params["conv0_out"].Scale, 1e-7)
}

func TestComputeParamsReluFusion(t *testing.T) {
	graph := singleConvGraph("Relu")
	stats := Statistics{"conv0_out": {Min: -3, Max: 5}}

	params, err := ComputeParams(graph, stats, opts8())
	require.NoError(t, err)
	p := params["conv0_out"]
	assert.InDelta(t, 5.0/255, p.Scale, 1e-7)
	assert.Equal(t, uint8(0), p.ZeroPoint)
}

func TestComputeParamsFusionNeverExpands(t *testing.T) {
	graph := singleConvGraph("Clip",
		onnx.AttributeProto{Name: "min", Type: onnx.AttributeProtoFloat, F: -100},
		onnx.AttributeProto{Name: "max", Type: onnx.AttributeProtoFloat, F: 100},
	)
	stats := Statistics{"conv0_out": {Min: -2, Max: 10}}

	params, err := ComputeParams(graph, stats, opts8())
	require.NoError(t, err)
	// Bounds wider than the observed range leave it untouched.
	assert.InDelta(t, 12.0/255, params["conv0_out"].Scale, 1e-7)
}

func TestComputeParamsNoFusionWithMultipleConsumers(t *testing.T) {
	graph := &onnx.GraphProto{
		Nodes: []onnx.NodeProto{
			{Name: "conv0", OpType: "Conv", Inputs: []string{"X", "W"}, Outputs: []string{"conv0_out"}},
			{Name: "relu0", OpType: "Relu", Inputs: []string{"conv0_out"}, Outputs: []string{"Y1"}},
			{Name: "id0", OpType: "Identity", Inputs: []string{"conv0_out"}, Outputs: []string{"Y2"}},
		},
		Outputs: []onnx.ValueInfoProto{{Name: "Y1"}, {Name: "Y2"}},
	}
	stats := Statistics{"conv0_out": {Min: -3, Max: 5}}

	params, err := ComputeParams(graph, stats, opts8())
	require.NoError(t, err)
	// The Identity consumer still sees negatives, so no Relu tightening.
	assert.InDelta(t, 8.0/255, params["conv0_out"].Scale, 1e-7)
}

func TestComputeParamsRejectsUnsupportedBits(t *testing.T) {
	graph := singleConvGraph("")
	_, err := ComputeParams(graph, Statistics{}, Options{Bits: 4})

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "bit width 4")
}

func TestComputeParamsMissingStats(t *testing.T) {
	graph := singleConvGraph("")

	params, err := ComputeParams(graph, Statistics{}, opts8())
	require.NoError(t, err)
	assert.Empty(t, params, "candidates without statistics are skipped by default")

	_, err = ComputeParams(graph, Statistics{}, Options{Bits: 8, StrictStats: true})
	var missing *MissingStatsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "Y", missing.Tensor)
}

func TestComputeParamsBoundsHoldForRandomRanges(t *testing.T) {
	graph := singleConvGraph("")
	ranges := []Range{
		{Min: -1000, Max: 1000},
		{Min: -0.001, Max: 0.002},
		{Min: 17, Max: 17.5},
		{Min: -42, Max: -41},
	}
	for _, r := range ranges {
		params, err := ComputeParams(graph, Statistics{"Y": r}, opts8())
		require.NoError(t, err)
		p := params["Y"]
		assert.Greater(t, p.Scale, float32(0), "range %+v", r)
	}
}
