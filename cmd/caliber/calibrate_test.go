package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caliber-ml/caliber/internal/calibrate"
)

func TestLoadSamplesUnknownPreprocess(t *testing.T) {
	_, err := loadSamples("parquet", "data/", []int64{1, 3, 2, 2}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parquet")
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.json")
	result := &calibrate.Result{
		Stats: calibrate.Statistics{
			"conv0_out": {Min: -1, Max: 4},
		},
		Params: calibrate.Params{
			"conv0_out": {ZeroPoint: 51, Scale: 5.0 / 255},
		},
	}
	require.NoError(t, writeReport(path, "model.onnx", "naive", 30, result))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var rep report
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, "model.onnx", rep.Model)
	assert.Equal(t, "naive", rep.CalibMode)
	assert.Equal(t, 8, rep.Bits)
	assert.Equal(t, 30, rep.SampleCount)
	assert.Equal(t, uint8(51), rep.Params["conv0_out"].ZeroPoint)
	assert.InDelta(t, 5.0/255, rep.Params["conv0_out"].Scale, 1e-7)
	assert.Equal(t, float32(-1), rep.Ranges["conv0_out"].Min)
}
