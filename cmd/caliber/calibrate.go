package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/caliber-ml/caliber/internal/calibrate"
	"github.com/caliber-ml/caliber/internal/dataset"
	"github.com/caliber-ml/caliber/internal/engine"
	"github.com/caliber-ml/caliber/internal/logger"
	"github.com/caliber-ml/caliber/internal/onnx"
	"github.com/caliber-ml/caliber/internal/tensor"
)

// report is the calibration artifact handed to the downstream quantizer.
type report struct {
	RunID       string                 `json:"run_id"`
	Model       string                 `json:"model"`
	CalibMode   string                 `json:"calib_mode"`
	Bits        int                    `json:"bits"`
	SampleCount int                    `json:"sample_count"`
	GeneratedAt time.Time              `json:"generated_at"`
	Ranges      map[string]reportRange `json:"ranges"`
	Params      map[string]reportParam `json:"params"`
}

type reportRange struct {
	Min float32 `json:"min"`
	Max float32 `json:"max"`
}

type reportParam struct {
	ZeroPoint uint8   `json:"zero_point"`
	Scale     float32 `json:"scale"`
}

//nolint:funlen // flag wiring plus the linear pipeline steps
func calibrateCmd() *cli.Command {
	var (
		modelPath     string
		datasetPath   string
		outputPath    string
		augmentedPath string
		calibMode     string
		preprocess    string
		logLevel      string
		logFormat     string
		datasetSize   int
		strictStats   bool
	)

	return &cli.Command{
		Name:  "calibrate",
		Usage: "Compute int8 quantization parameters for an ONNX model",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "model", Usage: "path to the FP32 ONNX model", Required: true, Destination: &modelPath},
			&cli.StringFlag{Name: "dataset", Usage: "calibration dataset: image folder or tensor file", Required: true, Destination: &datasetPath},
			&cli.StringFlag{Name: "output", Usage: "path for the quantization parameter report", Value: "quantization_params.json", Destination: &outputPath},
			&cli.StringFlag{Name: "augmented", Usage: "path for the augmented model artifact", Value: "augmented_model.onnx", Destination: &augmentedPath},
			&cli.StringFlag{Name: "calib-mode", Usage: "aggregation mode", Value: "naive", Destination: &calibMode},
			&cli.StringFlag{Name: "preprocess", Usage: "dataset kind: images or tensor", Value: "images", Destination: &preprocess},
			&cli.IntFlag{Name: "dataset-size", Usage: "max calibration samples (0 = all)", Value: 30, Destination: &datasetSize},
			&cli.BoolFlag{Name: "strict-stats", Usage: "fail on candidates without statistics", Destination: &strictStats},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn, or error", Value: "info", Destination: &logLevel},
			&cli.StringFlag{Name: "log-format", Usage: "text or json", Value: "text", Destination: &logFormat},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyCalibrateConfig(cmd, loadConfig(), &calibMode, &preprocess, &logLevel, &logFormat, &datasetSize)
			log := logger.New(logLevel, logFormat == "json")

			model, err := onnx.ParseFile(modelPath)
			if err != nil {
				return err
			}
			if model.Graph == nil {
				return fmt.Errorf("model %s has no graph", modelPath)
			}
			inputs := model.Graph.InputNames()
			if len(inputs) != 1 {
				return fmt.Errorf("calibration requires a single-input model, %s has %d inputs", modelPath, len(inputs))
			}
			inputShape, err := model.Graph.InputShape(inputs[0])
			if err != nil {
				return err
			}
			log.Info("model loaded", "path", modelPath, "input", inputs[0], "shape", inputShape)

			samples, err := loadSamples(preprocess, datasetPath, inputShape, datasetSize)
			if err != nil {
				return err
			}
			log.Info("dataset loaded", "samples", len(samples))

			pipeline := &calibrate.Pipeline{
				Mode:        calibrate.Mode(calibMode),
				StrictStats: strictStats,
				Logger:      log,
				NewRunner:   newEngineRunner,
			}
			result, err := pipeline.Run(ctx, model, samples)
			if err != nil {
				return err
			}

			if err := onnx.WriteFile(augmentedPath, result.Augmented); err != nil {
				return err
			}
			log.Info("augmented model written", "path", augmentedPath)

			if err := writeReport(outputPath, modelPath, calibMode, len(samples), result); err != nil {
				return err
			}
			log.Info("quantization parameters written", "path", outputPath, "tensors", len(result.Params))
			return nil
		},
	}
}

// loadSamples dispatches on the preprocessing routine.
func loadSamples(preprocess, path string, inputShape []int64, limit int) ([]*tensor.Tensor, error) {
	switch preprocess {
	case "images":
		return dataset.LoadImageDir(path, inputShape, limit)
	case "tensor":
		return dataset.LoadTensorFile(path, inputShape, limit)
	default:
		return nil, fmt.Errorf("unknown preprocess routine %q (use images or tensor)", preprocess)
	}
}

// newEngineRunner adapts the reference engine to the collector's Runner seam.
func newEngineRunner(model *onnx.ModelProto) (calibrate.Runner, error) {
	sess, err := engine.NewSession(model.Graph)
	if err != nil {
		return nil, err
	}
	return sessionRunner{sess: sess}, nil
}

type sessionRunner struct {
	sess *engine.Session
}

func (r sessionRunner) Run(ctx context.Context, input *tensor.Tensor) ([]calibrate.Output, error) {
	outputs, err := r.sess.Run(ctx, input)
	if err != nil {
		return nil, err
	}
	converted := make([]calibrate.Output, len(outputs))
	for i, out := range outputs {
		converted[i] = calibrate.Output{Name: out.Name, Value: out.Value}
	}
	return converted, nil
}

// writeReport persists the parameter map plus the observed ranges as JSON.
func writeReport(path, modelPath, calibMode string, sampleCount int, result *calibrate.Result) error {
	rep := report{
		RunID:       uuid.NewString(),
		Model:       modelPath,
		CalibMode:   calibMode,
		Bits:        8,
		SampleCount: sampleCount,
		GeneratedAt: time.Now().UTC(),
		Ranges:      make(map[string]reportRange, len(result.Stats)),
		Params:      make(map[string]reportParam, len(result.Params)),
	}
	for name, r := range result.Stats {
		rep.Ranges[name] = reportRange{Min: r.Min, Max: r.Max}
	}
	for name, p := range result.Params {
		rep.Params[name] = reportParam{ZeroPoint: p.ZeroPoint, Scale: p.Scale}
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // calibration artifact, not a secret
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
