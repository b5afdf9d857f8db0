package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/caliber-ml/caliber/internal/onnx"
)

func inspectCmd() *cli.Command {
	var modelPath string

	return &cli.Command{
		Name:  "inspect",
		Usage: "Print ONNX model structure without loading weights",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "model", Usage: "path to the ONNX model", Required: true, Destination: &modelPath},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info, err := onnx.GetModelInfo(modelPath)
			if err != nil {
				return err
			}
			fmt.Printf("IR version:  %d\n", info.IRVersion)
			fmt.Printf("Opset:       %d\n", info.OpsetVersion)
			fmt.Printf("Producer:    %s %s\n", info.ProducerName, info.ProducerVersion)
			fmt.Printf("Inputs:      %v\n", info.InputNames)
			fmt.Printf("Outputs:     %v\n", info.OutputNames)
			fmt.Printf("Nodes:       %d\n", info.NodeCount)
			fmt.Printf("Weights:     %d\n", info.WeightCount)
			return nil
		},
	}
}
