// Package main provides the caliber CLI: post-training quantization
// calibration for ONNX models.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

const version = "v0.1.0"

func main() {
	app := &cli.Command{
		Name:    "caliber",
		Usage:   "Post-training quantization calibration for ONNX models",
		Version: version,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			calibrateCmd(),
			inspectCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
