// Package dataset loads ordered, size-capped calibration inputs, either from
// a serialized tensor file or by preprocessing an image folder. Every sample
// is validated against the graph's declared input shape.
package dataset

import (
	"fmt"

	"github.com/caliber-ml/caliber/internal/tensor"
)

// ShapeError reports a calibration tensor whose shape does not match the
// graph's declared input shape. The message states both shapes verbatim.
type ShapeError struct {
	Expected []int64
	Actual   []int64
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	return fmt.Sprintf("calibration input has incorrect shape: the required shape is %v, the real shape is %v",
		e.Expected, e.Actual)
}

// sampleShape converts a declared input shape to a tensor.Shape.
func sampleShape(inputShape []int64) (tensor.Shape, error) {
	shape := make(tensor.Shape, len(inputShape))
	for i, d := range inputShape {
		shape[i] = int(d)
	}
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("graph input shape %v is not fully static: %w", inputShape, err)
	}
	return shape, nil
}
