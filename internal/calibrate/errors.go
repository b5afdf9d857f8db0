package calibrate

import "fmt"

// ConfigError reports an invalid calibration configuration. It is always
// detected before any inference or computation starts.
type ConfigError struct {
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "invalid calibration config: " + e.Reason
}

// MissingStatsError reports a quantization candidate that has no aggregated
// statistics. Only returned when Options.StrictStats is set; otherwise such
// candidates are skipped.
type MissingStatsError struct {
	Tensor string
}

// Error implements the error interface.
func (e *MissingStatsError) Error() string {
	return fmt.Sprintf("no calibration statistics for candidate output %q", e.Tensor)
}
