// Package onnx implements a hand-written ONNX protobuf codec: a wire-format
// parser for loading models, a matching writer for persisting augmented
// models, and helpers for inspecting graph structure.
//
// Only the subset of the ONNX format needed by calibration is decoded;
// unknown fields are skipped and dropped on re-serialization.
package onnx
