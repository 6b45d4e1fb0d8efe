//go:build !cgo
// +build !cgo

package classifier

import "errors"

// ONNXOptions locates an exported classifier graph (see onnx.go).
type ONNXOptions struct {
	ModelPath     string
	SharedLibrary string
	InputName     string
	OutputName    string
	Dimensions    int
	Classes       []string
}

// ONNXClassifier stub type when built without CGO (see onnx.go for real implementation).
type ONNXClassifier struct{}

// NewONNXClassifier returns an error when built without CGO (ONNX not available).
func NewONNXClassifier(_ ONNXOptions) (*ONNXClassifier, error) {
	return nil, errors.New("ONNX classifier requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}

// Classes returns nil.
func (c *ONNXClassifier) Classes() []string { return nil }

// PredictProba always fails.
func (c *ONNXClassifier) PredictProba(_ [][]float64) ([][]float64, error) {
	return nil, errors.New("ONNX classifier requires CGO")
}

// Close does nothing.
func (c *ONNXClassifier) Close() error { return nil }
