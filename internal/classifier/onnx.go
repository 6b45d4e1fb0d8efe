//go:build cgo
// +build cgo

package classifier

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// onnxBatchSize is the fixed row count of the session tensors; inputs are run in
// chunks of this size, the last one zero-padded.
const onnxBatchSize = 256

var ortInit struct {
	once sync.Once
	err  error
}

// ONNXOptions locates an exported classifier graph.
type ONNXOptions struct {
	ModelPath string
	// SharedLibrary overrides the onnxruntime library path.
	SharedLibrary string
	InputName     string
	OutputName    string
	Dimensions    int
	Classes       []string
}

// ONNXClassifier runs an exported classifier through ONNX Runtime. The graph must take a
// float tensor of shape [batch, dimensions] and produce probabilities of shape
// [batch, classes]. Requires CGO and the onnxruntime shared library.
type ONNXClassifier struct {
	session      *ort.AdvancedSession
	dimensions   int
	classes      []string
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewONNXClassifier creates a session. The runtime environment is initialized once per process.
func NewONNXClassifier(opts ONNXOptions) (*ONNXClassifier, error) {
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("ONNX classifier needs the input dimension")
	}
	if len(opts.Classes) < 2 {
		return nil, fmt.Errorf("ONNX classifier needs at least 2 class labels, got %d", len(opts.Classes))
	}
	ortInit.once.Do(func() {
		if opts.SharedLibrary != "" {
			ort.SetSharedLibraryPath(opts.SharedLibrary)
		}
		ortInit.err = ort.InitializeEnvironment()
	})
	if ortInit.err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", ortInit.err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(onnxBatchSize, int64(opts.Dimensions)))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(onnxBatchSize, int64(len(opts.Classes))))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		opts.ModelPath,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXClassifier{
		session:      session,
		dimensions:   opts.Dimensions,
		classes:      append([]string(nil), opts.Classes...),
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Classes returns the configured labels in output column order.
func (c *ONNXClassifier) Classes() []string {
	return c.classes
}

// PredictProba runs x through the graph in fixed-size batches.
func (c *ONNXClassifier) PredictProba(x [][]float64) ([][]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nc := len(c.classes)
	out := make([][]float64, len(x))
	in := c.inputTensor.GetData()
	for start := 0; start < len(x); start += onnxBatchSize {
		end := min(start+onnxBatchSize, len(x))
		clear(in)
		for i := start; i < end; i++ {
			row := x[i]
			if len(row) != c.dimensions {
				return nil, fmt.Errorf("row %d has %d features, model expects %d", i, len(row), c.dimensions)
			}
			base := (i - start) * c.dimensions
			for j, v := range row {
				in[base+j] = float32(v)
			}
		}
		if err := c.session.Run(); err != nil {
			return nil, fmt.Errorf("inference failed: %w", err)
		}
		probs := c.outputTensor.GetData()
		for i := start; i < end; i++ {
			base := (i - start) * nc
			row := make([]float64, nc)
			for k := range row {
				row[k] = float64(probs[base+k])
			}
			out[i] = row
		}
	}
	return out, nil
}

// Close destroys the session and tensors.
func (c *ONNXClassifier) Close() error {
	var err error
	if c.session != nil {
		err = c.session.Destroy()
		c.session = nil
	}
	if c.inputTensor != nil {
		_ = c.inputTensor.Destroy()
		c.inputTensor = nil
	}
	if c.outputTensor != nil {
		_ = c.outputTensor.Destroy()
		c.outputTensor = nil
	}
	return err
}
