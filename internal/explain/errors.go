package explain

import (
	"errors"

	"github.com/hyperjump/setsumei/internal/lime"
)

var (
	// ErrIndexOutOfRange is returned when the requested position is not in the dataset.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrMissingEmbedding is returned when the instance exists but has no feature vector.
	ErrMissingEmbedding = errors.New("instance has no embedding")
	// ErrDegenerateFeatureSpace is returned when the background data cannot support a
	// neighborhood or the surrogate cannot be solved.
	ErrDegenerateFeatureSpace = lime.ErrDegenerateFeatureSpace
	// ErrUnknownClass is returned when the requested class is not one of the classifier's.
	ErrUnknownClass = errors.New("unknown class")
	// ErrClassifierContract is returned when the classifier output has the wrong shape
	// or does not form probability rows.
	ErrClassifierContract = errors.New("classifier violated probability contract")
)
