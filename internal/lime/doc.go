// Package lime builds local surrogate explanations for classifiers over dense feature
// vectors: quartile discretization of the background data, perturbation sampling around
// a target, a proximity-weighted ridge surrogate, and top-K feature selection.
//
// All functions are pure given their inputs and random source; a Discretizer is
// immutable and may be shared between goroutines.
package lime
