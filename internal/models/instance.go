// Package models defines core data structures for dataset instances, explanation requests, and explanations.
package models

import "strings"

// Instance is one row of the dataset.
// A nil Embedding means the row has no usable feature vector.
type Instance struct {
	Position   int       `json:"index"`
	Identifier string    `json:"identifier"`
	Segments   []string  `json:"text"`
	Embedding  []float64 `json:"-"`
}

// HasEmbedding reports whether the instance can be explained.
func (i *Instance) HasEmbedding() bool {
	return i != nil && len(i.Embedding) > 0
}

// Text joins the segments with newlines.
func (i *Instance) Text() string {
	return strings.Join(i.Segments, "\n")
}

// InstanceSummary is the listing view of an instance.
type InstanceSummary struct {
	Index      int     `json:"index"`
	Identifier string  `json:"identifier"`
	Preview    string  `json:"preview"`
	Embedded   bool    `json:"embedded"`
	Score      float64 `json:"score,omitempty"`
}
