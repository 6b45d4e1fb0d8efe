// Package loader reads dataset files (JSON Lines, JSON arrays, Excel workbooks) into
// instances with identifiers, text segments, and optional embeddings.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/hyperjump/setsumei/internal/models"
)

// Options names the dataset columns.
type Options struct {
	IDColumn         string
	TextColumn       string
	EmbeddingColumn  string
	SegmentDelimiter string
}

// DefaultOptions returns the column names used when none are configured.
func DefaultOptions() Options {
	return Options{
		IDColumn:         "id",
		TextColumn:       "text",
		EmbeddingColumn:  "embedding",
		SegmentDelimiter: "\n",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.IDColumn == "" {
		o.IDColumn = d.IDColumn
	}
	if o.TextColumn == "" {
		o.TextColumn = d.TextColumn
	}
	if o.EmbeddingColumn == "" {
		o.EmbeddingColumn = d.EmbeddingColumn
	}
	if o.SegmentDelimiter == "" {
		o.SegmentDelimiter = d.SegmentDelimiter
	}
	return o
}

// SupportedExtensions lists the file extensions Load understands.
var SupportedExtensions = []string{".jsonl", ".ndjson", ".json", ".xlsx"}

// IsSupported reports whether path has a dataset extension.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Load reads one dataset file. All embeddings in the file must share a dimension.
func Load(path string, opts Options) ([]*models.Instance, error) {
	opts = opts.withDefaults()
	var (
		out []*models.Instance
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		out, err = loadJSONLines(path, opts)
	case ".json":
		out, err = loadJSONArray(path, opts)
	case ".xlsx":
		out, err = loadExcel(path, opts)
	default:
		return nil, fmt.Errorf("unsupported dataset format: %s", path)
	}
	if err != nil {
		return nil, err
	}
	if err := checkDimensions(out); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// LoadAll reads paths in order and concatenates their instances.
func LoadAll(ctx context.Context, paths []string, opts Options) ([]*models.Instance, error) {
	var all []*models.Instance
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		instances, err := Load(p, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, instances...)
	}
	if err := checkDimensions(all); err != nil {
		return nil, err
	}
	return all, nil
}

func checkDimensions(instances []*models.Instance) error {
	dim := 0
	for _, inst := range instances {
		if !inst.HasEmbedding() {
			continue
		}
		if dim == 0 {
			dim = len(inst.Embedding)
			continue
		}
		if len(inst.Embedding) != dim {
			return fmt.Errorf("instance %s has %d embedding dimensions, want %d", inst.Identifier, len(inst.Embedding), dim)
		}
	}
	return nil
}

// splitSegments splits text on delim, dropping segments that are only whitespace.
func splitSegments(text, delim string) []string {
	parts := strings.Split(text, delim)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

func newIdentifier(id string) string {
	if strings.TrimSpace(id) == "" {
		return uuid.NewString()
	}
	return id
}

// parseEmbeddingText parses "[0.1, 0.2]" or "0.1 0.2" / "0.1,0.2". Blank text means no embedding.
func parseEmbeddingText(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "nan") {
		return nil, nil
	}
	if strings.HasPrefix(s, "[") {
		var v []float64
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("invalid embedding: %w", err)
		}
		return v, nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' || r == ';' })
	v := make([]float64, len(fields))
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid embedding value %q: %w", f, err)
		}
		v[i] = x
	}
	return v, nil
}
