package loader

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hyperjump/setsumei/internal/models"
)

const maxLineBytes = 64 << 20

func loadJSONLines(path string, opts Options) ([]*models.Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	var out []*models.Instance
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var rec map[string]json.RawMessage
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		inst, err := decodeRecord(rec, opts)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, inst)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return out, nil
}

func loadJSONArray(path string, opts Options) ([]*models.Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	var recs []map[string]json.RawMessage
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("%s: expected an array of objects: %w", path, err)
	}
	out := make([]*models.Instance, 0, len(recs))
	for i, rec := range recs {
		inst, err := decodeRecord(rec, opts)
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %w", path, i, err)
		}
		out = append(out, inst)
	}
	return out, nil
}

func decodeRecord(rec map[string]json.RawMessage, opts Options) (*models.Instance, error) {
	inst := &models.Instance{}

	if raw, ok := rec[opts.IDColumn]; ok {
		id, err := scalarString(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", opts.IDColumn, err)
		}
		inst.Identifier = id
	}
	inst.Identifier = newIdentifier(inst.Identifier)

	if raw, ok := rec[opts.TextColumn]; ok {
		segs, err := decodeSegments(raw, opts.SegmentDelimiter)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", opts.TextColumn, err)
		}
		inst.Segments = segs
	}
	if inst.Segments == nil {
		inst.Segments = []string{}
	}

	if raw, ok := rec[opts.EmbeddingColumn]; ok && !isNull(raw) {
		var emb []float64
		if err := json.Unmarshal(raw, &emb); err != nil {
			var s string
			if json.Unmarshal(raw, &s) != nil {
				return nil, fmt.Errorf("field %q: expected an array of numbers", opts.EmbeddingColumn)
			}
			if emb, err = parseEmbeddingText(s); err != nil {
				return nil, fmt.Errorf("field %q: %w", opts.EmbeddingColumn, err)
			}
		}
		if len(emb) > 0 {
			inst.Embedding = emb
		}
	}
	return inst, nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// scalarString renders a JSON string or number as a string.
func scalarString(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("expected a string or number")
}

// decodeSegments accepts a list of strings or a single string split on delim.
func decodeSegments(raw json.RawMessage, delim string) ([]string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("expected a string or an array of strings")
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") && json.Unmarshal([]byte(s), &list) == nil {
		return list, nil
	}
	return splitSegments(s, delim), nil
}
