package loader

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/setsumei/internal/models"
)

// embeddingColumnPrefix marks one-dimension-per-column exports (Embedding_0, Embedding_1, ...).
const embeddingColumnPrefix = "Embedding_"

// loadExcel reads the first sheet. Row 1 is the header. The embedding is either a single
// column holding a vector or a set of Embedding_i columns.
func loadExcel(path string, opts Options) ([]*models.Instance, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: workbook has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("get rows for sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	idCol, textCol, embCol := -1, -1, -1
	var dims []dimensionColumn
	for i, name := range header {
		name = strings.TrimSpace(name)
		switch {
		case name == opts.IDColumn:
			idCol = i
		case name == opts.TextColumn:
			textCol = i
		case name == opts.EmbeddingColumn:
			embCol = i
		case strings.HasPrefix(name, embeddingColumnPrefix):
			if d, err := strconv.Atoi(strings.TrimPrefix(name, embeddingColumnPrefix)); err == nil {
				dims = append(dims, dimensionColumn{dim: d, col: i})
			}
		}
	}
	if textCol < 0 {
		return nil, fmt.Errorf("%s: no %q column in header", path, opts.TextColumn)
	}
	sort.Slice(dims, func(a, b int) bool { return dims[a].dim < dims[b].dim })

	out := make([]*models.Instance, 0, len(rows)-1)
	for r, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}
		inst := &models.Instance{
			Identifier: newIdentifier(cell(row, idCol)),
			Segments:   splitSegments(cell(row, textCol), opts.SegmentDelimiter),
		}
		switch {
		case embCol >= 0:
			emb, err := parseEmbeddingText(cell(row, embCol))
			if err != nil {
				return nil, fmt.Errorf("%s: row %d: %w", path, r+2, err)
			}
			if len(emb) > 0 {
				inst.Embedding = emb
			}
		case len(dims) > 0:
			emb, err := readDimensionColumns(row, dims)
			if err != nil {
				return nil, fmt.Errorf("%s: row %d: %w", path, r+2, err)
			}
			inst.Embedding = emb
		}
		out = append(out, inst)
	}
	return out, nil
}

type dimensionColumn struct {
	dim int
	col int
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

// readDimensionColumns returns nil when every dimension cell is blank.
func readDimensionColumns(row []string, dims []dimensionColumn) ([]float64, error) {
	emb := make([]float64, len(dims))
	blank := 0
	for i, d := range dims {
		s := strings.TrimSpace(cell(row, d.col))
		if s == "" {
			blank++
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q in %s%d", s, embeddingColumnPrefix, d.dim)
		}
		emb[i] = v
	}
	if blank == len(dims) {
		return nil, nil
	}
	if blank > 0 {
		return nil, fmt.Errorf("%d of %d embedding columns are blank", blank, len(dims))
	}
	return emb, nil
}
