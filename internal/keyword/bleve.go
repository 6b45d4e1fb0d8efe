package keyword

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/setsumei/internal/models"
)

const indexBatchSize = 500

// BleveIndex implements TextIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

type instanceDoc struct {
	Identifier string `json:"identifier"`
	Text       string `json:"text"`
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// standard analyzer: lowercase + tokenize, no stemming
	textFieldMapping.Analyzer = standard.Name
	textFieldMapping.Store = false
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("identifier", keywordFieldMapping)
	im.AddDocumentMapping("instance", docMapping)
	im.DefaultType = "instance"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates an
// in-memory index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := newMapping()
	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexAll indexes every instance under its position and removes positions beyond the
// new dataset length.
func (b *BleveIndex) IndexAll(ctx context.Context, instances []*models.Instance) error {
	previous, err := b.index.DocCount()
	if err != nil {
		return fmt.Errorf("failed to count indexed instances: %w", err)
	}

	batch := b.index.NewBatch()
	flush := func() error {
		if batch.Size() == 0 {
			return nil
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to index batch: %w", err)
		}
		batch.Reset()
		return nil
	}

	for i, inst := range instances {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := instanceDoc{Identifier: inst.Identifier, Text: strings.Join(inst.Segments, "\n")}
		if err := batch.Index(strconv.Itoa(i), doc); err != nil {
			return fmt.Errorf("failed to index instance %d: %w", i, err)
		}
		if batch.Size() >= indexBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	for i := len(instances); i < int(previous); i++ {
		batch.Delete(strconv.Itoa(i))
	}
	return flush()
}

// Search matches query against instance text and identifiers and returns up to limit hits.
// When opts.FuzzyEnabled is true, fuzzy matching is used for typo tolerance.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	fuzziness := 2
	fuzzy := false
	if opts != nil {
		fuzzy = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	var textQuery blevequery.Query
	if fuzzy {
		textQuery = buildFuzzyQuery(query, fuzziness, "text")
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("text")
		textQuery = mq
	}
	idQuery := bleve.NewTermQuery(strings.TrimSpace(query))
	idQuery.SetField("identifier")
	idQuery.SetBoost(10)

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(textQuery, idQuery), limit, 0, false)
	req.Fields = []string{"identifier"}
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	out := make([]*Hit, 0, len(results.Hits))
	for _, hit := range results.Hits {
		pos, err := strconv.Atoi(hit.ID)
		if err != nil {
			continue
		}
		h := &Hit{Position: pos, Score: hit.Score}
		if id, ok := hit.Fields["identifier"].(string); ok {
			h.Identifier = id
		}
		out = append(out, h)
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries, one per query term, on field.
func buildFuzzyQuery(queryStr string, fuzziness int, field string) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField(field)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the number of indexed instances.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}
