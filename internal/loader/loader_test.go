package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_JSONLines(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data.jsonl", `{"id": "A-1", "text": ["first segment", "second one"], "embedding": [0.1, 0.2, 0.3]}

{"id": 42, "text": "line one\nline two\n\n", "embedding": null}
{"text": "no id", "embedding": "[1, 2, 3]"}
`)
	got, err := Load(path, Options{})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "A-1", got[0].Identifier)
	assert.Equal(t, []string{"first segment", "second one"}, got[0].Segments)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, got[0].Embedding)

	assert.Equal(t, "42", got[1].Identifier)
	assert.Equal(t, []string{"line one", "line two"}, got[1].Segments)
	assert.Nil(t, got[1].Embedding)

	assert.NotEmpty(t, got[2].Identifier, "missing identifiers are generated")
	assert.Equal(t, []float64{1, 2, 3}, got[2].Embedding)
}

func TestLoad_JSONArrayCustomColumns(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data.json", `[
  {"application_number": "123", "essentials": "a|b", "bert": [1, 2]},
  {"application_number": "456", "essentials": "c", "bert": []}
]`)
	got, err := Load(path, Options{IDColumn: "application_number", TextColumn: "essentials", EmbeddingColumn: "bert", SegmentDelimiter: "|"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"a", "b"}, got[0].Segments)
	assert.Equal(t, []float64{1, 2}, got[0].Embedding)
	assert.False(t, got[1].HasEmbedding())
}

func TestLoad_Excel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"id", "text", "Embedding_1", "Embedding_0"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"X1", "hello world\nbye", 0.5, 0.25}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{"X2", "no vector"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	got, err := Load(path, Options{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "X1", got[0].Identifier)
	assert.Equal(t, []string{"hello world", "bye"}, got[0].Segments)
	assert.Equal(t, []float64{0.25, 0.5}, got[0].Embedding)
	assert.Nil(t, got[1].Embedding)
}

func TestLoad_ExcelVectorColumn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vec.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"text", "embedding"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"alpha", "[0.1, 0.2]"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{"beta", "0.3 0.4"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	got, err := Load(path, Options{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []float64{0.1, 0.2}, got[0].Embedding)
	assert.Equal(t, []float64{0.3, 0.4}, got[1].Embedding)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unsupported", "data.csv", "id,text\n"},
		{"bad json line", "bad.jsonl", "{not json}\n"},
		{"not an array", "obj.json", `{"id": 1}`},
		{"bad embedding", "emb.jsonl", `{"text": "x", "embedding": {"a": 1}}` + "\n"},
		{"mixed dimensions", "dims.jsonl", `{"text": "x", "embedding": [1, 2]}` + "\n" + `{"text": "y", "embedding": [1]}` + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)
			_, err := Load(path, Options{})
			assert.Error(t, err)
		})
	}
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.jsonl", `{"id": "a", "text": "x", "embedding": [1, 2]}`+"\n")
	b := writeFile(t, dir, "b.json", `[{"id": "b", "text": "y", "embedding": [3, 4]}]`)
	c := writeFile(t, dir, "c.jsonl", `{"id": "c", "text": "z", "embedding": [5]}`+"\n")

	got, err := LoadAll(context.Background(), []string{a, b}, Options{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].Identifier)

	_, err = LoadAll(context.Background(), []string{a, c}, Options{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = LoadAll(ctx, []string{a}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("/x/data.JSONL"))
	assert.True(t, IsSupported("data.xlsx"))
	assert.False(t, IsSupported("data.pdf"))
}

func TestParseEmbeddingText(t *testing.T) {
	v, err := parseEmbeddingText(" 1,2;3\t4 ")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, v)

	v, err = parseEmbeddingText("NaN")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = parseEmbeddingText("1, x")
	assert.Error(t, err)
}
