package indexer

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-ai/tessera/internal/chunker"
	"github.com/tessera-ai/tessera/internal/core"
)

type fakeVector struct {
	collections map[string][]core.VectorItem
	insertCalls int
}

func newFakeVector() *fakeVector {
	return &fakeVector{collections: map[string][]core.VectorItem{}}
}

func (f *fakeVector) HasCollection(_ context.Context, c string) (bool, error) {
	return len(f.collections[c]) > 0, nil
}

func (f *fakeVector) DeleteCollection(_ context.Context, c string) error {
	delete(f.collections, c)
	return nil
}

func (f *fakeVector) Insert(_ context.Context, c string, items []core.VectorItem) error {
	f.insertCalls++
	f.collections[c] = append(f.collections[c], items...)
	return nil
}

func (f *fakeVector) Get(_ context.Context, c string) (*core.GetResult, error) {
	return f.result(f.collections[c]), nil
}

func (f *fakeVector) Query(_ context.Context, c string, filter map[string]any) (*core.GetResult, error) {
	var matched []core.VectorItem
	for _, it := range f.collections[c] {
		if metadataMatches(it.Metadata, filter) {
			matched = append(matched, it)
		}
	}
	return f.result(matched), nil
}

func (f *fakeVector) DeleteByFilter(_ context.Context, c string, filter map[string]any) error {
	var kept []core.VectorItem
	for _, it := range f.collections[c] {
		if !metadataMatches(it.Metadata, filter) {
			kept = append(kept, it)
		}
	}
	f.collections[c] = kept
	return nil
}

func (f *fakeVector) Reset(_ context.Context) error {
	f.collections = map[string][]core.VectorItem{}
	return nil
}

func (f *fakeVector) result(items []core.VectorItem) *core.GetResult {
	res := &core.GetResult{}
	for _, it := range items {
		res.IDs = append(res.IDs, it.ID)
		res.Documents = append(res.Documents, it.Text)
		res.Metadatas = append(res.Metadatas, it.Metadata)
	}
	return res
}

func metadataMatches(meta, filter map[string]any) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string, _ core.EmbeddingPrefix) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) Config() core.EmbeddingConfig {
	return core.EmbeddingConfig{Engine: "fake", Model: "fake-001"}
}

func newTestService(t *testing.T) (*Service, *fakeVector, *fakeEmbedder) {
	t.Helper()
	splitter, err := chunker.NewSplitter(chunker.Config{ChunkSize: 50, ChunkOverlap: 10})
	require.NoError(t, err)

	vec := newFakeVector()
	emb := &fakeEmbedder{}
	return NewService(vec, emb, splitter, slog.New(slog.DiscardHandler)), vec, emb
}

func TestSaveDocsInsertsChunks(t *testing.T) {
	svc, vec, emb := newTestService(t)

	docs := []core.Document{{Content: strings.Repeat("word ", 30), Metadata: map[string]any{"name": "a.txt"}}}
	err := svc.SaveDocs(context.Background(), "kb1", docs, SaveOptions{Metadata: map[string]any{"file_id": "f1"}})
	require.NoError(t, err)

	items := vec.collections["kb1"]
	require.NotEmpty(t, items)
	assert.Equal(t, 1, emb.calls, "all chunks embed in one batch")
	assert.Equal(t, 1, vec.insertCalls)

	for _, it := range items {
		assert.NotEmpty(t, it.ID)
		assert.NotEmpty(t, it.Vector)
		assert.Equal(t, "f1", it.Metadata["file_id"])
		assert.Equal(t, "a.txt", it.Metadata["name"])

		var stamp core.EmbeddingConfig
		require.NoError(t, json.Unmarshal([]byte(it.Metadata["embedding_config"].(string)), &stamp))
		assert.Equal(t, "fake-001", stamp.Model)
	}
}

func TestSaveDocsHashDedup(t *testing.T) {
	svc, vec, emb := newTestService(t)

	vec.collections["kb1"] = []core.VectorItem{{ID: "x", Text: "old", Metadata: map[string]any{"hash": "h1"}}}

	err := svc.SaveDocs(context.Background(), "kb1",
		[]core.Document{{Content: "new content"}},
		SaveOptions{Metadata: map[string]any{"hash": "h1"}, Add: true})
	require.ErrorIs(t, err, core.ErrDuplicateContent)

	assert.Equal(t, 0, emb.calls, "duplicate hash must not be embedded")
	assert.Equal(t, 0, vec.insertCalls)
	assert.Len(t, vec.collections["kb1"], 1)
}

func TestSaveDocsExistingCollectionNoAddIsNoop(t *testing.T) {
	svc, vec, _ := newTestService(t)
	vec.collections["file-1"] = []core.VectorItem{{ID: "x", Text: "old", Metadata: map[string]any{}}}

	err := svc.SaveDocs(context.Background(), "file-1",
		[]core.Document{{Content: "replacement"}}, SaveOptions{})
	require.NoError(t, err)

	require.Len(t, vec.collections["file-1"], 1)
	assert.Equal(t, "old", vec.collections["file-1"][0].Text)
}

func TestSaveDocsOverwriteReplacesCollection(t *testing.T) {
	svc, vec, _ := newTestService(t)
	vec.collections["file-1"] = []core.VectorItem{{ID: "x", Text: "old", Metadata: map[string]any{}}}

	err := svc.SaveDocs(context.Background(), "file-1",
		[]core.Document{{Content: "replacement"}}, SaveOptions{Overwrite: true})
	require.NoError(t, err)

	items := vec.collections["file-1"]
	require.Len(t, items, 1)
	assert.Equal(t, "replacement", items[0].Text)
}

func TestSaveDocsAddAppends(t *testing.T) {
	svc, vec, _ := newTestService(t)
	vec.collections["kb1"] = []core.VectorItem{{ID: "x", Text: "old", Metadata: map[string]any{}}}

	err := svc.SaveDocs(context.Background(), "kb1",
		[]core.Document{{Content: "more"}}, SaveOptions{Add: true})
	require.NoError(t, err)
	assert.Len(t, vec.collections["kb1"], 2)
}

func TestSaveDocsEmptyContent(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.SaveDocs(context.Background(), "kb1",
		[]core.Document{{Content: "   "}}, SaveOptions{})
	assert.ErrorIs(t, err, core.ErrEmptyContent)
}

func TestSaveDocsPreChunked(t *testing.T) {
	svc, vec, _ := newTestService(t)

	long := strings.Repeat("x", 500) // well past the 50-rune chunk size
	err := svc.SaveDocs(context.Background(), "kb1",
		[]core.Document{{Content: long, Metadata: map[string]any{}}},
		SaveOptions{PreChunked: true})
	require.NoError(t, err)

	require.Len(t, vec.collections["kb1"], 1, "prechunked docs must not be re-split")
	assert.Equal(t, long, vec.collections["kb1"][0].Text)
}

func TestNormalizeMetadata(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	out := normalizeMetadata(map[string]any{
		"s":    "str",
		"i":    7,
		"f":    1.5,
		"b":    true,
		"nil":  nil,
		"t":    now,
		"list": []string{"a", "b"},
	})

	assert.Equal(t, "str", out["s"])
	assert.Equal(t, 7, out["i"])
	assert.Equal(t, 1.5, out["f"])
	assert.Equal(t, true, out["b"])
	assert.NotContains(t, out, "nil")
	assert.Equal(t, "2026-03-01T10:00:00Z", out["t"])
	assert.Equal(t, "[a b]", out["list"])
}
