// Package indexer persists documents into vector collections: split,
// dedup by content hash, stamp metadata, embed, insert.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tessera-ai/tessera/internal/chunker"
	"github.com/tessera-ai/tessera/internal/core"
)

type Service struct {
	vector   core.VectorClient
	embedder core.EmbeddingProvider
	splitter *chunker.Splitter
	logger   *slog.Logger
}

func NewService(vector core.VectorClient, embedder core.EmbeddingProvider, splitter *chunker.Splitter, logger *slog.Logger) *Service {
	return &Service{vector: vector, embedder: embedder, splitter: splitter, logger: logger}
}

// SaveOptions control how documents land in the collection.
type SaveOptions struct {
	// Metadata is merged into every chunk's metadata, overriding
	// per-document keys. A "hash" key enables content dedup.
	Metadata map[string]any

	// Overwrite drops an existing collection before inserting.
	Overwrite bool

	// Add appends to an existing collection. When neither Add nor
	// Overwrite is set, an existing collection makes the call a no-op.
	Add bool

	// PreChunked skips splitting; docs are stored as given.
	PreChunked bool
}

// SaveDocs writes docs into the named collection. A content-hash match
// rejects with ErrDuplicateContent before any embedding work; an
// existing collection with neither Add nor Overwrite set is a no-op.
func (s *Service) SaveDocs(ctx context.Context, collection string, docs []core.Document, opts SaveOptions) error {
	if hash, ok := opts.Metadata["hash"].(string); ok && hash != "" {
		res, err := s.vector.Query(ctx, collection, map[string]any{"hash": hash})
		if err != nil {
			return fmt.Errorf("hash dedup query: %w", err)
		}
		if len(res.IDs) > 0 {
			s.logger.Info("content hash already in collection",
				"collection", collection, "hash", hash)
			return fmt.Errorf("collection %s: %w", collection, core.ErrDuplicateContent)
		}
	}

	if !opts.PreChunked {
		split, err := s.splitter.Split(docs)
		if err != nil {
			return fmt.Errorf("split documents: %w", err)
		}
		docs = split
	}

	var chunks []core.Document
	for _, d := range docs {
		if strings.TrimSpace(d.Content) != "" {
			chunks = append(chunks, d)
		}
	}
	if len(chunks) == 0 {
		return core.ErrEmptyContent
	}

	exists, err := s.vector.HasCollection(ctx, collection)
	if err != nil {
		return fmt.Errorf("collection check: %w", err)
	}
	if exists && opts.Overwrite {
		if err := s.vector.DeleteCollection(ctx, collection); err != nil {
			return fmt.Errorf("overwrite collection: %w", err)
		}
		exists = false
	}
	if exists && !opts.Add {
		s.logger.Info("collection already exists, skipping", "collection", collection)
		return nil
	}

	stamp := embeddingStamp(s.embedder.Config())
	metadatas := make([]map[string]any, len(chunks))
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		meta := mergeMetadata(ch.Metadata, opts.Metadata)
		meta["embedding_config"] = stamp
		metadatas[i] = normalizeMetadata(meta)
		// Embedding quality degrades on raw newlines.
		texts[i] = strings.ReplaceAll(ch.Content, "\n", " ")
	}

	vectors, err := s.embedder.EmbedTexts(ctx, texts, core.PrefixContent)
	if err != nil {
		return fmt.Errorf("embed %d chunks: %w", len(texts), err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	items := make([]core.VectorItem, len(chunks))
	for i, ch := range chunks {
		items[i] = core.VectorItem{
			ID:       uuid.NewString(),
			Text:     ch.Content,
			Vector:   vectors[i],
			Metadata: metadatas[i],
		}
	}

	if err := s.vector.Insert(ctx, collection, items); err != nil {
		return fmt.Errorf("insert into %s: %w", collection, err)
	}
	s.logger.Info("saved documents to collection",
		"collection", collection, "chunks", len(items))
	return nil
}

func embeddingStamp(cfg core.EmbeddingConfig) string {
	b, _ := json.Marshal(cfg)
	return string(b)
}

func mergeMetadata(doc, override map[string]any) map[string]any {
	out := make(map[string]any, len(doc)+len(override))
	for k, v := range doc {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// normalizeMetadata drops nils and renders non-scalar values as
// strings so the store's filterable payload stays flat.
func normalizeMetadata(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		switch val := v.(type) {
		case nil:
			continue
		case string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			out[k] = val
		case time.Time:
			out[k] = val.Format(time.RFC3339)
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}
