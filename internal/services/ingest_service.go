package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tessera-ai/tessera/internal/core"
	"github.com/tessera-ai/tessera/internal/indexer"
	"github.com/tessera-ai/tessera/internal/models"
)

// fileCollectionPrefix names the per-file scratch collection that
// holds a single file's chunks outside any knowledge base.
const fileCollectionPrefix = "file-"

func fileCollection(fileID string) string { return fileCollectionPrefix + fileID }

type IngestService struct {
	db        core.DbClient
	storage   core.ObjectClient
	vector    core.VectorClient
	indexer   *indexer.Service
	extractor core.Extractor
	bucket    string

	// bypassEmbedding saves extracted content and hashes but skips
	// all vector work.
	bypassEmbedding bool

	logger *slog.Logger
}

func NewIngestService(
	db core.DbClient,
	storage core.ObjectClient,
	vector core.VectorClient,
	idx *indexer.Service,
	extractor core.Extractor,
	bucket string,
	bypassEmbedding bool,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		db:              db,
		storage:         storage,
		vector:          vector,
		indexer:         idx,
		extractor:       extractor,
		bucket:          bucket,
		bypassEmbedding: bypassEmbedding,
		logger:          logger,
	}
}

// ProcessFileRequest selects one of three processing modes:
//   - Content set: index the supplied text, replacing whatever the
//     file's scratch collection held.
//   - CollectionName set (no Content): add the file to that shared
//     collection, reusing existing scratch chunks when available.
//   - Neither: fresh upload; fetch the blob, extract, index into the
//     file's scratch collection.
type ProcessFileRequest struct {
	FileID         string
	Content        string
	CollectionName string

	// Segments carries transcription timing for supplied content so
	// the splitter can produce timestamped chunks.
	Segments []core.Segment
}

type ProcessFileResult struct {
	CollectionName string
	Filename       string
	Content        string
}

func (s *IngestService) ProcessFile(ctx context.Context, actor core.Actor, req ProcessFileRequest) (*ProcessFileResult, error) {
	file, err := s.db.GetFileByID(ctx, req.FileID)
	if err != nil {
		return nil, fmt.Errorf("load file %s: %w", req.FileID, err)
	}
	if file == nil {
		return nil, fmt.Errorf("file %s: %w", req.FileID, core.ErrNotFound)
	}
	if !actor.IsAdmin() && file.UserID != actor.ID {
		return nil, core.ErrAccessDenied
	}

	var (
		collection = fileCollection(file.ID)
		docs       []core.Document
		preChunked bool
	)

	switch {
	case req.Content != "":
		// Supplied content replaces anything previously indexed for
		// this file.
		if err := s.vector.DeleteCollection(ctx, collection); err != nil {
			return nil, fmt.Errorf("reset file collection: %w", err)
		}
		if req.CollectionName != "" {
			collection = req.CollectionName
		}
		meta := s.fileMetadata(file, actor)
		if len(req.Segments) > 0 {
			meta["segments"] = req.Segments
		}
		docs = []core.Document{{
			Content:  req.Content,
			Metadata: meta,
		}}

	case req.CollectionName != "":
		collection = req.CollectionName
		docs, preChunked, err = s.reuseOrRebuild(ctx, file, actor)
		if err != nil {
			return nil, err
		}

	default:
		data, err := s.storage.GetFile(ctx, s.bucket, file.Path)
		if err != nil {
			return nil, fmt.Errorf("fetch blob for %s: %w", file.ID, err)
		}
		contentType, _ := file.Meta["content_type"].(string)
		docs, err = s.extractor.Extract(ctx, file.Filename, contentType, data)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(joinedContent(docs)) == "" {
			// Leave the record without content or hash so a retry
			// starts from a clean slate.
			return nil, fmt.Errorf("file %s produced no text: %w", file.ID, core.ErrContentExtraction)
		}
		for i := range docs {
			mergeInto(docs[i].Metadata, s.fileMetadata(file, actor))
		}
	}

	text := joinedContent(docs)
	hash := contentHash(text)

	// The file record always learns the extracted content and hash,
	// even when indexing is bypassed or fails later.
	if err := s.db.UpdateFileContentByID(ctx, file.ID, text); err != nil {
		return nil, fmt.Errorf("store content: %w", err)
	}
	if err := s.db.UpdateFileHashByID(ctx, file.ID, hash); err != nil {
		return nil, fmt.Errorf("store hash: %w", err)
	}

	if s.bypassEmbedding {
		s.logger.Info("embedding bypass enabled, content saved without indexing",
			"file_id", file.ID)
		return &ProcessFileResult{CollectionName: collection, Filename: file.Filename, Content: text}, nil
	}

	if req.CollectionName != "" {
		if err := s.checkDuplicates(ctx, collection, file, hash); err != nil {
			return nil, err
		}
	}

	err = s.indexer.SaveDocs(ctx, collection, docs, indexer.SaveOptions{
		Metadata: map[string]any{
			"file_id": file.ID,
			"name":    file.Filename,
			"hash":    hash,
		},
		Add:        req.CollectionName != "",
		PreChunked: preChunked,
	})
	if err != nil {
		return nil, fmt.Errorf("index %s into %s: %w", file.ID, collection, err)
	}

	if err := s.db.UpdateFileMetaByID(ctx, file.ID, map[string]any{"collection_name": collection}); err != nil {
		return nil, fmt.Errorf("stamp collection name: %w", err)
	}

	return &ProcessFileResult{CollectionName: collection, Filename: file.Filename, Content: text}, nil
}

// reuseOrRebuild prefers the file's scratch chunks over re-splitting,
// falling back to stored content when the scratch collection is gone.
func (s *IngestService) reuseOrRebuild(ctx context.Context, file *models.File, actor core.Actor) ([]core.Document, bool, error) {
	scratch := fileCollection(file.ID)
	exists, err := s.vector.HasCollection(ctx, scratch)
	if err != nil {
		return nil, false, fmt.Errorf("scratch collection check: %w", err)
	}
	if exists {
		res, err := s.vector.Get(ctx, scratch)
		if err != nil {
			return nil, false, fmt.Errorf("read scratch chunks: %w", err)
		}
		if len(res.Documents) > 0 {
			docs := make([]core.Document, len(res.Documents))
			for i, text := range res.Documents {
				meta := res.Metadatas[i]
				if meta == nil {
					meta = map[string]any{}
				}
				docs[i] = core.Document{Content: text, Metadata: meta}
			}
			return docs, true, nil
		}
	}

	if strings.TrimSpace(file.Data.Content) == "" {
		return nil, false, fmt.Errorf("file %s has no stored content: %w", file.ID, core.ErrEmptyContent)
	}
	return []core.Document{{
		Content:  file.Data.Content,
		Metadata: s.fileMetadata(file, actor),
	}}, false, nil
}

// checkDuplicates enforces dedup precedence for shared collections:
// content hash first, then file id, then filename.
func (s *IngestService) checkDuplicates(ctx context.Context, collection string, file *models.File, hash string) error {
	if hash != "" {
		res, err := s.vector.Query(ctx, collection, map[string]any{"hash": hash})
		if err != nil {
			return fmt.Errorf("hash dedup query: %w", err)
		}
		if len(res.IDs) > 0 {
			return fmt.Errorf("file %s: %w", file.ID, core.ErrDuplicateContent)
		}
	}

	res, err := s.vector.Query(ctx, collection, map[string]any{"file_id": file.ID})
	if err != nil {
		return fmt.Errorf("file id dedup query: %w", err)
	}
	if len(res.IDs) > 0 {
		return fmt.Errorf("file %s: %w", file.ID, core.ErrFileAlreadyInCollection)
	}

	res, err = s.vector.Query(ctx, collection, map[string]any{"name": file.Filename})
	if err != nil {
		return fmt.Errorf("filename dedup query: %w", err)
	}
	if len(res.IDs) > 0 {
		return fmt.Errorf("filename %q: %w", file.Filename, core.ErrDuplicateContent)
	}
	return nil
}

func (s *IngestService) fileMetadata(file *models.File, actor core.Actor) map[string]any {
	return map[string]any{
		"name":       file.Filename,
		"created_by": actor.ID,
		"file_id":    file.ID,
		"source":     file.Filename,
	}
}

func joinedContent(docs []core.Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Content)
	}
	return strings.Join(parts, " ")
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
}
