package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/tessera-ai/tessera/internal/core"
	"github.com/tessera-ai/tessera/internal/indexer"
	"github.com/tessera-ai/tessera/internal/models"
)

// Batch file statuses.
const (
	BatchStatusPrepared  = "prepared"
	BatchStatusCompleted = "completed"
	BatchStatusSkipped   = "skipped"
	BatchStatusFailed    = "failed"
)

type BatchFileResult struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

type BatchResult struct {
	Results []BatchFileResult `json:"results"`
	Errors  []BatchFileError  `json:"errors,omitempty"`
}

type BatchFileError struct {
	FileID string `json:"file_id"`
	Error  string `json:"error"`
}

// ProcessFilesBatch indexes many already-extracted files into one
// shared collection with a single combined save. Duplicates are
// skipped per file; a failure of the combined save fails every
// prepared file, never a subset.
func (s *IngestService) ProcessFilesBatch(ctx context.Context, actor core.Actor, fileIDs []string, collection string) (*BatchResult, error) {
	files, err := s.db.GetFilesByIDs(ctx, fileIDs)
	if err != nil {
		return nil, fmt.Errorf("load batch files: %w", err)
	}

	byID := make(map[string]*models.File, len(files))
	for i := range files {
		byID[files[i].ID] = &files[i]
	}

	res := &BatchResult{}
	var docs []core.Document

	for _, id := range fileIDs {
		file, ok := byID[id]
		if !ok {
			res.Results = append(res.Results, BatchFileResult{FileID: id, Status: BatchStatusFailed, Error: "file not found"})
			res.Errors = append(res.Errors, BatchFileError{FileID: id, Error: "file not found"})
			continue
		}

		content := file.Data.Content
		if strings.TrimSpace(content) == "" {
			msg := core.ErrEmptyContent.Error()
			res.Results = append(res.Results, BatchFileResult{FileID: id, Filename: file.Filename, Status: BatchStatusFailed, Error: msg})
			res.Errors = append(res.Errors, BatchFileError{FileID: id, Error: msg})
			continue
		}

		hash := file.Hash
		if hash == "" {
			hash = contentHash(content)
		}

		if !s.bypassEmbedding {
			if err := s.checkDuplicates(ctx, collection, file, hash); err != nil {
				s.logger.Info("skipping duplicate in batch",
					"file_id", id, "collection", collection, "reason", err)
				res.Results = append(res.Results, BatchFileResult{FileID: id, Filename: file.Filename, Status: BatchStatusSkipped, Error: err.Error()})
				continue
			}
		}

		meta := s.fileMetadata(file, actor)
		meta["hash"] = hash
		docs = append(docs, core.Document{Content: content, Metadata: meta})
		res.Results = append(res.Results, BatchFileResult{FileID: id, Filename: file.Filename, Status: BatchStatusPrepared})
	}

	if len(docs) == 0 || s.bypassEmbedding {
		finishPrepared(res, BatchStatusCompleted, "")
		return res, nil
	}

	err = s.indexer.SaveDocs(ctx, collection, docs, indexer.SaveOptions{Add: true})
	if err != nil {
		s.logger.Error("batch save failed", "collection", collection, "error", err)
		finishPrepared(res, BatchStatusFailed, err.Error())
		for _, r := range res.Results {
			if r.Status == BatchStatusFailed && r.Error == err.Error() {
				res.Errors = append(res.Errors, BatchFileError{FileID: r.FileID, Error: r.Error})
			}
		}
		return res, nil
	}

	finishPrepared(res, BatchStatusCompleted, "")
	for _, r := range res.Results {
		if r.Status != BatchStatusCompleted {
			continue
		}
		if err := s.db.UpdateFileMetaByID(ctx, r.FileID, map[string]any{"collection_name": collection}); err != nil {
			s.logger.Warn("stamp collection name failed", "file_id", r.FileID, "error", err)
		}
	}
	return res, nil
}

func finishPrepared(res *BatchResult, status, errMsg string) {
	for i := range res.Results {
		if res.Results[i].Status == BatchStatusPrepared {
			res.Results[i].Status = status
			res.Results[i].Error = errMsg
		}
	}
}
