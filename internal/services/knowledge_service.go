package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tessera-ai/tessera/internal/core"
	"github.com/tessera-ai/tessera/internal/models"
)

// KnowledgeService reconciles the three stores a knowledge base spans:
// the relational record (membership source of truth), the vector
// collection named after the knowledge base id, and the blob store
// holding original payloads.
type KnowledgeService struct {
	db      core.DbClient
	vector  core.VectorClient
	storage core.ObjectClient
	ingest  *IngestService
	bucket  string
	logger  *slog.Logger
}

func NewKnowledgeService(
	db core.DbClient,
	vector core.VectorClient,
	storage core.ObjectClient,
	ingest *IngestService,
	bucket string,
	logger *slog.Logger,
) *KnowledgeService {
	return &KnowledgeService{
		db:      db,
		vector:  vector,
		storage: storage,
		ingest:  ingest,
		bucket:  bucket,
		logger:  logger,
	}
}

// KnowledgeWithFiles pairs a knowledge base with the metadata of its
// member files.
type KnowledgeWithFiles struct {
	models.KnowledgeBase
	Files []models.FileMetadata `json:"files"`
}

func (s *KnowledgeService) Create(ctx context.Context, actor core.Actor, name, description string, accessControl map[string]any) (*models.KnowledgeBase, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("knowledge base name required")
	}
	kb := &models.KnowledgeBase{
		ID:            uuid.NewString(),
		UserID:        actor.ID,
		Name:          name,
		Description:   description,
		Data:          models.KnowledgeData{FileIDs: []string{}},
		AccessControl: accessControl,
	}
	if err := s.db.CreateKnowledge(ctx, kb); err != nil {
		return nil, fmt.Errorf("create knowledge base: %w", err)
	}
	return kb, nil
}

// Get returns the knowledge base with its file listing. Membership
// entries pointing at deleted files are repaired in place and the
// shrunken list persisted.
func (s *KnowledgeService) Get(ctx context.Context, actor core.Actor, id string) (*KnowledgeWithFiles, error) {
	kb, err := s.requireKnowledge(ctx, actor, id, false)
	if err != nil {
		return nil, err
	}

	fileMetas, err := s.db.GetFileMetadatasByIDs(ctx, kb.Data.FileIDs)
	if err != nil {
		return nil, fmt.Errorf("load member files: %w", err)
	}

	if len(fileMetas) != len(kb.Data.FileIDs) {
		alive := make([]string, 0, len(fileMetas))
		seen := map[string]bool{}
		for _, fm := range fileMetas {
			seen[fm.ID] = true
		}
		for _, fid := range kb.Data.FileIDs {
			if seen[fid] {
				alive = append(alive, fid)
			}
		}
		s.logger.Warn("repairing stale file references",
			"knowledge_id", id, "before", len(kb.Data.FileIDs), "after", len(alive))
		kb.Data.FileIDs = alive
		if err := s.db.UpdateKnowledgeDataByID(ctx, id, kb.Data); err != nil {
			return nil, fmt.Errorf("persist repaired membership: %w", err)
		}
	}

	return &KnowledgeWithFiles{KnowledgeBase: *kb, Files: fileMetas}, nil
}

// List returns the knowledge bases the actor may read.
func (s *KnowledgeService) List(ctx context.Context, actor core.Actor) ([]models.KnowledgeBase, error) {
	all, err := s.db.ListKnowledgeBases(ctx)
	if err != nil {
		return nil, fmt.Errorf("list knowledge bases: %w", err)
	}
	var out []models.KnowledgeBase
	for _, kb := range all {
		if canAccess(&kb, actor, "read") {
			out = append(out, kb)
		}
	}
	return out, nil
}

func (s *KnowledgeService) Update(ctx context.Context, actor core.Actor, id, name, description string) (*models.KnowledgeBase, error) {
	if _, err := s.requireKnowledge(ctx, actor, id, true); err != nil {
		return nil, err
	}
	if err := s.db.UpdateKnowledgeByID(ctx, id, name, description); err != nil {
		return nil, fmt.Errorf("update knowledge base: %w", err)
	}
	return s.db.GetKnowledgeByID(ctx, id)
}

// AddFile indexes the file into the knowledge base collection and
// appends it to the membership set. Duplicate content or membership is
// a hard rejection here; batch flows skip instead.
//
// Vectors are written before membership: a crash in between leaves
// orphaned vectors (cleaned up by reindex) rather than a member with
// no vectors.
func (s *KnowledgeService) AddFile(ctx context.Context, actor core.Actor, knowledgeID, fileID string) (*KnowledgeWithFiles, error) {
	kb, err := s.requireKnowledge(ctx, actor, knowledgeID, true)
	if err != nil {
		return nil, err
	}

	file, err := s.db.GetFileByID(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("load file: %w", err)
	}
	if file == nil {
		return nil, fmt.Errorf("file %s: %w", fileID, core.ErrNotFound)
	}
	if strings.TrimSpace(file.Data.Content) == "" {
		return nil, fmt.Errorf("file %s not processed yet: %w", fileID, core.ErrEmptyContent)
	}

	if _, err := s.ingest.ProcessFile(ctx, actor, ProcessFileRequest{
		FileID:         fileID,
		CollectionName: knowledgeID,
	}); err != nil {
		return nil, err
	}

	if !contains(kb.Data.FileIDs, fileID) {
		kb.Data.FileIDs = append(kb.Data.FileIDs, fileID)
		if err := s.db.UpdateKnowledgeDataByID(ctx, knowledgeID, kb.Data); err != nil {
			return nil, fmt.Errorf("persist membership: %w", err)
		}
	}

	return s.Get(ctx, actor, knowledgeID)
}

// AddMember appends a file to the membership set without touching the
// vector store. Callers have already written the vectors, typically
// through a background job.
func (s *KnowledgeService) AddMember(ctx context.Context, knowledgeID, fileID string) (*models.KnowledgeBase, error) {
	kb, err := s.db.GetKnowledgeByID(ctx, knowledgeID)
	if err != nil {
		return nil, fmt.Errorf("load knowledge base: %w", err)
	}
	if kb == nil {
		return nil, fmt.Errorf("knowledge base %s: %w", knowledgeID, core.ErrNotFound)
	}
	if !contains(kb.Data.FileIDs, fileID) {
		kb.Data.FileIDs = append(kb.Data.FileIDs, fileID)
		if err := s.db.UpdateKnowledgeDataByID(ctx, knowledgeID, kb.Data); err != nil {
			return nil, fmt.Errorf("persist membership: %w", err)
		}
	}
	return kb, nil
}

// UpdateFile reprocesses a member file in place: old vectors out, new
// vectors in, membership untouched.
func (s *KnowledgeService) UpdateFile(ctx context.Context, actor core.Actor, knowledgeID, fileID string) (*KnowledgeWithFiles, error) {
	kb, err := s.requireKnowledge(ctx, actor, knowledgeID, true)
	if err != nil {
		return nil, err
	}
	if !contains(kb.Data.FileIDs, fileID) {
		return nil, fmt.Errorf("file %s not in knowledge base: %w", fileID, core.ErrNotFound)
	}

	// A missing prior index is a benign precondition here.
	if err := s.vector.DeleteByFilter(ctx, knowledgeID, map[string]any{"file_id": fileID}); err != nil {
		s.logger.Warn("remove old vectors failed", "knowledge_id", knowledgeID, "file_id", fileID, "error", err)
	}

	if _, err := s.ingest.ProcessFile(ctx, actor, ProcessFileRequest{
		FileID:         fileID,
		CollectionName: knowledgeID,
	}); err != nil {
		return nil, err
	}

	return s.Get(ctx, actor, knowledgeID)
}

// RemoveFile drops the file's vectors and membership, then garbage
// collects the file record and blob if no other knowledge base still
// references it.
func (s *KnowledgeService) RemoveFile(ctx context.Context, actor core.Actor, knowledgeID, fileID string) (*KnowledgeWithFiles, error) {
	kb, err := s.requireKnowledge(ctx, actor, knowledgeID, true)
	if err != nil {
		return nil, err
	}
	if !contains(kb.Data.FileIDs, fileID) {
		return nil, fmt.Errorf("file %s not in knowledge base: %w", fileID, core.ErrNotFound)
	}

	// Vector and storage steps are best-effort; only the membership
	// update decides whether the call succeeds.
	if err := s.vector.DeleteByFilter(ctx, knowledgeID, map[string]any{"file_id": fileID}); err != nil {
		s.logger.Warn("remove vectors failed", "knowledge_id", knowledgeID, "file_id", fileID, "error", err)
	}
	if err := s.vector.DeleteCollection(ctx, fileCollection(fileID)); err != nil {
		s.logger.Warn("drop file collection failed", "file_id", fileID, "error", err)
	}

	kb.Data.FileIDs = remove(kb.Data.FileIDs, fileID)
	if err := s.db.UpdateKnowledgeDataByID(ctx, knowledgeID, kb.Data); err != nil {
		return nil, fmt.Errorf("persist membership: %w", err)
	}

	if err := s.collectOrphan(ctx, fileID, knowledgeID); err != nil {
		s.logger.Warn("orphan collection failed", "file_id", fileID, "error", err)
	}

	return s.Get(ctx, actor, knowledgeID)
}

// Reset drops the collection and empties the membership set. Safe to
// call repeatedly.
func (s *KnowledgeService) Reset(ctx context.Context, actor core.Actor, id string) (*models.KnowledgeBase, error) {
	if _, err := s.requireKnowledge(ctx, actor, id, true); err != nil {
		return nil, err
	}
	if err := s.vector.DeleteCollection(ctx, id); err != nil {
		return nil, fmt.Errorf("drop collection: %w", err)
	}
	if err := s.db.UpdateKnowledgeDataByID(ctx, id, models.KnowledgeData{FileIDs: []string{}}); err != nil {
		return nil, fmt.Errorf("reset membership: %w", err)
	}
	return s.db.GetKnowledgeByID(ctx, id)
}

// Delete removes the knowledge base everywhere: model references,
// vector collection, orphaned member files, then the record itself.
func (s *KnowledgeService) Delete(ctx context.Context, actor core.Actor, id string) error {
	kb, err := s.requireKnowledge(ctx, actor, id, true)
	if err != nil {
		return err
	}

	// Sub-steps are isolated so one failure cannot strand the record.
	if err := s.scrubModelReferences(ctx, id); err != nil {
		s.logger.Warn("model reference scrub failed", "knowledge_id", id, "error", err)
	}

	if err := s.vector.DeleteCollection(ctx, id); err != nil {
		s.logger.Warn("drop collection failed", "knowledge_id", id, "error", err)
	}

	for _, fileID := range kb.Data.FileIDs {
		if err := s.collectOrphan(ctx, fileID, id); err != nil {
			s.logger.Warn("orphan collection failed", "file_id", fileID, "error", err)
		}
	}

	if err := s.db.DeleteKnowledgeByID(ctx, id); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// scrubModelReferences strips the knowledge base from every model
// that attached it, so deleted bases never dangle in model configs.
func (s *KnowledgeService) scrubModelReferences(ctx context.Context, knowledgeID string) error {
	allModels, err := s.db.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range allModels {
		var kept []models.KnowledgeRef
		changed := false
		for _, ref := range m.Meta.Knowledge {
			if ref.ID == knowledgeID {
				changed = true
				continue
			}
			kept = append(kept, ref)
		}
		if !changed {
			continue
		}
		m.Meta.Knowledge = kept
		if err := s.db.UpdateModelMetaByID(ctx, m.ID, m.Meta); err != nil {
			return fmt.Errorf("scrub model %s: %w", m.ID, err)
		}
	}
	return nil
}

// collectOrphan deletes the file record, its scratch collection and
// its blob when no knowledge base other than excludeKnowledgeID still
// references it.
//
// Known race: a concurrent AddFile can re-reference the file between
// the check and the delete; membership updates are last-writer-wins
// and the reference check is not transactional with them.
func (s *KnowledgeService) collectOrphan(ctx context.Context, fileID, excludeKnowledgeID string) error {
	refs, err := s.db.ListKnowledgeBasesReferencingFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("reference check: %w", err)
	}
	for _, ref := range refs {
		if ref.ID != excludeKnowledgeID {
			return nil
		}
	}

	file, err := s.db.GetFileByID(ctx, fileID)
	if err != nil {
		return fmt.Errorf("load file: %w", err)
	}
	if file == nil {
		return nil
	}

	if err := s.vector.DeleteCollection(ctx, fileCollection(fileID)); err != nil {
		s.logger.Warn("drop scratch collection failed", "file_id", fileID, "error", err)
	}
	if file.Path != "" {
		if err := s.storage.DeleteFileAndRelated(ctx, s.bucket, file.Path); err != nil {
			s.logger.Warn("blob delete failed", "file_id", fileID, "error", err)
		}
	}
	if err := s.db.DeleteFileByID(ctx, fileID); err != nil {
		return fmt.Errorf("delete file record: %w", err)
	}
	return nil
}

// BatchAddFiles runs the batch ingest and appends every completed
// file to the membership set.
func (s *KnowledgeService) BatchAddFiles(ctx context.Context, actor core.Actor, knowledgeID string, fileIDs []string) (*BatchResult, error) {
	kb, err := s.requireKnowledge(ctx, actor, knowledgeID, true)
	if err != nil {
		return nil, err
	}

	res, err := s.ingest.ProcessFilesBatch(ctx, actor, fileIDs, knowledgeID)
	if err != nil {
		return nil, err
	}

	changed := false
	for _, r := range res.Results {
		if r.Status == BatchStatusCompleted && !contains(kb.Data.FileIDs, r.FileID) {
			kb.Data.FileIDs = append(kb.Data.FileIDs, r.FileID)
			changed = true
		}
	}
	if changed {
		if err := s.db.UpdateKnowledgeDataByID(ctx, knowledgeID, kb.Data); err != nil {
			return nil, fmt.Errorf("persist membership: %w", err)
		}
	}
	return res, nil
}

// ReindexReport lists what failed during a full reindex.
type ReindexReport struct {
	DeletedKnowledgeIDs []string
	FileErrors          []ReindexFileError
}

type ReindexFileError struct {
	KnowledgeID string
	FileID      string
	Error       string
}

// ReindexAll rebuilds every knowledge base collection from its member
// files. Bases with malformed membership data are deleted outright;
// per-file failures are collected and siblings continue. Admin only.
func (s *KnowledgeService) ReindexAll(ctx context.Context, actor core.Actor) (*ReindexReport, error) {
	if !actor.IsAdmin() {
		return nil, core.ErrAccessDenied
	}

	all, err := s.db.ListKnowledgeBases(ctx)
	if err != nil {
		return nil, fmt.Errorf("list knowledge bases: %w", err)
	}

	report := &ReindexReport{}
	var (
		g, gctx = errgroup.WithContext(ctx)
		results = make([][]ReindexFileError, len(all))
		deleted = make([]bool, len(all))
	)
	g.SetLimit(4)

	for i := range all {
		g.Go(func() error {
			kb := all[i]
			if kb.Data.FileIDs == nil {
				s.logger.Warn("deleting knowledge base with malformed data", "knowledge_id", kb.ID)
				if err := s.vector.DeleteCollection(gctx, kb.ID); err != nil {
					s.logger.Warn("drop collection failed", "knowledge_id", kb.ID, "error", err)
				}
				if err := s.db.DeleteKnowledgeByID(gctx, kb.ID); err != nil {
					return fmt.Errorf("delete malformed knowledge base %s: %w", kb.ID, err)
				}
				deleted[i] = true
				return nil
			}

			if err := s.vector.DeleteCollection(gctx, kb.ID); err != nil {
				return fmt.Errorf("drop collection %s: %w", kb.ID, err)
			}
			for _, fileID := range kb.Data.FileIDs {
				if _, err := s.ingest.ProcessFile(gctx, actor, ProcessFileRequest{
					FileID:         fileID,
					CollectionName: kb.ID,
				}); err != nil {
					results[i] = append(results[i], ReindexFileError{
						KnowledgeID: kb.ID, FileID: fileID, Error: err.Error(),
					})
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range all {
		if deleted[i] {
			report.DeletedKnowledgeIDs = append(report.DeletedKnowledgeIDs, all[i].ID)
		}
		report.FileErrors = append(report.FileErrors, results[i]...)
	}
	return report, nil
}

func (s *KnowledgeService) requireKnowledge(ctx context.Context, actor core.Actor, id string, write bool) (*models.KnowledgeBase, error) {
	kb, err := s.db.GetKnowledgeByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load knowledge base: %w", err)
	}
	if kb == nil {
		return nil, fmt.Errorf("knowledge base %s: %w", id, core.ErrNotFound)
	}
	perm := "read"
	if write {
		perm = "write"
	}
	if !canAccess(kb, actor, perm) {
		return nil, core.ErrAccessDenied
	}
	return kb, nil
}

// canAccess: admins and owners always; others through the
// access_control map ({"read": {"user_ids": [...]}, "write": ...}).
// Write access implies read.
func canAccess(kb *models.KnowledgeBase, actor core.Actor, perm string) bool {
	if actor.IsAdmin() || kb.UserID == actor.ID {
		return true
	}
	if grantedTo(kb.AccessControl, "write", actor.ID) {
		return true
	}
	if perm == "read" {
		return grantedTo(kb.AccessControl, "read", actor.ID)
	}
	return false
}

func grantedTo(ac map[string]any, perm, userID string) bool {
	section, ok := ac[perm].(map[string]any)
	if !ok {
		return false
	}
	ids, ok := section["user_ids"].([]any)
	if !ok {
		return false
	}
	for _, v := range ids {
		if s, ok := v.(string); ok && s == userID {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
