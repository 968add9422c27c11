package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tessera-ai/tessera/internal/chunker"
	"github.com/tessera-ai/tessera/internal/core"
	"github.com/tessera-ai/tessera/internal/indexer"
	"github.com/tessera-ai/tessera/internal/models"
)

type fakeDB struct {
	users map[string]*models.User
	files map[string]*models.File
	kbs   map[string]*models.KnowledgeBase
	mdls  map[string]*models.Model

	deletedFiles []string
	deletedKBs   []string

	listModelsErr error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		users: map[string]*models.User{},
		files: map[string]*models.File{},
		kbs:   map[string]*models.KnowledgeBase{},
		mdls:  map[string]*models.Model{},
	}
}

func (f *fakeDB) CreateUser(_ context.Context, u *models.User) error {
	if _, ok := f.users[u.Email]; ok {
		return fmt.Errorf("user exists")
	}
	f.users[u.Email] = u
	return nil
}

func (f *fakeDB) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	return f.users[email], nil
}

func (f *fakeDB) CreateFile(_ context.Context, file *models.File) error {
	f.files[file.ID] = file
	return nil
}

func (f *fakeDB) GetFileByID(_ context.Context, id string) (*models.File, error) {
	file, ok := f.files[id]
	if !ok {
		return nil, nil
	}
	cp := *file
	return &cp, nil
}

func (f *fakeDB) GetFilesByIDs(_ context.Context, ids []string) ([]models.File, error) {
	var out []models.File
	for _, id := range ids {
		if file, ok := f.files[id]; ok {
			out = append(out, *file)
		}
	}
	return out, nil
}

func (f *fakeDB) GetFileMetadatasByIDs(_ context.Context, ids []string) ([]models.FileMetadata, error) {
	var out []models.FileMetadata
	for _, id := range ids {
		if file, ok := f.files[id]; ok {
			out = append(out, models.FileMetadata{ID: file.ID, Filename: file.Filename, Meta: file.Meta})
		}
	}
	return out, nil
}

func (f *fakeDB) UpdateFileContentByID(_ context.Context, id, content string) error {
	file, ok := f.files[id]
	if !ok {
		return fmt.Errorf("file %s missing", id)
	}
	file.Data.Content = content
	return nil
}

func (f *fakeDB) UpdateFileHashByID(_ context.Context, id, hash string) error {
	file, ok := f.files[id]
	if !ok {
		return fmt.Errorf("file %s missing", id)
	}
	file.Hash = hash
	return nil
}

func (f *fakeDB) UpdateFileMetaByID(_ context.Context, id string, meta map[string]any) error {
	file, ok := f.files[id]
	if !ok {
		return fmt.Errorf("file %s missing", id)
	}
	if file.Meta == nil {
		file.Meta = map[string]any{}
	}
	for k, v := range meta {
		file.Meta[k] = v
	}
	return nil
}

func (f *fakeDB) DeleteFileByID(_ context.Context, id string) error {
	delete(f.files, id)
	f.deletedFiles = append(f.deletedFiles, id)
	return nil
}

func (f *fakeDB) CreateKnowledge(_ context.Context, kb *models.KnowledgeBase) error {
	f.kbs[kb.ID] = kb
	return nil
}

func (f *fakeDB) GetKnowledgeByID(_ context.Context, id string) (*models.KnowledgeBase, error) {
	kb, ok := f.kbs[id]
	if !ok {
		return nil, nil
	}
	cp := *kb
	cp.Data.FileIDs = append([]string(nil), kb.Data.FileIDs...)
	return &cp, nil
}

func (f *fakeDB) ListKnowledgeBases(_ context.Context) ([]models.KnowledgeBase, error) {
	var out []models.KnowledgeBase
	for _, kb := range f.kbs {
		out = append(out, *kb)
	}
	return out, nil
}

func (f *fakeDB) UpdateKnowledgeByID(_ context.Context, id, name, description string) error {
	kb, ok := f.kbs[id]
	if !ok {
		return fmt.Errorf("knowledge %s missing", id)
	}
	kb.Name = name
	kb.Description = description
	return nil
}

func (f *fakeDB) UpdateKnowledgeDataByID(_ context.Context, id string, data models.KnowledgeData) error {
	kb, ok := f.kbs[id]
	if !ok {
		return fmt.Errorf("knowledge %s missing", id)
	}
	kb.Data = data
	return nil
}

func (f *fakeDB) DeleteKnowledgeByID(_ context.Context, id string) error {
	delete(f.kbs, id)
	f.deletedKBs = append(f.deletedKBs, id)
	return nil
}

func (f *fakeDB) ListKnowledgeBasesReferencingFile(_ context.Context, fileID string) ([]models.KnowledgeBase, error) {
	var out []models.KnowledgeBase
	for _, kb := range f.kbs {
		for _, fid := range kb.Data.FileIDs {
			if fid == fileID {
				out = append(out, *kb)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeDB) ListModels(_ context.Context) ([]models.Model, error) {
	if f.listModelsErr != nil {
		return nil, f.listModelsErr
	}
	var out []models.Model
	for _, m := range f.mdls {
		out = append(out, *m)
	}
	return out, nil
}

func (f *fakeDB) UpdateModelMetaByID(_ context.Context, id string, meta models.ModelMeta) error {
	m, ok := f.mdls[id]
	if !ok {
		return fmt.Errorf("model %s missing", id)
	}
	m.Meta = meta
	return nil
}

func (f *fakeDB) Close() error { return nil }

type fakeVector struct {
	collections map[string][]core.VectorItem
	insertCalls int

	deleteCollectionErr error
	deleteByFilterErr   error
}

func newFakeVector() *fakeVector {
	return &fakeVector{collections: map[string][]core.VectorItem{}}
}

func (f *fakeVector) HasCollection(_ context.Context, c string) (bool, error) {
	return len(f.collections[c]) > 0, nil
}

func (f *fakeVector) DeleteCollection(_ context.Context, c string) error {
	if f.deleteCollectionErr != nil {
		return f.deleteCollectionErr
	}
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
	if f.deleteByFilterErr != nil {
		return f.deleteByFilterErr
	}
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

type fakeStorage struct {
	objects        map[string][]byte
	deletedRelated []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}}
}

func (f *fakeStorage) UploadFile(_ context.Context, bucket, key string, data []byte, _ string) (string, error) {
	f.objects[bucket+"/"+key] = data
	return "https://" + bucket + "/" + key, nil
}

func (f *fakeStorage) DeleteFile(_ context.Context, bucket, key string) error {
	delete(f.objects, bucket+"/"+key)
	return nil
}

func (f *fakeStorage) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (f *fakeStorage) DeleteFileAndRelated(_ context.Context, bucket, key string) error {
	delete(f.objects, bucket+"/"+key)
	f.deletedRelated = append(f.deletedRelated, key)
	return nil
}

func (f *fakeStorage) GetObjectReader(context.Context, string, string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("not implemented")
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, filename, _ string, data []byte) ([]core.Document, error) {
	return []core.Document{{
		Content:  string(data),
		Metadata: map[string]any{"source": filename},
	}}, nil
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

type testEnv struct {
	db        *fakeDB
	vector    *fakeVector
	storage   *fakeStorage
	ingest    *IngestService
	knowledge *KnowledgeService
	files     *FileService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	splitter, err := chunker.NewSplitter(chunker.Config{ChunkSize: 200, ChunkOverlap: 20})
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	db := newFakeDB()
	vec := newFakeVector()
	store := newFakeStorage()
	idx := indexer.NewService(vec, &fakeEmbedder{}, splitter, logger)
	ing := NewIngestService(db, store, vec, idx, fakeExtractor{}, "test-bucket", false, logger)
	kn := NewKnowledgeService(db, vec, store, ing, "test-bucket", logger)
	fs := NewFileService(db, store, vec, "test-bucket", logger)

	return &testEnv{db: db, vector: vec, storage: store, ingest: ing, knowledge: kn, files: fs}
}
