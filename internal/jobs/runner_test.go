package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-ai/tessera/internal/chunker"
	"github.com/tessera-ai/tessera/internal/core"
	"github.com/tessera-ai/tessera/internal/indexer"
	"github.com/tessera-ai/tessera/internal/models"
	"github.com/tessera-ai/tessera/internal/progress"
	"github.com/tessera-ai/tessera/internal/services"
)

// memBackend is an in-memory stand-in for the database, object store
// and vector store at once.
type memBackend struct {
	files       map[string]*models.File
	kbs         map[string]*models.KnowledgeBase
	objects     map[string][]byte
	collections map[string][]core.VectorItem
}

func newMemBackend() *memBackend {
	return &memBackend{
		files:       map[string]*models.File{},
		kbs:         map[string]*models.KnowledgeBase{},
		objects:     map[string][]byte{},
		collections: map[string][]core.VectorItem{},
	}
}

func (m *memBackend) CreateUser(context.Context, *models.User) error { return nil }
func (m *memBackend) GetUserByEmail(context.Context, string) (*models.User, error) {
	return nil, nil
}

func (m *memBackend) CreateFile(_ context.Context, f *models.File) error {
	m.files[f.ID] = f
	return nil
}

func (m *memBackend) GetFileByID(_ context.Context, id string) (*models.File, error) {
	f, ok := m.files[id]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

func (m *memBackend) GetFilesByIDs(_ context.Context, ids []string) ([]models.File, error) {
	var out []models.File
	for _, id := range ids {
		if f, ok := m.files[id]; ok {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (m *memBackend) GetFileMetadatasByIDs(_ context.Context, ids []string) ([]models.FileMetadata, error) {
	var out []models.FileMetadata
	for _, id := range ids {
		if f, ok := m.files[id]; ok {
			out = append(out, models.FileMetadata{ID: f.ID, Filename: f.Filename})
		}
	}
	return out, nil
}

func (m *memBackend) UpdateFileContentByID(_ context.Context, id, content string) error {
	m.files[id].Data.Content = content
	return nil
}

func (m *memBackend) UpdateFileHashByID(_ context.Context, id, hash string) error {
	m.files[id].Hash = hash
	return nil
}

func (m *memBackend) UpdateFileMetaByID(_ context.Context, id string, meta map[string]any) error {
	f := m.files[id]
	if f.Meta == nil {
		f.Meta = map[string]any{}
	}
	for k, v := range meta {
		f.Meta[k] = v
	}
	return nil
}

func (m *memBackend) DeleteFileByID(_ context.Context, id string) error {
	delete(m.files, id)
	return nil
}

func (m *memBackend) CreateKnowledge(_ context.Context, kb *models.KnowledgeBase) error {
	m.kbs[kb.ID] = kb
	return nil
}

func (m *memBackend) GetKnowledgeByID(_ context.Context, id string) (*models.KnowledgeBase, error) {
	kb, ok := m.kbs[id]
	if !ok {
		return nil, nil
	}
	cp := *kb
	cp.Data.FileIDs = append([]string(nil), kb.Data.FileIDs...)
	return &cp, nil
}

func (m *memBackend) ListKnowledgeBases(context.Context) ([]models.KnowledgeBase, error) {
	var out []models.KnowledgeBase
	for _, kb := range m.kbs {
		out = append(out, *kb)
	}
	return out, nil
}

func (m *memBackend) UpdateKnowledgeByID(context.Context, string, string, string) error { return nil }

func (m *memBackend) UpdateKnowledgeDataByID(_ context.Context, id string, data models.KnowledgeData) error {
	m.kbs[id].Data = data
	return nil
}

func (m *memBackend) DeleteKnowledgeByID(_ context.Context, id string) error {
	delete(m.kbs, id)
	return nil
}

func (m *memBackend) ListKnowledgeBasesReferencingFile(_ context.Context, fileID string) ([]models.KnowledgeBase, error) {
	var out []models.KnowledgeBase
	for _, kb := range m.kbs {
		for _, fid := range kb.Data.FileIDs {
			if fid == fileID {
				out = append(out, *kb)
				break
			}
		}
	}
	return out, nil
}

func (m *memBackend) ListModels(context.Context) ([]models.Model, error) { return nil, nil }
func (m *memBackend) UpdateModelMetaByID(context.Context, string, models.ModelMeta) error {
	return nil
}
func (m *memBackend) Close() error { return nil }

func (m *memBackend) UploadFile(_ context.Context, bucket, key string, data []byte, _ string) (string, error) {
	m.objects[bucket+"/"+key] = data
	return "https://" + bucket + "/" + key, nil
}

func (m *memBackend) DeleteFile(_ context.Context, bucket, key string) error {
	delete(m.objects, bucket+"/"+key)
	return nil
}

func (m *memBackend) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (m *memBackend) DeleteFileAndRelated(_ context.Context, bucket, key string) error {
	delete(m.objects, bucket+"/"+key)
	return nil
}

func (m *memBackend) GetObjectReader(context.Context, string, string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("not implemented")
}

func (m *memBackend) HasCollection(_ context.Context, c string) (bool, error) {
	return len(m.collections[c]) > 0, nil
}

func (m *memBackend) DeleteCollection(_ context.Context, c string) error {
	delete(m.collections, c)
	return nil
}

func (m *memBackend) Insert(_ context.Context, c string, items []core.VectorItem) error {
	m.collections[c] = append(m.collections[c], items...)
	return nil
}

func (m *memBackend) Get(_ context.Context, c string) (*core.GetResult, error) {
	return m.result(m.collections[c]), nil
}

func (m *memBackend) Query(_ context.Context, c string, filter map[string]any) (*core.GetResult, error) {
	var matched []core.VectorItem
	for _, it := range m.collections[c] {
		ok := true
		for k, v := range filter {
			if it.Metadata[k] != v {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, it)
		}
	}
	return m.result(matched), nil
}

func (m *memBackend) DeleteByFilter(_ context.Context, c string, filter map[string]any) error {
	var kept []core.VectorItem
	for _, it := range m.collections[c] {
		match := true
		for k, v := range filter {
			if it.Metadata[k] != v {
				match = false
				break
			}
		}
		if !match {
			kept = append(kept, it)
		}
	}
	m.collections[c] = kept
	return nil
}

func (m *memBackend) Reset(context.Context) error {
	m.collections = map[string][]core.VectorItem{}
	return nil
}

func (m *memBackend) result(items []core.VectorItem) *core.GetResult {
	res := &core.GetResult{}
	for _, it := range items {
		res.IDs = append(res.IDs, it.ID)
		res.Documents = append(res.Documents, it.Text)
		res.Metadatas = append(res.Metadatas, it.Metadata)
	}
	return res
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedTexts(_ context.Context, texts []string, _ core.EmbeddingPrefix) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2}
	}
	return out, nil
}

func (fakeEmbedder) Config() core.EmbeddingConfig {
	return core.EmbeddingConfig{Engine: "fake", Model: "fake-001"}
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, filename, _ string, data []byte) ([]core.Document, error) {
	return []core.Document{{
		Content:  string(data),
		Metadata: map[string]any{"source": filename},
	}}, nil
}

type driveEntry struct {
	data     []byte
	filename string
	mimeType string
	err      error
}

type fakeDrive struct {
	entries map[string]driveEntry
	folders map[string][]core.DriveFile
}

func (f *fakeDrive) DownloadFile(_ context.Context, fileID, _ string) ([]byte, string, string, error) {
	e, ok := f.entries[fileID]
	if !ok {
		return nil, "", "", fmt.Errorf("drive file %s not found", fileID)
	}
	return e.data, e.filename, e.mimeType, e.err
}

func (f *fakeDrive) ListFolderFiles(_ context.Context, folderID, _ string, _ bool) ([]core.DriveFile, error) {
	return f.folders[folderID], nil
}

type fakeTranscriber struct {
	calls int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, _ string) (*core.Transcription, error) {
	f.calls++
	return &core.Transcription{
		Text: "spoken words",
		Segments: []core.Segment{
			{Start: 0, End: 3, Text: "spoken"},
			{Start: 3, End: 6, Text: "words"},
		},
	}, nil
}

type runnerEnv struct {
	backend     *memBackend
	runner      *Runner
	store       progress.Store
	drive       *fakeDrive
	transcriber *fakeTranscriber
}

func newRunnerEnv(t *testing.T) *runnerEnv {
	t.Helper()
	store := progress.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })
	return newRunnerEnvWithStore(t, store)
}

func newRunnerEnvWithStore(t *testing.T, store progress.Store) *runnerEnv {
	t.Helper()
	splitter, err := chunker.NewSplitter(chunker.Config{
		ChunkSize: 200, ChunkOverlap: 20, TimestampCitations: true,
	})
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	backend := newMemBackend()
	idx := indexer.NewService(backend, fakeEmbedder{}, splitter, logger)
	ing := services.NewIngestService(backend, backend, backend, idx, fakeExtractor{}, "test-bucket", false, logger)
	kn := services.NewKnowledgeService(backend, backend, backend, ing, "test-bucket", logger)
	fs := services.NewFileService(backend, backend, backend, "test-bucket", logger)

	drv := &fakeDrive{entries: map[string]driveEntry{}, folders: map[string][]core.DriveFile{}}
	tr := &fakeTranscriber{}

	runner, err := NewRunner(2, drv, fs, ing, kn, backend, tr, store, 5, logger)
	require.NoError(t, err)
	t.Cleanup(runner.Release)

	return &runnerEnv{backend: backend, runner: runner, store: store, drive: drv, transcriber: tr}
}

func waitTerminal(t *testing.T, store progress.Store, sessionID string) *progress.State {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := store.Get(context.Background(), sessionID)
		if err == nil && st.Terminal() {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session never reached a terminal state")
	return nil
}

func TestDriveFileIngestion(t *testing.T) {
	env := newRunnerEnv(t)
	actor := core.Actor{ID: "user-1"}

	env.backend.kbs["kb-1"] = &models.KnowledgeBase{
		ID: "kb-1", UserID: "user-1",
		Data: models.KnowledgeData{FileIDs: []string{}},
	}
	env.drive.entries["d1"] = driveEntry{
		data: []byte("drive document body"), filename: "doc.txt", mimeType: "text/plain",
	}

	sessionID, err := env.runner.SubmitDriveFile(actor, "kb-1", "d1", "tok")
	require.NoError(t, err)

	st := waitTerminal(t, env.store, sessionID)
	assert.Equal(t, progress.StatusCompleted, st.Status)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, 1, st.ProcessedFiles)
	assert.Equal(t, 1, st.TotalFiles)

	// file recorded, indexed and added to membership
	kb := env.backend.kbs["kb-1"]
	require.Len(t, kb.Data.FileIDs, 1)
	assert.NotEmpty(t, env.backend.collections["kb-1"])
	assert.Zero(t, env.transcriber.calls)
}

func TestDriveFolderIngestionContinuesPastFailures(t *testing.T) {
	env := newRunnerEnv(t)
	actor := core.Actor{ID: "user-1"}

	env.backend.kbs["kb-1"] = &models.KnowledgeBase{
		ID: "kb-1", UserID: "user-1",
		Data: models.KnowledgeData{FileIDs: []string{}},
	}
	env.drive.folders["folder-1"] = []core.DriveFile{
		{ID: "good", Name: "good.txt"},
		{ID: "broken", Name: "broken.txt"},
	}
	env.drive.entries["good"] = driveEntry{
		data: []byte("good body"), filename: "good.txt", mimeType: "text/plain",
	}
	// "broken" has no entry, so download fails

	sessionID, err := env.runner.SubmitDriveFolder(actor, "kb-1", "folder-1", "tok", false)
	require.NoError(t, err)

	st := waitTerminal(t, env.store, sessionID)
	assert.Equal(t, progress.StatusCompleted, st.Status)
	assert.Equal(t, 2, st.ProcessedFiles)
	assert.Contains(t, st.Message, "1 failed")

	// the good file still made it in
	require.Len(t, env.backend.kbs["kb-1"].Data.FileIDs, 1)
}

func TestDriveMediaFileTranscribed(t *testing.T) {
	env := newRunnerEnv(t)
	actor := core.Actor{ID: "user-1"}

	env.backend.kbs["kb-1"] = &models.KnowledgeBase{
		ID: "kb-1", UserID: "user-1",
		Data: models.KnowledgeData{FileIDs: []string{}},
	}
	env.drive.entries["a1"] = driveEntry{
		data: []byte{1, 2, 3}, filename: "talk.mp3", mimeType: "audio/mpeg",
	}

	sessionID, err := env.runner.SubmitDriveFile(actor, "kb-1", "a1", "tok")
	require.NoError(t, err)

	st := waitTerminal(t, env.store, sessionID)
	assert.Equal(t, progress.StatusCompleted, st.Status)
	assert.Equal(t, 1, env.transcriber.calls)

	// transcription text ended up in the index
	items := env.backend.collections["kb-1"]
	require.NotEmpty(t, items)
	assert.Contains(t, items[0].Text, "spoken")
}

func TestDriveDuplicateSkippedBeforeTranscription(t *testing.T) {
	env := newRunnerEnv(t)
	actor := core.Actor{ID: "user-1"}

	env.backend.kbs["kb-1"] = &models.KnowledgeBase{
		ID: "kb-1", UserID: "user-1",
		Data: models.KnowledgeData{FileIDs: []string{}},
	}
	env.backend.collections["kb-1"] = []core.VectorItem{{
		ID: "existing", Metadata: map[string]any{"name": "talk.mp3"},
	}}
	env.drive.entries["a1"] = driveEntry{
		data: []byte{1, 2, 3}, filename: "talk.mp3", mimeType: "audio/mpeg",
	}

	sessionID, err := env.runner.SubmitDriveFile(actor, "kb-1", "a1", "tok")
	require.NoError(t, err)

	st := waitTerminal(t, env.store, sessionID)
	assert.Equal(t, progress.StatusCompleted, st.Status)
	assert.Zero(t, env.transcriber.calls)
	assert.Empty(t, env.backend.kbs["kb-1"].Data.FileIDs)
}

// recordingStore keeps every snapshot pushed through Update so tests
// can inspect intermediate session states.
type recordingStore struct {
	progress.Store
	mu        sync.Mutex
	snapshots []progress.State
}

func (r *recordingStore) Update(ctx context.Context, st progress.State) error {
	r.mu.Lock()
	r.snapshots = append(r.snapshots, st)
	r.mu.Unlock()
	return r.Store.Update(ctx, st)
}

func TestDriveFolderSessionStaysProcessingMidFlight(t *testing.T) {
	inner := progress.NewMemoryStore(time.Minute)
	t.Cleanup(func() { inner.Close() })
	rec := &recordingStore{Store: inner}
	env := newRunnerEnvWithStore(t, rec)
	actor := core.Actor{ID: "user-1"}

	env.backend.kbs["kb-1"] = &models.KnowledgeBase{
		ID: "kb-1", UserID: "user-1",
		Data: models.KnowledgeData{FileIDs: []string{}},
	}
	env.drive.folders["folder-1"] = []core.DriveFile{
		{ID: "d1", Name: "one.txt"},
		{ID: "d2", Name: "two.txt"},
	}
	env.drive.entries["d1"] = driveEntry{
		data: []byte("first body"), filename: "one.txt", mimeType: "text/plain",
	}
	env.drive.entries["d2"] = driveEntry{
		data: []byte("second body"), filename: "two.txt", mimeType: "text/plain",
	}

	sessionID, err := env.runner.SubmitDriveFolder(actor, "kb-1", "folder-1", "tok", false)
	require.NoError(t, err)

	st := waitTerminal(t, rec, sessionID)
	assert.Equal(t, progress.StatusCompleted, st.Status)
	assert.Equal(t, 2, st.ProcessedFiles)

	// A one-file-done snapshot must have been visible before the
	// session flipped terminal.
	rec.mu.Lock()
	defer rec.mu.Unlock()
	sawMidFlight := false
	for _, snap := range rec.snapshots {
		if snap.SessionID != sessionID {
			continue
		}
		if snap.Terminal() {
			break
		}
		if snap.Status == "processing" && snap.ProcessedFiles == 1 {
			sawMidFlight = true
		}
	}
	assert.True(t, sawMidFlight, "expected a processing snapshot with one file done")
}

func TestPctScaling(t *testing.T) {
	assert.Equal(t, 10, pct(0, 1, 10))
	assert.Equal(t, 100, pct(1, 1, 0))
	assert.Equal(t, 5, pct(0, 2, 10))
	assert.Equal(t, 55, pct(1, 2, 10))
	assert.Equal(t, 100, pct(2, 2, 0))
	// total unknown yet
	assert.Equal(t, 30, pct(0, 0, 30))
}
