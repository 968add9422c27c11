package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/tessera-ai/tessera/internal/core"
	"github.com/tessera-ai/tessera/internal/progress"
	"github.com/tessera-ai/tessera/internal/services"
)

// Stage progress values for a single file, scaled into the session
// range by pct.
const (
	stageDownloading  = 10
	stageUploading    = 30
	stageRecord       = 50
	stageTranscribing = 70
	stageTranscribed  = 78
	stageIndexing     = 90
	stageDone         = 100
)

const transcribePollInterval = 2 * time.Second

// Runner executes drive ingestion jobs on a shared worker pool and
// reports through the progress store. Sessions outlive the submitting
// request, so jobs run on a background context.
type Runner struct {
	pool        *ants.Pool
	drive       core.DriveClient
	files       *services.FileService
	ingest      *services.IngestService
	knowledge   *services.KnowledgeService
	vector      core.VectorClient
	transcriber core.Transcriber
	progress    progress.Store
	batchSize   int
	logger      *slog.Logger
}

func NewRunner(
	workers int,
	drive core.DriveClient,
	files *services.FileService,
	ingest *services.IngestService,
	knowledge *services.KnowledgeService,
	vector core.VectorClient,
	transcriber core.Transcriber,
	store progress.Store,
	batchSize int,
	logger *slog.Logger,
) (*Runner, error) {
	pool, err := ants.NewPool(workers, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Runner{
		pool:        pool,
		drive:       drive,
		files:       files,
		ingest:      ingest,
		knowledge:   knowledge,
		vector:      vector,
		transcriber: transcriber,
		progress:    store,
		batchSize:   batchSize,
		logger:      logger,
	}, nil
}

func (r *Runner) Release() {
	r.pool.Release()
}

// session is the runner's working copy of a progress state. The job
// goroutine owns it; the store only ever sees snapshots.
type session struct {
	runner *Runner
	state  progress.State
}

func (s *session) push(ctx context.Context) {
	if err := s.runner.progress.Update(ctx, s.state); err != nil {
		s.runner.logger.Warn("progress update failed",
			"session_id", s.state.SessionID, "error", err)
	}
}

func (s *session) stage(ctx context.Context, stagePct int, message, currentFile string) {
	s.state.Progress = pct(s.state.ProcessedFiles, s.state.TotalFiles, stagePct)
	s.state.Message = message
	s.state.CurrentFile = currentFile
	s.push(ctx)
}

// SubmitDriveFile queues ingestion of a single drive file into the
// knowledge base and returns the session id for progress polling.
func (r *Runner) SubmitDriveFile(actor core.Actor, knowledgeID, driveFileID, oauthToken string) (string, error) {
	sessionID := uuid.NewString()
	if err := r.progress.Update(context.Background(), progress.State{
		SessionID:  sessionID,
		Status:     "queued",
		TotalFiles: 1,
	}); err != nil {
		return "", err
	}

	err := r.pool.Submit(func() {
		ctx := context.Background()
		files := []core.DriveFile{{ID: driveFileID}}
		r.runSession(ctx, sessionID, actor, knowledgeID, files, oauthToken)
	})
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	return sessionID, nil
}

// SubmitDriveFolder queues ingestion of every supported file in a
// drive folder. Listing happens inside the job; the total becomes
// known once it completes.
func (r *Runner) SubmitDriveFolder(actor core.Actor, knowledgeID, folderID, oauthToken string, recursive bool) (string, error) {
	sessionID := uuid.NewString()
	if err := r.progress.Update(context.Background(), progress.State{
		SessionID: sessionID,
		Status:    "queued",
		Message:   "listing folder",
	}); err != nil {
		return "", err
	}

	err := r.pool.Submit(func() {
		ctx := context.Background()
		files, err := r.drive.ListFolderFiles(ctx, folderID, oauthToken, recursive)
		if err != nil {
			r.fail(ctx, sessionID, fmt.Errorf("list folder: %w", err))
			return
		}
		if len(files) == 0 {
			r.complete(ctx, sessionID, "folder has no supported files")
			return
		}
		r.runSession(ctx, sessionID, actor, knowledgeID, files, oauthToken)
	})
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	return sessionID, nil
}

func (r *Runner) runSession(ctx context.Context, sessionID string, actor core.Actor, knowledgeID string, files []core.DriveFile, oauthToken string) {
	names := make([]string, 0, len(files))
	for _, f := range files {
		if f.Name != "" {
			names = append(names, f.Name)
		}
	}

	sess := &session{runner: r, state: progress.State{
		SessionID:  sessionID,
		Status:     "processing",
		TotalFiles: len(files),
		FileList:   names,
		Message:    fmt.Sprintf("processing %d file(s)", len(files)),
	}}
	sess.push(ctx)

	total := len(files)
	var fileErrs []string
	for start := 0; start < total; start += r.batchSize {
		end := start + r.batchSize
		if end > total {
			end = total
		}
		for _, f := range files[start:end] {
			if err := r.processDriveFile(ctx, sess, actor, knowledgeID, f, oauthToken); err != nil {
				r.logger.Error("drive file failed",
					"session_id", sessionID, "drive_file_id", f.ID, "error", err)
				fileErrs = append(fileErrs, fmt.Sprintf("%s: %v", displayName(f), err))
			}
			sess.state.ProcessedFiles++
			sess.stage(ctx, 0, sess.state.Message, sess.state.CurrentFile)
		}
	}

	if sess.state.ProcessedFiles != total {
		r.fail(ctx, sessionID, fmt.Errorf("processed %d of %d files", sess.state.ProcessedFiles, total))
		return
	}
	msg := fmt.Sprintf("processed %d file(s)", total)
	if len(fileErrs) > 0 {
		msg = fmt.Sprintf("processed %d file(s), %d failed: %s",
			total, len(fileErrs), strings.Join(fileErrs, "; "))
	}
	r.complete(ctx, sessionID, msg)
}

// processDriveFile runs one file through download, upload, record
// creation, optional transcription and indexing. A duplicate already
// in the knowledge base is skipped before any transcription spend.
func (r *Runner) processDriveFile(ctx context.Context, sess *session, actor core.Actor, knowledgeID string, f core.DriveFile, oauthToken string) error {
	sess.stage(ctx, stageDownloading, "downloading "+displayName(f), displayName(f))

	data, filename, mimeType, err := r.drive.DownloadFile(ctx, f.ID, oauthToken)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	dup, err := r.alreadyIndexed(ctx, knowledgeID, filename)
	if err != nil {
		return err
	}
	if dup {
		sess.stage(ctx, stageDone, filename+" already indexed, skipping", filename)
		return nil
	}

	sess.stage(ctx, stageUploading, "uploading "+filename, filename)
	meta := map[string]any{"source": "google_drive", "drive_file_id": f.ID}
	file, err := r.files.UploadAndCreate(ctx, actor.ID, filename, mimeType, data, meta)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	sess.stage(ctx, stageRecord, "created record for "+filename, filename)

	req := services.ProcessFileRequest{FileID: file.ID, CollectionName: knowledgeID}
	if isMedia(mimeType) {
		tr, err := r.transcribe(ctx, sess, data, mimeType, filename)
		if err != nil {
			return fmt.Errorf("transcribe: %w", err)
		}
		req.Content = tr.Text
		req.Segments = tr.Segments
	} else {
		// Extract first so the shared add below can reuse the scratch
		// chunks instead of re-splitting.
		if _, err := r.ingest.ProcessFile(ctx, actor, services.ProcessFileRequest{FileID: file.ID}); err != nil {
			return fmt.Errorf("extract: %w", err)
		}
	}

	sess.stage(ctx, stageIndexing, "indexing "+filename, filename)
	if _, err := r.ingest.ProcessFile(ctx, actor, req); err != nil {
		// Duplicates surfaced during the shared add are a benign skip
		// in background flows.
		if errors.Is(err, core.ErrDuplicateContent) || errors.Is(err, core.ErrFileAlreadyInCollection) {
			sess.stage(ctx, stageDone, filename+" already indexed, skipping", filename)
			return nil
		}
		return fmt.Errorf("index: %w", err)
	}

	if _, err := r.knowledge.AddMember(ctx, knowledgeID, file.ID); err != nil {
		return fmt.Errorf("membership: %w", err)
	}
	return nil
}

// transcribe runs speech-to-text with a ticker that nudges the
// progress estimate while the model works. Long audio gives no
// incremental signal, so the estimate grows with elapsed time and
// caps below the post-transcription stage value.
func (r *Runner) transcribe(ctx context.Context, sess *session, data []byte, mimeType, filename string) (*core.Transcription, error) {
	sess.stage(ctx, stageTranscribing, "transcribing "+filename, filename)

	processed, total := sess.state.ProcessedFiles, sess.state.TotalFiles
	done := make(chan struct{})
	go func() {
		start := time.Now()
		ticker := time.NewTicker(transcribePollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				elapsed := time.Since(start).Seconds()
				est := 75 + int(elapsed/30.0*10)
				if est > 95 {
					est = 95
				}
				snapshot := sess.state
				snapshot.Progress = pct(processed, total, est)
				snapshot.Message = "transcribing " + filename
				if err := r.progress.Update(ctx, snapshot); err != nil {
					r.logger.Warn("progress update failed",
						"session_id", snapshot.SessionID, "error", err)
				}
			}
		}
	}()

	tr, err := r.transcriber.Transcribe(ctx, data, mimeType)
	close(done)
	if err != nil {
		return nil, err
	}
	sess.stage(ctx, stageTranscribed, "transcription finished for "+filename, filename)
	return tr, nil
}

// alreadyIndexed reports whether the knowledge base collection already
// holds chunks for a file with this name.
func (r *Runner) alreadyIndexed(ctx context.Context, knowledgeID, filename string) (bool, error) {
	exists, err := r.vector.HasCollection(ctx, knowledgeID)
	if err != nil {
		return false, fmt.Errorf("check collection: %w", err)
	}
	if !exists {
		return false, nil
	}
	res, err := r.vector.Query(ctx, knowledgeID, map[string]any{"name": filename})
	if err != nil {
		return false, fmt.Errorf("duplicate check: %w", err)
	}
	return len(res.IDs) > 0, nil
}

func (r *Runner) complete(ctx context.Context, sessionID, message string) {
	st, err := r.progress.Get(ctx, sessionID)
	if err == nil && st != nil {
		st.Message = message
		if err := r.progress.Update(ctx, *st); err != nil {
			r.logger.Warn("progress update failed", "session_id", sessionID, "error", err)
		}
	}
	if err := r.progress.MarkComplete(ctx, sessionID); err != nil {
		r.logger.Warn("mark complete failed", "session_id", sessionID, "error", err)
	}
}

func (r *Runner) fail(ctx context.Context, sessionID string, err error) {
	if perr := r.progress.MarkError(ctx, sessionID, err.Error()); perr != nil {
		r.logger.Warn("mark error failed", "session_id", sessionID, "error", perr)
	}
}

// pct scales a per-file stage percentage into the whole session.
func pct(processed, total, stagePct int) int {
	if total <= 0 {
		return stagePct
	}
	p := (processed*100 + stagePct) / total
	if p > 100 {
		p = 100
	}
	return p
}

func isMedia(mimeType string) bool {
	return strings.HasPrefix(mimeType, "audio/") || strings.HasPrefix(mimeType, "video/")
}

func displayName(f core.DriveFile) string {
	if f.Name != "" {
		return f.Name
	}
	return f.ID
}
