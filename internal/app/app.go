package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/tessera-ai/tessera/internal/chunker"
	"github.com/tessera-ai/tessera/internal/config"
	"github.com/tessera-ai/tessera/internal/core"
	db "github.com/tessera-ai/tessera/internal/core/database"
	"github.com/tessera-ai/tessera/internal/core/llm"
	objectclient "github.com/tessera-ai/tessera/internal/core/object-client"
	"github.com/tessera-ai/tessera/internal/core/vectorstore"
	"github.com/tessera-ai/tessera/internal/drive"
	"github.com/tessera-ai/tessera/internal/extract"
	"github.com/tessera-ai/tessera/internal/indexer"
	"github.com/tessera-ai/tessera/internal/jobs"
	"github.com/tessera-ai/tessera/internal/progress"
	"github.com/tessera-ai/tessera/internal/services"
)

type App struct {
	DBClient core.DbClient
	Progress progress.Store
	Runner   *jobs.Runner
	Server   *Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Println("Database initialized and ready.")

	vectorClient, err := vectorstore.NewPgVectorClient(dbClient.(*db.DatabaseClient).DB())
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the vector store, %w", err)
	}
	log.Println("Vector store initialized and ready.")

	objClient, err := objectclient.NewS3Client(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Println("Object client initialized and ready.")

	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}

	transcriber, err := llm.NewGeminiTranscriber(appCtx, cfg.AIAPIKey, cfg.SttModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the transcriber, %w", err)
	}

	splitter, err := chunker.NewSplitter(chunker.Config{
		Strategy:           chunker.Strategy(cfg.TextSplitter),
		ChunkSize:          cfg.ChunkSize,
		ChunkOverlap:       cfg.ChunkOverlap,
		TiktokenEncoding:   cfg.TiktokenEncoding,
		TimestampCitations: cfg.TimestampCitations,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid splitter config, %w", err)
	}

	extractor := extract.NewService(cfg.EnableOCR, logger)
	indexSvc := indexer.NewService(vectorClient, embedder, splitter, logger)

	fileSvc := services.NewFileService(dbClient, objClient, vectorClient, cfg.BucketName, logger)
	ingestSvc := services.NewIngestService(
		dbClient, objClient, vectorClient, indexSvc, extractor,
		cfg.BucketName, cfg.BypassEmbedding, logger,
	)
	knowledgeSvc := services.NewKnowledgeService(
		dbClient, vectorClient, objClient, ingestSvc, cfg.BucketName, logger,
	)
	userSvc := services.NewUserService(dbClient)

	progressStore, err := newProgressStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the progress store, %w", err)
	}

	runner, err := jobs.NewRunner(
		cfg.JobWorkers, drive.NewClient(), fileSvc, ingestSvc, knowledgeSvc,
		vectorClient, transcriber, progressStore, cfg.JobBatchSize, logger,
	)
	if err != nil {
		return nil, err
	}
	log.Println("Job runner initialized and ready.")

	server := NewServer(cfg, userSvc, fileSvc, ingestSvc, knowledgeSvc, runner, progressStore)

	return &App{
		DBClient: dbClient,
		Progress: progressStore,
		Runner:   runner,
		Server:   server,
	}, nil
}

func newProgressStore(cfg *config.Config) (progress.Store, error) {
	ttl := time.Duration(cfg.ProgressTTLMins) * time.Minute
	if ttl <= 0 {
		ttl = progress.DefaultTTL
	}
	if cfg.ProgressStore == "badger" {
		return progress.NewBadgerStore(cfg.ProgressDir, ttl)
	}
	return progress.NewMemoryStore(ttl), nil
}

func (a *App) Close() {
	if a.Runner != nil {
		a.Runner.Release()
	}
	if a.Progress != nil {
		_ = a.Progress.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
