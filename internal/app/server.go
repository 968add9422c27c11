package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tessera-ai/tessera/internal/api/handlers"
	appMiddleware "github.com/tessera-ai/tessera/internal/api/middlewares"
	"github.com/tessera-ai/tessera/internal/config"
	"github.com/tessera-ai/tessera/internal/jobs"
	"github.com/tessera-ai/tessera/internal/progress"
	"github.com/tessera-ai/tessera/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(
	cfg *config.Config,
	users *services.UserService,
	files *services.FileService,
	ingest *services.IngestService,
	knowledge *services.KnowledgeService,
	runner *jobs.Runner,
	store progress.Store,
) *Server {
	authHandler := handlers.NewAuthHandler(users, cfg.JwtSecret)
	fileHandler := handlers.NewFileHandler(files, ingest)
	knowledgeHandler := handlers.NewKnowledgeHandler(knowledge, runner)
	progressHandler := handlers.NewProgressHandler(store)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/signup", authHandler.Signup)
		api.Post("/login", authHandler.Login)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWT(cfg.JwtSecret))

			protected.Post("/files/upload", fileHandler.Upload)
			protected.Post("/files/text", fileHandler.ProcessText)
			protected.Post("/files/{id}/process", fileHandler.Reprocess)
			protected.Get("/files/{id}", fileHandler.Get)
			protected.Get("/files/{id}/download", fileHandler.Download)
			protected.Delete("/files/{id}", fileHandler.Delete)

			protected.Post("/knowledge", knowledgeHandler.Create)
			protected.Get("/knowledge", knowledgeHandler.List)
			protected.Post("/knowledge/reindex", knowledgeHandler.Reindex)
			protected.Get("/knowledge/{id}", knowledgeHandler.Get)
			protected.Put("/knowledge/{id}", knowledgeHandler.Update)
			protected.Delete("/knowledge/{id}", knowledgeHandler.Delete)
			protected.Post("/knowledge/{id}/reset", knowledgeHandler.Reset)
			protected.Post("/knowledge/{id}/file/add", knowledgeHandler.AddFile)
			protected.Post("/knowledge/{id}/file/update", knowledgeHandler.UpdateFile)
			protected.Post("/knowledge/{id}/file/remove", knowledgeHandler.RemoveFile)
			protected.Post("/knowledge/{id}/files/batch/add", knowledgeHandler.BatchAddFiles)
			protected.Post("/knowledge/{id}/drive/file", knowledgeHandler.AddDriveFile)
			protected.Post("/knowledge/{id}/drive/folder", knowledgeHandler.AddDriveFolder)

			protected.Get("/progress/{id}/status", progressHandler.Status)
			protected.Get("/progress/{id}", progressHandler.Stream)
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv}
}

// Start runs the HTTP server.
func (s *Server) Start() {
	log.Printf("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
