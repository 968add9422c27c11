package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	AIAPIKey     string
	EmbedModel   string
	EmbedDim     int
	SttModel     string
	JwtSecret    string
	Port         string

	TextSplitter       string
	ChunkSize          int
	ChunkOverlap       int
	TiktokenEncoding   string
	TimestampCitations bool
	BypassEmbedding    bool
	EnableOCR          bool

	ProgressStore   string
	ProgressDir     string
	ProgressTTLMins int

	JobBatchSize int
	JobWorkers   int
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "tessera-docs"),
		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:     getEnvInt("EMBED_DIM", 768),
		SttModel:     getEnv("STT_MODEL", "gemini-1.5-flash"),
		JwtSecret:    getEnv("JWT_SECRET", ""),
		Port:         getEnv("PORT", "8080"),

		TextSplitter:       getEnv("TEXT_SPLITTER", "character"),
		ChunkSize:          getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap:       getEnvInt("CHUNK_OVERLAP", 100),
		TiktokenEncoding:   getEnv("TIKTOKEN_ENCODING", "cl100k_base"),
		TimestampCitations: getEnvBool("ENABLE_TIMESTAMP_CITATIONS", false),
		BypassEmbedding:    getEnvBool("BYPASS_EMBEDDING", false),
		EnableOCR:          getEnvBool("ENABLE_OCR", true),

		ProgressStore:   getEnv("PROGRESS_STORE", "memory"),
		ProgressDir:     getEnv("PROGRESS_DIR", "/tmp/tessera-progress"),
		ProgressTTLMins: getEnvInt("PROGRESS_TTL_MINS", 5),

		JobBatchSize: getEnvInt("JOB_BATCH_SIZE", 5),
		JobWorkers:   getEnvInt("JOB_WORKERS", 4),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a bool, using default %t", key, v, def)
		return def
	}
	return b
}
