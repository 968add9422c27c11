package core

import "context"

// EmbeddingPrefix selects the task type an embedding is produced for.
type EmbeddingPrefix string

const (
	PrefixContent EmbeddingPrefix = "content"
	PrefixQuery   EmbeddingPrefix = "query"
)

// EmbeddingConfig identifies the engine/model pair that produced a
// stored vector. It is stamped into chunk metadata so stale vectors
// can be detected after a configuration change.
type EmbeddingConfig struct {
	Engine string `json:"engine"`
	Model  string `json:"model"`
}

type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string, prefix EmbeddingPrefix) ([][]float32, error)
	Config() EmbeddingConfig
}

// Segment is one timed span of a transcription.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcription is the result of speech-to-text over an audio or
// video payload.
type Transcription struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments,omitempty"`
}

type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, mimeType string) (*Transcription, error)
}
