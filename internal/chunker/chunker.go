// Package chunker splits extracted documents into embedding-sized
// chunks. Every produced chunk keeps its source document's metadata
// and gains a start_index marking where in the document it begins
// (rune offset, non-decreasing per document).
package chunker

import (
	"errors"
	"strings"

	"github.com/tessera-ai/tessera/internal/core"
)

type Strategy string

const (
	StrategyCharacter Strategy = "character"
	StrategyToken     Strategy = "token"
	StrategyMarkdown  Strategy = "markdown"
	StrategyTimestamp Strategy = "timestamp"
)

// ErrInvalidChunkSize indicates a non-positive chunk size.
var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// ErrInvalidOverlap indicates an overlap that is negative or not
// smaller than the chunk size.
var ErrInvalidOverlap = errors.New("chunk overlap must be non-negative and smaller than chunk size")

type Config struct {
	Strategy         Strategy
	ChunkSize        int
	ChunkOverlap     int
	TiktokenEncoding string

	// TimestampCitations switches documents carrying transcription
	// segments to the timestamp strategy so chunks stay citable.
	TimestampCitations bool
}

type Splitter struct {
	cfg Config
}

func NewSplitter(cfg Config) (*Splitter, error) {
	if cfg.ChunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, ErrInvalidOverlap
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyCharacter
	}
	if cfg.TiktokenEncoding == "" {
		cfg.TiktokenEncoding = "cl100k_base"
	}
	return &Splitter{cfg: cfg}, nil
}

// Split chunks each document with the configured strategy. Documents
// with only whitespace are dropped. A nil error with zero chunks means
// there was nothing to split.
func (s *Splitter) Split(docs []core.Document) ([]core.Document, error) {
	var out []core.Document
	for _, doc := range docs {
		if strings.TrimSpace(doc.Content) == "" {
			continue
		}

		var (
			chunks []core.Document
			err    error
		)
		switch {
		case s.cfg.TimestampCitations && hasSegments(doc):
			chunks = s.splitTimestamped(doc)
		case s.cfg.Strategy == StrategyToken:
			chunks, err = s.splitTokens(doc)
		case s.cfg.Strategy == StrategyMarkdown:
			chunks = s.splitMarkdown(doc)
		default:
			chunks = s.splitCharacters(doc)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, chunks...)
	}
	return out, nil
}

// splitCharacters applies a rune sliding window of ChunkSize with
// ChunkOverlap runes retained between neighbours.
func (s *Splitter) splitCharacters(doc core.Document) []core.Document {
	return s.windowRunes(doc.Content, doc.Metadata, 0)
}

// windowRunes emits windowed chunks over text, offsetting every
// start_index by base (used when text is itself a slice of a larger
// document).
func (s *Splitter) windowRunes(text string, meta map[string]any, base int) []core.Document {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	step := s.cfg.ChunkSize - s.cfg.ChunkOverlap

	var out []core.Document
	for start := 0; ; start += step {
		end := start + s.cfg.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, chunkDoc(string(runes[start:end]), meta, base+start))
		if end == len(runes) {
			break
		}
	}
	return out
}

func chunkDoc(text string, meta map[string]any, startIndex int) core.Document {
	m := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		m[k] = v
	}
	m["start_index"] = startIndex
	return core.Document{Content: text, Metadata: m}
}

func hasSegments(doc core.Document) bool {
	return len(segmentsFromMeta(doc.Metadata)) > 0
}
