package chunker

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/tessera-ai/tessera/internal/core"
)

// splitTokens windows over tiktoken ids instead of runes, so chunk
// sizes track what the embedding model actually sees. start_index is
// recovered by searching for the decoded chunk from the previous
// chunk's position; -1 when decoding produced text that no longer
// matches the source bytes.
func (s *Splitter) splitTokens(doc core.Document) ([]core.Document, error) {
	enc, err := tiktoken.GetEncoding(s.cfg.TiktokenEncoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %s: %w", s.cfg.TiktokenEncoding, err)
	}

	tokens := enc.Encode(doc.Content, nil, nil)
	if len(tokens) == 0 {
		return nil, nil
	}
	step := s.cfg.ChunkSize - s.cfg.ChunkOverlap

	var (
		out        []core.Document
		searchFrom int
	)
	for start := 0; ; start += step {
		end := start + s.cfg.ChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		text := enc.Decode(tokens[start:end])

		startIndex := -1
		if idx := strings.Index(doc.Content[searchFrom:], text); idx >= 0 {
			startIndex = runeOffset(doc.Content, searchFrom+idx)
			searchFrom += idx + 1
		}
		out = append(out, chunkDoc(text, doc.Metadata, startIndex))

		if end == len(tokens) {
			break
		}
	}
	return out, nil
}

// runeOffset converts a byte offset into a rune offset.
func runeOffset(s string, byteOff int) int {
	return len([]rune(s[:byteOff]))
}
