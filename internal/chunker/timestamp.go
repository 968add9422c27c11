package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/tessera-ai/tessera/internal/core"
)

// splitTimestamped groups consecutive transcription segments until the
// chunk size is reached, never splitting inside a segment. Chunks gain
// start_time and end_time covering their segment range so answers can
// cite a position in the recording.
func (s *Splitter) splitTimestamped(doc core.Document) []core.Document {
	segs := segmentsFromMeta(doc.Metadata)
	if len(segs) == 0 {
		return s.splitCharacters(doc)
	}

	var (
		out        []core.Document
		group      []core.Segment
		groupRunes int
		offset     int // rune offset of the group start in the joined text
		nextOffset int
	)

	flush := func() {
		if len(group) == 0 {
			return
		}
		texts := make([]string, len(group))
		for i, sg := range group {
			texts[i] = strings.TrimSpace(sg.Text)
		}
		meta := withKey(doc.Metadata, "start_time", group[0].Start)
		meta = withKey(meta, "end_time", group[len(group)-1].End)
		delete(meta, "segments")
		out = append(out, chunkDoc(strings.Join(texts, " "), meta, offset))
		group = nil
		groupRunes = 0
		nextOffset++ // joining space between chunks
		offset = nextOffset
	}

	for _, sg := range segs {
		n := utf8.RuneCountInString(strings.TrimSpace(sg.Text))
		if groupRunes > 0 && groupRunes+n+1 > s.cfg.ChunkSize {
			flush()
		}
		group = append(group, sg)
		if groupRunes > 0 {
			groupRunes++ // joining space
			nextOffset++
		}
		groupRunes += n
		nextOffset += n
	}
	flush()
	return out
}

// segmentsFromMeta tolerates both typed segments (straight from the
// transcriber) and generic maps (round-tripped through json).
func segmentsFromMeta(meta map[string]any) []core.Segment {
	raw, ok := meta["segments"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []core.Segment:
		return v
	case []any:
		var out []core.Segment
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			seg := core.Segment{}
			if f, ok := m["start"].(float64); ok {
				seg.Start = f
			}
			if f, ok := m["end"].(float64); ok {
				seg.End = f
			}
			if t, ok := m["text"].(string); ok {
				seg.Text = t
			}
			if seg.Text != "" {
				out = append(out, seg)
			}
		}
		return out
	default:
		return nil
	}
}
