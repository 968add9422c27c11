package llm

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/tessera-ai/tessera/internal/core"
)

const transcribePrompt = `Transcribe this recording completely and accurately.
Output one line per spoken segment in the form:
[MM:SS - MM:SS] text
Do not add commentary before or after the transcript.`

// segmentLine matches "[00:12 - 00:18] some text".
var segmentLine = regexp.MustCompile(`^\[(\d+):(\d{2})\s*-\s*(\d+):(\d{2})\]\s*(.*)$`)

type GeminiTranscriber struct {
	client    *genai.Client
	modelName string
}

func NewGeminiTranscriber(ctx context.Context, apiKey, modelName string) (*GeminiTranscriber, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiTranscriber{client: cl, modelName: modelName}, nil
}

func (g *GeminiTranscriber) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Transcribe sends the raw audio or video bytes inline and parses the
// timestamped transcript into segments. Lines that don't carry a
// timestamp still contribute to the plain text.
func (g *GeminiTranscriber) Transcribe(ctx context.Context, data []byte, mimeType string) (*core.Transcription, error) {
	m := g.client.GenerativeModel(g.modelName)

	resp, err := m.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: data},
		genai.Text(transcribePrompt),
	)
	if err != nil {
		return nil, fmt.Errorf("gemini transcribe: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return &core.Transcription{}, nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return parseTranscript(b.String()), nil
}

func parseTranscript(raw string) *core.Transcription {
	tr := &core.Transcription{}
	var parts []string

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := segmentLine.FindStringSubmatch(line)
		if m == nil {
			parts = append(parts, line)
			continue
		}
		start := mmssToSeconds(m[1], m[2])
		end := mmssToSeconds(m[3], m[4])
		text := strings.TrimSpace(m[5])
		tr.Segments = append(tr.Segments, core.Segment{Start: start, End: end, Text: text})
		parts = append(parts, text)
	}

	tr.Text = strings.Join(parts, " ")
	return tr
}

func mmssToSeconds(mm, ss string) float64 {
	m, _ := strconv.Atoi(mm)
	s, _ := strconv.Atoi(ss)
	return float64(m*60 + s)
}

var _ core.Transcriber = (*GeminiTranscriber)(nil)
