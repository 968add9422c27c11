// Package extract turns raw file payloads into documents. Plaintext
// formats are read directly, binary formats go through docconv, and
// image-only PDFs fall back to OCR over their embedded images.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"

	"github.com/tessera-ai/tessera/internal/core"
)

// minPageChars is the threshold under which a PDF page is considered
// image-only and worth OCRing.
const minPageChars = 50

var plaintextExts = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true,
	".json": true, ".yaml": true, ".yml": true, ".log": true,
	".xml": true, ".srt": true, ".vtt": true,
}

type Service struct {
	ocr    *OCRClient
	logger *slog.Logger
}

func NewService(enableOCR bool, logger *slog.Logger) *Service {
	s := &Service{logger: logger}
	if enableOCR {
		s.ocr = NewOCRClient(logger)
	}
	return s
}

var _ core.Extractor = (*Service)(nil)

// Extract returns one document carrying the file's text. The source
// filename lands in metadata so downstream chunks stay attributable.
func (s *Service) Extract(ctx context.Context, filename, contentType string, data []byte) ([]core.Document, error) {
	text, err := s.extractText(ctx, filename, contentType, data)
	if err != nil {
		return nil, err
	}

	return []core.Document{{
		Content:  text,
		Metadata: map[string]any{"source": filename, "name": filename},
	}}, nil
}

func (s *Service) extractText(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	ext := strings.ToLower(path.Ext(filename))

	switch {
	case plaintextExts[ext], strings.HasPrefix(contentType, "text/"):
		return string(data), nil

	case ext == ".pdf" || contentType == "application/pdf":
		return s.extractPDF(ctx, filename, data)

	default:
		mime := contentType
		if mime == "" || mime == "application/octet-stream" {
			mime = docconv.MimeTypeByExtension(filename)
		}
		res, err := docconv.Convert(bytes.NewReader(data), mime, false)
		if err != nil {
			return "", classifyConvertErr(filename, err)
		}
		if strings.TrimSpace(res.Body) == "" && utf8.Valid(data) {
			// Fall back to the raw bytes when the converter found
			// nothing but the payload already looks like text.
			return string(data), nil
		}
		return res.Body, nil
	}
}

// extractPDF converts via docconv and applies the OCR fallback when
// pages carry too little extractable text. pdftotext separates pages
// with form feeds, which is what the per-page check keys on. Embedded
// images cannot be attributed to pages without a full xref parse, so
// OCR output is appended after the direct text rather than spliced in
// page order.
func (s *Service) extractPDF(ctx context.Context, filename string, data []byte) (string, error) {
	res, err := docconv.Convert(bytes.NewReader(data), "application/pdf", false)
	if err != nil {
		return "", classifyConvertErr(filename, err)
	}

	pages := strings.Split(res.Body, "\f")
	var (
		kept     []string
		weakPage bool
	)
	for _, p := range pages {
		p = strings.TrimSpace(p)
		if utf8.RuneCountInString(p) < minPageChars {
			weakPage = true
		}
		if p != "" {
			kept = append(kept, p)
		}
	}
	direct := strings.Join(kept, "\n\n")

	if !weakPage || s.ocr == nil || !s.ocr.Available() {
		return direct, nil
	}

	ocrText := s.ocrEmbeddedImages(ctx, filename, data)
	if ocrText == "" {
		return direct, nil
	}
	if direct == "" {
		return ocrText, nil
	}
	return direct + "\n\n" + ocrText, nil
}

// ocrEmbeddedImages runs OCR over each embedded JPEG, skipping
// failures so one bad image never sinks the document.
func (s *Service) ocrEmbeddedImages(ctx context.Context, filename string, data []byte) string {
	images := pdfImageStreams(data)
	if len(images) == 0 {
		return ""
	}

	var parts []string
	for i, img := range images {
		if ctx.Err() != nil {
			break
		}
		text, err := s.ocr.ImageToText(img)
		if err != nil {
			s.logger.Warn("ocr failed for embedded image",
				"file", filename, "image", i, "error", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// classifyConvertErr distinguishes a missing converter binary from a
// genuine extraction failure so callers can tell the operator to
// install the tool instead of blaming the document.
func classifyConvertErr(filename string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || strings.Contains(err.Error(), "executable file not found") {
		return fmt.Errorf("convert %s: %w: %v", filename, core.ErrMissingDependency, err)
	}
	return fmt.Errorf("convert %s: %w: %v", filename, core.ErrContentExtraction, err)
}
