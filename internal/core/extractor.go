package core

import (
	"context"
)

// Document is one unit of extracted text plus its metadata. Splitting
// a Document yields smaller Documents carrying the same metadata with
// positional keys (start_index, timestamps) added.
type Document struct {
	Content  string
	Metadata map[string]any
}

// Extractor turns a raw file payload into one or more Documents.
// The contentType hint helps pick the right parsing strategy.
type Extractor interface {
	Extract(ctx context.Context, filename, contentType string, data []byte) ([]Document, error)
}
