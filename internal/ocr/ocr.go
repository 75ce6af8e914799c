// Package ocr extracts text from BLS Employment Situation PDFs.
package ocr

import (
	"context"

	"github.com/sells-group/nfp-revisions/internal/config"
)

// Extractor extracts text content from PDF files.
type Extractor interface {
	ExtractText(ctx context.Context, pdfPath string) (string, error)
}

// NewExtractor creates the pdftotext-backed Extractor described by cfg.
func NewExtractor(cfg config.OCRConfig) Extractor {
	return NewPdfToText(cfg.PdfToTextPath, cfg.FirstPage, cfg.LastPage)
}
