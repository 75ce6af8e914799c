package ocr

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"

	"github.com/rotisserie/eris"
)

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath   string
	firstPage int
	lastPage  int
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext"
// is used. Page bounds of zero mean the whole document.
func NewPdfToText(binPath string, firstPage, lastPage int) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath, firstPage: firstPage, lastPage: lastPage}
}

func (p *PdfToText) args(pdfPath string) []string {
	args := []string{"-layout"}
	if p.firstPage > 0 {
		args = append(args, "-f", strconv.Itoa(p.firstPage))
	}
	if p.lastPage > 0 {
		args = append(args, "-l", strconv.Itoa(p.lastPage))
	}
	return append(args, pdfPath, "-")
}

// ExtractText runs pdftotext -layout on the given PDF and returns stdout.
func (p *PdfToText) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	cmd := exec.CommandContext(ctx, p.binPath, p.args(pdfPath)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: pdftotext failed for %s: %s", pdfPath, stderr.String())
	}

	return stdout.String(), nil
}
