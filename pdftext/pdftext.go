// Package pdftext extracts plain text from the gazette PDFs attached to
// reform decrees. Extraction is structure-aware via pdfcpu and never uses
// OCR; scanned documents surface as a low confidence score instead.
package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Extraction failures are terminal for the PDF: the caller records them and
// moves on, it never retries.
var (
	ErrEmptyFile = errors.New("pdftext: empty file")
	ErrEncrypted = errors.New("pdftext: password-protected PDF")
	ErrCorrupted = errors.New("pdftext: corrupted PDF")
	ErrNoText    = errors.New("pdftext: no extractable text")
)

// Result is the outcome of a successful extraction.
type Result struct {
	Text       string
	PageCount  int
	Confidence float64 // [0,1], see Confidence in confidence.go
}

// Extract extracts text from in-memory PDF bytes. Empty input, an encrypted
// document, a document pdfcpu cannot validate, and a document with no text
// operators all map to the sentinel errors above.
func Extract(data []byte) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	return extract(bytes.NewReader(data))
}

// ExtractFile extracts text from the PDF at path.
func ExtractFile(path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("pdftext: stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pdftext: open %s: %w", path, err)
	}
	defer f.Close()

	return extract(f)
}

func extract(rs io.ReadSeeker) (*Result, error) {
	ctx, err := api.ReadValidateAndOptimize(rs, model.NewDefaultConfiguration())
	if err != nil {
		return nil, classifyReadError(err)
	}

	var pages []string
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		if text := pageText(ctx, pageNr); text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return nil, ErrNoText
	}

	text := strings.Join(pages, "\n\n")
	return &Result{
		Text:       text,
		PageCount:  ctx.PageCount,
		Confidence: Confidence(text),
	}, nil
}

// classifyReadError maps pdfcpu read failures onto the package sentinels.
// pdfcpu does not export typed errors for these, so this matches on message.
func classifyReadError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "encrypt") || strings.Contains(msg, "password") {
		return fmt.Errorf("%w: %v", ErrEncrypted, err)
	}
	return fmt.Errorf("%w: %v", ErrCorrupted, err)
}

func pageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil {
		return ""
	}
	return textFromContentStream(r)
}
