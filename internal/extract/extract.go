// Package extract implements the Text Extractor (C1): reading a document
// binary and yielding pages with recovered human-visible page numbers and
// raw UTF-8, Unix-line-ending text (spec §4.1).
package extract

import (
	"fmt"
	"strings"

	"github.com/enzoberreur/rag-regulation-bancaire/internal/ragerrors"
)

// MIMEKind is one of the three document kinds the core accepts.
type MIMEKind string

const (
	MIMEPDF  MIMEKind = "pdf"
	MIMEDOCX MIMEKind = "docx"
	MIMEText MIMEKind = "text"
)

// Page is one extracted page: its 1-based physical position, the
// human-visible page number recovered from its content (nil when no
// pattern matched), and its raw text.
type Page struct {
	PhysicalPosition   int
	RecoveredPageNumber *int
	Text                string
}

// Extraction is the ordered sequence of pages plus the aggregated text
// (a simple display join; the chunker works from Pages directly so it can
// attribute any emitted chunk back to its starting page without having to
// re-parse a flattened string).
type Extraction struct {
	Pages    []Page
	FullText string
}

// Extractor turns a document binary into an Extraction.
type Extractor interface {
	Extract(data []byte) (*Extraction, error)
}

// For selects the Extractor registered for kind.
func For(kind MIMEKind) (Extractor, error) {
	switch kind {
	case MIMEPDF:
		return pdfExtractor{}, nil
	case MIMEDOCX:
		return docxExtractor{}, nil
	case MIMEText:
		return textExtractor{}, nil
	default:
		return nil, fmt.Errorf("%w: unrecognized mime kind %q", ragerrors.ErrUnsupportedMIME, kind)
	}
}

// Extract dispatches to the Extractor for kind and normalizes the result
// to UTF-8 with Unix line endings (spec §4.1 "Encoding").
func Extract(data []byte, kind MIMEKind) (*Extraction, error) {
	ex, err := For(kind)
	if err != nil {
		return nil, err
	}
	result, err := ex.Extract(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ragerrors.ErrExtractionFailed, err)
	}
	for i := range result.Pages {
		result.Pages[i].Text = normalizeLineEndings(result.Pages[i].Text)
	}
	result.FullText = assembleFullText(result.Pages)
	return result, nil
}

func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

// assembleFullText joins page texts for display/debugging purposes only.
func assembleFullText(pages []Page) string {
	var b strings.Builder
	for i, p := range pages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}
