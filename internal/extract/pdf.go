package extract

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pdfExtractor enumerates PDF pages in document order, extracting each
// page's text layer and recovering its human-visible page number (spec
// §4.1). Grounded on the pack's line-grouping-by-Y approach to native PDF
// text extraction, generalized here to also drive page-number recovery.
type pdfExtractor struct{}

func (pdfExtractor) Extract(data []byte) (*Extraction, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}

	total := reader.NumPage()
	pages := make([]Page, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, Page{PhysicalPosition: i, Text: ""})
			continue
		}
		text, err := extractPageTextOrdered(page)
		if err != nil {
			text = ""
		}
		text = strings.TrimSpace(text)
		pages = append(pages, Page{
			PhysicalPosition:    i,
			RecoveredPageNumber: recoverPageNumber(text),
			Text:                text,
		})
	}
	if total == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}
	return &Extraction{Pages: pages}, nil
}

// extractPageTextOrdered groups the page's content-stream text elements
// into visual lines by Y proximity, then emits lines top-to-bottom. Falls
// back to the library's own plain-text extraction when the content
// stream carries no positioned text runs (scanned/flattened pages).
func extractPageTextOrdered(page pdf.Page) (string, error) {
	content := page.Content()
	if len(content.Text) == 0 {
		return page.GetPlainText(nil)
	}

	const lineTolerance = 3.0
	type visualLine struct {
		y   float64
		buf strings.Builder
	}

	var lines []*visualLine
	var cur *visualLine
	for _, t := range content.Text {
		if cur == nil || math.Abs(t.Y-cur.y) > lineTolerance {
			lines = append(lines, &visualLine{y: t.Y})
			cur = lines[len(lines)-1]
		}
		cur.buf.WriteString(t.S)
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].y > lines[j].y })

	var out strings.Builder
	for _, ln := range lines {
		out.WriteString(ln.buf.String())
		out.WriteString("\n")
	}
	result := out.String()
	if strings.TrimSpace(result) == "" {
		return page.GetPlainText(nil)
	}
	return result, nil
}
