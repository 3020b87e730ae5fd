package extract

// textExtractor passes plain-text uploads through unchanged. Like DOCX,
// there is no page concept; the whole document is one logical section
// (spec §4.1).
type textExtractor struct{}

func (textExtractor) Extract(data []byte) (*Extraction, error) {
	return &Extraction{Pages: []Page{{PhysicalPosition: 1, Text: string(data)}}}, nil
}
