package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extraction sentinels. Malformed input is never retryable, and the error
// classifier keys off these.
var (
	ErrPDF   = errors.New("pdf extraction failed")
	ErrAudio = errors.New("audio extraction failed")
)

// pageMarkerFmt is the in-text page-break marker. Form feeds bracket the
// marker so it can never collide with document prose.
const pageMarkerFmt = "\x0c[page:%d]\x0c"

// PageMarker returns the marker inserted before page n's text.
func PageMarker(n int) string {
	return fmt.Sprintf(pageMarkerFmt, n)
}

// FromPDF extracts plain text from a PDF, inserting a page marker before
// each page's content.
func FromPDF(data []byte) (*Result, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPDF, err)
	}

	var sb strings.Builder
	pages := reader.NumPage()
	extracted := 0
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page does not invalidate the document;
			// its content is simply absent from that page's span.
			continue
		}
		sb.WriteString(PageMarker(i))
		sb.WriteString(text)
		sb.WriteString("\n")
		extracted++
	}

	if extracted == 0 {
		return nil, fmt.Errorf("%w: no readable pages", ErrPDF)
	}

	return &Result{Text: sb.String(), Pages: pages}, nil
}
