package extract

import "strings"

// FromText prepares a plain-text upload. Form feeds are treated as page
// breaks and converted into page markers; text without form feeds gets no
// markers at all, so its chunks carry nil pages rather than an estimate.
func FromText(data []byte) *Result {
	text := strings.TrimSpace(string(data))
	if !strings.Contains(text, "\f") {
		return &Result{Text: text}
	}

	parts := strings.Split(text, "\f")
	var sb strings.Builder
	page := 0
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		page++
		sb.WriteString(PageMarker(page))
		sb.WriteString(trimmed)
		sb.WriteString("\n")
	}
	if page == 0 {
		return &Result{Text: ""}
	}
	return &Result{Text: sb.String(), Pages: page}
}
