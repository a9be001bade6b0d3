package service

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// ChunkConfig controls how extracted text is split for embedding.
// Sizes are in approximate tokens (whitespace-delimited words).
type ChunkConfig struct {
	TargetTokens  int
	OverlapTokens int
	MaxChunks     int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		TargetTokens:  400,
		OverlapTokens: 60,
		MaxChunks:     600,
	}
}

// TextChunk is one segment of a document's text, attributed to the page of
// the last page marker at or before its start. Page is nil when the source
// text contained no markers at all; a page is never estimated from position.
type TextChunk struct {
	Ordinal int
	Content string
	Page    *int
}

var pageMarkerRe = regexp.MustCompile("\x0c\\[page:(\\d+)\\]\x0c")

type markerOffset struct {
	offset int // rune offset into the cleaned text
	page   int
}

// stripMarkers removes page markers from text and records the rune offset
// each marker maps to in the cleaned text.
func stripMarkers(text string) (string, []markerOffset) {
	matches := pageMarkerRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	var sb strings.Builder
	var markers []markerOffset
	prev := 0
	cleanRunes := 0
	for _, m := range matches {
		segment := text[prev:m[0]]
		sb.WriteString(segment)
		cleanRunes += len([]rune(segment))

		page, err := strconv.Atoi(text[m[2]:m[3]])
		if err == nil {
			markers = append(markers, markerOffset{offset: cleanRunes, page: page})
		}
		prev = m[1]
	}
	sb.WriteString(text[prev:])
	return sb.String(), markers
}

type token struct {
	text   string
	offset int // rune offset of the token's first rune in the cleaned text
}

func tokenize(text string) []token {
	var tokens []token
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		for i < len(runes) && unicode.IsSpace(runes[i]) {
			i++
		}
		if i >= len(runes) {
			break
		}
		start := i
		for i < len(runes) && !unicode.IsSpace(runes[i]) {
			i++
		}
		tokens = append(tokens, token{text: string(runes[start:i]), offset: start})
	}
	return tokens
}

// pageAt returns the page of the last marker at or before offset, or nil.
func pageAt(markers []markerOffset, offset int) *int {
	var page *int
	for i := range markers {
		if markers[i].offset > offset {
			break
		}
		page = &markers[i].page
	}
	return page
}

// chunkText splits marked text into overlapping token-bounded segments.
// The trailing chunk is emitted even when it is shorter than one overlap
// window, so trailing content is never lost.
func chunkText(text string, cfg ChunkConfig) []TextChunk {
	if cfg.TargetTokens <= 0 {
		cfg = DefaultChunkConfig()
	}
	if cfg.OverlapTokens >= cfg.TargetTokens {
		cfg.OverlapTokens = cfg.TargetTokens / 4
	}

	clean, markers := stripMarkers(text)
	tokens := tokenize(clean)
	if len(tokens) == 0 {
		return nil
	}

	step := cfg.TargetTokens - cfg.OverlapTokens
	var chunks []TextChunk
	for start := 0; start < len(tokens); start += step {
		if cfg.MaxChunks > 0 && len(chunks) >= cfg.MaxChunks {
			break
		}

		end := start + cfg.TargetTokens
		if end > len(tokens) {
			end = len(tokens)
		}

		words := make([]string, 0, end-start)
		for _, tok := range tokens[start:end] {
			words = append(words, tok.text)
		}

		chunks = append(chunks, TextChunk{
			Ordinal: len(chunks),
			Content: strings.Join(words, " "),
			Page:    pageAt(markers, tokens[start].offset),
		})

		if end >= len(tokens) {
			break
		}
	}

	return chunks
}
