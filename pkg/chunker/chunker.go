// Package chunker splits legal document text into retrieval-sized segments
// that respect document structure: numbered sections, articles, clauses,
// lettered sub-clauses and recitals.
package chunker

import (
	"regexp"
	"sort"
	"strings"

	"github.com/lexhaus/briefcase/internal/models"
)

type ChunkerConfig struct {
	// MaxChunkSize is the size ceiling in characters. Spans above it are
	// split at sentence boundaries.
	MaxChunkSize int
	// MinChunkSize is the noise floor. Spans below it are dropped.
	MinChunkSize int
}

type Chunker struct {
	config ChunkerConfig
}

// Structural boundary markers for legal documents. Each marker starts a new
// span at the beginning of a line.
var boundaryMarkers = []struct {
	section string
	re      *regexp.Regexp
}{
	{"section", regexp.MustCompile(`(?mi)^\s*SECTION\s+\d+`)},
	{"article", regexp.MustCompile(`(?mi)^\s*ARTICLE\s+(?:\d+|[IVXLCDM]+)\b`)},
	{"clause", regexp.MustCompile(`(?mi)^\s*CLAUSE\s+\d+`)},
	{"numbered", regexp.MustCompile(`(?m)^\s*\d+(?:\.\d+)*[.)]\s+`)},
	{"subclause", regexp.MustCompile(`(?m)^\s*\([a-z]\)\s+`)},
	{"recital", regexp.MustCompile(`(?m)^\s*WHEREAS\b`)},
	{"recital", regexp.MustCompile(`(?m)^\s*NOW,?\s+THEREFORE\b`)},
}

const sentenceDelimiter = ". "

func NewWithConfig(config ChunkerConfig) *Chunker {
	if config.MaxChunkSize == 0 {
		config.MaxChunkSize = 4000
	}
	if config.MinChunkSize == 0 {
		config.MinChunkSize = 50
	}
	return &Chunker{config: config}
}

func New() *Chunker {
	return NewWithConfig(ChunkerConfig{})
}

type span struct {
	start   int
	end     int
	section string
}

// Chunk splits text into ordered chunks with deterministic ids of the form
// {documentID}_chunk_{ordinal}. Empty or whitespace-only input yields an
// empty slice; callers must treat that as a processing failure, not success.
func (c *Chunker) Chunk(documentID, text string) []models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	spans := c.findSpans(text)

	var chunks []models.Chunk
	for _, sp := range spans {
		for _, piece := range c.splitOversized(text, sp) {
			body := text[piece.start:piece.end]
			if len(strings.TrimSpace(body)) < c.config.MinChunkSize {
				continue
			}
			idx := len(chunks)
			chunks = append(chunks, models.Chunk{
				ID:         models.ChunkID(documentID, idx),
				DocumentID: documentID,
				Index:      idx,
				Text:       strings.TrimSpace(body),
				Start:      piece.start,
				End:        piece.end,
				Section:    piece.section,
				Heading:    headingOf(body),
			})
		}
	}
	return chunks
}

// findSpans partitions the text at structural marker positions. A document
// with no markers yields a single span covering the whole text.
func (c *Chunker) findSpans(text string) []span {
	type boundary struct {
		pos     int
		section string
	}
	var bounds []boundary
	for _, m := range boundaryMarkers {
		for _, loc := range m.re.FindAllStringIndex(text, -1) {
			bounds = append(bounds, boundary{pos: loc[0], section: m.section})
		}
	}
	sort.SliceStable(bounds, func(i, j int) bool { return bounds[i].pos < bounds[j].pos })

	// Collapse boundaries that name the same position (a line can match more
	// than one marker); the first, most specific marker wins.
	dedup := bounds[:0]
	for _, b := range bounds {
		if len(dedup) > 0 && dedup[len(dedup)-1].pos == b.pos {
			continue
		}
		dedup = append(dedup, b)
	}
	bounds = dedup

	if len(bounds) == 0 {
		return []span{{start: 0, end: len(text), section: "body"}}
	}

	var spans []span
	if bounds[0].pos > 0 {
		spans = append(spans, span{start: 0, end: bounds[0].pos, section: "preamble"})
	}
	for i, b := range bounds {
		end := len(text)
		if i+1 < len(bounds) {
			end = bounds[i+1].pos
		}
		spans = append(spans, span{start: b.pos, end: end, section: b.section})
	}
	return spans
}

// splitOversized breaks a span above the size ceiling at sentence boundaries,
// greedily packing sentences until the ceiling would be exceeded. A span with
// no sentence boundaries is hard-truncated at the ceiling.
func (c *Chunker) splitOversized(text string, sp span) []span {
	if sp.end-sp.start <= c.config.MaxChunkSize {
		return []span{sp}
	}

	body := text[sp.start:sp.end]
	if !strings.Contains(body, sentenceDelimiter) {
		var pieces []span
		for start := sp.start; start < sp.end; start += c.config.MaxChunkSize {
			end := start + c.config.MaxChunkSize
			if end > sp.end {
				end = sp.end
			}
			pieces = append(pieces, span{start: start, end: end, section: sp.section})
		}
		return pieces
	}

	var pieces []span
	pieceStart := sp.start
	cursor := sp.start
	for cursor < sp.end {
		next := strings.Index(text[cursor:sp.end], sentenceDelimiter)
		var sentenceEnd int
		if next < 0 {
			sentenceEnd = sp.end
		} else {
			sentenceEnd = cursor + next + len(sentenceDelimiter)
		}

		if sentenceEnd-pieceStart > c.config.MaxChunkSize && pieceStart < cursor {
			pieces = append(pieces, span{start: pieceStart, end: cursor, section: sp.section})
			pieceStart = cursor
		}
		cursor = sentenceEnd
	}
	if pieceStart < sp.end {
		pieces = append(pieces, span{start: pieceStart, end: sp.end, section: sp.section})
	}

	// A lone sentence can still exceed the ceiling; hard-truncate those.
	var bounded []span
	for _, p := range pieces {
		for p.end-p.start > c.config.MaxChunkSize {
			bounded = append(bounded, span{start: p.start, end: p.start + c.config.MaxChunkSize, section: p.section})
			p.start += c.config.MaxChunkSize
		}
		bounded = append(bounded, p)
	}
	return bounded
}

// headingOf returns the first non-empty line of a span, capped, as a display
// heading for the chunk.
func headingOf(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > 80 {
			line = line[:80]
		}
		return line
	}
	return ""
}
