package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lexhaus/briefcase/internal/models"
	"github.com/lexhaus/briefcase/internal/types"
)

// NotFoundResponse is the canonical reply when the retrieved context cannot
// answer the question. It must read as "nothing found", not "system broken".
const NotFoundResponse = "I cannot find that information in your document."

const answerSystemPrompt = `You answer questions about a legal document using only the numbered source excerpts provided.
Rules:
- Answer strictly from the sources. Do not use outside knowledge.
- Cite the sources you used by their labels, e.g. [1] or [2].
- If the sources do not contain the answer, reply exactly: "` + NotFoundResponse + `"`

type AnswererConfig struct {
	// Temperature stays low: this is factual grounding, not creative writing.
	Temperature float64
	MaxTokens   int
}

// Answerer builds grounded completions with source attribution.
type Answerer struct {
	config    AnswererConfig
	completer types.Completer
}

// Answer is a generated response plus the chunk ids it cited.
type Answer struct {
	Text           string
	SourceChunkIDs []string
}

func NewAnswerer(completer types.Completer, config AnswererConfig) *Answerer {
	if config.Temperature == 0 {
		config.Temperature = 0.1
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1000
	}
	return &Answerer{config: config, completer: completer}
}

var citationRe = regexp.MustCompile(`\[(\d+)\]`)

// Generate answers the query from the retrieved chunks. An empty chunk list
// short-circuits to the canonical not-found response without a model call.
func (a *Answerer) Generate(ctx context.Context, query string, chunks []models.ScoredChunk) (Answer, error) {
	if len(chunks) == 0 {
		return Answer{Text: NotFoundResponse}, nil
	}

	var sources strings.Builder
	for i, chunk := range chunks {
		fmt.Fprintf(&sources, "[%d] %s\n\n", i+1, chunk.Content)
	}

	prompt := fmt.Sprintf("Sources:\n%s\nQuestion: %s", sources.String(), query)

	text, err := a.completer.Complete(ctx, answerSystemPrompt, prompt, a.config.Temperature, a.config.MaxTokens)
	if err != nil {
		return Answer{}, fmt.Errorf("answer generation failed: %w", err)
	}
	text = strings.TrimSpace(text)

	return Answer{
		Text:           text,
		SourceChunkIDs: citedChunkIDs(text, chunks),
	}, nil
}

// citedChunkIDs maps [n] labels in the response back to the chunk ids they
// refer to, in first-citation order, deduplicated.
func citedChunkIDs(text string, chunks []models.ScoredChunk) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, match := range citationRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil || n < 1 || n > len(chunks) {
			continue
		}
		id := chunks[n-1].ChunkID
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
