package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexhaus/briefcase/internal/models"
	"github.com/lexhaus/briefcase/pkg/llm"
)

func retrievedChunks() []models.ScoredChunk {
	return []models.ScoredChunk{
		{ChunkID: "doc1_chunk_0000", Content: "SECTION 1. Payment. Invoices are due within 30 days.", Score: 0.91},
		{ChunkID: "doc1_chunk_0003", Content: "Late payments accrue interest at 2% per month.", Score: 0.84},
		{ChunkID: "doc1_chunk_0007", Content: "SECTION 9. Notices. Notices must be in writing.", Score: 0.72},
	}
}

func TestGenerate_EmptyChunksShortCircuits(t *testing.T) {
	completer := &fakeCompleter{response: "should never run"}
	a := llm.NewAnswerer(completer, llm.AnswererConfig{})

	answer, err := a.Generate(context.Background(), "what are the payment terms?", nil)
	require.NoError(t, err)

	assert.Equal(t, llm.NotFoundResponse, answer.Text)
	assert.Empty(t, answer.SourceChunkIDs)
	assert.Zero(t, completer.calls, "no model call for an empty chunk list")
}

func TestGenerate_CitedSourcesMapped(t *testing.T) {
	completer := &fakeCompleter{
		response: "Invoices are due within 30 days [1], and late payments accrue interest [2]. See also [1].",
	}
	a := llm.NewAnswerer(completer, llm.AnswererConfig{})

	answer, err := a.Generate(context.Background(), "what are the payment terms?", retrievedChunks())
	require.NoError(t, err)

	assert.Equal(t, []string{"doc1_chunk_0000", "doc1_chunk_0003"}, answer.SourceChunkIDs,
		"labels map back to chunk ids, deduplicated, in first-citation order")
}

func TestGenerate_OutOfRangeCitationsIgnored(t *testing.T) {
	completer := &fakeCompleter{response: "Per [2] and [9], interest accrues monthly."}
	a := llm.NewAnswerer(completer, llm.AnswererConfig{})

	answer, err := a.Generate(context.Background(), "interest?", retrievedChunks())
	require.NoError(t, err)

	assert.Equal(t, []string{"doc1_chunk_0003"}, answer.SourceChunkIDs)
}

func TestGenerate_PromptEnumeratesSources(t *testing.T) {
	completer := &fakeCompleter{response: "The payment terms are 30 days [1]."}
	a := llm.NewAnswerer(completer, llm.AnswererConfig{})

	_, err := a.Generate(context.Background(), "what are the payment terms?", retrievedChunks())
	require.NoError(t, err)

	require.Len(t, completer.prompts, 1)
	prompt := completer.prompts[0]
	assert.Contains(t, prompt, "[1] SECTION 1. Payment.")
	assert.Contains(t, prompt, "[2] Late payments")
	assert.Contains(t, prompt, "[3] SECTION 9. Notices.")
	assert.Contains(t, prompt, "what are the payment terms?")
}

func TestGenerate_ProviderError(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("provider down")}
	a := llm.NewAnswerer(completer, llm.AnswererConfig{})

	_, err := a.Generate(context.Background(), "payment terms?", retrievedChunks())
	assert.Error(t, err)
}
