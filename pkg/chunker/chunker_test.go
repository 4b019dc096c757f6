package chunker_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexhaus/briefcase/pkg/chunker"
)

const sampleAgreement = `WHEREAS the parties wish to enter into this agreement for the provision of services;

NOW, THEREFORE the parties agree as follows.

SECTION 1. Payment. The client shall pay all invoices within thirty days of receipt. Late payments accrue interest at two percent per month until settled in full.

SECTION 2. Termination. Either party may terminate this agreement with ninety days written notice. Termination does not relieve the client of payment obligations accrued before the effective date.`

func TestChunk_StructuralSections(t *testing.T) {
	c := chunker.New()

	chunks := c.Chunk("doc1", sampleAgreement)
	require.GreaterOrEqual(t, len(chunks), 2)

	var paymentChunk, terminationChunk bool
	for _, ch := range chunks {
		if strings.Contains(ch.Text, "SECTION 1. Payment") {
			paymentChunk = true
		}
		if strings.Contains(ch.Text, "SECTION 2. Termination") {
			terminationChunk = true
		}
	}
	assert.True(t, paymentChunk, "expected a chunk containing the SECTION 1 heading")
	assert.True(t, terminationChunk, "expected a chunk containing the SECTION 2 heading")
}

func TestChunk_DeterministicIDs(t *testing.T) {
	c := chunker.New()

	first := c.Chunk("doc1", sampleAgreement)
	second := c.Chunk("doc1", sampleAgreement)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, fmt.Sprintf("doc1_chunk_%04d", i), first[i].ID)
		assert.Equal(t, i, first[i].Index)
		assert.Equal(t, first[i].Section, second[i].Section, "section labels must be stable across runs")
	}
}

func TestChunk_SizeInvariant(t *testing.T) {
	c := chunker.NewWithConfig(chunker.ChunkerConfig{
		MaxChunkSize: 200,
		MinChunkSize: 50,
	})

	// One long section of many sentences, well above the ceiling.
	var b strings.Builder
	b.WriteString("SECTION 1. Obligations. ")
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&b, "The contractor shall perform obligation number %d in a timely manner. ", i)
	}

	chunks := c.Chunk("doc1", b.String())
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.End-ch.Start, 200, "chunk %s exceeds size ceiling", ch.ID)
		assert.GreaterOrEqual(t, len(ch.Text), 50, "chunk %s below minimum size", ch.ID)
	}
}

func TestChunk_NoSentenceBoundariesHardTruncates(t *testing.T) {
	c := chunker.NewWithConfig(chunker.ChunkerConfig{
		MaxChunkSize: 100,
		MinChunkSize: 10,
	})

	text := strings.Repeat("x", 350)
	chunks := c.Chunk("doc1", text)

	require.Len(t, chunks, 4)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Text), 100)
	}
}

func TestChunk_NoMarkersYieldsSingleChunk(t *testing.T) {
	c := chunker.New()

	text := "This short agreement has no structural markers at all but is long enough to keep."
	chunks := c.Chunk("doc1", text)

	require.Len(t, chunks, 1)
	assert.Equal(t, "body", chunks[0].Section)
	assert.Equal(t, "doc1_chunk_0000", chunks[0].ID)
}

func TestChunk_EmptyInput(t *testing.T) {
	c := chunker.New()

	assert.Empty(t, c.Chunk("doc1", ""))
	assert.Empty(t, c.Chunk("doc1", "   \n\t  "))
}

func TestChunk_DropsNoiseSpans(t *testing.T) {
	c := chunker.NewWithConfig(chunker.ChunkerConfig{
		MaxChunkSize: 4000,
		MinChunkSize: 50,
	})

	// The subclause spans are under the minimum and should be dropped; the
	// section span survives.
	text := `SECTION 1. Definitions. In this agreement the following terms carry the meanings given to them below.
(a) noise
(b) more noise`

	chunks := c.Chunk("doc1", text)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "Definitions")
}

func TestChunk_MarkerKinds(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		section string
	}{
		{
			name:    "article roman numeral",
			text:    "ARTICLE IV\nThe term of this agreement shall be five years from the effective date hereof.",
			section: "article",
		},
		{
			name:    "clause",
			text:    "CLAUSE 12\nConfidential information must not be disclosed to any third party without consent.",
			section: "clause",
		},
		{
			name:    "recital",
			text:    "WHEREAS the supplier operates a licensed facility and wishes to supply goods to the buyer on these terms;",
			section: "recital",
		},
	}

	c := chunker.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := c.Chunk("doc1", tt.text)
			require.NotEmpty(t, chunks)
			assert.Equal(t, tt.section, chunks[0].Section)
		})
	}
}

func TestChunk_OffsetsPointIntoSource(t *testing.T) {
	c := chunker.New()

	chunks := c.Chunk("doc1", sampleAgreement)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		require.LessOrEqual(t, ch.End, len(sampleAgreement))
		raw := sampleAgreement[ch.Start:ch.End]
		assert.Equal(t, strings.TrimSpace(raw), ch.Text)
	}
}
