// Package pipeline drives a document from uploaded to chat-ready: extract,
// chunk, embed, index, finalize. Every stage transition is persisted before
// the next stage begins, so a crash leaves a resumable status rather than an
// ambiguous one.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lexhaus/briefcase/internal/models"
	"github.com/lexhaus/briefcase/internal/types"
	"github.com/lexhaus/briefcase/pkg/chunker"
)

type ProcessorConfig struct {
	// EmbedBatchSize bounds texts per embedding call; providers cap batch
	// sizes around 100.
	EmbedBatchSize int
	EmbeddingModel string
}

type Processor struct {
	config   ProcessorConfig
	chunker  *chunker.Chunker
	embedder types.Embedder
	index    types.VectorIndex
	docs     types.DocumentStore
	logger   *zap.Logger
}

func New(ch *chunker.Chunker, embedder types.Embedder, index types.VectorIndex, docs types.DocumentStore, config ProcessorConfig, logger *zap.Logger) *Processor {
	if config.EmbedBatchSize == 0 {
		config.EmbedBatchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		config:   config,
		chunker:  ch,
		embedder: embedder,
		index:    index,
		docs:     docs,
		logger:   logger,
	}
}

// Process runs the full pipeline for one document. Reprocessing a ready or
// failed document is a full restart: prior vectors are cleared, chunks are
// regenerated from scratch. Stage errors are absorbed into a persisted
// failed status; callers branch on the result, never on raw provider errors.
func (p *Processor) Process(ctx context.Context, documentID, rawText string) models.ProcessingResult {
	doc, err := p.docs.GetDocument(ctx, documentID)
	if err != nil {
		return p.fail(ctx, documentID, models.StagePersist, fmt.Errorf("failed to load document: %w", err))
	}

	if err := p.docs.SetStatus(ctx, documentID, models.StatusExtractingText, ""); err != nil {
		return p.fail(ctx, documentID, models.StagePersist, err)
	}

	text := strings.TrimSpace(rawText)
	if text == "" {
		return p.fail(ctx, documentID, models.StageExtract,
			fmt.Errorf("%w: document contains insufficient content", models.ErrValidation))
	}

	// Re-read after the transition so the save can't write back stale fields
	// (a prior run's StatusError, most notably).
	doc, err = p.docs.GetDocument(ctx, documentID)
	if err != nil {
		return p.fail(ctx, documentID, models.StagePersist, err)
	}
	doc.Text = text
	doc.EmbeddingModel = p.config.EmbeddingModel
	if err := p.docs.SaveDocument(ctx, doc); err != nil {
		return p.fail(ctx, documentID, models.StagePersist, err)
	}
	if err := p.docs.SetStatus(ctx, documentID, models.StatusTextExtracted, ""); err != nil {
		return p.fail(ctx, documentID, models.StagePersist, err)
	}

	// The document stays in processing_rag for the whole delete+re-embed
	// window, so chat readers never observe a half-replaced index.
	if err := p.docs.SetStatus(ctx, documentID, models.StatusProcessingRAG, ""); err != nil {
		return p.fail(ctx, documentID, models.StagePersist, err)
	}

	if err := p.index.Delete(ctx, doc.OwnerID, documentID); err != nil {
		return p.fail(ctx, documentID, models.StageStore, fmt.Errorf("failed to clear prior vectors: %w", err))
	}

	chunks := p.chunker.Chunk(documentID, text)
	if len(chunks) == 0 {
		return p.fail(ctx, documentID, models.StageChunk,
			fmt.Errorf("%w: document produced no usable chunks", models.ErrValidation))
	}
	p.logger.Info("document chunked",
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)))

	vectors, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return p.fail(ctx, documentID, models.StageEmbed, err)
	}

	stored, _, err := p.index.Store(ctx, doc.OwnerID, documentID, chunks, vectors)
	if err != nil {
		return p.fail(ctx, documentID, models.StageStore, err)
	}

	// Fresh read again: the text_extracted transition stamped ExtractedAt on
	// the stored document, and saving the old copy would zero it.
	doc, err = p.docs.GetDocument(ctx, documentID)
	if err != nil {
		return p.fail(ctx, documentID, models.StagePersist, err)
	}
	doc.ChunkCount = stored
	if err := p.docs.SaveDocument(ctx, doc); err != nil {
		return p.fail(ctx, documentID, models.StagePersist, err)
	}
	if err := p.docs.SetStatus(ctx, documentID, models.StatusReady, ""); err != nil {
		return p.fail(ctx, documentID, models.StagePersist, err)
	}

	p.logger.Info("document ready for chat",
		zap.String("document_id", documentID),
		zap.Int("chunks", stored))

	return models.ProcessingResult{
		DocumentID:  documentID,
		FinalStatus: models.StatusReady,
		ChunkCount:  stored,
	}
}

// embedChunks embeds chunk texts in bounded sequential batches. Batches are
// not fanned out; the provider client's permit pool and rate limiter govern
// outbound pressure.
func (p *Processor) embedChunks(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += p.config.EmbedBatchSize {
		end := start + p.config.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, chunk.Text)
		}

		batch, err := p.embedder.CreateEmbedding(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch starting at chunk %d: %w", start, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// fail persists the terminal failed status with the stage and reason. The
// failed transition itself is never retried; if even persisting fails, the
// error is logged and the result still reports the failure.
func (p *Processor) fail(ctx context.Context, documentID string, stage models.Stage, cause error) models.ProcessingResult {
	reason := fmt.Sprintf("%s stage: %v", stage, cause)
	p.logger.Error("document processing failed",
		zap.String("document_id", documentID),
		zap.String("stage", string(stage)),
		zap.Error(cause))

	if err := p.docs.SetStatus(ctx, documentID, models.StatusFailed, reason); err != nil {
		p.logger.Error("failed to persist failed status",
			zap.String("document_id", documentID),
			zap.Error(err))
	}

	return models.ProcessingResult{
		DocumentID:  documentID,
		FinalStatus: models.StatusFailed,
		FailedStage: stage,
		Reason:      reason,
	}
}
