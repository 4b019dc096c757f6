package models

import (
	"fmt"
	"time"
)

// Status is the processing state of a document. Statuses only move forward
// through the order below; the single exception is the terminal Failed state,
// which is reachable from anywhere.
type Status string

const (
	StatusUploaded       Status = "uploaded"
	StatusExtractingText Status = "extracting_text"
	StatusTextExtracted  Status = "text_extracted"
	StatusProcessingRAG  Status = "processing_rag"
	StatusReady          Status = "ready"
	StatusFailed         Status = "failed"
)

var statusOrder = map[Status]int{
	StatusUploaded:       0,
	StatusExtractingText: 1,
	StatusTextExtracted:  2,
	StatusProcessingRAG:  3,
	StatusReady:          4,
}

// CanTransition reports whether moving from s to next respects the
// forward-only ordering. Failed is always reachable. A Ready or Failed
// document only leaves its state through a full reprocess, which restarts
// at StatusExtractingText.
func (s Status) CanTransition(next Status) bool {
	if next == StatusFailed {
		return true
	}
	if s == StatusFailed || s == StatusReady {
		return next == StatusExtractingText
	}
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	to, ok := statusOrder[next]
	if !ok {
		return false
	}
	return to > from
}

type Document struct {
	ID             string
	OwnerID        string
	Text           string
	Status         Status
	StatusError    string
	ChunkCount     int
	EmbeddingModel string
	UploadedAt     time.Time
	ExtractedAt    time.Time
	ProcessedAt    time.Time
}

// ReadyForChat reports whether the document has reached the terminal success
// state. This is the single predicate chat consults before starting a session.
func (d *Document) ReadyForChat() bool {
	return d.Status == StatusReady
}

// Chunk is a bounded span of a document's text, the unit of retrieval.
// Chunks are immutable; reprocessing a document regenerates all of them.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Text       string
	Start      int
	End        int
	Section    string
	Heading    string
}

// ChunkID derives the deterministic chunk identifier for a document ordinal,
// so re-chunking identical text yields identical ids.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%04d", documentID, index)
}

// ScoredChunk is a retrieval hit. Score is normalized to 0-1, higher is more
// similar, regardless of the index's native distance metric.
type ScoredChunk struct {
	ChunkID    string
	DocumentID string
	Index      int
	Content    string
	Score      float32
	CreatedAt  time.Time
}

// Stage names the pipeline stage at which processing failed.
type Stage string

const (
	StageExtract Stage = "extract"
	StageChunk   Stage = "chunk"
	StageEmbed   Stage = "embed"
	StageStore   Stage = "store"
	StagePersist Stage = "persist"
)

// ProcessingResult is the outcome of one full pipeline run. FailedStage and
// Reason are only set when FinalStatus is StatusFailed.
type ProcessingResult struct {
	DocumentID  string
	FinalStatus Status
	ChunkCount  int
	FailedStage Stage
	Reason      string
}

func (r ProcessingResult) Succeeded() bool {
	return r.FinalStatus == StatusReady
}
