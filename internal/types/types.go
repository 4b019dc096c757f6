// Package types holds the interfaces the pipeline and chat layers are wired
// through. Every component receives its collaborators at construction; there
// are no package-level client singletons.
package types

import (
	"context"

	"github.com/lexhaus/briefcase/internal/models"
)

// Embedder converts texts into vector representations. Implementations must
// return one vector per input text, in input order.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer generates a completion from a system prompt and a user prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, temperature float64, maxTokens int) (string, error)
}

// SearchParams scope a similarity search. DocumentID is optional; empty means
// search the whole tenant namespace.
type SearchParams struct {
	TopK       int
	Threshold  float32
	DocumentID string
}

// VectorIndex is a tenant-namespaced vector store. All operations are
// idempotent; storing the same document twice without an intervening Delete
// upserts in place.
type VectorIndex interface {
	Store(ctx context.Context, tenantID, documentID string, chunks []models.Chunk, vectors [][]float32) (int, []string, error)
	Search(ctx context.Context, tenantID string, vector []float32, params SearchParams) ([]models.ScoredChunk, error)
	Delete(ctx context.Context, tenantID, documentID string) error
}

// DocumentStore persists document metadata and chat sessions. The raw-byte
// storage behind it is out of scope here; implementations may be backed by
// anything that honors the session-singularity guarantee of
// GetOrCreateSession.
type DocumentStore interface {
	GetDocument(ctx context.Context, documentID string) (*models.Document, error)
	SaveDocument(ctx context.Context, doc *models.Document) error
	SetStatus(ctx context.Context, documentID string, status models.Status, statusError string) error

	GetOrCreateSession(ctx context.Context, documentID, ownerID string) (*models.ChatSession, error)
	AppendMessages(ctx context.Context, documentID, ownerID string, msgs ...models.Message) error
	ListMessages(ctx context.Context, documentID, ownerID string) ([]models.Message, error)
	ClearMessages(ctx context.Context, documentID, ownerID string) (int, error)
	DeleteSession(ctx context.Context, documentID, ownerID string) error
}

// Retriever returns the chunks most similar to a query, scoped to one tenant
// and document. An empty result is a normal outcome, not an error.
type Retriever interface {
	Retrieve(ctx context.Context, tenantID, documentID, query string) ([]models.ScoredChunk, error)
}
