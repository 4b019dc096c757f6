// Package docstore provides the document-metadata and chat-session store.
// The production backend keeps these behind its own persistence layer; this
// in-memory implementation backs the CLI and tests and defines the reference
// semantics: forward-only status transitions and one session per
// (document, owner) pair.
package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexhaus/briefcase/internal/models"
)

type Memory struct {
	mu        sync.RWMutex
	documents map[string]*models.Document
	sessions  map[string]*models.ChatSession // keyed by documentID + "\x00" + ownerID
}

func NewMemory() *Memory {
	return &Memory{
		documents: make(map[string]*models.Document),
		sessions:  make(map[string]*models.ChatSession),
	}
}

func sessionKey(documentID, ownerID string) string {
	return documentID + "\x00" + ownerID
}

func (m *Memory) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[documentID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", documentID, models.ErrNotFound)
	}
	copied := *doc
	return &copied, nil
}

func (m *Memory) SaveDocument(ctx context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *doc
	if copied.UploadedAt.IsZero() {
		copied.UploadedAt = time.Now().UTC()
	}
	m.documents[doc.ID] = &copied
	return nil
}

// SetStatus persists a status transition. Transitions that would move the
// document backwards are rejected; Failed is always allowed and records the
// error message alongside.
func (m *Memory) SetStatus(ctx context.Context, documentID string, status models.Status, statusError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[documentID]
	if !ok {
		return fmt.Errorf("document %s: %w", documentID, models.ErrNotFound)
	}
	if !doc.Status.CanTransition(status) {
		return fmt.Errorf("invalid status transition %s -> %s for document %s", doc.Status, status, documentID)
	}

	doc.Status = status
	doc.StatusError = statusError
	now := time.Now().UTC()
	switch status {
	case models.StatusTextExtracted:
		doc.ExtractedAt = now
	case models.StatusReady:
		doc.ProcessedAt = now
	}
	return nil
}

// GetOrCreateSession returns the single session for the pair, creating it
// atomically on first access. Concurrent callers always observe the same
// session.
func (m *Memory) GetOrCreateSession(ctx context.Context, documentID, ownerID string) (*models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.documents[documentID]; !ok {
		return nil, fmt.Errorf("document %s: %w", documentID, models.ErrNotFound)
	}

	key := sessionKey(documentID, ownerID)
	session, ok := m.sessions[key]
	if !ok {
		now := time.Now().UTC()
		session = &models.ChatSession{
			ID:         uuid.New().String(),
			DocumentID: documentID,
			OwnerID:    ownerID,
			Messages:   []models.Message{},
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		m.sessions[key] = session
	}
	return copySession(session), nil
}

// AppendMessages appends all given messages in one write. Both messages of a
// chat turn land together or not at all.
func (m *Memory) AppendMessages(ctx context.Context, documentID, ownerID string, msgs ...models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionKey(documentID, ownerID)]
	if !ok {
		return fmt.Errorf("session for document %s: %w", documentID, models.ErrNotFound)
	}
	session.Messages = append(session.Messages, msgs...)
	session.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) ListMessages(ctx context.Context, documentID, ownerID string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionKey(documentID, ownerID)]
	if !ok {
		return nil, fmt.Errorf("session for document %s: %w", documentID, models.ErrNotFound)
	}
	out := make([]models.Message, len(session.Messages))
	copy(out, session.Messages)
	return out, nil
}

// ClearMessages empties the history but keeps the session identity.
func (m *Memory) ClearMessages(ctx context.Context, documentID, ownerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionKey(documentID, ownerID)]
	if !ok {
		return 0, fmt.Errorf("session for document %s: %w", documentID, models.ErrNotFound)
	}
	cleared := len(session.Messages)
	session.Messages = []models.Message{}
	session.UpdatedAt = time.Now().UTC()
	return cleared, nil
}

// DeleteSession removes the session entirely, as when the owning document's
// chat data is deleted.
func (m *Memory) DeleteSession(ctx context.Context, documentID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionKey(documentID, ownerID))
	return nil
}

func copySession(s *models.ChatSession) *models.ChatSession {
	copied := *s
	copied.Messages = make([]models.Message, len(s.Messages))
	copy(copied.Messages, s.Messages)
	return &copied
}
