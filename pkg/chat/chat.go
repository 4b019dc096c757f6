// Package chat owns the one-session-per-document conversation model: turn
// sequencing, message history, and the wiring of context resolution,
// retrieval and grounded answer generation.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lexhaus/briefcase/internal/models"
	"github.com/lexhaus/briefcase/internal/types"
	"github.com/lexhaus/briefcase/pkg/llm"
)

// TryAgainResponse is appended as the assistant turn when retrieval or
// generation fails. A failed turn still produces a coherent conversation
// artifact, not a silent gap.
const TryAgainResponse = "I ran into a problem answering that. Please try again."

// ContextResolver decides whether the query needs prior dialogue folded in
// before retrieval, and rewrites it if so.
type ContextResolver interface {
	Resolve(ctx context.Context, query string, history []models.Message) string
}

// AnswerGenerator produces a grounded answer with source attribution.
type AnswerGenerator interface {
	Generate(ctx context.Context, query string, chunks []models.ScoredChunk) (llm.Answer, error)
}

type OrchestratorConfig struct {
	// HistoryWindow is how many trailing messages feed the context resolver.
	HistoryWindow int
}

type Orchestrator struct {
	config    OrchestratorConfig
	docs      types.DocumentStore
	resolver  ContextResolver
	retriever types.Retriever
	answerer  AnswerGenerator
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// TurnResult is the pair of messages a successful (or degraded) chat turn
// appends to history.
type TurnResult struct {
	UserMessage      models.Message
	AssistantMessage models.Message
}

func NewOrchestrator(docs types.DocumentStore, resolver ContextResolver, retriever types.Retriever, answerer AnswerGenerator, config OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if config.HistoryWindow == 0 {
		config.HistoryWindow = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		config:    config,
		docs:      docs,
		resolver:  resolver,
		retriever: retriever,
		answerer:  answerer,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// GetOrCreateSession returns the single session for the pair, creating it on
// first access. The document must exist but need not be ready; readiness is
// only checked when a message is sent.
func (o *Orchestrator) GetOrCreateSession(ctx context.Context, documentID, ownerID string) (*models.ChatSession, error) {
	return o.docs.GetOrCreateSession(ctx, documentID, ownerID)
}

// SendMessage runs one chat turn. Turns for the same session are serialized:
// two concurrent sends never interleave their history writes. The user's
// original text is what gets recorded; the context-resolved query is used
// only for retrieval.
func (o *Orchestrator) SendMessage(ctx context.Context, documentID, ownerID, text string) (TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return TurnResult{}, fmt.Errorf("%w: empty message", models.ErrValidation)
	}

	doc, err := o.docs.GetDocument(ctx, documentID)
	if err != nil {
		return TurnResult{}, err
	}
	if !doc.ReadyForChat() {
		return TurnResult{}, fmt.Errorf("%w: document status is %s", models.ErrNotReady, doc.Status)
	}

	lock := o.sessionLock(documentID, ownerID)
	lock.Lock()
	defer lock.Unlock()

	session, err := o.docs.GetOrCreateSession(ctx, documentID, ownerID)
	if err != nil {
		return TurnResult{}, err
	}

	userMsg := models.Message{
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}

	assistantMsg := o.runTurn(ctx, doc, session, text)

	if err := o.docs.AppendMessages(ctx, documentID, ownerID, userMsg, assistantMsg); err != nil {
		return TurnResult{}, fmt.Errorf("failed to persist chat turn: %w", err)
	}

	return TurnResult{UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}

// runTurn resolves, retrieves and generates. Failures downstream of the user
// message become a visible try-again assistant message while the cause is
// logged.
func (o *Orchestrator) runTurn(ctx context.Context, doc *models.Document, session *models.ChatSession, text string) models.Message {
	enhanced := o.resolver.Resolve(ctx, text, session.Window(o.config.HistoryWindow))
	if enhanced != text {
		o.logger.Debug("query rewritten for retrieval",
			zap.String("session_id", session.ID),
			zap.String("enhanced_query", enhanced))
	}

	chunks, err := o.retriever.Retrieve(ctx, doc.OwnerID, doc.ID, enhanced)
	if err != nil {
		o.logger.Error("retrieval failed",
			zap.String("session_id", session.ID),
			zap.String("document_id", doc.ID),
			zap.Error(err))
		return apologyMessage()
	}

	answer, err := o.answerer.Generate(ctx, enhanced, chunks)
	if err != nil {
		o.logger.Error("answer generation failed",
			zap.String("session_id", session.ID),
			zap.String("document_id", doc.ID),
			zap.Error(err))
		return apologyMessage()
	}

	return models.Message{
		Role:           models.RoleAssistant,
		Content:        answer.Text,
		SourceChunkIDs: answer.SourceChunkIDs,
		CreatedAt:      time.Now().UTC(),
	}
}

// GetHistory returns the ordered messages of the pair's session, creating an
// empty session lazily on first access.
func (o *Orchestrator) GetHistory(ctx context.Context, documentID, ownerID string) ([]models.Message, error) {
	if _, err := o.docs.GetOrCreateSession(ctx, documentID, ownerID); err != nil {
		return nil, err
	}
	return o.docs.ListMessages(ctx, documentID, ownerID)
}

// ClearHistory empties the session's messages, keeping the session identity,
// and returns how many messages were cleared.
func (o *Orchestrator) ClearHistory(ctx context.Context, documentID, ownerID string) (int, error) {
	if _, err := o.docs.GetOrCreateSession(ctx, documentID, ownerID); err != nil {
		return 0, err
	}

	lock := o.sessionLock(documentID, ownerID)
	lock.Lock()
	defer lock.Unlock()

	return o.docs.ClearMessages(ctx, documentID, ownerID)
}

// DeleteChatData removes the pair's session entirely, as when the document is
// deleted.
func (o *Orchestrator) DeleteChatData(ctx context.Context, documentID, ownerID string) error {
	return o.docs.DeleteSession(ctx, documentID, ownerID)
}

func (o *Orchestrator) sessionLock(documentID, ownerID string) *sync.Mutex {
	key := documentID + "\x00" + ownerID
	o.mu.Lock()
	defer o.mu.Unlock()

	lock, ok := o.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[key] = lock
	}
	return lock
}

func apologyMessage() models.Message {
	return models.Message{
		Role:      models.RoleAssistant,
		Content:   TryAgainResponse,
		CreatedAt: time.Now().UTC(),
	}
}
