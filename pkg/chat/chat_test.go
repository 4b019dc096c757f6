package chat_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexhaus/briefcase/internal/models"
	"github.com/lexhaus/briefcase/pkg/chat"
	"github.com/lexhaus/briefcase/pkg/docstore"
	"github.com/lexhaus/briefcase/pkg/llm"
)

type fakeResolver struct {
	enhanced string
	queries  []string
	mu       sync.Mutex
}

func (f *fakeResolver) Resolve(ctx context.Context, query string, history []models.Message) string {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.enhanced != "" {
		return f.enhanced
	}
	return query
}

type fakeRetriever struct {
	chunks  []models.ScoredChunk
	err     error
	queries []string
	mu      sync.Mutex
}

func (f *fakeRetriever) Retrieve(ctx context.Context, tenantID, documentID, query string) ([]models.ScoredChunk, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	return f.chunks, f.err
}

type fakeAnswerer struct {
	answer llm.Answer
	err    error
}

func (f *fakeAnswerer) Generate(ctx context.Context, query string, chunks []models.ScoredChunk) (llm.Answer, error) {
	if f.err != nil {
		return llm.Answer{}, f.err
	}
	if len(chunks) == 0 {
		return llm.Answer{Text: llm.NotFoundResponse}, nil
	}
	return f.answer, nil
}

type fixture struct {
	docs         *docstore.Memory
	orchestrator *chat.Orchestrator
	resolver     *fakeResolver
	retriever    *fakeRetriever
}

func newFixture(t *testing.T, status models.Status, resolver *fakeResolver, retriever *fakeRetriever, answerer *fakeAnswerer) *fixture {
	t.Helper()
	docs := docstore.NewMemory()
	err := docs.SaveDocument(context.Background(), &models.Document{
		ID:      "doc1",
		OwnerID: "tenant-a",
		Status:  status,
	})
	require.NoError(t, err)

	return &fixture{
		docs:         docs,
		resolver:     resolver,
		retriever:    retriever,
		orchestrator: chat.NewOrchestrator(docs, resolver, retriever, answerer, chat.OrchestratorConfig{}, nil),
	}
}

func readyFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixture(t, models.StatusReady,
		&fakeResolver{},
		&fakeRetriever{chunks: []models.ScoredChunk{{ChunkID: "doc1_chunk_0000", Content: "30 days", Score: 0.9}}},
		&fakeAnswerer{answer: llm.Answer{Text: "Payment is due in 30 days [1].", SourceChunkIDs: []string{"doc1_chunk_0000"}}},
	)
}

func TestSendMessage_HappyPath(t *testing.T) {
	f := readyFixture(t)
	ctx := context.Background()

	turn, err := f.orchestrator.SendMessage(ctx, "doc1", "tenant-a", "what are the payment terms?")
	require.NoError(t, err)

	assert.Equal(t, models.RoleUser, turn.UserMessage.Role)
	assert.Equal(t, "what are the payment terms?", turn.UserMessage.Content)
	assert.Equal(t, models.RoleAssistant, turn.AssistantMessage.Role)
	assert.Equal(t, []string{"doc1_chunk_0000"}, turn.AssistantMessage.SourceChunkIDs)

	history, err := f.orchestrator.GetHistory(ctx, "doc1", "tenant-a")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, turn.UserMessage.Content, history[0].Content)
	assert.Equal(t, turn.AssistantMessage.Content, history[1].Content)
}

func TestSendMessage_OriginalQueryRecordedEnhancedUsedForRetrieval(t *testing.T) {
	resolver := &fakeResolver{enhanced: "are the payment terms of 30 days enforceable?"}
	retriever := &fakeRetriever{chunks: []models.ScoredChunk{{ChunkID: "doc1_chunk_0000", Score: 0.9}}}
	f := newFixture(t, models.StatusReady, resolver, retriever,
		&fakeAnswerer{answer: llm.Answer{Text: "Yes [1]."}})
	ctx := context.Background()

	_, err := f.orchestrator.SendMessage(ctx, "doc1", "tenant-a", "is that enforceable?")
	require.NoError(t, err)

	// Retrieval sees the rewrite; history keeps what the user actually asked.
	require.Len(t, retriever.queries, 1)
	assert.Equal(t, "are the payment terms of 30 days enforceable?", retriever.queries[0])

	history, err := f.orchestrator.GetHistory(ctx, "doc1", "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "is that enforceable?", history[0].Content)
}

func TestSendMessage_NotReady(t *testing.T) {
	f := newFixture(t, models.StatusProcessingRAG, &fakeResolver{}, &fakeRetriever{}, &fakeAnswerer{})

	_, err := f.orchestrator.SendMessage(context.Background(), "doc1", "tenant-a", "hello?")
	assert.ErrorIs(t, err, models.ErrNotReady)

	// Nothing was appended for the rejected turn.
	history, err := f.orchestrator.GetHistory(context.Background(), "doc1", "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSendMessage_UnknownDocument(t *testing.T) {
	f := readyFixture(t)

	_, err := f.orchestrator.SendMessage(context.Background(), "missing", "tenant-a", "hello?")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSendMessage_EmptyText(t *testing.T) {
	f := readyFixture(t)

	_, err := f.orchestrator.SendMessage(context.Background(), "doc1", "tenant-a", "   ")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestSendMessage_RetrievalFailureAppendsApology(t *testing.T) {
	retriever := &fakeRetriever{err: errors.New("index down")}
	f := newFixture(t, models.StatusReady, &fakeResolver{}, retriever, &fakeAnswerer{})
	ctx := context.Background()

	turn, err := f.orchestrator.SendMessage(ctx, "doc1", "tenant-a", "what are the payment terms?")
	require.NoError(t, err, "a failed turn is still a coherent conversation artifact")

	assert.Equal(t, chat.TryAgainResponse, turn.AssistantMessage.Content)
	assert.Empty(t, turn.AssistantMessage.SourceChunkIDs)

	history, err := f.orchestrator.GetHistory(ctx, "doc1", "tenant-a")
	require.NoError(t, err)
	require.Len(t, history, 2, "the user's message is never silently dropped")
	assert.Equal(t, chat.TryAgainResponse, history[1].Content)
}

func TestSendMessage_GenerationFailureAppendsApology(t *testing.T) {
	f := newFixture(t, models.StatusReady, &fakeResolver{},
		&fakeRetriever{chunks: []models.ScoredChunk{{ChunkID: "doc1_chunk_0000", Score: 0.9}}},
		&fakeAnswerer{err: models.ErrProviderUnavailable})

	turn, err := f.orchestrator.SendMessage(context.Background(), "doc1", "tenant-a", "payment terms?")
	require.NoError(t, err)
	assert.Equal(t, chat.TryAgainResponse, turn.AssistantMessage.Content)
}

func TestSendMessage_NoRelevantContent(t *testing.T) {
	f := newFixture(t, models.StatusReady, &fakeResolver{}, &fakeRetriever{}, &fakeAnswerer{})

	turn, err := f.orchestrator.SendMessage(context.Background(), "doc1", "tenant-a", "what about maritime law?")
	require.NoError(t, err)

	assert.Equal(t, llm.NotFoundResponse, turn.AssistantMessage.Content)
	assert.Empty(t, turn.AssistantMessage.SourceChunkIDs)
}

func TestSendMessage_ConcurrentTurnsSerialized(t *testing.T) {
	f := readyFixture(t)
	ctx := context.Background()

	const turns = 8
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.orchestrator.SendMessage(ctx, "doc1", "tenant-a", fmt.Sprintf("question %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := f.orchestrator.GetHistory(ctx, "doc1", "tenant-a")
	require.NoError(t, err)
	require.Len(t, history, 2*turns)

	// Appends never interleave: history alternates user/assistant strictly.
	for i, msg := range history {
		if i%2 == 0 {
			assert.Equal(t, models.RoleUser, msg.Role, "position %d", i)
		} else {
			assert.Equal(t, models.RoleAssistant, msg.Role, "position %d", i)
		}
	}
}

func TestClearHistory(t *testing.T) {
	f := readyFixture(t)
	ctx := context.Background()

	_, err := f.orchestrator.SendMessage(ctx, "doc1", "tenant-a", "what are the payment terms?")
	require.NoError(t, err)

	before, err := f.orchestrator.GetOrCreateSession(ctx, "doc1", "tenant-a")
	require.NoError(t, err)

	cleared, err := f.orchestrator.ClearHistory(ctx, "doc1", "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)

	after, err := f.orchestrator.GetOrCreateSession(ctx, "doc1", "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID, "clearing keeps the session identity")

	history, err := f.orchestrator.GetHistory(ctx, "doc1", "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDeleteChatData(t *testing.T) {
	f := readyFixture(t)
	ctx := context.Background()

	first, err := f.orchestrator.GetOrCreateSession(ctx, "doc1", "tenant-a")
	require.NoError(t, err)

	require.NoError(t, f.orchestrator.DeleteChatData(ctx, "doc1", "tenant-a"))

	second, err := f.orchestrator.GetOrCreateSession(ctx, "doc1", "tenant-a")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}
