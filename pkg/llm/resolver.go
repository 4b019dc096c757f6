package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lexhaus/briefcase/internal/models"
	"github.com/lexhaus/briefcase/internal/types"
)

const gateSystemPrompt = `You classify questions from a conversation about a legal document.
Decide whether the question can be understood on its own, or whether it refers back to the conversation (pronouns like "that", "it", "this", "those", or phrases like "as we discussed", "tell me more", "how does this compare").
Answer with exactly one word: YES if the question needs the conversation to be understood, NO if it is self-contained.`

const rewriteSystemPrompt = `You rewrite a follow-up question about a legal document into a standalone question.
Use the conversation to resolve pronouns and back-references, keeping the user's intent. The rewritten question must make sense without the conversation.
Reply with only the rewritten question and nothing else.`

type ResolverConfig struct {
	// Window is how many trailing messages of history feed the gate and
	// rewrite prompts.
	Window int
	// Temperatures and token budgets for the two calls. The gate is a cheap
	// classification; the rewrite is the heavier call and only runs when the
	// gate says so.
	GateMaxTokens    int
	RewriteMaxTokens int
}

// Resolver decides, per chat turn, whether the query is self-contained or
// needs prior dialogue folded in before retrieval. Gate and rewrite are
// separate completers so they can run on different model tiers.
type Resolver struct {
	config  ResolverConfig
	gate    types.Completer
	rewrite types.Completer
	logger  *zap.Logger
}

func NewResolver(gate, rewrite types.Completer, config ResolverConfig, logger *zap.Logger) *Resolver {
	if config.Window == 0 {
		config.Window = 10
	}
	if config.GateMaxTokens == 0 {
		config.GateMaxTokens = 5
	}
	if config.RewriteMaxTokens == 0 {
		config.RewriteMaxTokens = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{config: config, gate: gate, rewrite: rewrite, logger: logger}
}

// Resolve returns the query to use for retrieval. With no history the gate is
// skipped entirely and the query passes through unchanged. Any gate or
// rewrite failure degrades to the original query: chat availability outranks
// pronoun resolution. The original query, not the result, is what gets
// recorded in chat history.
func (r *Resolver) Resolve(ctx context.Context, query string, history []models.Message) string {
	if len(history) == 0 {
		return query
	}

	window := lastN(history, r.config.Window)

	needed, err := r.NeedsContext(ctx, query, window)
	if err != nil {
		r.logger.Warn("context gate failed, passing query through", zap.Error(err))
		return query
	}
	if !needed {
		return query
	}

	enhanced, err := r.Rewrite(ctx, query, window)
	if err != nil {
		r.logger.Warn("context rewrite failed, passing query through", zap.Error(err))
		return query
	}
	return enhanced
}

// NeedsContext runs the cheap classification call over the query and the
// history window.
func (r *Resolver) NeedsContext(ctx context.Context, query string, window []models.Message) (bool, error) {
	prompt := fmt.Sprintf("Conversation:\n%s\nQuestion: %s", transcript(window), query)

	answer, err := r.gate.Complete(ctx, gateSystemPrompt, prompt, 0, r.config.GateMaxTokens)
	if err != nil {
		return false, err
	}

	switch normalized := strings.ToUpper(strings.TrimSpace(answer)); {
	case strings.HasPrefix(normalized, "YES"):
		return true, nil
	case strings.HasPrefix(normalized, "NO"):
		return false, nil
	default:
		return false, fmt.Errorf("unparseable gate answer %q", answer)
	}
}

// Rewrite produces the context-resolved query. An empty rewrite is treated as
// a failure so the caller falls back to the original.
func (r *Resolver) Rewrite(ctx context.Context, query string, window []models.Message) (string, error) {
	prompt := fmt.Sprintf("Conversation:\n%s\nFollow-up question: %s", transcript(window), query)

	enhanced, err := r.rewrite.Complete(ctx, rewriteSystemPrompt, prompt, 0.1, r.config.RewriteMaxTokens)
	if err != nil {
		return "", err
	}
	enhanced = strings.TrimSpace(strings.Trim(strings.TrimSpace(enhanced), `"`))
	if enhanced == "" {
		return "", fmt.Errorf("empty rewrite for query %q", query)
	}
	return enhanced, nil
}

func transcript(window []models.Message) string {
	var b strings.Builder
	for _, msg := range window {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func lastN(msgs []models.Message, n int) []models.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
