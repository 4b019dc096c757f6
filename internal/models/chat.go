package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a chat session. Messages are append-only; history is
// never edited or reordered, only cleared in bulk. SourceChunkIDs is set on
// assistant messages that cited retrieved chunks.
type Message struct {
	Role           Role
	Content        string
	SourceChunkIDs []string
	CreatedAt      time.Time
}

// ChatSession holds the single conversation for one (document, owner) pair.
type ChatSession struct {
	ID         string
	DocumentID string
	OwnerID    string
	Messages   []Message
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Window returns the last n messages, the derived view handed to the context
// resolver. Computed fresh per turn, never cached.
func (s *ChatSession) Window(n int) []Message {
	if n <= 0 || len(s.Messages) <= n {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}
