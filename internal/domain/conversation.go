package domain

import (
	"strings"
	"time"
)

// Role tags a turn with its author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one chronological unit of conversation history.
type Turn struct {
	Role Role
	Text string
}

// Blank reports whether the turn carries no text after trimming whitespace.
func (t Turn) Blank() bool {
	return strings.TrimSpace(t.Text) == ""
}

// ConversationEntry is the in-memory state held for one sender.
type ConversationEntry struct {
	SenderID       string
	ConversationID string
	History        []Turn
	MessageCount   int
	CreatedAt      time.Time
	LastActivity   time.Time
}

// Clone returns a deep copy so callers never share the stored history slice.
func (e ConversationEntry) Clone() ConversationEntry {
	out := e
	if e.History != nil {
		out.History = make([]Turn, len(e.History))
		copy(out.History, e.History)
	}
	return out
}
