package domain

import "time"

// MessageTypeText is the only inbound message type forwarded to the relay.
const MessageTypeText = "TEXT"

// InboundMessage is one message envelope received from the messaging
// provider's webhook.
type InboundMessage struct {
	SenderID    string
	RecipientID string
	MessageID   string
	ContactName string
	Type        string
	Text        string
	ReceivedAt  time.Time
}

// TranscriptRecord is one completed exchange handed to the transcript archive.
type TranscriptRecord struct {
	SenderID       string
	ConversationID string
	MessageID      string
	Question       string
	Answer         string
	At             time.Time
}
