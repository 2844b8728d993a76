package server

import (
	"time"

	"whatsapp-relay/internal/domain"
	"whatsapp-relay/internal/usecase"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "whatsapp-relay"

// CorrelationHeader carries the request correlation id in both directions.
const CorrelationHeader = "X-Correlation-Id"

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
}

func NewHealthResponse(now time.Time) HealthResponse {
	return HealthResponse{
		Status:    "ok",
		Timestamp: now.UTC().Format(time.RFC3339),
		Service:   ServiceName,
	}
}

type SweepResponse struct {
	Conversations int `json:"conversations"`
	DedupRecords  int `json:"dedupRecords"`
	Total         int `json:"total"`
}

func NewSweepResponse(res usecase.SweepResult) SweepResponse {
	return SweepResponse{
		Conversations: res.Conversations,
		DedupRecords:  res.DedupRecords,
		Total:         res.Total(),
	}
}

type TurnResponse struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ConversationResponse is the operator view of one sender's state.
type ConversationResponse struct {
	SenderID       string         `json:"senderId"`
	ConversationID string         `json:"conversationId"`
	MessageCount   int            `json:"messageCount"`
	CreatedAt      time.Time      `json:"createdAt"`
	LastActivity   time.Time      `json:"lastActivity"`
	History        []TurnResponse `json:"history"`
}

func NewConversationResponse(e domain.ConversationEntry) ConversationResponse {
	turns := make([]TurnResponse, 0, len(e.History))
	for _, t := range e.History {
		turns = append(turns, TurnResponse{Role: string(t.Role), Text: t.Text})
	}
	return ConversationResponse{
		SenderID:       e.SenderID,
		ConversationID: e.ConversationID,
		MessageCount:   e.MessageCount,
		CreatedAt:      e.CreatedAt,
		LastActivity:   e.LastActivity,
		History:        turns,
	}
}

type TranscriptResponse struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	At             time.Time `json:"at"`
}

type TranscriptsResponse struct {
	SenderID    string               `json:"senderId"`
	Transcripts []TranscriptResponse `json:"transcripts"`
}

func NewTranscriptsResponse(senderID string, recs []domain.TranscriptRecord) TranscriptsResponse {
	out := make([]TranscriptResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, TranscriptResponse{
			ConversationID: r.ConversationID,
			MessageID:      r.MessageID,
			Question:       r.Question,
			Answer:         r.Answer,
			At:             r.At,
		})
	}
	return TranscriptsResponse{SenderID: senderID, Transcripts: out}
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}
