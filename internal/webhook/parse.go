// Package webhook decodes the messaging provider's inbound envelopes and
// feeds them through the relay.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"whatsapp-relay/internal/domain"
)

// Provider timestamps use a numeric offset without a colon.
var receivedAtLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	time.RFC3339Nano,
}

type envelope struct {
	Results []result `json:"results"`
}

type result struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	MessageID  string  `json:"messageId"`
	ReceivedAt string  `json:"receivedAt"`
	Contact    contact `json:"contact"`
	Message    content `json:"message"`
}

type contact struct {
	Name string `json:"name"`
}

type content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Parse decodes an inbound webhook body. Every result is returned, including
// non-text ones; callers decide what to forward with Forwardable.
func Parse(body []byte) ([]domain.InboundMessage, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, errors.New("webhook: empty body")
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("webhook: decode body: %w", err)
	}

	msgs := make([]domain.InboundMessage, 0, len(env.Results))
	for _, r := range env.Results {
		name := strings.TrimSpace(r.Contact.Name)
		if name == "" {
			name = "Unknown"
		}
		msgs = append(msgs, domain.InboundMessage{
			SenderID:    strings.TrimSpace(r.From),
			RecipientID: strings.TrimSpace(r.To),
			MessageID:   strings.TrimSpace(r.MessageID),
			ContactName: name,
			Type:        strings.ToUpper(strings.TrimSpace(r.Message.Type)),
			Text:        r.Message.Text,
			ReceivedAt:  parseReceivedAt(r.ReceivedAt),
		})
	}
	return msgs, nil
}

// Forwardable reports whether msg should reach the relay: text messages with
// non-blank content only.
func Forwardable(msg domain.InboundMessage) bool {
	return msg.Type == domain.MessageTypeText && strings.TrimSpace(msg.Text) != ""
}

func parseReceivedAt(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range receivedAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
