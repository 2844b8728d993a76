package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whatsapp-relay/internal/domain"
)

const sampleBody = `{
  "results": [
    {
      "from": "385912395365",
      "to": "385916376631",
      "integrationType": "WHATSAPP",
      "receivedAt": "2026-10-18T09:15:00.000+0000",
      "messageId": "wamid.1",
      "contact": {"name": "Ana"},
      "message": {"type": "TEXT", "text": "Hello!"}
    },
    {
      "from": "385912395365",
      "to": "385916376631",
      "messageId": "wamid.2",
      "message": {"type": "IMAGE", "url": "https://example.test/a.jpg"}
    }
  ],
  "messageCount": 2,
  "pendingMessageCount": 0
}`

func TestParse_DecodesResults(t *testing.T) {
	msgs, err := Parse([]byte(sampleBody))
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	first := msgs[0]
	require.Equal(t, "385912395365", first.SenderID)
	require.Equal(t, "385916376631", first.RecipientID)
	require.Equal(t, "wamid.1", first.MessageID)
	require.Equal(t, "Ana", first.ContactName)
	require.Equal(t, domain.MessageTypeText, first.Type)
	require.Equal(t, "Hello!", first.Text)
	require.Equal(t, time.Date(2026, 10, 18, 9, 15, 0, 0, time.UTC), first.ReceivedAt)

	second := msgs[1]
	require.Equal(t, "IMAGE", second.Type)
	require.Equal(t, "Unknown", second.ContactName)
	require.True(t, second.ReceivedAt.IsZero())
}

func TestParse_MissingResultsIsEmpty(t *testing.T) {
	msgs, err := Parse([]byte(`{"messageCount":0}`))
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte(`{"results":[`))
	require.Error(t, err)

	_, err = Parse([]byte("   "))
	require.Error(t, err)
}

func TestParseReceivedAt_AcceptsRFC3339(t *testing.T) {
	got := parseReceivedAt("2026-10-18T11:15:00+02:00")
	require.Equal(t, time.Date(2026, 10, 18, 9, 15, 0, 0, time.UTC), got)
	require.True(t, parseReceivedAt("yesterday").IsZero())
}

func TestForwardable(t *testing.T) {
	require.True(t, Forwardable(domain.InboundMessage{Type: "TEXT", Text: "hi"}))
	require.False(t, Forwardable(domain.InboundMessage{Type: "TEXT", Text: " \n\t"}))
	require.False(t, Forwardable(domain.InboundMessage{Type: "BUTTON", Text: "yes"}))
}
