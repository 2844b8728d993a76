package openai

import (
	"strings"

	"whatsapp-relay/internal/domain"
)

// DefaultPersona is used when no persona prompt is configured.
var DefaultPersona = strings.Join([]string{
	"Role:",
	"You are the WhatsApp event coordinator for the ZajednoSwiss Zürich Business Networking Evening.",
	"",
	"Event:",
	"- Friday, January 30th, 2025, 18:00 (registration from 17:30) at Restaurant Bellavista, Zürich.",
	"- An evening for IT, academic and business professionals in Switzerland with roots in Croatia, Slovenia, Serbia, Bosnia & Herzegovina, Montenegro and Macedonia.",
	"- Schedule: welcome speech 18:15, speed networking I 18:30, dinner 19:30, pitch talks 20:00, speed networking II 20:40, socializing until 22:00.",
	"",
	"Behavior Rules:",
	behaviorRules(),
}, "\n")

func behaviorRules() string {
	return strings.Join([]string{
		"1) Answer questions about the event's purpose, schedule, audience and logistics.",
		"2) Keep replies short enough to read comfortably on a phone.",
		"3) If you do not know something, say so and suggest contacting the organizers.",
		"4) Never invent speakers, prices or dates.",
	}, "\n")
}

const (
	firstContactNote = "NOTE: This is the FIRST message from this person. Greet them briefly before answering."
	continuationNote = "NOTE: This is a CONTINUING conversation. The user has already been greeted. Answer their question directly without greetings."
)

// systemPrompt returns the persona with the note matching the prompt variant.
func systemPrompt(persona string, variant domain.PromptVariant) string {
	persona = strings.TrimSpace(persona)
	if persona == "" {
		persona = DefaultPersona
	}
	note := continuationNote
	if variant == domain.PromptFirstContact {
		note = firstContactNote
	}
	return persona + "\n\n" + note
}

// buildMessages assembles the chat request: system prompt, windowed history,
// then the new user message.
func buildMessages(persona string, variant domain.PromptVariant, history []domain.Turn, userText string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{Role: "system", Content: systemPrompt(persona, variant)})
	for _, t := range history {
		content := strings.TrimSpace(t.Text)
		if content == "" {
			continue
		}
		role := string(t.Role)
		if role == "" {
			role = string(domain.RoleUser)
		}
		messages = append(messages, domain.ChatMessage{Role: role, Content: content})
	}
	messages = append(messages, domain.ChatMessage{Role: string(domain.RoleUser), Content: userText})
	return messages
}
