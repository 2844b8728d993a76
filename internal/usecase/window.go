package usecase

import (
	"strings"

	"whatsapp-relay/internal/domain"
)

// DefaultContextWindow is the number of most recent stored turns submitted
// with each completion request. It must not exceed the storage cap.
const DefaultContextWindow = 10

// CompletionInput is the bounded context handed to the completion service.
type CompletionInput struct {
	UserText string
	History  []domain.Turn
	Variant  domain.PromptVariant
}

// BuildCompletionInput applies the default window to the stored history.
func BuildCompletionInput(history []domain.Turn, newUserText string) CompletionInput {
	return buildCompletionInput(history, newUserText, DefaultContextWindow)
}

// buildCompletionInput keeps the last size turns of history, drops blank
// turns and picks the prompt variant from whether history was empty.
func buildCompletionInput(history []domain.Turn, newUserText string, size int) CompletionInput {
	if size <= 0 {
		size = DefaultContextWindow
	}
	variant := domain.PromptContinuation
	if len(history) == 0 {
		variant = domain.PromptFirstContact
	}

	recent := history
	if len(recent) > size {
		recent = recent[len(recent)-size:]
	}
	window := make([]domain.Turn, 0, len(recent))
	for _, t := range recent {
		if t.Blank() {
			continue
		}
		window = append(window, t)
	}

	return CompletionInput{
		UserText: strings.TrimSpace(newUserText),
		History:  window,
		Variant:  variant,
	}
}
