package domain

// ChatMessage is the provider-agnostic chat message shape sent to the
// completion service.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PromptVariant selects the system prompt used for a completion request.
type PromptVariant int

const (
	// PromptFirstContact is used when the sender has no stored history and
	// should be greeted.
	PromptFirstContact PromptVariant = iota
	// PromptContinuation is used for every later message; no re-greeting.
	PromptContinuation
)

func (v PromptVariant) String() string {
	switch v {
	case PromptFirstContact:
		return "first_contact"
	case PromptContinuation:
		return "continuation"
	default:
		return "unknown"
	}
}
