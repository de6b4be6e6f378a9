// Package llm defines the language-model provider contract and its
// implementations. The engine never talks to a vendor SDK directly; it
// goes through the request queue, which fronts the active Provider.
package llm

import "context"

// Role labels a chat message side.
type Role string

// Chat roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    Role
	Content string
}

// ChatOptions tunes a chat call.
type ChatOptions struct {
	// Temperature overrides the provider default when non-nil.
	Temperature *float32
	// MaxTokens bounds the reply length when > 0.
	MaxTokens int
}

// Completion is the result of a generation or chat call.
type Completion struct {
	Content string
	Model   string
	Tokens  int
}

// Health is the result of a provider availability probe.
type Health struct {
	Available bool
	Reason    string
}

// Provider is the capability set every LLM backend implements. All
// calls are cancellable and honor the caller-provided deadline on ctx.
type Provider interface {
	// GenerateStory produces narrative content from assembled story
	// context plus the user prompt.
	GenerateStory(ctx context.Context, storyContext, userPrompt string) (*Completion, error)

	// Summarize condenses text (chapter endings, memory folding).
	Summarize(ctx context.Context, text string) (string, error)

	// Chat runs a multi-turn conversation (story machine, evaluator).
	Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (*Completion, error)

	// HealthCheck probes availability without generating content.
	HealthCheck(ctx context.Context) Health

	// Name identifies the provider implementation.
	Name() string

	// Close releases provider resources.
	Close() error
}
