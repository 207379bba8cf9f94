// Package llm defines the language-model provider interface used for intent
// resolution. Providers answer one question at a time: given the user's query
// plus a short conversation history, produce a reply string. Streaming, tool
// calling, and multimodality are deliberately out of the contract — the
// router only needs a bounded text reply to hand to synthesis.
//
// Implementations live in subpackages: flowise (Flowise prediction REST API),
// openaicompat (any OpenAI-compatible endpoint), anyllm (multi-provider via
// any-llm-go), and mock for tests.
package llm

import "context"

// Provider answers user queries with a text reply.
//
// Implementations must be safe for concurrent use; multiple sessions route
// through one Provider instance.
type Provider interface {
	// Name identifies the backend ("flowise", "openai", "anyllm:ollama", ...).
	Name() string

	// Complete resolves a query into a reply. An empty reply with a nil error
	// is possible and is treated as a failure by callers.
	Complete(ctx context.Context, req Request) (string, error)

	// Models lists the models the backend can serve. Backends without a live
	// listing API return their configured model.
	Models(ctx context.Context) ([]string, error)
}

// Request is one completion call.
type Request struct {
	// Query is the user's utterance.
	Query string

	// History holds prior conversation turns, oldest first. Already trimmed
	// to the configured context window by the caller.
	History []Turn

	// SystemPrompt, when non-empty, is prepended as the system message.
	SystemPrompt string

	// Model selects the model for backends that support switching. Empty
	// means the backend's configured model.
	Model string

	// Temperature is the sampling temperature. Zero means backend default.
	Temperature float64

	// MaxTokens bounds the reply length. Zero means backend default.
	MaxTokens int
}

// Turn is one prior exchange element in the conversation history.
type Turn struct {
	// Role is "user" or "assistant".
	Role string

	// Content is the turn's text.
	Content string
}

// Role values for Turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
