// Package llm defines the Provider interface for Large Language Model backends.
//
// Tremolo uses an LLM for one job: turning a fused transcript and its markers
// into additional coaching remarks. A Provider therefore only needs blocking
// completions; streaming and tool calling are not part of the contract.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
)

// Roles accepted in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional instruction sent before Messages as a
	// "system"-role message.
	SystemPrompt string

	Messages []Message

	// Temperature in [0.0, 2.0]. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int
}

// CompletionResponse is the full reply to a [CompletionRequest].
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response. It
	// returns promptly with an error when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
