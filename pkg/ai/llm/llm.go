package llm

import (
	"context"

	"github.com/chriscow/avatar-agents-go/pkg/ai"
)

// ErrLLM is re-exported so call sites can classify failures without
// importing ai directly.
var ErrLLM = ai.ErrLLM

// MessageRole represents the role of a message in a chat conversation.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message represents a single message in a chat conversation.
type Message struct {
	Role    MessageRole
	Content string
}

// ChatRequest contains parameters for a chat completion request.
type ChatRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// ChatResponse contains the response from a chat completion request. An
// empty Content is a valid empty reply, not an error.
type ChatResponse struct {
	Message      Message
	TokensUsed   int
	FinishReason string
}

// LLMCapabilities describes the capabilities of an LLM provider.
type LLMCapabilities struct {
	SupportsStreaming  bool
	SupportsSystemRole bool
	MaxTokens          int
	SupportedModels    []string
}

// LLM is the main interface for large language model providers.
type LLM interface {
	// Chat performs a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() LLMCapabilities
}
