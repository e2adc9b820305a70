package fake

import (
	"context"
	"sync"

	"github.com/chriscow/avatar-agents-go/pkg/ai/llm"
)

// FakeLLM is a scripted LLM implementation for testing. Responses are
// returned in order, cycling when exhausted; an empty string is a valid
// empty reply, matching real provider behavior.
type FakeLLM struct {
	Err error // returned by Chat when set

	mu        sync.Mutex
	responses []string
	requests  []llm.ChatRequest
}

// NewFakeLLM creates a fake LLM provider with predefined responses.
func NewFakeLLM(responses ...string) *FakeLLM {
	if len(responses) == 0 {
		responses = []string{"This is a fake response from the fake LLM provider."}
	}
	return &FakeLLM{responses: responses}
}

// Chat records the request and returns the next scripted response.
func (f *FakeLLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if ctx.Err() != nil {
		return llm.ChatResponse{}, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.Err != nil {
		return llm.ChatResponse{}, f.Err
	}
	response := f.responses[(len(f.requests)-1)%len(f.responses)]

	return llm.ChatResponse{
		Message: llm.Message{
			Role:    llm.RoleAssistant,
			Content: response,
		},
		TokensUsed:   len(response)/4 + 10,
		FinishReason: "stop",
	}, nil
}

// Capabilities returns the fake LLM capabilities.
func (f *FakeLLM) Capabilities() llm.LLMCapabilities {
	return llm.LLMCapabilities{
		SupportsStreaming:  false,
		SupportsSystemRole: true,
		MaxTokens:          4096,
		SupportedModels:    []string{"fake-model-1"},
	}
}

// Requests returns the chat requests seen so far.
func (f *FakeLLM) Requests() []llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.ChatRequest, len(f.requests))
	copy(out, f.requests)
	return out
}
