package domain

import "context"

// ChatRequest is sent to an LLM provider.
type ChatRequest struct {
	Model        string       `json:"model"`
	SystemPrompt string       `json:"system_prompt"`
	Messages     MessageList  `json:"messages"`
	Tools        []ToolSchema `json:"tools,omitempty"`
	MaxTokens    int          `json:"max_tokens,omitempty"`
	Temperature  float64      `json:"temperature,omitempty"`
}

// ChatResponse is returned from an LLM provider. Content is either final
// text or a batch of tool call requests.
type ChatResponse struct {
	ID      string           `json:"id"`
	Model   string           `json:"model"`
	Content AssistantContent `json:"content"`
	Usage   Usage            `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "ollama").
	Name() string
}
