package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportmesh/internal/domain"
	"supportmesh/internal/infra/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// completionServer answers /chat/completions with resp and hands the decoded
// request to inspect.
func completionServer(t *testing.T, resp openaiResponse, inspect func(*http.Request, openaiRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if inspect != nil {
			inspect(r, req)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIProviderChat(t *testing.T) {
	var got openaiRequest
	srv := completionServer(t, openaiResponse{
		ID:    "chatcmpl-123",
		Model: "gpt-4o-mini",
		Choices: []openaiChoice{{
			Message:      openaiMessage{Role: "assistant", Content: "Hello! How can I help?"},
			FinishReason: "stop",
		}},
		Usage: openaiUsage{PromptTokens: 10, CompletionTokens: 8, TotalTokens: 18},
	}, func(r *http.Request, req openaiRequest) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		got = req
	})

	provider := NewOpenAIProvider(config.ProviderConfig{
		Name:    "test",
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
	}, newTestLogger())

	resp, err := provider.Chat(context.Background(), domain.ChatRequest{
		SystemPrompt: "You are a billing support specialist.",
		Messages:     domain.MessageList{domain.UserMessage{Content: "Hello", Source: "User"}},
	})
	require.NoError(t, err)

	text, ok := resp.Content.Text()
	require.True(t, ok)
	assert.Equal(t, "Hello! How can I help?", text)
	assert.Equal(t, 18, resp.Usage.TotalTokens)

	assert.Equal(t, "gpt-4o-mini", got.Model, "empty request model falls back to the configured one")
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openaiMessage{Role: "system", Content: "You are a billing support specialist."}, got.Messages[0])
	assert.Equal(t, openaiMessage{Role: "user", Content: "Hello"}, got.Messages[1])
}

func TestOpenAIProviderChatWithToolCalls(t *testing.T) {
	srv := completionServer(t, openaiResponse{
		Model: "gpt-4o-mini",
		Choices: []openaiChoice{{
			Message: openaiMessage{
				Role: "assistant",
				ToolCalls: []openaiToolCall{
					{ID: "call_1", Type: "function", Function: openaiToolCallFunction{Name: "create_support_ticket", Arguments: `{"issue":"wifi"}`}},
					{ID: "call_2", Type: "function", Function: openaiToolCallFunction{Name: "transfer_to_technical", Arguments: `{}`}},
				},
			},
			FinishReason: "tool_calls",
		}},
	}, nil)

	provider := NewOpenAIProvider(config.ProviderConfig{Name: "test", BaseURL: srv.URL, Model: "m"}, newTestLogger())
	resp, err := provider.Chat(context.Background(), domain.ChatRequest{
		Messages: domain.MessageList{domain.UserMessage{Content: "my wifi is down"}},
	})
	require.NoError(t, err)

	calls, ok := resp.Content.Calls()
	require.True(t, ok)
	require.Len(t, calls, 2)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "create_support_ticket", calls[0].Name)
	assert.JSONEq(t, `{"issue":"wifi"}`, string(calls[0].Arguments))
	assert.Equal(t, "transfer_to_technical", calls[1].Name)
}

func TestToOpenAIRequestMapsConversation(t *testing.T) {
	req := domain.ChatRequest{
		Model:       "m",
		MaxTokens:   256,
		Temperature: 0.2,
		Messages: domain.MessageList{
			domain.UserMessage{Content: "refund please", Source: "User"},
			domain.AssistantMessage{Source: "BillingAgent", Content: domain.CallContent(
				domain.ToolCall{ID: "c1", Name: "lookup_account_info", Arguments: json.RawMessage(`{"customer_query":"refund"}`)},
				domain.ToolCall{ID: "c2", Name: "check_system_status"},
			)},
			domain.FunctionResultMessage{Results: []domain.FunctionResult{
				{CallID: "c1", Name: "lookup_account_info", Content: "Account info retrieved for query: refund"},
				{CallID: "c2", Name: "check_system_status", Content: "All services operational"},
			}},
			domain.AssistantMessage{Source: "HumanAgent", Content: domain.TextContent("I approved it.")},
		},
		Tools: []domain.ToolSchema{{Name: "lookup_account_info", Description: "d", Parameters: json.RawMessage(`{"type":"object"}`)}},
	}

	got, err := toOpenAIRequest(req)
	require.NoError(t, err)

	assert.Equal(t, 256, got.MaxTokens)
	require.NotNil(t, got.Temperature)
	assert.Equal(t, 0.2, *got.Temperature)

	require.Len(t, got.Messages, 5)
	assert.Equal(t, "user", got.Messages[0].Role)

	assistant := got.Messages[1]
	assert.Equal(t, "assistant", assistant.Role)
	assert.Empty(t, assistant.Content)
	require.Len(t, assistant.ToolCalls, 2)
	assert.Equal(t, `{"customer_query":"refund"}`, assistant.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "{}", assistant.ToolCalls[1].Function.Arguments, "missing arguments are sent as an empty object")

	assert.Equal(t, openaiMessage{Role: "tool", Content: "Account info retrieved for query: refund", ToolCallID: "c1"}, got.Messages[2])
	assert.Equal(t, openaiMessage{Role: "tool", Content: "All services operational", ToolCallID: "c2"}, got.Messages[3])
	assert.Equal(t, openaiMessage{Role: "assistant", Content: "I approved it."}, got.Messages[4])

	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)
	assert.Equal(t, "lookup_account_info", got.Tools[0].Function.Name)
}

func TestOpenAIProviderErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"rate limit", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, domain.ErrRateLimit},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, domain.ErrAuthInvalid},
		{"server error", http.StatusInternalServerError, `oops`, domain.ErrProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			provider := NewOpenAIProvider(config.ProviderConfig{Name: "test", BaseURL: srv.URL, Model: "m"}, newTestLogger())
			_, err := provider.Chat(context.Background(), domain.ChatRequest{
				Messages: domain.MessageList{domain.UserMessage{Content: "hi"}},
			})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestOpenAIProviderEmptyChoices(t *testing.T) {
	srv := completionServer(t, openaiResponse{ID: "x"}, nil)
	provider := NewOpenAIProvider(config.ProviderConfig{Name: "test", BaseURL: srv.URL, Model: "m"}, newTestLogger())

	_, err := provider.Chat(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrProviderError)
}

func TestOpenAIProviderMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(config.ProviderConfig{Name: "test", BaseURL: srv.URL, Model: "m"}, newTestLogger())
	_, err := provider.Chat(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrProviderError)
}

func TestOpenAIProviderContextCancelled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	provider := NewOpenAIProvider(config.ProviderConfig{Name: "test", BaseURL: srv.URL, Model: "m"}, newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := provider.Chat(ctx, domain.ChatRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenAIProviderDefaultBaseURL(t *testing.T) {
	p := NewOpenAIProvider(config.ProviderConfig{Name: "cloud", Model: "m"}, newTestLogger())
	assert.Equal(t, "https://api.openai.com/v1", p.baseURL)
	assert.Equal(t, "cloud", p.Name())
}
