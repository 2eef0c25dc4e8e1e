package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"supportmesh/internal/domain"
	"supportmesh/internal/infra/config"
	"supportmesh/internal/infra/tracer"
)

var _ domain.LLMProvider = (*OpenAIProvider)(nil)

// OpenAIProvider implements domain.LLMProvider for any OpenAI-compatible
// chat completions API.
type OpenAIProvider struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewOpenAIProvider creates a provider with configured timeouts.
func NewOpenAIProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &OpenAIProvider{
		name:    cfg.Name,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

// Chat implements domain.LLMProvider.
func (p *OpenAIProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
			tracer.IntAttr("llm.messages", len(req.Messages)),
		),
	)
	defer span.End()

	oaiReq, err := toOpenAIRequest(req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	body, err := json.Marshal(oaiReq)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/chat/completions", body, headers)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var oaiResp openaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: unmarshal response: %w", domain.ErrProviderError, err)
	}

	result, err := fromOpenAIResponse(oaiResp)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result)

	return result, nil
}

// Name implements domain.LLMProvider.
func (p *OpenAIProvider) Name() string { return p.name }

// --- OpenAI API wire types ---

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Tools       []openaiTool    `json:"tools,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openaiToolCall struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Function openaiToolCallFunction `json:"function"`
}

type openaiToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// toOpenAIRequest flattens the conversation context. A function result
// batch becomes one "tool" message per result.
func toOpenAIRequest(req domain.ChatRequest) (openaiRequest, error) {
	msgs := make([]openaiMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openaiMessage{Role: "system", Content: req.SystemPrompt})
	}

	for _, m := range req.Messages {
		switch v := m.(type) {
		case domain.UserMessage:
			msgs = append(msgs, openaiMessage{Role: "user", Content: v.Content})
		case domain.AssistantMessage:
			msg := openaiMessage{Role: "assistant"}
			if calls, ok := v.Content.Calls(); ok {
				msg.ToolCalls = make([]openaiToolCall, len(calls))
				for i, tc := range calls {
					args := string(tc.Arguments)
					if args == "" {
						args = "{}"
					}
					msg.ToolCalls[i] = openaiToolCall{
						ID:       tc.ID,
						Type:     "function",
						Function: openaiToolCallFunction{Name: tc.Name, Arguments: args},
					}
				}
			} else {
				msg.Content, _ = v.Content.Text()
			}
			msgs = append(msgs, msg)
		case domain.FunctionResultMessage:
			for _, r := range v.Results {
				msgs = append(msgs, openaiMessage{Role: "tool", Content: r.Content, ToolCallID: r.CallID})
			}
		default:
			return openaiRequest{}, domain.NewDomainError("OpenAIProvider.Chat", domain.ErrInvalidInput,
				fmt.Sprintf("unsupported message %T", m))
		}
	}

	oaiReq := openaiRequest{
		Model:    req.Model,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		oaiReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		oaiReq.Temperature = &temp
	}

	if len(req.Tools) > 0 {
		oaiReq.Tools = make([]openaiTool, len(req.Tools))
		for i, t := range req.Tools {
			oaiReq.Tools[i] = openaiTool{
				Type: "function",
				Function: openaiToolFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			}
		}
	}

	return oaiReq, nil
}

func fromOpenAIResponse(resp openaiResponse) (*domain.ChatResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: response has no choices", domain.ErrProviderError)
	}

	result := &domain.ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) == 0 {
		result.Content = domain.TextContent(msg.Content)
		return result, nil
	}

	calls := make([]domain.ToolCall, len(msg.ToolCalls))
	for i, tc := range msg.ToolCalls {
		calls[i] = domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		}
	}
	result.Content = domain.CallContent(calls...)
	return result, nil
}
