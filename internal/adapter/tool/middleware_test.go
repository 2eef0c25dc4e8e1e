package tool

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"supportmesh/internal/domain"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type greetParams struct {
	Name string `json:"name"`
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		handler func(context.Context, trace.Span, greetParams) (any, error)
		want    string
		isError bool
	}{
		{
			name: "string result",
			raw:  `{"name":"ana"}`,
			handler: func(_ context.Context, _ trace.Span, p greetParams) (any, error) {
				return "hello " + p.Name, nil
			},
			want: "hello ana",
		},
		{
			name: "json result",
			raw:  `{"name":"ana"}`,
			handler: func(_ context.Context, _ trace.Span, p greetParams) (any, error) {
				return map[string]string{"greeting": p.Name}, nil
			},
			want: "{\n  \"greeting\": \"ana\"\n}",
		},
		{
			name: "tool result passes through",
			raw:  `{}`,
			handler: func(context.Context, trace.Span, greetParams) (any, error) {
				return &domain.ToolResult{Content: "denied", IsError: true}, nil
			},
			want:    "denied",
			isError: true,
		},
		{
			name: "handler error",
			raw:  `{}`,
			handler: func(context.Context, trace.Span, greetParams) (any, error) {
				return nil, errors.New("backend down")
			},
			want:    "backend down",
			isError: true,
		},
		{
			name: "empty params use zero value",
			handler: func(_ context.Context, _ trace.Span, p greetParams) (any, error) {
				return "[" + p.Name + "]", nil
			},
			want: "[]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Execute(context.Background(), "test.tool", nopLogger(), json.RawMessage(tt.raw), tt.handler)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Content)
			assert.Equal(t, tt.isError, res.IsError)
		})
	}
}

func TestExecute_InvalidParamsSkipHandler(t *testing.T) {
	called := false
	res, err := Execute(context.Background(), "test.tool", nil, json.RawMessage(`{"name":`),
		func(context.Context, trace.Span, greetParams) (any, error) {
			called = true
			return "", nil
		})
	require.NoError(t, err)
	assert.False(t, called)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "invalid params")
}

func TestResultHelpers(t *testing.T) {
	res, err := ErrResult("bad %s", "input")
	require.NoError(t, err)
	assert.Equal(t, &domain.ToolResult{IsError: true, Content: "bad input"}, res)
	assert.Equal(t, &domain.ToolResult{Content: "ok"}, TextResult("ok"))
}
