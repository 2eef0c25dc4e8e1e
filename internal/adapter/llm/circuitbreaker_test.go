package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportmesh/internal/domain"
	"supportmesh/internal/infra/config"
)

func TestCircuitBreakerPassesThrough(t *testing.T) {
	inner := textProvider("test", "ok")

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, newTestLogger())
	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})

	require.NoError(t, err)
	text, _ := resp.Content.Text()
	assert.Equal(t, "ok", text)
	assert.Equal(t, "test", cb.Name())
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	callCount := 0
	inner := &mockProvider{
		name: "flaky",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			callCount++
			return nil, errors.New("upstream down")
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{
		MaxFailures: 3,
		Timeout:     5 * time.Second,
		Interval:    60 * time.Second,
	}, newTestLogger())

	for i := 0; i < 3; i++ {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		require.Error(t, err)
	}
	assert.Equal(t, 3, callCount)
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrProviderError)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, callCount, "open circuit must not reach the provider")
}

func TestCircuitBreakerClosesAfterSuccess(t *testing.T) {
	shouldFail := true
	inner := &mockProvider{
		name: "recovering",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			if shouldFail {
				return nil, errors.New("down")
			}
			return &domain.ChatResponse{Content: domain.TextContent("recovered")}, nil
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{
		MaxFailures: 2,
		Timeout:     50 * time.Millisecond,
		Interval:    60 * time.Second,
	}, newTestLogger())

	for i := 0; i < 2; i++ {
		_, _ = cb.Chat(context.Background(), domain.ChatRequest{})
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, cb.State())

	shouldFail = false
	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	text, _ := resp.Content.Text()
	assert.Equal(t, "recovered", text)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	inner := &mockProvider{
		name: "slow",
		chatFunc: func(ctx context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			return nil, context.Canceled
		},
	}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 1}, newTestLogger())

	for i := 0; i < 3; i++ {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerPropagatesInnerErrors(t *testing.T) {
	sentinel := errors.New("specific error")
	inner := &mockProvider{
		name: "err",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			return nil, sentinel
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 10}, newTestLogger())
	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, sentinel)

	counts := cb.Counts()
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
}

func TestNewPooledTransportDefaults(t *testing.T) {
	tr := NewPooledTransport(0, 0, config.PoolConfig{})

	assert.Equal(t, defaultMaxIdleConns, tr.MaxIdleConns)
	assert.Equal(t, defaultMaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
	assert.Equal(t, defaultMaxConnsPerHost, tr.MaxConnsPerHost)
	assert.Equal(t, defaultIdleConnTimeout, tr.IdleConnTimeout)
	assert.Equal(t, 10*time.Second, tr.TLSHandshakeTimeout)
	assert.True(t, tr.ForceAttemptHTTP2)
}

func TestNewPooledTransportCustomConfig(t *testing.T) {
	tr := NewPooledTransport(15*time.Second, 60*time.Second, config.PoolConfig{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 25,
		MaxConnsPerHost:     30,
		IdleConnTimeout:     5 * time.Minute,
	})

	assert.Equal(t, 50, tr.MaxIdleConns)
	assert.Equal(t, 25, tr.MaxIdleConnsPerHost)
	assert.Equal(t, 30, tr.MaxConnsPerHost)
	assert.Equal(t, 5*time.Minute, tr.IdleConnTimeout)
	assert.Equal(t, 60*time.Second, tr.ResponseHeaderTimeout)
}
