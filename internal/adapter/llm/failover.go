package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"supportmesh/internal/domain"
)

var _ domain.LLMProvider = (*FailoverProvider)(nil)

// FailoverProvider tries a primary provider and then each fallback in order.
// Cancellation of the caller's context stops the chain immediately.
type FailoverProvider struct {
	primary   domain.LLMProvider
	fallbacks []domain.LLMProvider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover-capable provider.
func NewFailoverProvider(primary domain.LLMProvider, fallbacks []domain.LLMProvider, logger *slog.Logger) *FailoverProvider {
	return &FailoverProvider{
		primary:   primary,
		fallbacks: fallbacks,
		logger:    logger,
	}
}

// Chat implements domain.LLMProvider.
func (f *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := f.primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	f.logger.Warn("primary llm failed, trying fallbacks", "primary", f.primary.Name(), "error", err)

	errs := []error{fmt.Errorf("%s: %w", f.primary.Name(), err)}
	for _, fb := range f.fallbacks {
		// Fallbacks run their own default model.
		fbReq := req
		fbReq.Model = ""
		resp, err = fb.Chat(ctx, fbReq)
		if err == nil {
			f.logger.Info("failover succeeded", "provider", fb.Name())
			return resp, nil
		}
		f.logger.Warn("fallback llm failed", "provider", fb.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", fb.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}

// Name returns the primary's name with a failover suffix.
func (f *FailoverProvider) Name() string {
	return f.primary.Name() + "+failover"
}
