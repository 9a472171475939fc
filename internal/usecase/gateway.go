package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"minimedi/internal/domain"
)

const (
	defaultModel       = "llama-3.3-70b-versatile"
	defaultLLMTimeout  = 30 * time.Second
	defaultMaxMessages = 50
)

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// Gateway prepends one system turn to the client's turns and makes exactly
// one completion call. It never inspects the reply.
type Gateway struct {
	llm     LLMClient
	model   string
	timeout time.Duration
}

func NewGateway(llm LLMClient, model string, timeout time.Duration) (*Gateway, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}
	return &Gateway{llm: llm, model: model, timeout: timeout}, nil
}

// Complete returns the raw reply text. Provider failures, including the
// per-call timeout, come back as ErrorUpstream.
func (g *Gateway) Complete(ctx context.Context, system string, turns []domain.ChatMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.llm.Chat(ctx, g.model, buildPromptMessages(system, turns))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", upstreamError("llm_timeout", fmt.Errorf("completion timed out after %s: %w", g.timeout, err))
		}
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return "", upstreamError("llm_rate_limited", err)
		}
		return "", upstreamError("llm_error", err)
	}
	return raw, nil
}

// validateTurns enforces the client turn contract: non-empty, bounded, and
// only user or assistant roles.
func validateTurns(turns []domain.ChatMessage, max int) *Error {
	if len(turns) == 0 {
		return invalid("empty_messages", "Messages required")
	}
	if max > 0 && len(turns) > max {
		return invalid("too_many_messages", fmt.Sprintf("At most %d messages are allowed.", max))
	}
	for i, m := range turns {
		switch m.Role {
		case domain.RoleUser, domain.RoleAssistant:
		default:
			return invalid("invalid_role", fmt.Sprintf("Message %d has unsupported role %q.", i, m.Role))
		}
	}
	return nil
}
