// Package model provides a provider-agnostic abstraction over LLM chat
// completion APIs. The llmChat executor invokes models through the Client
// interface; adapters under model/openai and model/anthropic translate the
// normalized request and response types into provider SDK calls.
package model

import (
	"context"
	"errors"
)

type (
	// Client is the contract the llmChat executor invokes models through.
	// Implementations wrap provider SDKs and must be safe for concurrent
	// use across executions.
	Client interface {
		// Complete sends a chat completion request and returns the generated
		// response. Rate-limit rejections wrap ErrRateLimited so callers can
		// distinguish transient throttling from permanent failures.
		Complete(ctx context.Context, req Request) (Response, error)
	}

	// Request captures the normalized parameters for a model invocation.
	Request struct {
		// Model identifies the target model using the provider-specific
		// identifier. Empty selects the adapter's configured default.
		Model string
		// System is the optional system prompt.
		System string
		// Messages is the ordered conversation, oldest first.
		Messages []Message
		// Temperature controls sampling randomness. Zero uses the provider
		// default.
		Temperature float32
		// MaxTokens caps the completion length. Zero uses the adapter's
		// configured default.
		MaxTokens int
	}

	// Message is one chat turn.
	Message struct {
		// Role is "user", "assistant" or "system".
		Role string
		// Content is the message text.
		Content string
	}

	// Response wraps the generated content.
	Response struct {
		// Content is the assistant text.
		Content string
		// Model is the model that actually served the request.
		Model string
		// Usage reports token consumption when the provider supplies it.
		Usage TokenUsage
		// StopReason explains why generation stopped. Provider-specific.
		StopReason string
	}

	// TokenUsage records prompt and completion token counts.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ErrRateLimited indicates the provider rejected the request because of
// rate limiting. Transient; retry-wrapped nodes may re-attempt.
var ErrRateLimited = errors.New("model: rate limited")
