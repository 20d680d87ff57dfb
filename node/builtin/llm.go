package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nervemind/nervemind/execution"
	"github.com/nervemind/nervemind/model"
	"github.com/nervemind/nervemind/model/anthropic"
	"github.com/nervemind/nervemind/model/openai"
	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/workflow"
)

// ClientFactory builds a model client for one llmChat evaluation. apiKey is
// the secret resolved from the node's credential, empty when the node names
// none.
type ClientFactory func(ctx context.Context, provider, apiKey, defaultModel string) (model.Client, error)

// DefaultClientFactory serves the openai and anthropic providers through
// their SDK-backed adapters.
func DefaultClientFactory(ctx context.Context, provider, apiKey, defaultModel string) (model.Client, error) {
	switch provider {
	case "openai":
		return openai.NewFromAPIKey(apiKey, defaultModel)
	case "anthropic":
		return anthropic.NewFromAPIKey(apiKey, defaultModel)
	default:
		return nil, fmt.Errorf("unsupported provider %q", provider)
	}
}

// LLMChat sends a chat completion request. Config: provider (default
// "openai"), model (required), prompt (required at run time), system,
// temperature, maxTokens, credentialId. Output adds {response, model,
// usage} to the passthrough input. The resolved API key never surfaces in
// log records.
type LLMChat struct {
	factory ClientFactory
}

// NewLLMChat builds the executor. A nil factory uses DefaultClientFactory.
func NewLLMChat(factory ClientFactory) *LLMChat {
	if factory == nil {
		factory = DefaultClientFactory
	}
	return &LLMChat{factory: factory}
}

// Info returns the node type identity.
func (l *LLMChat) Info() node.Info {
	return node.Info{
		Type:         "llmChat",
		Name:         "LLM Chat",
		Category:     node.CategoryAI,
		Description:  "Sends a prompt to a chat model and returns the completion.",
		ConfigSchema: llmChatSchema,
	}
}

// Validate warns about a missing prompt or model.
func (l *LLMChat) Validate(params map[string]any) map[string]string {
	problems := make(map[string]string)
	if stringOr(params, "prompt", "") == "" {
		problems["prompt"] = "prompt is required"
	}
	if stringOr(params, "model", "") == "" {
		problems["model"] = "model is required"
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}

// Execute resolves the credential, builds the provider client and issues
// the completion.
func (l *LLMChat) Execute(ctx context.Context, run *execution.Context, n workflow.Node, input map[string]any) (map[string]any, error) {
	params := n.Parameters
	prompt := stringParam(params, "prompt")
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.New("prompt is required")
	}
	modelID := stringOr(params, "model", "")
	if modelID == "" {
		return nil, errors.New("model is required")
	}
	provider := strings.ToLower(stringOr(params, "provider", "openai"))

	apiKey, err := resolveAPIKey(ctx, run, stringOr(params, "credentialId", n.CredentialID))
	if err != nil {
		return nil, err
	}
	client, err := l.factory(ctx, provider, apiKey, modelID)
	if err != nil {
		return nil, fmt.Errorf("build %s client: %w", provider, err)
	}

	resp, err := client.Complete(ctx, model.Request{
		Model:       modelID,
		System:      stringOr(params, "system", ""),
		Messages:    []model.Message{{Role: model.RoleUser, Content: prompt}},
		Temperature: float32(floatOr(params, "temperature", 0)),
		MaxTokens:   intOr(params, "maxTokens", 0),
	})
	if err != nil {
		return nil, err
	}

	out := copyMap(input)
	out["response"] = resp.Content
	out["model"] = resp.Model
	out["usage"] = map[string]any{
		"inputTokens":  resp.Usage.InputTokens,
		"outputTokens": resp.Usage.OutputTokens,
		"totalTokens":  resp.Usage.TotalTokens,
	}
	return out, nil
}

// resolveAPIKey extracts the secret from the node's credential. The key
// field depends on the credential type.
func resolveAPIKey(ctx context.Context, run *execution.Context, credentialID string) (string, error) {
	if credentialID == "" {
		return "", nil
	}
	if run == nil || run.Credentials == nil {
		return "", errors.New("credential resolution is not configured")
	}
	cred, err := run.Credentials.Resolve(ctx, credentialID)
	if err != nil {
		return "", fmt.Errorf("resolve credential %q: %w", credentialID, err)
	}
	for _, field := range []string{"apiKey", "token", "accessToken"} {
		if v := cred.Data[field]; v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("credential %q carries no api key", credentialID)
}

var llmChatSchema = []byte(`{
	"type": "object",
	"properties": {
		"provider": {"type": "string"},
		"model": {"type": "string"},
		"prompt": {"type": "string"},
		"system": {"type": "string"},
		"temperature": {"type": ["number", "string"]},
		"maxTokens": {"type": ["number", "string"]},
		"credentialId": {"type": "string"}
	}
}`)
