package openai

import (
	"context"
	"errors"
	"net/http"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervemind/nervemind/model"
)

type stubChatClient struct {
	lastReq openai.ChatCompletionRequest
	resp    openai.ChatCompletionResponse
	err     error
}

func (s *stubChatClient) CreateChatCompletion(_ context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.lastReq = request
	return s.resp, s.err
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{DefaultModel: "gpt-4o"})
	require.EqualError(t, err, "openai client is required")

	_, err = New(Options{Client: &stubChatClient{}})
	require.EqualError(t, err, "default model is required")
}

func TestCompleteTranslatesResponse(t *testing.T) {
	stub := &stubChatClient{
		resp: openai.ChatCompletionResponse{
			Model: "gpt-4o-2024-08-06",
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: "assistant", Content: "hello"},
				FinishReason: openai.FinishReasonStop,
			}},
			Usage: openai.Usage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16},
		},
	}
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), model.Request{
		System:      "be brief",
		Messages:    []model.Message{{Role: model.RoleUser, Content: "hi"}},
		Temperature: 0.2,
		MaxTokens:   64,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "gpt-4o-2024-08-06", resp.Model)
	assert.Equal(t, string(openai.FinishReasonStop), resp.StopReason)
	assert.Equal(t, model.TokenUsage{InputTokens: 12, OutputTokens: 4, TotalTokens: 16}, resp.Usage)

	require.Len(t, stub.lastReq.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, stub.lastReq.Messages[0].Role)
	assert.Equal(t, "be brief", stub.lastReq.Messages[0].Content)
	assert.Equal(t, "hi", stub.lastReq.Messages[1].Content)
	assert.Equal(t, "gpt-4o", stub.lastReq.Model)
	assert.Equal(t, float32(0.2), stub.lastReq.Temperature)
	assert.Equal(t, 64, stub.lastReq.MaxTokens)
}

func TestCompleteSkipsEmptyMessages(t *testing.T) {
	stub := &stubChatClient{}
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), model.Request{
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "hi"},
			{Role: model.RoleAssistant, Content: ""},
		},
	})
	require.NoError(t, err)
	require.Len(t, stub.lastReq.Messages, 1)
}

func TestCompleteRequestModelOverridesDefault(t *testing.T) {
	stub := &stubChatClient{}
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), model.Request{
		Model:    "gpt-4o-mini",
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", stub.lastReq.Model)
}

func TestCompleteRequiresMessages(t *testing.T) {
	cl, err := New(Options{Client: &stubChatClient{}, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), model.Request{})
	require.EqualError(t, err, "openai: messages are required")
}

func TestCompleteWrapsRateLimit(t *testing.T) {
	stub := &stubChatClient{err: &openai.APIError{
		HTTPStatusCode: http.StatusTooManyRequests,
		Message:        "rate limited",
	}}
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	require.ErrorIs(t, err, model.ErrRateLimited)
}

func TestCompleteWrapsOtherErrors(t *testing.T) {
	stub := &stubChatClient{err: errors.New("boom")}
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	require.ErrorContains(t, err, "openai chat completion")
	require.NotErrorIs(t, err, model.ErrRateLimited)
}
