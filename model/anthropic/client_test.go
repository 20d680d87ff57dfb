package anthropic

import (
	"context"
	"errors"
	"net/http"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervemind/nervemind/model"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{DefaultModel: "claude-sonnet-4-20250514"})
	require.EqualError(t, err, "anthropic client is required")

	_, err = New(Options{Client: &stubMessagesClient{}})
	require.EqualError(t, err, "default model is required")
}

func TestCompleteTranslatesResponse(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Model: "claude-sonnet-4-20250514",
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "hello"},
				{Type: "text", Text: "world"},
			},
			StopReason: sdk.StopReasonEndTurn,
			Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
		},
	}
	cl, err := New(Options{Client: stub, DefaultModel: "claude-sonnet-4-20250514", MaxTokens: 256})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), model.Request{
		System: "be brief",
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "hi"},
			{Role: model.RoleAssistant, Content: "yes?"},
			{Role: model.RoleUser, Content: "tell me more"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello\nworld", resp.Content)
	assert.Equal(t, "claude-sonnet-4-20250514", resp.Model)
	assert.Equal(t, string(sdk.StopReasonEndTurn), resp.StopReason)
	assert.Equal(t, model.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, resp.Usage)

	require.Len(t, stub.lastParams.Messages, 3)
	assert.Equal(t, "user", string(stub.lastParams.Messages[0].Role))
	assert.Equal(t, "assistant", string(stub.lastParams.Messages[1].Role))
	require.Len(t, stub.lastParams.System, 1)
	assert.Equal(t, "be brief", stub.lastParams.System[0].Text)
	assert.Equal(t, int64(256), stub.lastParams.MaxTokens)
	assert.Equal(t, sdk.Model("claude-sonnet-4-20250514"), stub.lastParams.Model)
}

func TestCompleteRequestOverridesDefaults(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{}}
	cl, err := New(Options{Client: stub, DefaultModel: "claude-sonnet-4-20250514"})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), model.Request{
		Model:     "claude-opus-4-20250514",
		MaxTokens: 2048,
		Messages:  []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, sdk.Model("claude-opus-4-20250514"), stub.lastParams.Model)
	assert.Equal(t, int64(2048), stub.lastParams.MaxTokens)
}

func TestCompleteDefaultsMaxTokens(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{}}
	cl, err := New(Options{Client: stub, DefaultModel: "claude-sonnet-4-20250514"})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(defaultMaxTokens), stub.lastParams.MaxTokens)
}

func TestCompleteRoutesSystemRoleMessages(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{}}
	cl, err := New(Options{Client: stub, DefaultModel: "claude-sonnet-4-20250514"})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "be terse"},
			{Role: model.RoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)

	require.Len(t, stub.lastParams.System, 1)
	assert.Equal(t, "be terse", stub.lastParams.System[0].Text)
	require.Len(t, stub.lastParams.Messages, 1)
}

func TestCompleteRequiresMessages(t *testing.T) {
	cl, err := New(Options{Client: &stubMessagesClient{}, DefaultModel: "claude-sonnet-4-20250514"})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), model.Request{})
	require.EqualError(t, err, "anthropic: messages are required")

	_, err = cl.Complete(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}, {Role: "tool", Content: "x"}},
	})
	require.ErrorContains(t, err, "unsupported message role")
}

func TestCompleteWrapsRateLimit(t *testing.T) {
	httpReq, err := http.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil)
	require.NoError(t, err)
	stub := &stubMessagesClient{err: &sdk.Error{
		StatusCode: http.StatusTooManyRequests,
		Request:    httpReq,
		Response:   &http.Response{StatusCode: http.StatusTooManyRequests},
	}}
	cl, err := New(Options{Client: stub, DefaultModel: "claude-sonnet-4-20250514"})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	require.ErrorIs(t, err, model.ErrRateLimited)
}

func TestCompleteWrapsOtherErrors(t *testing.T) {
	stub := &stubMessagesClient{err: errors.New("boom")}
	cl, err := New(Options{Client: stub, DefaultModel: "claude-sonnet-4-20250514"})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	require.ErrorContains(t, err, "anthropic messages.new")
	require.NotErrorIs(t, err, model.ErrRateLimited)
}
