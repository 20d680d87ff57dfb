package execlog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishFanOut(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	count := 0
	sub := SubscriberFunc(func(ctx context.Context, entry Entry) error {
		count++
		return nil
	})
	_, err := bus.Subscribe(sub)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, New(LevelInfo, CategoryExecutionStart, "exec1", "started")))
	require.NoError(t, bus.Publish(ctx, New(LevelInfo, CategoryExecutionEnd, "exec1", "done")))
	require.Equal(t, 2, count)
}

func TestBusSubscribeNil(t *testing.T) {
	bus := NewBus()
	_, err := bus.Subscribe(nil)
	require.Error(t, err)
}

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		_, err := bus.Subscribe(SubscriberFunc(func(ctx context.Context, entry Entry) error {
			order = append(order, name)
			return nil
		}))
		require.NoError(t, err)
	}
	require.NoError(t, bus.Publish(context.Background(), New(LevelInfo, CategoryNodeStart, "exec1", "n")))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestBusHandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := NewBus()
	delivered := 0
	_, err := bus.Subscribe(SubscriberFunc(func(ctx context.Context, entry Entry) error {
		return errors.New("sink exploded")
	}))
	require.NoError(t, err)
	_, err = bus.Subscribe(SubscriberFunc(func(ctx context.Context, entry Entry) error {
		delivered++
		return nil
	}))
	require.NoError(t, err)

	err = bus.Publish(context.Background(), New(LevelError, CategoryError, "exec1", "boom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink exploded")
	assert.Equal(t, 1, delivered)
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()
	count := 0
	sub, err := bus.Subscribe(SubscriberFunc(func(ctx context.Context, entry Entry) error {
		count++
		return nil
	}))
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, New(LevelInfo, CategoryNodeStart, "exec1", "a")))
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	require.NoError(t, bus.Publish(ctx, New(LevelInfo, CategoryNodeEnd, "exec1", "b")))
	require.Equal(t, 1, count)
}

func TestPreviewTruncation(t *testing.T) {
	long := strings.Repeat("x", 4096)
	p := Preview(long)
	assert.LessOrEqual(t, len(p), PreviewLimit)
	assert.True(t, strings.HasSuffix(p, "..."))

	short := Preview("hello")
	assert.Equal(t, "hello", short)
}

func TestPreviewRendersJSON(t *testing.T) {
	p := Preview(map[string]any{"a": 1})
	assert.Equal(t, `{"a":1}`, p)
}

func TestPreviewTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", 2048)
	p := Preview(long)
	assert.LessOrEqual(t, len(p), PreviewLimit)
	for _, r := range p {
		assert.NotEqual(t, '�', r)
	}
}

func TestWithPayloadCarriesPreviewAndFull(t *testing.T) {
	payload := map[string]any{"items": []any{1, 2, 3}}
	e := New(LevelDebug, CategoryNodeOutput, "exec1", "output").WithNode("n1").WithPayload(payload)
	require.NotNil(t, e.Context)
	assert.Equal(t, payload, e.Context[KeyFull])
	assert.Equal(t, Preview(payload), e.Context[KeyPreview])
	assert.Equal(t, "n1", e.NodeID)
}

func TestCollector(t *testing.T) {
	bus := NewBus()
	col := NewCollector()
	_, err := bus.Subscribe(col)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, New(LevelInfo, CategoryExecutionStart, "exec1", "start")))
	require.NoError(t, bus.Publish(ctx, New(LevelInfo, CategoryNodeStart, "exec1", "node").WithNode("n1")))
	require.NoError(t, bus.Publish(ctx, New(LevelInfo, CategoryExecutionStart, "exec2", "start")))

	assert.Len(t, col.Entries(), 3)
	assert.Len(t, col.ByCategory(CategoryExecutionStart), 2)
	assert.Len(t, col.ByExecution("exec1"), 2)

	col.Reset()
	assert.Empty(t, col.Entries())
}
