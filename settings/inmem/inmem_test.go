package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervemind/nervemind/settings"
)

func TestSetGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, settings.KeyWorkerPoolSize, "8"))
	v, err := s.Get(ctx, settings.KeyWorkerPoolSize)
	require.NoError(t, err)
	assert.Equal(t, "8", v)

	require.NoError(t, s.Set(ctx, settings.KeyWorkerPoolSize, "16"))
	v, err = s.Get(ctx, settings.KeyWorkerPoolSize)
	require.NoError(t, err)
	assert.Equal(t, "16", v)
}

func TestGetMissing(t *testing.T) {
	_, err := New().Get(context.Background(), "ghost")
	require.ErrorIs(t, err, settings.ErrNotFound)
}
