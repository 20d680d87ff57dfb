package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestBucketsSharesLimiterByID(t *testing.T) {
	b := NewBuckets()
	first := b.Get("api", 5, time.Second)
	second := b.Get("api", 5, time.Second)
	require.Same(t, first, second)

	other := b.Get("db", 5, time.Second)
	assert.NotSame(t, first, other)
}

func TestBucketsComputesRate(t *testing.T) {
	b := NewBuckets()
	lim := b.Get("api", 10, time.Second)
	assert.Equal(t, rate.Limit(10), lim.Limit())
	assert.Equal(t, 10, lim.Burst())

	lim = b.Get("slow", 2, 500*time.Millisecond)
	assert.Equal(t, rate.Limit(4), lim.Limit())
	assert.Equal(t, 2, lim.Burst())
}

func TestBucketsRetunesInPlace(t *testing.T) {
	b := NewBuckets()
	lim := b.Get("api", 1, time.Second)
	retuned := b.Get("api", 8, time.Second)
	require.Same(t, lim, retuned)
	assert.Equal(t, rate.Limit(8), lim.Limit())
	assert.Equal(t, 8, lim.Burst())
}

func TestBucketsClampsDegenerateConfig(t *testing.T) {
	b := NewBuckets()
	lim := b.Get("api", 0, 0)
	assert.Equal(t, rate.Limit(1), lim.Limit())
	assert.Equal(t, 1, lim.Burst())
}

func TestBucketPermitsAreTimed(t *testing.T) {
	b := NewBuckets()
	lim := b.Get("timed", 2, 100*time.Millisecond)

	// The burst covers the first two permits; the third must wait.
	require.Zero(t, lim.Reserve().Delay())
	require.Zero(t, lim.Reserve().Delay())
	res := lim.Reserve()
	assert.Positive(t, res.Delay())
	res.Cancel()
}
