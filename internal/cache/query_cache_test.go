package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-pipeline/internal/testutil"
	"weather-pipeline/pkg/logging"
)

type page struct {
	Total int      `json:"total"`
	Items []string `json:"items"`
}

func TestQueryCache_GetSetInvalidate(t *testing.T) {
	ctx := context.Background()
	mr, client := testutil.NewRedis(t)
	c := New(client, time.Minute, logging.NewNopLogger())

	gen, err := c.Generation(ctx)
	require.NoError(t, err)
	assert.Zero(t, gen)

	var got page
	found, err := c.Get(ctx, gen, "stats", "year=2023", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, gen, "stats", "year=2023", page{Total: 2, Items: []string{"a", "b"}}))

	found, err = c.Get(ctx, gen, "stats", "year=2023", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, page{Total: 2, Items: []string{"a", "b"}}, got)
	assert.True(t, mr.Exists("wx:query:0:stats:year=2023"))

	next, err := c.Invalidate(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, next)

	current, err := c.Generation(ctx)
	require.NoError(t, err)
	found, err = c.Get(ctx, current, "stats", "year=2023", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestQueryCache_SetUnderStaleGenerationIsUnreachable(t *testing.T) {
	ctx := context.Background()
	_, client := testutil.NewRedis(t)
	c := New(client, time.Minute, logging.NewNopLogger())

	stale, err := c.Generation(ctx)
	require.NoError(t, err)
	_, err = c.Invalidate(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, stale, "observations", "k", page{Total: 1}))

	current, err := c.Generation(ctx)
	require.NoError(t, err)
	found, err := c.Get(ctx, current, "observations", "k", &page{})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestQueryCache_TTL(t *testing.T) {
	ctx := context.Background()
	mr, client := testutil.NewRedis(t)
	c := New(client, 30*time.Second, logging.NewNopLogger())

	require.NoError(t, c.Set(ctx, 0, "observations", "k", page{Total: 1}))
	mr.FastForward(31 * time.Second)

	var got page
	found, err := c.Get(ctx, 0, "observations", "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestQueryCache_ErrorsWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	mr, client := testutil.NewRedis(t)
	c := New(client, time.Minute, logging.NewNopLogger())
	mr.Close()

	_, err := c.Generation(ctx)
	assert.Error(t, err)
	_, err = c.Get(ctx, 0, "stats", "k", &page{})
	assert.Error(t, err)
	assert.Error(t, c.Set(ctx, 0, "stats", "k", page{}))
	_, err = c.Invalidate(ctx)
	assert.Error(t, err)
}

func TestDial(t *testing.T) {
	mr, _ := testutil.NewRedis(t)

	c, err := Dial(context.Background(), mr.Addr(), time.Minute, logging.NewNopLogger())
	require.NoError(t, err)
	assert.NoError(t, c.Close())

	_, err = Dial(context.Background(), "127.0.0.1:1", time.Minute, logging.NewNopLogger())
	assert.Error(t, err)
}
