package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

func TestIsOnline_Boundary(t *testing.T) {
	last := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, IsOnline(last, last, DefaultOnlineTimeout))
	assert.True(t, IsOnline(last, last.Add(29*time.Second+999*time.Millisecond), DefaultOnlineTimeout))
	assert.False(t, IsOnline(last, last.Add(30*time.Second), DefaultOnlineTimeout))
	assert.False(t, IsOnline(last, last.Add(time.Hour), DefaultOnlineTimeout))
}

func TestLiveness_HeartbeatAndList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	live := h.core.Liveness

	online, err := live.IsOnline(ctx, "jupiter-worker", h.now())
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, h.core.Heartbeat(ctx, "jupiter-worker", map[string]any{"positions": 3}))
	start := h.now()

	online, err = live.IsOnline(ctx, "jupiter-worker", start.Add(10*time.Second))
	require.NoError(t, err)
	assert.True(t, online)

	online, err = live.IsOnline(ctx, "jupiter-worker", start.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, online)

	h.advance(20 * time.Second)
	require.NoError(t, h.core.Heartbeat(ctx, "relay", nil))

	list, err := live.List(ctx, start.Add(35*time.Second))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "jupiter-worker", list[0].Name)
	assert.False(t, list[0].Online)
	assert.Equal(t, "offline", list[0].Status)
	assert.Equal(t, 3, list[0].Metadata["positions"])
	assert.True(t, list[1].Online)

	assert.ErrorIs(t, h.core.Heartbeat(ctx, "  ", nil), domain.ErrInvalidInput)
}
