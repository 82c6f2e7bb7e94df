package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPutGet(t *testing.T) {
	c := NewFrameCache(4, time.Minute, zap.NewNop())
	defer c.Close()

	c.Put("front", "data:image/jpeg;base64,AAAA")

	frame, err := c.Get("front")
	require.NoError(t, err)
	assert.Equal(t, "front", frame.Camera)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", frame.DataURL)
	assert.WithinDuration(t, time.Now(), frame.CapturedAt, time.Second)
}

func TestGetMiss(t *testing.T) {
	c := NewFrameCache(4, time.Minute, zap.NewNop())
	defer c.Close()

	_, err := c.Get("rear")
	assert.ErrorIs(t, err, ErrFrameMiss)
}

func TestExpiry(t *testing.T) {
	c := NewFrameCache(4, 20*time.Millisecond, zap.NewNop())
	defer c.Close()

	c.Put("front", "stale")
	time.Sleep(40 * time.Millisecond)

	_, err := c.Get("front")
	assert.ErrorIs(t, err, ErrFrameMiss)
}

func TestPutOverwritesCamera(t *testing.T) {
	c := NewFrameCache(4, time.Minute, zap.NewNop())
	defer c.Close()

	c.Put("front", "old")
	c.Put("front", "new")

	frame, err := c.Get("front")
	require.NoError(t, err)
	assert.Equal(t, "new", frame.DataURL)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewFrameCache(2, time.Minute, zap.NewNop())
	defer c.Close()

	c.Put("a", "1")
	time.Sleep(time.Millisecond)
	c.Put("b", "2")

	_, err := c.Get("b") // refresh b
	require.NoError(t, err)

	c.Put("c", "3")

	_, err = c.Get("a")
	assert.ErrorIs(t, err, ErrFrameMiss)
	_, err = c.Get("b")
	assert.NoError(t, err)
	_, err = c.Get("c")
	assert.NoError(t, err)
}
