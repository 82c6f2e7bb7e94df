// Package cache keeps recently encoded debug frames so the HTTP handlers
// can serve them without touching the control loop's output lock.
package cache

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrFrameMiss = errors.New("no cached frame")

// Frame is one encoded debug image as served by the frames API.
type Frame struct {
	Camera     string    `json:"camera"`
	DataURL    string    `json:"data_url"`
	CapturedAt time.Time `json:"captured_at"`
}

type frameItem struct {
	frame     Frame
	expiresAt time.Time
	lastUsed  time.Time
}

// FrameCache is a small TTL cache keyed by camera name. Entries past their
// TTL are misses; a background sweep drops them, and the least recently
// used entry is evicted when the cache is full.
type FrameCache struct {
	items   map[string]*frameItem
	mutex   sync.RWMutex
	maxSize int
	ttl     time.Duration
	logger  *zap.Logger
	cleanup *time.Ticker
	stopCh  chan struct{}
}

func NewFrameCache(maxSize int, ttl time.Duration, logger *zap.Logger) *FrameCache {
	c := &FrameCache{
		items:   make(map[string]*frameItem),
		maxSize: maxSize,
		ttl:     ttl,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	c.cleanup = time.NewTicker(10 * time.Second)
	go c.cleanupExpired()

	return c
}

// Put stores the latest frame for a camera.
func (c *FrameCache) Put(camera, dataURL string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.items[camera]; !exists && len(c.items) >= c.maxSize {
		c.evictLRU()
	}

	now := time.Now()
	c.items[camera] = &frameItem{
		frame: Frame{
			Camera:     camera,
			DataURL:    dataURL,
			CapturedAt: now,
		},
		expiresAt: now.Add(c.ttl),
		lastUsed:  now,
	}
}

// Get returns the cached frame for a camera, or ErrFrameMiss when absent
// or expired.
func (c *FrameCache) Get(camera string) (Frame, error) {
	c.mutex.RLock()
	item, exists := c.items[camera]
	c.mutex.RUnlock()

	if !exists {
		return Frame{}, ErrFrameMiss
	}
	if time.Now().After(item.expiresAt) {
		c.mutex.Lock()
		delete(c.items, camera)
		c.mutex.Unlock()
		return Frame{}, ErrFrameMiss
	}

	c.mutex.Lock()
	item.lastUsed = time.Now()
	frame := item.frame
	c.mutex.Unlock()

	return frame, nil
}

func (c *FrameCache) Close() error {
	if c.cleanup != nil {
		c.cleanup.Stop()
	}
	close(c.stopCh)
	return nil
}

func (c *FrameCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, item := range c.items {
		if oldestKey == "" || item.lastUsed.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.lastUsed
		}
	}

	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}

func (c *FrameCache) cleanupExpired() {
	for {
		select {
		case <-c.cleanup.C:
			c.mutex.Lock()
			now := time.Now()
			for key, item := range c.items {
				if now.After(item.expiresAt) {
					delete(c.items, key)
				}
			}
			c.mutex.Unlock()
		case <-c.stopCh:
			return
		}
	}
}
