package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// FilePersistentCache is an in-memory cache mirrored to a JSON file, so
// plans survive restarts of the CLI.
type FilePersistentCache struct {
	store    map[string]Item
	mutex    sync.RWMutex
	ttl      time.Duration
	filePath string
	logger   Logger
	stop     chan struct{}
	once     sync.Once
}

// NewFilePersistentCache loads filePath if it exists and returns the cache.
// A missing file is not an error; an unreadable one is.
func NewFilePersistentCache(defaultTTL time.Duration, filePath string, logger Logger) (*FilePersistentCache, error) {
	if logger == nil {
		logger = &StdLogger{}
	}
	c := &FilePersistentCache{
		store:    make(map[string]Item),
		ttl:      defaultTTL,
		filePath: filePath,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	if err := c.loadFromFile(); err != nil {
		return nil, err
	}
	go c.cleanupLoop(10 * time.Minute)
	return c, nil
}

func (c *FilePersistentCache) loadFromFile() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errbuilder.GenericErr("failed to read cache file", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &c.store); err != nil {
		return errbuilder.GenericErr("failed to decode cache file", err)
	}
	return nil
}

// saveLocked writes the store atomically. The caller holds the mutex.
func (c *FilePersistentCache) saveLocked() error {
	data, err := json.Marshal(c.store)
	if err != nil {
		return errbuilder.GenericErr("failed to encode cache", err)
	}
	if dir := filepath.Dir(c.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errbuilder.GenericErr("failed to create cache directory", err)
		}
	}
	tmp := c.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errbuilder.GenericErr("failed to write cache file", err)
	}
	if err := os.Rename(tmp, c.filePath); err != nil {
		return errbuilder.GenericErr("failed to replace cache file", err)
	}
	return nil
}

// Get retrieves an item from the cache.
func (c *FilePersistentCache) Get(ctx context.Context, key string) (interface{}, error) {
	if err := contextDone(ctx); err != nil {
		return nil, err
	}

	c.mutex.RLock()
	item, found := c.store[key]
	c.mutex.RUnlock()

	if !found {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item not found", nil))
	}
	if item.expired(time.Now().UnixNano()) {
		c.logger.Info("Persistent cache item expired", map[string]interface{}{"key": key})
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item expired", nil))
	}
	return item.Value, nil
}

// Set adds or updates an item and persists the cache.
func (c *FilePersistentCache) Set(ctx context.Context, key string, value interface{}) error {
	if err := contextDone(ctx); err != nil {
		return err
	}

	c.mutex.Lock()
	c.store[key] = newItem(value, c.ttl)
	err := c.saveLocked()
	c.mutex.Unlock()

	if err != nil {
		c.logger.Error("Persistent cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
		return err
	}
	c.logger.Info("Persistent cache item set", map[string]interface{}{"key": key})
	return nil
}

// Close stops the cleanup goroutine.
func (c *FilePersistentCache) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

func (c *FilePersistentCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mutex.Lock()
			now := time.Now().UnixNano()
			for key, item := range c.store {
				if item.expired(now) {
					delete(c.store, key)
				}
			}
			if err := c.saveLocked(); err != nil {
				c.logger.Error("Persistent cache cleanup failed", map[string]interface{}{"error": err.Error()})
			}
			c.mutex.Unlock()
		}
	}
}
