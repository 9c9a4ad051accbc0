package cache

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"github.com/ZanzyTHEbar/mcpdesk"
)

// Backend names accepted by New.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Options selects and configures a cache backend.
type Options struct {
	Backend string
	TTL     time.Duration
	Path    string
	Redis   RedisConfig
	Logger  Logger
}

// New builds the configured cache. It returns a nil cache for BackendNone.
// The returned closer releases the backend and is never nil.
func New(ctx context.Context, opts Options) (mcpdesk.Cache, io.Closer, error) {
	switch opts.Backend {
	case "", BackendMemory:
		c := NewInMemoryCache(opts.TTL)
		return c, c, nil
	case BackendFile:
		if opts.Path == "" {
			return nil, nopCloser{}, mcpdesk.NewConfigurationError("file cache needs a path", nil)
		}
		c, err := NewFilePersistentCache(opts.TTL, opts.Path, opts.Logger)
		if err != nil {
			return nil, nopCloser{}, mcpdesk.NewCacheError("cache", "open", err)
		}
		return c, c, nil
	case BackendRedis:
		c, err := NewRedisCache(ctx, opts.Redis, opts.TTL)
		if err != nil {
			return nil, nopCloser{}, mcpdesk.NewCacheError("cache", "connect", err)
		}
		return c, c, nil
	case BackendNone:
		return nil, nopCloser{}, nil
	}
	return nil, nopCloser{}, mcpdesk.NewConfigurationError(fmt.Sprintf("unknown cache backend %q", opts.Backend), nil)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// contextDone reports a cancelled or expired ctx as an errbuilder error.
func contextDone(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errbuilder.WrapIfContextDone(ctx, err)
	}
	return nil
}
