package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	infos, errors []string
}

func (l *recordingLogger) Info(msg string, fields map[string]interface{})  { l.infos = append(l.infos, msg) }
func (l *recordingLogger) Error(msg string, fields map[string]interface{}) { l.errors = append(l.errors, msg) }

func TestFilePersistentCache_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "plans.json")
	logger := &recordingLogger{}
	ctx := context.Background()

	c, err := NewFilePersistentCache(time.Hour, path, logger)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "planner:abc", `{"steps":[]}`))
	require.NoError(t, c.Close())
	assert.NotEmpty(t, logger.infos)

	reopened, err := NewFilePersistentCache(time.Hour, path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	v, err := reopened.Get(ctx, "planner:abc")
	require.NoError(t, err)
	assert.Equal(t, `{"steps":[]}`, v)

	_, err = reopened.Get(ctx, "missing")
	assert.Error(t, err)
}

func TestFilePersistentCache_Expiration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.json")
	c, err := NewFilePersistentCache(20*time.Millisecond, path, &recordingLogger{})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(context.Background(), "k", "v"))
	time.Sleep(30 * time.Millisecond)
	_, err = c.Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestFilePersistentCache_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := NewFilePersistentCache(time.Hour, path, nil)
	assert.Error(t, err)
}

func TestNew_Backends(t *testing.T) {
	ctx := context.Background()

	c, closer, err := New(ctx, Options{Backend: BackendMemory, TTL: time.Minute})
	require.NoError(t, err)
	assert.IsType(t, &InMemoryCache{}, c)
	assert.NoError(t, closer.Close())

	c, closer, err = New(ctx, Options{Backend: BackendFile, Path: filepath.Join(t.TempDir(), "c.json")})
	require.NoError(t, err)
	assert.IsType(t, &FilePersistentCache{}, c)
	assert.NoError(t, closer.Close())

	c, closer, err = New(ctx, Options{Backend: BackendNone})
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, closer.Close())

	_, _, err = New(ctx, Options{Backend: BackendFile})
	assert.Error(t, err)
	_, _, err = New(ctx, Options{Backend: "memcached"})
	assert.Error(t, err)
	_, _, err = New(ctx, Options{Backend: BackendRedis})
	assert.Error(t, err, "redis needs an address")
}

func TestEncodeValue(t *testing.T) {
	s, err := encodeValue("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", s)

	s, err = encodeValue(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, s)

	_, err = encodeValue(make(chan int))
	assert.Error(t, err)
}

// Runs against a real server when MCPDESK_TEST_REDIS points at one.
func TestRedisCache_RoundTrip(t *testing.T) {
	addr := os.Getenv("MCPDESK_TEST_REDIS")
	if addr == "" {
		t.Skip("MCPDESK_TEST_REDIS not set")
	}
	ctx := context.Background()
	c, err := NewRedisCache(ctx, RedisConfig{Address: addr, Prefix: "mcpdesk:test:"}, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", `{"steps":[]}`))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"steps":[]}`, v)

	_, err = c.Get(ctx, "absent")
	assert.Error(t, err)
}

func TestFilePersistentCache_CancelledContext(t *testing.T) {
	c, err := NewFilePersistentCache(time.Hour, filepath.Join(t.TempDir(), "plans.json"), &recordingLogger{})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = c.Set(ctx, "k", "v")
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeCanceled, errbuilder.CodeOf(err))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = c.Get(ctx, "k")
	assert.Equal(t, errbuilder.CodeCanceled, errbuilder.CodeOf(err))

	expired, stop := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer stop()
	_, err = c.Get(expired, "k")
	assert.Equal(t, errbuilder.CodeDeadlineExceeded, errbuilder.CodeOf(err))
}
