//go:build integration

package stream

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	redisImage        = "redis:7-alpine"
	redisStartTimeout = 30 * time.Second
	redisPingAttempts = 5
)

// setupRedisTestcontainer starts a throwaway Redis and returns a store bound
// to database 1 together with a key prefix unique to the calling test.
func setupRedisTestcontainer(t *testing.T) (*RedisStore, string, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := redis.Run(ctx, redisImage,
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp").WithStartupTimeout(redisStartTimeout),
			wait.ForLog("Ready to accept connections").WithStartupTimeout(redisStartTimeout),
		),
	)
	if err != nil {
		t.Skipf("Failed to start Redis testcontainer: %v", err)
	}

	terminate := func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		terminate()
		t.Fatalf("Failed to read Redis connection string: %v", err)
	}

	store, err := NewRedisStore(strings.TrimSuffix(connStr, "/") + "/1")
	if err != nil {
		terminate()
		t.Fatalf("Failed to create Redis store: %v", err)
	}

	// the port can accept connections shortly before commands succeed
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = store.Ping(pingCtx)
		cancel()
		if err == nil {
			break
		}
		if attempt == redisPingAttempts {
			store.Close()
			terminate()
			t.Fatalf("Redis not answering after %d pings: %v", attempt, err)
		}
		time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
	}

	prefix := fmt.Sprintf("it_%s_%d", strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano())

	cleanup := func() {
		store.client.FlushDB(context.Background())
		store.Close()
		terminate()
	}
	return store, prefix, cleanup
}
