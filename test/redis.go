package test

import (
	"context"
	"testing"
	"time"

	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"
)

// StartRedis launches a disposable Redis container and returns its address.
// Tests skip themselves when docker is not available on the host.
func StartRedis(tb testing.TB) string {
	tb.Helper()

	pool, err := NewPool("")
	if err != nil {
		tb.Skipf("docker unavailable: %v", err)
	}

	pool.MaxWait = 60 * time.Second

	resource, err := pool.RunWithOptions(&RunOptions{
		Repository:   "redis",
		Tag:          "7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		PortBindings: map[docker.Port][]docker.PortBinding{
			"6379/tcp": {{HostIP: "127.0.0.1"}},
		},
	})
	if err != nil {
		tb.Skipf("docker unavailable: %v", err)
	}

	tb.Cleanup(func() {
		_ = pool.Purge(resource)
	})

	addr := resource.GetHostPort("6379/tcp")

	err = pool.Retry(func() error {
		client := redis.NewClient(&redis.Options{Addr: addr})

		defer func() {
			_ = client.Close()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		return client.Ping(ctx).Err()
	})
	if err != nil {
		tb.Skipf("redis container did not become ready: %v", err)
	}

	return addr
}
