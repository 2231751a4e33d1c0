package kv

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mbd888/accountcheck/internal/idgen"
)

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping integration test")
	}

	// A random namespace keeps runs isolated on a shared server.
	store, err := OpenRedis(url, "test_"+idgen.Short()+":")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Ping(context.Background()))

	runStoreSuite(t, store)
}
