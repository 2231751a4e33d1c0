package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mbd888/accountcheck/internal/testutil"
	"github.com/mbd888/accountcheck/migrations"
)

func TestPostgresStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	require.NoError(t, migrations.Up(context.Background(), db), "re-running migrations must be a no-op")

	store := NewPostgresStore(db)

	runStoreSuite(t, store)
}
