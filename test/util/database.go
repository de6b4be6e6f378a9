// Package util provides shared test helpers.
package util

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parlorgames/parlor/pkg/database"
	"github.com/parlorgames/parlor/pkg/store"
)

// SetupTestStore opens an in-memory database with migrations applied
// and returns a store over it. The database is torn down with the test.
func SetupTestStore(t *testing.T) *store.Store {
	t.Helper()

	client, err := database.NewClient(context.Background(), database.Config{Path: ":memory:"})
	require.NoError(t, err, "failed to open test database")
	t.Cleanup(func() { _ = client.Close() })

	return store.New(client.DB())
}
