package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"moorgate/pkg/database"
	"moorgate/pkg/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := logging.NewLogger()
	db, err := database.Connect(database.DefaultConfig(":memory:"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, logger)
}
