package mission

import (
	"context"
	"os"
	"testing"

	"github.com/Jarvis2021/gantry-sub000/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchQuery(t *testing.T) {
	sql, args := searchQuery([]string{"todo", "100%_done"}, 20)

	assert.Contains(t, sql, `prompt ILIKE $1 ESCAPE '\' AND prompt ILIKE $2 ESCAPE '\'`)
	assert.Contains(t, sql, "ORDER BY created_at DESC LIMIT $3")
	assert.Equal(t, []any{"%todo%", `%100\%\_done%`, 20}, args)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("GANTRY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("GANTRY_TEST_DATABASE_URL not set, skipping postgres integration test")
	}

	storeContract(t, func(t *testing.T) Store {
		s, err := NewPostgresStore(context.Background(), config.DatabaseConfig{URL: config.Secret(dsn), MaxConns: 4})
		require.NoError(t, err)
		_, err = s.ClearAll(context.Background())
		require.NoError(t, err)
		t.Cleanup(s.Close)
		return s
	})
}
