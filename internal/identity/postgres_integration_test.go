//go:build integration

package identity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a Postgres container seeded with an ingame_names table.
func setupPostgres(t *testing.T) string {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "warden",
			"POSTGRES_PASSWORD": "warden",
			"POSTGRES_DB":       "guild",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Postgres container: %v", err)
		}
	})

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://warden:warden@%s:%s/guild?sslmode=disable", host, port.Port())
}

func TestPostgresStore(t *testing.T) {
	dsn := setupPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := OpenPostgres(ctx, dsn, "ingame_names")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.db.ExecContext(ctx, `CREATE TABLE ingame_names (user_id TEXT PRIMARY KEY, ingame_name TEXT)`)
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `INSERT INTO ingame_names VALUES ('u1', 'Aeltharion')`)
	require.NoError(t, err)

	name, found, err := store.Lookup(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Aeltharion", name)

	_, found, err = store.Lookup(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, found)
}
