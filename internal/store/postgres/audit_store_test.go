package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/memebattle/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/battles?sslmode=disable", DSN(ClientConfig{
		Host: "db", Database: "battles", User: "u", Password: "p",
	}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestBattleIDOf(t *testing.T) {
	require.NotNil(t, battleIDOf(map[string]any{"battle_id": "b1"}))
	assert.Equal(t, "b1", *battleIDOf(map[string]any{"battle_id": "b1"}))
	assert.Nil(t, battleIDOf(map[string]any{"battle_id": ""}))
	assert.Nil(t, battleIDOf(map[string]any{"battle_id": 7}))
	assert.Nil(t, battleIDOf(nil))
}

func TestBuildListQuery(t *testing.T) {
	q, args := buildListQuery(domain.ListOpts{})
	assert.NotContains(t, q, "LIMIT")
	assert.Empty(t, args)

	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args = buildListQuery(domain.ListOpts{Since: &since, Limit: 10, Offset: 20})
	assert.Contains(t, q, "created_at >= $1")
	assert.Contains(t, q, "LIMIT $2")
	assert.Contains(t, q, "OFFSET $3")
	assert.Equal(t, []any{since, 10, 20}, args)
}

func TestMigrationFiles(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_audit_log.sql", names[0])
}
