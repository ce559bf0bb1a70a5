package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConfigAppliesSettings(t *testing.T) {
	cfg := Config{
		Host:           "db.example.com",
		Port:           5432,
		User:           "mundi",
		Password:       "secret",
		Database:       "mundi",
		SSLMode:        "disable",
		MinConns:       1,
		MaxConns:       10,
		CommandTimeout: 60 * time.Second,
	}

	poolCfg, err := poolConfig(cfg)
	require.NoError(t, err)

	assert.EqualValues(t, 1, poolCfg.MinConns)
	assert.EqualValues(t, 10, poolCfg.MaxConns)
	assert.Equal(t, "60000", poolCfg.ConnConfig.RuntimeParams["statement_timeout"])
}

func TestPoolConfigNoTimeoutWhenUnset(t *testing.T) {
	cfg := Config{Host: "db.example.com", Port: 5432, User: "mundi", Database: "mundi", SSLMode: "disable"}

	poolCfg, err := poolConfig(cfg)
	require.NoError(t, err)

	_, set := poolCfg.ConnConfig.RuntimeParams["statement_timeout"]
	assert.False(t, set)
}
