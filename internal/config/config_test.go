package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"txledger/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_ParsesDurationsAndDefaults(t *testing.T) {
	path := writeConfig(t, `
principal: "0x00000000000000000000000000000000000000aa"
ledger:
  rpc_nodes: ["http://localhost:8545"]
  confirmation_timeout: 90s
backend:
  url: http://backend/api
database:
  type: none
  codec: cbor
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Ledger.ConfirmationTimeout)
	assert.Equal(t, 5*time.Second, cfg.Ledger.PollInterval)
	assert.Equal(t, types.None, cfg.Database.Type)
	assert.Equal(t, types.CodecCBOR, cfg.Database.Codec)
	assert.Equal(t, 100, cfg.Backend.PageSize)
	assert.Equal(t, 10, cfg.Query.DefaultLimit)
	assert.Equal(t, 2.0, cfg.Reconcile.Backoff.Factor)
	assert.Equal(t, types.TimeUnitSeconds, cfg.Reconcile.Interval.Unit)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv(EnvBackendToken, "secret")
	t.Setenv(EnvDBConnection, "postgres://u:p@db/tx")
	path := writeConfig(t, "database:\n  type: postgres\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Backend.Token)
	assert.Equal(t, "postgres://u:p@db/tx", cfg.Database.ConnectionString)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)

	_, err = LoadConfig(writeConfig(t, "ledger: [unterminated"))
	assert.ErrorIs(t, err, ErrConfigParseFailed)

	_, err = LoadConfig(writeConfig(t, "database:\n  type: mongo\n"))
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestLoadConfig_SampleFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "config", "config.yml"))
	require.NoError(t, err)
	assert.Equal(t, types.SQLite, cfg.Database.Type)
	assert.Len(t, cfg.Ledger.RPCNodes, 2)
	assert.Equal(t, 5*time.Minute, cfg.Ledger.ConfirmationTimeout)
}
