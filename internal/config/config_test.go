package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "env: local\nstorage_driver: memory\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "localhost:4001", cfg.HTTPServer.Address)
	assert.Equal(t, 4*time.Second, cfg.HTTPServer.Timeout)
	assert.Equal(t, 300, cfg.Cutting.ScrapThresholdMM)
	assert.Equal(t, 5*time.Second, cfg.Cutting.RequestTimeout)
	assert.Equal(t, "errors.log", cfg.Log.ErrorFile)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoad_RejectsOtherScrapThreshold(t *testing.T) {
	path := writeConfig(t, "storage_driver: memory\ncutting:\n  scrap_threshold_mm: 250\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, "scrap threshold")
}

func TestLoad_MySQLNeedsDatabase(t *testing.T) {
	path := writeConfig(t, "storage_driver: mysql\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDB_DSN(t *testing.T) {
	db := DB{User: "u", Password: "p", Host: "h", Port: 3307, Name: "cut", ParseTime: true}
	assert.Equal(t, "u:p@tcp(h:3307)/cut?parseTime=true&multiStatements=true", db.DSN())
}
