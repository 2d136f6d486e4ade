package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := rootCmd()

	for _, name := range []string{"up", "down", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}

	dir := root.PersistentFlags().Lookup("dir")
	require.NotNil(t, dir)
	assert.Equal(t, "./migrations", dir.DefValue)
}

func TestDown_RejectsBadCount(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	root := rootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"down", "zero"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive number")
}

func TestResolveDSN(t *testing.T) {
	t.Run("env wins", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "u:p@tcp(db:3306)/cut")
		dsn, err := resolveDSN(rootCmd())
		require.NoError(t, err)
		assert.Equal(t, "u:p@tcp(db:3306)/cut", dsn)
	})

	t.Run("nothing configured", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")
		t.Setenv("CONFIG_PATH", "")
		_, err := resolveDSN(rootCmd())
		assert.Error(t, err)
	})

	t.Run("from config", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")

		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
env: local
storage_driver: mysql
db:
  user: cutting
  password: pw
  host: db
  port: 3307
  name: cutting
`), 0o600))

		root := rootCmd()
		require.NoError(t, root.PersistentFlags().Set("config", path))

		dsn, err := resolveDSN(root)
		require.NoError(t, err)
		assert.Equal(t, "cutting:pw@tcp(db:3307)/cutting?parseTime=true&multiStatements=true", dsn)
	})
}
