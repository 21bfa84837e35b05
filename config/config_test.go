package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	// Keep a stray ./configs/config.yaml out of the test.
	t.Chdir(t.TempDir())
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse(args))
	return Load(fs)
}

func TestDefaults(t *testing.T) {
	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 3306, cfg.Port)
	assert.Equal(t, "root", cfg.User)
	assert.Equal(t, "information_schema", cfg.Database)
	assert.False(t, cfg.PerNode)
	assert.Equal(t, 3*time.Second, cfg.Interval())
	assert.Equal(t, 40, cfg.Rows)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "root", cfg.LeafUser, "leaf user falls back to user")
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("MEMSQL_TOP_HOST", "from-env")
	t.Setenv("MEMSQL_TOP_PORT", "3307")

	cfg, err := load(t, "--host", "from-flag", "--update-interval", "0.5", "--per-node", "--leaf-user", "leaf")
	require.NoError(t, err)

	assert.Equal(t, "from-flag", cfg.Host)
	assert.Equal(t, 3307, cfg.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Interval())
	assert.True(t, cfg.PerNode)
	assert.Equal(t, "leaf", cfg.LeafUser)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "config.yaml"),
		[]byte("host: db.internal\nrows: 10\nmetrics_addr: ':9100'\n"), 0o644))
	t.Chdir(dir)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse(nil))
	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 10, cfg.Rows)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
}

func TestValidation(t *testing.T) {
	for _, args := range [][]string{
		{"--update-interval", "0"},
		{"--port", "70000"},
		{"--host", ""},
		{"--rows", "-1"},
		{"--cores", "-2"},
	} {
		_, err := load(t, args...)
		assert.Error(t, err, "%v", args)
	}
}
