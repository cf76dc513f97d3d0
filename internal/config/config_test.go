package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("WIS2WATCH_TEST_HOST", "broker.example")

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"resolved var", "host: ${WIS2WATCH_TEST_HOST}", "host: broker.example"},
		{"default used", "db: ${WIS2WATCH_TEST_MISSING:-sqlite}", "db: sqlite"},
		{"unset no default left untouched", "x: ${WIS2WATCH_TEST_UNSET}", "x: ${WIS2WATCH_TEST_UNSET}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, SubstituteEnvVars(tc.input))
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  type: postgres
  dsn: "postgres://localhost/wis2watch"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres", cfg.Storage.Type)
	require.Equal(t, "memory", cfg.StateStore.Type)
	require.Equal(t, "on_ttl_expired_only", cfg.Lock.Policy)
	require.Equal(t, ":8090", cfg.API.Addr)
	require.NotEmpty(t, cfg.InstanceID)
}

func TestLoadSqliteDefaultDSN(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Storage.Type)
	require.Equal(t, "wis2watch.db", cfg.Storage.DSN)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}
