package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "dev", cfg.Auth.MailerKind)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syncd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9090
db_path = "custom.db"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "custom.db", cfg.Server.DBPath)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syncd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9090
`), 0o644))

	t.Setenv(EnvPort, "7000")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Server.Port)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 0
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsUnknownBlobBackend(t *testing.T) {
	cfg := Defaults()
	cfg.Blob.Backend = "azure"
	require.Error(t, Validate(cfg))
}
