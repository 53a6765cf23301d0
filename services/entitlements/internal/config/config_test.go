package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9000"
database_url: "postgres://localhost/m55"
policy_dir: "/etc/m55/policies"
webhooks:
  stripe:
    scheme: stripe-v1
    secret: whsec_file
`), 0o600))

	t.Setenv("M55_ADDR", ":9999")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("M55_POLICY_DIR", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "postgres://localhost/m55", cfg.DatabaseURL)
	assert.Equal(t, "/etc/m55/policies", cfg.PolicyDir)
	assert.Equal(t, Webhook{Scheme: "stripe-v1", Secret: "whsec_file"}, cfg.Webhooks["stripe"])
}

func TestLoad_EmptyPathKeepsDefaults(t *testing.T) {
	t.Setenv("M55_ADDR", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("M55_POLICY_DIR", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8086", cfg.Addr)
	assert.Equal(t, "policies", cfg.PolicyDir)
	assert.NotNil(t, cfg.Webhooks)
}

func TestLoad_MissingFileIsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
