package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, "dev", c.Auth.Mode)
	assert.Equal(t, 30.0, c.Geo.SpeedKph)
	assert.Equal(t, 10, c.Webhooks.MaxAttempts)
	assert.True(t, c.Migrate)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"9090\"\ngeo:\n  speedKph: 20\nwebhooks:\n  maxAttempts: 3\n"), 0o600))

	t.Setenv("PORT", "7070")

	c, err := Load(path)
	require.NoError(t, err)
	// env beats file
	assert.Equal(t, "7070", c.Port)
	// file beats default
	assert.Equal(t, 20.0, c.Geo.SpeedKph)
	assert.Equal(t, 3, c.Webhooks.MaxAttempts)
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	c, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "dev", c.Auth.Mode)
}
