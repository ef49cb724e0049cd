package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/pushgate/internal/config"
)

const sampleYAML = `
apps:
  com.example.ios:
    type: apns
    keyfile: /etc/pushgate/apns.p8
    key_id: ABC123
    team_id: TEAM1
    topic: com.example.ios
  com.example.android:
    type: gcm
    service_account_file: /etc/pushgate/sa.json
    project_id: my-project
http:
  bind_addresses: ["0.0.0.0"]
  port: 5000
`

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pushgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Success(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Len(t, cfg.Apps, 2)
	assert.Equal(t, "apns", cfg.Apps["com.example.ios"].Type)
	assert.Equal(t, 5000, cfg.HTTP.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 30, cfg.HTTP.RequestTimeout)
}

func TestLoad_UnknownType(t *testing.T) {
	path := writeTempConfig(t, `
apps:
  com.example.weird:
    type: smoke_signal
`)
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_NoApps(t *testing.T) {
	path := writeTempConfig(t, "apps: {}\n")
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	t.Setenv("PUSHGATE_PORT", "9999")
	t.Setenv("PUSHGATE_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.HTTP.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestAppIDPattern_DefaultsToKey(t *testing.T) {
	app := config.AppConfig{Type: "apns"}
	assert.Equal(t, "com.example.ios", config.AppIDPattern("com.example.ios", app))

	app.AppIDPattern = "com.example.*"
	assert.Equal(t, "com.example.*", config.AppIDPattern("com.example.ios", app))
}
