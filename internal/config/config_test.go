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
	path := filepath.Join(t.TempDir(), "vigil.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "vigil.db", cfg.Store.Path)
	assert.Equal(t, time.Minute, cfg.Engine.TickInterval.Std())
	assert.Equal(t, 100, cfg.Engine.BatchSize)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  path: /var/lib/vigil/vigil.db
engine:
  tick_interval: 30s
  batch_size: 25
smtp:
  host: mail.example.com
  from: vigil@example.com
log:
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/vigil/vigil.db", cfg.Store.Path)
	assert.Equal(t, 30*time.Second, cfg.Engine.TickInterval.Std())
	assert.Equal(t, 25, cfg.Engine.BatchSize)
	assert.Equal(t, 4, cfg.Engine.Workers) // untouched default
	assert.Equal(t, "mail.example.com", cfg.SMTP.Host)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
smtp:
  password: from-file
`)
	t.Setenv("VIGIL_SMTP_PASSWORD", "from-env")
	t.Setenv("VIGIL_SERVICE_KEY", "AGE-SECRET-KEY-TEST")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.SMTP.Password)
	assert.Equal(t, "AGE-SECRET-KEY-TEST", cfg.Cipher.Key)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero batch size", "engine:\n  batch_size: 0\n"},
		{"bad duration", "engine:\n  tick_interval: soon\n"},
		{"cap below base", "engine:\n  backoff_base: 1h\n  backoff_cap: 1m\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"bad log format", "log:\n  format: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestServiceKeyResolution(t *testing.T) {
	_, err := CipherConfig{}.ServiceKey()
	assert.Error(t, err)

	key, err := CipherConfig{Key: "inline"}.ServiceKey()
	require.NoError(t, err)
	assert.Equal(t, "inline", key)

	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte("from-file"), 0o600))
	key, err = CipherConfig{KeyFile: path}.ServiceKey()
	require.NoError(t, err)
	assert.Equal(t, "from-file", key)
}
