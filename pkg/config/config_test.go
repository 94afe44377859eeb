package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.User.ID = "alice"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_MissingUserID(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "user.id")
}

func TestValidate_BadStoreBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Backend = "mongo"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RedisRequiresAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Backend = "redis"
	cfg.Store.Redis.Address = ""
	assert.Error(t, cfg.Validate())

	cfg.Store.Redis.Address = "localhost:6379"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Ranges(t *testing.T) {
	cfg := validConfig()
	cfg.Media.VideoFPS = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Call.GraceDelay = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.SampleRate = 1.5
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.RequestsPerSecond = 0
	assert.Error(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
gateway:
  address: ":9090"
user:
  id: bob
  name: Bob
store:
  backend: memory
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Gateway.Address)
	assert.Equal(t, "bob", cfg.User.ID)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Defaults survive partial files.
	assert.Equal(t, 15, cfg.Media.VideoFPS)
	assert.Equal(t, 5*time.Second, cfg.WebRTC.DisconnectTimeout)
	assert.Equal(t, 3*time.Second, cfg.Call.GraceDelay)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
