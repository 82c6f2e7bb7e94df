package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/dev/ttyACM0", cfg.Robot.SerialDevice)
	assert.Equal(t, 115200, cfg.Robot.SerialBaud)
	assert.Equal(t, 0.2, cfg.Robot.DrivingSpeed)
	assert.True(t, cfg.Robot.UseHoe)
	assert.Equal(t, int64(1024*1024), cfg.Security.MaxRequestSize)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERIAL_DEVICE", "/dev/ttyUSB3")
	t.Setenv("DRIVING_SPEED", "0.35")
	t.Setenv("USE_HOE", "false")
	t.Setenv("SERVER_READ_TIMEOUT", "5s")
	t.Setenv("ALLOWED_ORIGINS", "http://a.local,http://b.local")

	cfg := LoadConfig()

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/dev/ttyUSB3", cfg.Robot.SerialDevice)
	assert.Equal(t, 0.35, cfg.Robot.DrivingSpeed)
	assert.False(t, cfg.Robot.UseHoe)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"http://a.local", "http://b.local"}, cfg.Security.AllowedOrigins)
}

func TestLoadConfigIgnoresMalformedEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("DRIVING_SPEED", "fast")

	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 0.2, cfg.Robot.DrivingSpeed)
}

func TestValidateConfig(t *testing.T) {
	logger := zap.NewNop()

	cfg := LoadConfig()
	require.NoError(t, cfg.ValidateConfig(logger))

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad baud", func(c *Config) { c.Robot.SerialBaud = -1 }},
		{"missing settings path", func(c *Config) { c.Robot.SettingsPath = "" }},
		{"speed out of range", func(c *Config) { c.Robot.DrivingSpeed = 1.5 }},
		{"no encoder workers", func(c *Config) { c.Robot.EncoderWorkers = 0 }},
		{"bad request size", func(c *Config) { c.Security.MaxRequestSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.ValidateConfig(logger))
		})
	}
}
