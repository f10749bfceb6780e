package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/fanctl/internal/config"
	"codeberg.org/mutker/fanctl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fanctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
log_level = "debug"
pid_file = "/tmp/fanctl-test.pid"
profile_dir = "/tmp/fanctl-profiles"

[device]
backend = "hwmon"
power_limit_path = "/sys/class/thermal/cooling_device0/cur_state"

[[device.fans]]
pwm = "/sys/class/hwmon/hwmon3/pwm1"
sensor = "coretemp_package_id_0"

[[device.fans]]
pwm = "/sys/class/hwmon/hwmon3/pwm2"

[control]
cadence = "fixed"
interval = "250ms"
override_lease = "2s"
history_size = 8

[telemetry]
enabled = true
database = "/tmp/telemetry.db"
batch_size = 20

[telemetry.mqtt]
broker = "tcp://localhost:1883"

[api]
listen = ""
`)

	t.Setenv("FANCTL_CONFIG", configPath)

	cfg, err := config.Load(nil, config.WithEnvFile(""))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/fanctl-test.pid", cfg.PIDFile)
	assert.Equal(t, "/tmp/fanctl-profiles", cfg.ProfileDir)
	assert.Equal(t, "/sys/class/thermal/cooling_device0/cur_state", cfg.Device.PowerLimitPath)
	require.Len(t, cfg.Device.Fans, 2)
	assert.Equal(t, "/sys/class/hwmon/hwmon3/pwm1", cfg.Device.Fans[0].PWM)
	assert.Equal(t, "coretemp_package_id_0", cfg.Device.Fans[0].Sensor)
	assert.Empty(t, cfg.Device.Fans[1].Sensor)
	assert.Equal(t, "fixed", cfg.Control.Cadence)
	assert.Equal(t, 250*time.Millisecond, cfg.Control.Interval)
	assert.Equal(t, 2*time.Second, cfg.Control.OverrideLease)
	assert.Equal(t, 8, cfg.Control.HistorySize)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "/tmp/telemetry.db", cfg.Telemetry.Database)
	assert.Equal(t, 20, cfg.Telemetry.BatchSize)
	assert.Equal(t, config.DefaultBatchTimeout, cfg.Telemetry.BatchTimeout)
	assert.Equal(t, "tcp://localhost:1883", cfg.Telemetry.MQTT.Broker)
	assert.Equal(t, config.DefaultMQTTTopic, cfg.Telemetry.MQTT.Topic)
	assert.Empty(t, cfg.API.Listen)
}

func TestLoadDefaults(t *testing.T) {
	configPath := writeConfig(t, "")

	cfg, err := config.Load(nil, config.WithConfigFile(configPath), config.WithEnvFile(""))
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, config.DefaultPIDFile, cfg.PIDFile)
	assert.Equal(t, config.DefaultProfileDir, cfg.ProfileDir)
	assert.Equal(t, config.DefaultBackend, cfg.Device.Backend)
	assert.Empty(t, cfg.Device.Fans)
	assert.Equal(t, config.DefaultCadence, cfg.Control.Cadence)
	assert.Equal(t, config.DefaultInterval, cfg.Control.Interval)
	assert.Equal(t, config.DefaultOverrideLease, cfg.Control.OverrideLease)
	assert.Equal(t, config.DefaultHistorySize, cfg.Control.HistorySize)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, config.DefaultListen, cfg.API.Listen)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	configPath := writeConfig(t, `
This is not a valid TOML file
`)
	t.Setenv("FANCTL_CONFIG", configPath)

	_, err := config.Load(nil, config.WithEnvFile(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestLoadMissingExplicitConfigFile(t *testing.T) {
	_, err := config.Load(nil,
		config.WithConfigFile(filepath.Join(t.TempDir(), "missing.toml")),
		config.WithEnvFile(""))
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestInvalidLogLevel(t *testing.T) {
	configPath := writeConfig(t, `
log_level = "invalid"
`)
	t.Setenv("FANCTL_CONFIG", configPath)

	_, err := config.Load(nil, config.WithEnvFile(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_log_level")
}

func TestLogLevelFlag(t *testing.T) {
	configPath := writeConfig(t, `log_level = "error"`)

	cfg, err := config.Load([]string{"--log-level", "debug", "--config", configPath}, config.WithEnvFile(""))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel to be set by flag")
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	configPath := writeConfig(t, "")
	t.Setenv("FANCTL_CONTROL_CADENCE", "fixed")
	t.Setenv("FANCTL_CONTROL_INTERVAL", "300ms")

	cfg, err := config.Load([]string{"--interval", "50ms"},
		config.WithConfigFile(configPath), config.WithEnvFile(""))
	require.NoError(t, err)

	assert.Equal(t, "fixed", cfg.Control.Cadence)
	assert.Equal(t, 50*time.Millisecond, cfg.Control.Interval)
}

func TestEnvFile(t *testing.T) {
	configPath := writeConfig(t, "")
	envPath := filepath.Join(t.TempDir(), "fanctl.env")
	require.NoError(t, os.WriteFile(envPath, []byte("FANCTL_LOG_LEVEL=warning\nFANCTL_API_LISTEN=127.0.0.1:9000\n"), 0o600))

	// register cleanup, then clear so the dotenv file is allowed to set them
	for _, key := range []string{"FANCTL_LOG_LEVEL", "FANCTL_API_LISTEN"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := config.Load(nil, config.WithConfigFile(configPath), config.WithEnvFile(envPath))
	require.NoError(t, err)

	assert.Equal(t, "warning", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9000", cfg.API.Listen)
}

func TestUnknownFlag(t *testing.T) {
	_, err := config.Load([]string{"--bogus"}, config.WithEnvFile(""))
	assert.True(t, errors.HasCode(err, errors.ErrBindFlags))
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{
			LogLevel: "info",
			Device:   config.DeviceConfig{Backend: "hwmon"},
			Control: config.ControlConfig{
				Cadence:       "adaptive",
				Interval:      config.DefaultInterval,
				OverrideLease: config.DefaultOverrideLease,
				HistorySize:   config.DefaultHistorySize,
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		code   errors.ErrorCode
	}{
		{"valid", func(*config.Config) {}, ""},
		{"log level", func(c *config.Config) { c.LogLevel = "trace" }, errors.ErrInvalidLogLevel},
		{"backend", func(c *config.Config) { c.Device.Backend = "ec" }, errors.ErrInvalidBackend},
		{"fan without pwm", func(c *config.Config) { c.Device.Fans = []config.FanConfig{{Sensor: "x"}} }, errors.ErrInvalidConfig},
		{"cadence", func(c *config.Config) { c.Control.Cadence = "turbo" }, errors.ErrInvalidCadence},
		{"interval", func(c *config.Config) { c.Control.Interval = 0 }, errors.ErrInvalidInterval},
		{"lease", func(c *config.Config) { c.Control.OverrideLease = -time.Second }, errors.ErrInvalidInterval},
		{"history", func(c *config.Config) { c.Control.HistorySize = 0 }, errors.ErrInvalidConfig},
		{"telemetry batch", func(c *config.Config) {
			c.Telemetry = config.TelemetryConfig{Enabled: true, BatchSize: 0}
		}, errors.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
		})
	}
}
