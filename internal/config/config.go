// Package config loads the daemon configuration from a TOML file, a dotenv
// file, FANCTL_* environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/fanctl/internal/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultConfigPath    = "/etc/fanctl/fanctl.toml"
	DefaultEnvFile       = "/etc/default/fanctl"
	DefaultEnvPrefix     = "FANCTL"
	DefaultLogLevel      = "info"
	DefaultPIDFile       = "/run/fanctl.pid"
	DefaultProfileDir    = "/etc/fanctl"
	DefaultBackend       = "hwmon"
	DefaultCadence       = "adaptive"
	DefaultInterval      = 100 * time.Millisecond
	DefaultOverrideLease = time.Second
	DefaultHistorySize   = 6
	DefaultDatabase      = "/var/lib/fanctl/telemetry.db"
	DefaultBatchSize     = 10
	DefaultBatchTimeout  = 5 * time.Second
	DefaultMQTTClientID  = "fanctl"
	DefaultMQTTTopic     = "fanctl/fan/{fan}"
	DefaultListen        = "127.0.0.1:7123"
)

type Config struct {
	LogLevel   string          `mapstructure:"log_level"`
	PIDFile    string          `mapstructure:"pid_file"`
	ProfileDir string          `mapstructure:"profile_dir"`
	Device     DeviceConfig    `mapstructure:"device"`
	Control    ControlConfig   `mapstructure:"control"`
	Telemetry  TelemetryConfig `mapstructure:"telemetry"`
	API        APIConfig       `mapstructure:"api"`
}

type DeviceConfig struct {
	Backend        string      `mapstructure:"backend"`
	GPUIndex       int         `mapstructure:"gpu_index"`
	PowerLimitPath string      `mapstructure:"power_limit_path"`
	Fans           []FanConfig `mapstructure:"fans"`
}

// FanConfig pairs a hwmon pwm file with the temperature sensor that drives
// it. An empty list means autodetect.
type FanConfig struct {
	PWM    string `mapstructure:"pwm"`
	Sensor string `mapstructure:"sensor"`
}

type ControlConfig struct {
	Cadence       string        `mapstructure:"cadence"`
	Interval      time.Duration `mapstructure:"interval"`
	OverrideLease time.Duration `mapstructure:"override_lease"`
	HistorySize   int           `mapstructure:"history_size"`
}

type TelemetryConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Database     string        `mapstructure:"database"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	MQTT         MQTTConfig    `mapstructure:"mqtt"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// APIConfig holds the local control API settings. An empty Listen
// disables the API.
type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level":   "log_level",
	"pid-file":    "pid_file",
	"profile-dir": "profile_dir",
	"backend":     "device.backend",
	"gpu-index":   "device.gpu_index",
	"cadence":     "control.cadence",
	"interval":    "control.interval",
	"telemetry":   "telemetry.enabled",
	"listen":      "api.listen",
}

// Load reads the configuration. args are the command line arguments
// without the program name.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{
		envPrefix: DefaultEnvPrefix,
		envFile:   DefaultEnvFile,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !os.IsNotExist(err) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	flags := newFlagSet()
	if err := flags.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, configPath(o, flags)); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("pid_file", DefaultPIDFile)
	v.SetDefault("profile_dir", DefaultProfileDir)

	v.SetDefault("device.backend", DefaultBackend)
	v.SetDefault("device.gpu_index", 0)
	v.SetDefault("device.power_limit_path", "")

	v.SetDefault("control.cadence", DefaultCadence)
	v.SetDefault("control.interval", DefaultInterval)
	v.SetDefault("control.override_lease", DefaultOverrideLease)
	v.SetDefault("control.history_size", DefaultHistorySize)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.database", DefaultDatabase)
	v.SetDefault("telemetry.batch_size", DefaultBatchSize)
	v.SetDefault("telemetry.batch_timeout", DefaultBatchTimeout)
	v.SetDefault("telemetry.mqtt.broker", "")
	v.SetDefault("telemetry.mqtt.client_id", DefaultMQTTClientID)
	v.SetDefault("telemetry.mqtt.topic", DefaultMQTTTopic)
	v.SetDefault("telemetry.mqtt.username", "")
	v.SetDefault("telemetry.mqtt.password", "")

	v.SetDefault("api.listen", DefaultListen)
}

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("fanctl", pflag.ContinueOnError)

	flags.String("config", "", "Path to the configuration file")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	flags.String("pid-file", DefaultPIDFile, "Path to the PID file")
	flags.String("profile-dir", DefaultProfileDir, "Directory holding fan profiles")
	flags.String("backend", DefaultBackend, "Device backend (hwmon, nvml)")
	flags.Int("gpu-index", 0, "NVML device index")
	flags.String("cadence", DefaultCadence, "Polling cadence (adaptive, fixed)")
	flags.Duration("interval", DefaultInterval, "Polling interval for the fixed cadence")
	flags.Bool("telemetry", false, "Record controller telemetry")
	flags.String("listen", DefaultListen, "Address of the local control API, empty disables it")

	return flags
}

// configPath resolves the config file: option, then --config, then the
// <PREFIX>_CONFIG environment variable. An empty result means the default
// path, which may be missing.
func configPath(o *options, flags *pflag.FlagSet) string {
	if o.configPath != "" {
		return o.configPath
	}
	if path, _ := flags.GetString("config"); path != "" {
		return path
	}
	return os.Getenv(o.envPrefix + "_CONFIG")
}

func readConfigFile(v *viper.Viper, path string) error {
	errFactory := errors.New()

	if path == "" {
		if _, err := os.Stat(DefaultConfigPath); err != nil {
			return nil
		}
		path = DefaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if !Backend(c.Device.Backend).IsValid() {
		return errFactory.WithData(errors.ErrInvalidBackend, c.Device.Backend)
	}
	if c.Device.GPUIndex < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			GPUIndex int
		}{c.Device.GPUIndex})
	}
	for i, fan := range c.Device.Fans {
		if fan.PWM == "" {
			return errFactory.WithData(errors.ErrInvalidConfig, struct {
				Fan    int
				Reason string
			}{i, "missing pwm path"})
		}
	}

	if !Cadence(c.Control.Cadence).IsValid() {
		return errFactory.WithData(errors.ErrInvalidCadence, c.Control.Cadence)
	}
	if c.Control.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Control.Interval.String())
	}
	if c.Control.OverrideLease <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Control.OverrideLease.String())
	}
	if c.Control.HistorySize <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			HistorySize int
		}{c.Control.HistorySize})
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.BatchSize <= 0 || c.Telemetry.BatchTimeout < 0 {
			return errFactory.WithData(errors.ErrInvalidConfig, struct {
				BatchSize    int
				BatchTimeout string
			}{c.Telemetry.BatchSize, c.Telemetry.BatchTimeout.String()})
		}
	}

	return nil
}
