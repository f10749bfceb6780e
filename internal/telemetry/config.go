package telemetry

import (
	"time"

	"codeberg.org/mutker/fanctl/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm   = 0o755
	defaultDBPath    = "/var/lib/fanctl/telemetry.db"
	defaultBackupDir = "/var/lib/fanctl/backups"

	defaultBatchSize    = 50
	defaultBatchTimeout = 10 * time.Second

	defaultMQTTClientID = "fanctl"
	defaultMQTTTopic    = "fanctl/fan/{fan}"
)

type Config struct {
	Enabled      bool
	DBPath       string
	BatchSize    int
	BatchTimeout time.Duration
	BackupDir    string
	MQTT         MQTTConfig
}

// MQTTConfig configures the MQTT publisher. An empty Broker disables it.
type MQTTConfig struct {
	Broker   string
	ClientID string
	// Topic may contain {fan}, replaced by the fan index.
	Topic    string
	Username string
	Password string
}

func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		DBPath:       defaultDBPath,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		BackupDir:    defaultBackupDir,
		MQTT: MQTTConfig{
			ClientID: defaultMQTTClientID,
			Topic:    defaultMQTTTopic,
		},
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" && c.MQTT.Broker == "" {
		return errFactory.New(ErrNoSinks)
	}
	if c.BatchSize < 0 || c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, "negative batch settings")
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return errFactory.WithData(ErrInvalidConfig, "empty MQTT topic")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
