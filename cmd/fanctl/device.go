package main

import (
	"path/filepath"

	"codeberg.org/mutker/fanctl/internal/config"
	"codeberg.org/mutker/fanctl/internal/device"
	"codeberg.org/mutker/fanctl/internal/fancontrol"
	"codeberg.org/mutker/fanctl/internal/logger"
	"codeberg.org/mutker/fanctl/internal/telemetry"
)

const hwmonRoot = "/sys/class/hwmon"

// openDevice opens the configured backend and its power-limit surface. The
// power limit falls back to a no-op when the platform has none.
func openDevice(cfg *config.Config, log logger.Logger) (device.Device, device.PowerLimit, error) {
	switch config.Backend(cfg.Device.Backend) {
	case config.BackendNVML:
		gpu, err := device.OpenNVML(cfg.Device.GPUIndex, logger.New("nvml"))
		if err != nil {
			return nil, nil, err
		}
		if cfg.Device.PowerLimitPath != "" {
			power, err := openSysfsPowerLimit(cfg.Device.PowerLimitPath, log)
			if err != nil {
				gpu.Close()
				return nil, nil, err
			}
			return gpu, power, nil
		}
		power, err := gpu.PowerLimit()
		if err != nil {
			log.Warn().Err(err).Msg("GPU power limit unavailable, power limit control disabled")
			return gpu, device.NopPowerLimit{}, nil
		}
		return gpu, power, nil

	default:
		fans := make([]device.HwmonFan, 0, len(cfg.Device.Fans))
		for _, fan := range cfg.Device.Fans {
			fans = append(fans, device.HwmonFan{PWM: fan.PWM, Sensor: fan.Sensor})
		}
		if len(fans) == 0 {
			discovered, err := device.DiscoverHwmon(hwmonRoot)
			if err != nil {
				return nil, nil, err
			}
			fans = discovered
		}

		hw, err := device.NewHwmon(fans, device.WithHwmonLogger(logger.New("hwmon")))
		if err != nil {
			return nil, nil, err
		}
		if cfg.Device.PowerLimitPath == "" {
			return hw, device.NopPowerLimit{}, nil
		}
		power, err := openSysfsPowerLimit(cfg.Device.PowerLimitPath, log)
		if err != nil {
			hw.Close()
			return nil, nil, err
		}
		return hw, power, nil
	}
}

func openSysfsPowerLimit(path string, log logger.Logger) (device.PowerLimit, error) {
	power, err := device.OpenSysfsPowerLimit(path)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("path", path).Msg("Opened power limit")
	return power, nil
}

func cadenceFor(cfg config.ControlConfig) fancontrol.Cadence {
	if config.Cadence(cfg.Cadence) == config.CadenceFixed {
		return fancontrol.FixedCadence{Interval: cfg.Interval}
	}
	return fancontrol.AdaptiveCadence{}
}

func telemetryConfig(cfg config.TelemetryConfig) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.Enabled = cfg.Enabled
	tc.DBPath = cfg.Database
	tc.BatchSize = cfg.BatchSize
	tc.BatchTimeout = cfg.BatchTimeout
	if cfg.Database != "" {
		tc.BackupDir = filepath.Join(filepath.Dir(cfg.Database), "backups")
	}
	tc.MQTT = telemetry.MQTTConfig{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Topic:    cfg.MQTT.Topic,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
	}
	return tc
}
