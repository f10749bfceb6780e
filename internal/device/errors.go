package device

import (
	"codeberg.org/mutker/fanctl/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	// Initialization and Lifecycle Errors
	ErrNotInitialized = errors.ErrorCode("device_not_initialized")
	ErrInitFailed     = errors.ErrorCode("device_init_failed")
	ErrShutdownFailed = errors.ErrorCode("device_shutdown_failed")
	ErrNoFans         = errors.ErrorCode("device_no_fans")

	// Sensor Errors
	ErrTemperatureReadFailed = errors.ErrorCode("device_temperature_read_failed")
	ErrGetFanSpeedFailed     = errors.ErrorCode("device_fan_speed_failed")
	ErrSensorNotFound        = errors.ErrorCode("device_sensor_not_found")

	// Fan Control Errors
	ErrSetFanSpeed     = errors.ErrorCode("device_set_fan_speed_failed")
	ErrEnableAutoFan   = errors.ErrorCode("device_enable_auto_fan_failed")
	ErrFanCountFailed  = errors.ErrorCode("device_fan_count_failed")
	ErrDisableAutoFan  = errors.ErrorCode("device_disable_auto_fan_failed")
	ErrInvalidFanIndex = errors.ErrFanIndex

	// Power Management Errors
	ErrPowerLimitsFailed = errors.ErrorCode("device_power_limits_failed")
	ErrSetPowerLimit     = errors.ErrorCode("device_set_power_limit_failed")
)

// nvmlError represents an NVML-specific error
type nvmlError struct {
	ret nvml.Return
}

func (e nvmlError) Error() string {
	return nvml.ErrorString(e.ret)
}

// newNVMLError creates an error from an NVML return code
func newNVMLError(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return &nvmlError{ret: ret}
}

// IsNVMLSuccess checks if a Return value indicates success
func IsNVMLSuccess(ret nvml.Return) bool {
	return ret == nvml.SUCCESS
}
