package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"
	ErrInvalidBackend  ErrorCode = "invalid_backend"
	ErrInvalidCadence  ErrorCode = "invalid_cadence"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"

	// Fan control errors
	ErrSensorRead ErrorCode = "fan_sensor_read_failed"
	ErrActuation  ErrorCode = "fan_actuation_failed"
	ErrConfigSwap ErrorCode = "profile_swap_failed"

	// Device errors
	ErrDeviceNotFound ErrorCode = "device_not_found"
	ErrFanIndex       ErrorCode = "fan_index_out_of_range"

	// Profile errors
	ErrProfileRead    ErrorCode = "profile_read_failed"
	ErrProfileInvalid ErrorCode = "profile_invalid"

	// Operation errors
	ErrOperationFailed ErrorCode = "operation_failed"
	ErrTimeout         ErrorCode = "operation_timeout"

	// Telemetry errors
	ErrInitTelemetry    ErrorCode = "init_telemetry_failed"
	ErrCollectTelemetry ErrorCode = "collect_telemetry_failed"
	ErrCloseTelemetry   ErrorCode = "close_telemetry_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:         "Internal error occurred",
	ErrInvalidArgument:  "Invalid argument provided",
	ErrUnavailable:      "Service unavailable",
	ErrInvalidConfig:    "Invalid configuration",
	ErrBindFlags:        "Failed to bind flags",
	ErrReadConfig:       "Failed to read config file",
	ErrInvalidInterval:  "Invalid interval value",
	ErrInvalidBackend:   "Invalid device backend",
	ErrInvalidCadence:   "Invalid polling cadence",
	ErrInvalidLogLevel:  "Invalid log level",
	ErrInitFailed:       "Initialization failed",
	ErrShutdownFailed:   "Shutdown failed",
	ErrAlreadyRunning:   "Another instance is already running",
	ErrSensorRead:       "Failed to read fan sensor",
	ErrActuation:        "Failed to write fan control value",
	ErrConfigSwap:       "Failed to swap fan profile",
	ErrDeviceNotFound:   "Device not found",
	ErrFanIndex:         "Fan index out of range",
	ErrProfileRead:      "Failed to read profile",
	ErrProfileInvalid:   "Invalid profile",
	ErrOperationFailed:  "Operation failed",
	ErrTimeout:          "Operation timed out",
	ErrInitTelemetry:    "Failed to initialize telemetry",
	ErrCollectTelemetry: "Failed to collect telemetry data",
	ErrCloseTelemetry:   "Failed to close telemetry storage",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
