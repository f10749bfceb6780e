package telemetry

import "codeberg.org/mutker/fanctl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrNoSinks       = errors.ErrorCode("telemetry_no_sinks")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("telemetry_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("telemetry_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("telemetry_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("telemetry_transaction_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitTelemetry
	ErrStorageClose = errors.ErrCloseTelemetry

	// Publisher Errors
	ErrPublisherConnect = errors.ErrorCode("telemetry_mqtt_connect_failed")
	ErrPublisherDropped = errors.ErrorCode("telemetry_mqtt_queue_full")

	// Collection Errors
	ErrCollection      = errors.ErrCollectTelemetry
	ErrInvalidSnapshot = errors.ErrorCode("telemetry_invalid_snapshot")

	// Operation Errors
	ErrOperationTimeout = errors.ErrTimeout
)
