package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrMissingConfig   ErrorCode = "missing_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Model errors
	ErrModelOutOfBounds ErrorCode = "model_out_of_bounds"

	// Measurement errors
	ErrOutOfOrderSample ErrorCode = "out_of_order_sample"
	ErrSampleOutOfRange ErrorCode = "sample_out_of_range"
	ErrWindowClosed     ErrorCode = "window_closed"
	ErrUnknownStation   ErrorCode = "unknown_station"
	ErrEmptyWindow      ErrorCode = "empty_window"

	// Scenario errors
	ErrAssociationFailed ErrorCode = "association_failed"
	ErrRunCancelled      ErrorCode = "run_cancelled"

	// Storage errors
	ErrStorageInit            ErrorCode = "storage_init_failed"
	ErrStorageAccess          ErrorCode = "storage_access_failed"
	ErrStorageClose           ErrorCode = "storage_close_failed"
	ErrSchemaInitFailed       ErrorCode = "schema_init_failed"
	ErrSchemaValidationFailed ErrorCode = "schema_validation_failed"
	ErrTransactionFailed      ErrorCode = "transaction_failed"
	ErrAlreadyRunning         ErrorCode = "already_running"

	// Metrics errors
	ErrInitMetrics ErrorCode = "init_metrics_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:               "Internal error occurred",
	ErrInvalidArgument:        "Invalid argument provided",
	ErrInvalidConfig:          "Invalid configuration",
	ErrMissingConfig:          "Missing configuration",
	ErrBindFlags:              "Failed to bind flags",
	ErrReadConfig:             "Failed to read config file",
	ErrInvalidLogLevel:        "Invalid log level",
	ErrModelOutOfBounds:       "Signal model returned a quality outside its bounds",
	ErrOutOfOrderSample:       "Sample is older than the last recorded timestamp",
	ErrSampleOutOfRange:       "Sample lies outside the measurement window",
	ErrWindowClosed:           "Measurement window is closed",
	ErrUnknownStation:         "Unknown station",
	ErrEmptyWindow:            "Measurement window has no samples",
	ErrAssociationFailed:      "Association change request failed",
	ErrRunCancelled:           "Scenario run cancelled",
	ErrStorageInit:            "Failed to initialize storage",
	ErrStorageAccess:          "Failed to access storage",
	ErrStorageClose:           "Failed to close storage",
	ErrSchemaInitFailed:       "Failed to initialize schema",
	ErrSchemaValidationFailed: "Failed to validate schema",
	ErrTransactionFailed:      "Transaction failed",
	ErrAlreadyRunning:         "Another process holds the lock",
	ErrInitMetrics:            "Failed to initialize metrics",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
