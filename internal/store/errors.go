package store

import "codeberg.org/mutker/roamctl/internal/errors"

const (
	ErrInvalidPath = errors.ErrorCode("store_invalid_path")

	ErrSchemaInitFailed       = errors.ErrSchemaInitFailed
	ErrSchemaValidationFailed = errors.ErrSchemaValidationFailed
	ErrSchemaMigrationFailed  = errors.ErrorCode("store_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrTransactionFailed

	ErrStorageAccess = errors.ErrStorageAccess
	ErrStorageInit   = errors.ErrStorageInit
	ErrStorageClose  = errors.ErrStorageClose
)
