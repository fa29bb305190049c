package erpsync

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	// ErrMalformedRecord skips one record; it is counted as failed.
	ErrMalformedRecord = errors.New("malformed upstream record")
	// ErrStorageWriteFailed skips one record; it is counted as failed.
	ErrStorageWriteFailed = errors.New("storage write failed")
	ErrRunInProgress      = errors.New("erp sync run already in progress")
	ErrUnknownRun         = errors.New("sync run not found")
)

// diagnostic codes
const (
	CodeMalformedRecord     = "malformed_record"
	CodeReferentialFallback = "referential_fallback"
	CodeFKViolation         = "fk_violation"
	CodeDataTooLong         = "data_too_long"
	CodeSyncFailed          = "sync_failed"
	CodeUpstreamUnavailable = "upstream_unavailable"
)

const (
	mysqlErrNoReferencedRow = 1452
	mysqlErrDataTooLong     = 1406
)

func classifyStorageError(err error) string {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrNoReferencedRow:
			return CodeFKViolation
		case mysqlErrDataTooLong:
			return CodeDataTooLong
		}
	}
	return CodeSyncFailed
}
