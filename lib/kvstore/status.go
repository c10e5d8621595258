package kvstore

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Status is the result code of every data service operation.
type Status int

const (
	Success Status = iota
	Error
	InvalidArgument
	IllegalState
	ServerUnavailable
	StoreNotOpen
	StoreNotFound
	KeyNotFound
	DbError
	PermissionDenied
	CryptError
	NotSupport
	SystemAccountEventProcessing
	RecoverSuccess
	RecoverFailed
	ExceedMaxAccessRate
	MigrationKvStoreFailed
	SecurityLevelError
	IpcError
)

var statusNames = [...]string{
	Success:                      "SUCCESS",
	Error:                        "ERROR",
	InvalidArgument:              "INVALID_ARGUMENT",
	IllegalState:                 "ILLEGAL_STATE",
	ServerUnavailable:            "SERVER_UNAVAILABLE",
	StoreNotOpen:                 "STORE_NOT_OPEN",
	StoreNotFound:                "STORE_NOT_FOUND",
	KeyNotFound:                  "KEY_NOT_FOUND",
	DbError:                      "DB_ERROR",
	PermissionDenied:             "PERMISSION_DENIED",
	CryptError:                   "CRYPT_ERROR",
	NotSupport:                   "NOT_SUPPORT",
	SystemAccountEventProcessing: "SYSTEM_ACCOUNT_EVENT_PROCESSING",
	RecoverSuccess:               "RECOVER_SUCCESS",
	RecoverFailed:                "RECOVER_FAILED",
	ExceedMaxAccessRate:          "EXCEED_MAX_ACCESS_RATE",
	MigrationKvStoreFailed:       "MIGRATION_KVSTORE_FAILED",
	SecurityLevelError:           "SECURITY_LEVEL_ERROR",
	IpcError:                     "IPC_ERROR",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(name string) (Status, bool) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), true
		}
	}
	return Error, false
}

// IsSuccess reports whether s marks a usable result.
// RecoverSuccess counts as success, the store was restored from its backup.
func (s Status) IsSuccess() bool {
	return s == Success || s == RecoverSuccess
}

// Err returns nil for Success and a *StatusError otherwise.
func (s Status) Err() error {
	if s == Success {
		return nil
	}
	return &StatusError{Status: s}
}

// StatusError carries a Status through code that deals in Go errors.
type StatusError struct {
	Status Status
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return e.Status.String()
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Msg)
}

// Errorf returns a *StatusError with a formatted message.
func Errorf(s Status, format string, args ...interface{}) error {
	return &StatusError{Status: s, Msg: fmt.Sprintf(format, args...)}
}

// StatusOf extracts the Status from err.
// nil maps to Success, errors without a *StatusError in their chain map to Error.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return Error
}
