package hvdetect

import (
	"fmt"
	"os"
	"strconv"
)

// Host status codes understood by the query adapters.
const (
	STATUS_SUCCESS              uint32 = 0x00000000
	STATUS_INFO_LENGTH_MISMATCH uint32 = 0xC0000004
	STATUS_ACCESS_DENIED        uint32 = 0xC0000022
	ERROR_ACCESS_DENIED         uint32 = 0x00000005
	ERROR_INSUFFICIENT_BUFFER   uint32 = 0x0000007A
)

// ErrorKind classifies a DetectError.
type ErrorKind int

const (
	// KindOtherFailure is a host status outside the known "too small" set.
	KindOtherFailure ErrorKind = iota
	// KindRetryExhausted means buffer negotiation hit its attempt cap.
	KindRetryExhausted
	// KindInsufficientData means a buffer was too short for one record.
	KindInsufficientData
	// KindNoSystemThreads means no thread belonged to the system process.
	KindNoSystemThreads
	// KindMalformed means a record declared an impossible layout.
	KindMalformed
	// KindInvalidConfig means a Config or engine argument was out of range.
	KindInvalidConfig
	// KindNotSupported means the host queries are unavailable on this platform.
	KindNotSupported
)

func (k ErrorKind) String() string {
	switch k {
	case KindOtherFailure:
		return "OtherFailure"
	case KindRetryExhausted:
		return "RetryExhausted"
	case KindInsufficientData:
		return "InsufficientData"
	case KindNoSystemThreads:
		return "NoSystemThreads"
	case KindMalformed:
		return "Malformed"
	case KindInvalidConfig:
		return "InvalidConfig"
	case KindNotSupported:
		return "NotSupported"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// DetectError is returned by every stage of a detection pass.
// Code stores the raw host status (NTSTATUS or Win32 error) when one exists.
type DetectError struct {
	Kind     ErrorKind
	Query    string // name of the host query, empty for in-memory stages
	Code     uint32
	Attempts int
	message  string // Optional custom message
}

func (e DetectError) Error() string {
	if e.message != "" {
		return e.message
	}

	if isProductionEnv() {
		return e.sanitizedError()
	}
	return e.detailedError()
}

// Is reports whether target is a *DetectError of the same kind, so the
// package sentinels work with errors.Is regardless of query or code.
func (e DetectError) Is(target error) bool {
	t, ok := target.(*DetectError)
	if !ok || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

func (e DetectError) query() string {
	if e.Query == "" {
		return "query"
	}
	return e.Query
}

// detailedError provides full error context for development
func (e DetectError) detailedError() string {
	switch e.Kind {
	case KindRetryExhausted:
		return fmt.Sprintf("hvdetect: %s did not return correct data after %d attempts", e.query(), e.Attempts)
	case KindInsufficientData:
		return fmt.Sprintf("hvdetect: %s returned insufficient data - this occurs when the current process is running at a low integrity level", e.query())
	case KindNoSystemThreads:
		return "hvdetect: no system threads found - this usually occurs for low integrity processes"
	case KindMalformed:
		return fmt.Sprintf("hvdetect: %s returned a malformed record", e.query())
	case KindInvalidConfig:
		return "hvdetect: invalid configuration"
	case KindNotSupported:
		return "hvdetect: not supported on this platform"
	default:
		return fmt.Sprintf("hvdetect: %s failed with status 0x%x%s", e.query(), e.Code, statusHint(e.Code))
	}
}

// sanitizedError provides minimal error information for production
func (e DetectError) sanitizedError() string {
	switch e.Kind {
	case KindRetryExhausted:
		return "hvdetect: retry limit reached"
	case KindInsufficientData:
		return "hvdetect: insufficient data"
	case KindNoSystemThreads:
		return "hvdetect: no system threads"
	case KindMalformed:
		return "hvdetect: malformed data"
	case KindInvalidConfig:
		return "hvdetect: invalid configuration"
	case KindNotSupported:
		return "hvdetect: not supported"
	default:
		return "hvdetect: host query failed"
	}
}

func statusHint(code uint32) string {
	switch code {
	case STATUS_ACCESS_DENIED, ERROR_ACCESS_DENIED:
		return " (access denied)"
	case STATUS_INFO_LENGTH_MISMATCH, ERROR_INSUFFICIENT_BUFFER:
		return " (buffer too small)"
	default:
		return ""
	}
}

// isProductionEnv checks if we're running in production environment
func isProductionEnv() bool {
	env := os.Getenv("HVDETECT_ENV")
	if env == "production" || env == "prod" {
		return true
	}

	// Check if debug mode is explicitly disabled
	if debug := os.Getenv("HVDETECT_DEBUG"); debug != "" {
		if val, err := strconv.ParseBool(debug); err == nil && !val {
			return true
		}
	}

	return false
}

func newError(kind ErrorKind, query string) *DetectError {
	return &DetectError{Kind: kind, Query: query}
}

func configError(format string, args ...any) *DetectError {
	return &DetectError{Kind: KindInvalidConfig, message: "hvdetect: " + fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is; any DetectError of the same kind matches.
var (
	ErrRetryExhausted   = &DetectError{Kind: KindRetryExhausted}
	ErrInsufficientData = &DetectError{Kind: KindInsufficientData}
	ErrOtherFailure     = &DetectError{Kind: KindOtherFailure}
	ErrNoSystemThreads  = &DetectError{Kind: KindNoSystemThreads}
	ErrMalformed        = &DetectError{Kind: KindMalformed}
	ErrInvalidConfig    = &DetectError{Kind: KindInvalidConfig}
	ErrNotSupported     = &DetectError{Kind: KindNotSupported, message: "hvdetect: not supported on this platform"}
)
