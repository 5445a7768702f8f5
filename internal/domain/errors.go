package domain

import (
	"errors"
	"fmt"
)

// Category sentinels, used with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrSessionNotFound = fmt.Errorf("session not found")
	ErrGuideNotFound   = fmt.Errorf("guide not found")
	ErrBookingConflict = fmt.Errorf("booking conflict")
	ErrStrandNotFound  = fmt.Errorf("strand not found")
	ErrMemoryStore     = fmt.Errorf("memory store failed")
	ErrConfigLoad      = fmt.Errorf("failed to load configuration")

	// Resilience errors surfaced by the reasoner adapter.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Store.CreateBooking")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "guide", "booking"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown         ErrorCode = "UNKNOWN"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeDuplicate       ErrorCode = "DUPLICATE"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeInvalidInput    ErrorCode = "INVALID_INPUT"
	CodeProviderError   ErrorCode = "PROVIDER_ERROR"
	CodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	CodeGuideNotFound   ErrorCode = "GUIDE_NOT_FOUND"
	CodeBookingConflict ErrorCode = "BOOKING_CONFLICT"
	CodeStrandNotFound  ErrorCode = "STRAND_NOT_FOUND"
	CodeMemoryStore     ErrorCode = "MEMORY_STORE"
	CodeConfigLoad      ErrorCode = "CONFIG_LOAD"
	CodeContextOverflow ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit       ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid     ErrorCode = "AUTH_INVALID"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:        CodeNotFound,
	ErrDuplicate:       CodeDuplicate,
	ErrTimeout:         CodeTimeout,
	ErrInvalidInput:    CodeInvalidInput,
	ErrProviderError:   CodeProviderError,
	ErrSessionNotFound: CodeSessionNotFound,
	ErrGuideNotFound:   CodeGuideNotFound,
	ErrBookingConflict: CodeBookingConflict,
	ErrStrandNotFound:  CodeStrandNotFound,
	ErrMemoryStore:     CodeMemoryStore,
	ErrConfigLoad:      CodeConfigLoad,
	ErrContextOverflow: CodeContextOverflow,
	ErrRateLimit:       CodeRateLimit,
	ErrAuthInvalid:     CodeAuthInvalid,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"guide":   CodeGuideNotFound,
		"session": CodeSessionNotFound,
		"strand":  CodeStrandNotFound,
	},
	ErrDuplicate: {
		"booking": CodeBookingConflict,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if de.SubSystem != "" {
			if subsysMap, ok := subSystemCodeMap[de.Err]; ok {
				if code, ok := subsysMap[de.SubSystem]; ok {
					return code
				}
			}
		}
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
