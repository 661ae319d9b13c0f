package domain

import (
	"errors"
	"fmt"
)

// Category sentinels — generic failure classes shared across subsystems.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// Sentinel errors for the domain layer.
var (
	// ErrDimensionMismatch is fatal: the store's committed vector dimension
	// differs from the one requested. Existing data is left untouched.
	ErrDimensionMismatch = fmt.Errorf("embedding dimension mismatch")

	// ErrEmbedderNotConfigured is returned per-operation when an
	// embedding-dependent call is made without a configured provider.
	ErrEmbedderNotConfigured = fmt.Errorf("embedding provider not configured")

	// ErrContentFlagged marks a soft rejection by the sanitizer.
	ErrContentFlagged = fmt.Errorf("content flagged by sanitizer")

	// ErrTxRetryable marks a transaction that failed mid-write and was
	// rolled back; the operation may be retried.
	ErrTxRetryable = fmt.Errorf("transaction failed, retryable")

	ErrVaultStore      = fmt.Errorf("vault store operation failed")
	ErrVaultSearch     = fmt.Errorf("vault search failed")
	ErrEmbeddingFailed = fmt.Errorf("embedding generation failed")
	ErrConfigLoad      = fmt.Errorf("failed to load configuration")
	ErrConsolidation   = fmt.Errorf("consolidation run failed")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "Vault.Save")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
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

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed
// on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrTxRetryable)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown               ErrorCode = "UNKNOWN"
	CodeNotFound              ErrorCode = "NOT_FOUND"
	CodeDuplicate             ErrorCode = "DUPLICATE"
	CodeInvalidInput          ErrorCode = "INVALID_INPUT"
	CodeDimensionMismatch     ErrorCode = "DIMENSION_MISMATCH"
	CodeEmbedderNotConfigured ErrorCode = "EMBEDDER_NOT_CONFIGURED"
	CodeContentFlagged        ErrorCode = "CONTENT_FLAGGED"
	CodeTxRetryable           ErrorCode = "TX_RETRYABLE"
	CodeVaultStore            ErrorCode = "VAULT_STORE"
	CodeVaultSearch           ErrorCode = "VAULT_SEARCH"
	CodeEmbeddingFailed       ErrorCode = "EMBEDDING_FAILED"
	CodeConfigLoad            ErrorCode = "CONFIG_LOAD"
	CodeConsolidation         ErrorCode = "CONSOLIDATION"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:              CodeNotFound,
	ErrDuplicate:             CodeDuplicate,
	ErrInvalidInput:          CodeInvalidInput,
	ErrDimensionMismatch:     CodeDimensionMismatch,
	ErrEmbedderNotConfigured: CodeEmbedderNotConfigured,
	ErrContentFlagged:        CodeContentFlagged,
	ErrTxRetryable:           CodeTxRetryable,
	ErrVaultStore:            CodeVaultStore,
	ErrVaultSearch:           CodeVaultSearch,
	ErrEmbeddingFailed:       CodeEmbeddingFailed,
	ErrConfigLoad:            CodeConfigLoad,
	ErrConsolidation:         CodeConsolidation,
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
