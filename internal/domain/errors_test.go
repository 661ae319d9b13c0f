package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainErrorFormat(t *testing.T) {
	withDetail := NewDomainError("Vault.Save", ErrInvalidInput, "importance 1.5 out of [0,1]")
	if got := withDetail.Error(); got != "Vault.Save: importance 1.5 out of [0,1]: invalid input" {
		t.Errorf("Error() = %q", got)
	}

	bare := NewDomainError("Vault.Recall", ErrNotFound, "")
	if got := bare.Error(); got != "Vault.Recall: not found" {
		t.Errorf("Error() = %q", got)
	}

	if !errors.Is(withDetail, ErrInvalidInput) {
		t.Error("DomainError does not unwrap to its sentinel")
	}
}

func TestWrapOp(t *testing.T) {
	if WrapOp("op", nil) != nil {
		t.Error("WrapOp(nil) should be nil")
	}
	err := WrapOp("Vault.Forget", ErrEmbedderNotConfigured)
	if !errors.Is(err, ErrEmbedderNotConfigured) {
		t.Errorf("wrapped err = %v, lost sentinel", err)
	}
}

func TestIsRetryableError(t *testing.T) {
	wrapped := fmt.Errorf("%w: commit: disk full", ErrTxRetryable)
	if !IsRetryableError(wrapped) {
		t.Error("wrapped ErrTxRetryable should be retryable")
	}
	if IsRetryableError(ErrVaultStore) {
		t.Error("ErrVaultStore is not retryable")
	}
	if IsRetryableError(nil) {
		t.Error("nil is not retryable")
	}
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"bare sentinel", ErrDimensionMismatch, CodeDimensionMismatch},
		{"wrapped sentinel", fmt.Errorf("%w: store committed to 768, got 1536", ErrDimensionMismatch), CodeDimensionMismatch},
		{"domain error", NewDomainError("Vault.Save", ErrContentFlagged, "api key"), CodeContentFlagged},
		{"op-wrapped chain", WrapOp("Vault.Recall", fmt.Errorf("%w: x", ErrEmbeddingFailed)), CodeEmbeddingFailed},
		{"duplicate", fmt.Errorf("%w: record \"r1\" already stored", ErrDuplicate), CodeDuplicate},
		{"config", fmt.Errorf("%w: parse config: yaml", ErrConfigLoad), CodeConfigLoad},
		{"unrelated", errors.New("boom"), CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCodeOf(tt.err); got != tt.want {
				t.Errorf("ErrorCodeOf(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
