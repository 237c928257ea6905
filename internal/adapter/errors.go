package adapter

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a provider failure.
type ErrorCode string

const (
	ErrEmptyInput        ErrorCode = "empty-input"
	ErrInputTooLong      ErrorCode = "input-too-long"
	ErrAuthInvalid       ErrorCode = "auth-invalid"
	ErrRateLimited       ErrorCode = "rate-limited"
	ErrDimensionMismatch ErrorCode = "dimension-mismatch"
	ErrProvider          ErrorCode = "provider-error"
)

// ProviderError wraps a failure from an external provider with a stable code.
type ProviderError struct {
	Provider string
	Code     ErrorCode
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Code, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether retrying the call may succeed. Rate limits and
// unclassified provider failures (timeouts, 5xx) are retryable; auth and
// input problems are not.
func (e *ProviderError) Transient() bool {
	switch e.Code {
	case ErrRateLimited, ErrProvider:
		return true
	}
	return false
}

// providerErr builds a ProviderError.
func providerErr(provider string, code ErrorCode, err error) *ProviderError {
	return &ProviderError{Provider: provider, Code: code, Err: err}
}

// IsTransient reports whether err is a transient provider failure. Errors
// that are not ProviderErrors are treated as transient (network-level failures
// from the HTTP client arrive unwrapped).
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return true
}

// checkEmbedInput validates embed inputs before any network call.
func checkEmbedInput(provider string, texts []string) error {
	if len(texts) == 0 {
		return providerErr(provider, ErrEmptyInput, errors.New("no texts to embed"))
	}
	for _, t := range texts {
		if t == "" {
			return providerErr(provider, ErrEmptyInput, errors.New("empty text in batch"))
		}
	}
	return nil
}

// checkEmbedDimension verifies every returned vector matches the expected
// dimension (0 = unknown, skip the check).
func checkEmbedDimension(provider string, want int, vecs [][]float32) error {
	if want == 0 {
		return nil
	}
	for _, v := range vecs {
		if len(v) != want {
			return providerErr(provider, ErrDimensionMismatch,
				fmt.Errorf("expected %d dimensions, got %d", want, len(v)))
		}
	}
	return nil
}
