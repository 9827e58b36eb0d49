package types

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientProvider marks network, rate-limit and other provider
	// failures that a caller may retry or degrade around.
	ErrTransientProvider = errors.New("transient provider error")

	// ErrContentTooLarge means the input exceeds the model's token budget.
	// Callers should re-chunk smaller rather than retry.
	ErrContentTooLarge = errors.New("content too large")

	// ErrConfiguration indicates an integration mistake such as a missing
	// namespace or unknown model. It is never degraded around.
	ErrConfiguration = errors.New("configuration error")
)

// ProviderError wraps a failure returned by an external provider together
// with its classification.
type ProviderError struct {
	Provider string
	Op       string
	Kind     error
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v: %v", e.Provider, e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the classification sentinel and the cause.
func (e *ProviderError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Configf returns an ErrConfiguration with a formatted message.
func Configf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
