package helpers

import (
	"errors"
	"fmt"
	"sync"

	"rtrader-bridge/src/logger"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type BridgeError struct {
	Message string
	Cause   error
}

func (e *BridgeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *BridgeError) Unwrap() error {
	return e.Cause
}

type ConfigurationError struct{ BridgeError }
type NetworkError struct{ BridgeError }
type ProtocolError struct{ BridgeError }
type StorageError struct{ BridgeError }
type ValidationError struct{ BridgeError }

// -----------------------------------------------------------------------------

func NewNetworkError(msg string, cause error) error {
	return &NetworkError{BridgeError{Message: msg, Cause: cause}}
}

func NewProtocolError(msg string, cause error) error {
	return &ProtocolError{BridgeError{Message: msg, Cause: cause}}
}

func NewStorageError(msg string, cause error) error {
	return &StorageError{BridgeError{Message: msg, Cause: cause}}
}

func NewConfigurationError(msg string, cause error) error {
	return &ConfigurationError{BridgeError{Message: msg, Cause: cause}}
}

func NewValidationError(msg string) error {
	return &ValidationError{BridgeError{Message: msg}}
}

// -----------------------------------------------------------------------------

// Kind names the error category for logs and API responses.
func Kind(err error) string {
	var (
		netErr   *NetworkError
		protoErr *ProtocolError
		storeErr *StorageError
		confErr  *ConfigurationError
		valErr   *ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &protoErr):
		return "protocol"
	case errors.As(err, &storeErr):
		return "storage"
	case errors.As(err, &confErr):
		return "configuration"
	case errors.As(err, &valErr):
		return "validation"
	}
	return "internal"
}

// -----------------------------------------------------------------------------
// Error Handler
// -----------------------------------------------------------------------------

// ErrorHandler logs failures at an operation boundary and counts them per
// category. It never retries: callers move on to the next candidate.
type ErrorHandler struct {
	Logger *logger.Logger

	mu     sync.Mutex
	counts map[string]int
}

func NewErrorHandler(log *logger.Logger) *ErrorHandler {
	if log == nil {
		log = logger.NewLogger(nil, "ErrorHandler")
	}
	return &ErrorHandler{
		Logger: log,
		counts: make(map[string]int),
	}
}

// -----------------------------------------------------------------------------

// Handle logs err with its context and reports whether there was an error.
func (e *ErrorHandler) Handle(err error, context string) bool {
	if err == nil {
		return false
	}
	kind := Kind(err)

	e.mu.Lock()
	e.counts[kind]++
	e.mu.Unlock()

	e.Logger.Error("%s error in %s: %v", kind, context, err)
	return true
}

// -----------------------------------------------------------------------------

func (e *ErrorHandler) Counts() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]int, len(e.counts))
	for k, v := range e.counts {
		out[k] = v
	}
	return out
}

// -----------------------------------------------------------------------------

func (e *ErrorHandler) ResetErrorCount() {
	e.mu.Lock()
	e.counts = make(map[string]int)
	e.mu.Unlock()
}
