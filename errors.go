package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is matched by every ConfigurationError.
	ErrConfiguration = errors.New("pipeline: invalid configuration")

	// ErrInvalidMiddleware is matched by every InvalidMiddlewareError.
	ErrInvalidMiddleware = errors.New("pipeline: invalid middleware")
)

// ConfigurationError reports a final handler that is neither a
// RequestHandler nor a callable handler function.
type ConfigurationError struct {
	Value any
}

func (e *ConfigurationError) Error() string {
	if e.Value == nil {
		return "pipeline: final handler is nil"
	}
	return fmt.Sprintf("pipeline: final handler of type %T is not a RequestHandler or handler func", e.Value)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// InvalidMiddlewareError reports an entry that does not implement
// Middleware. Index is the entry's position in the chain or, for
// AddMultiple, in the list passed in.
type InvalidMiddlewareError struct {
	Index int
	Value any
}

func (e *InvalidMiddlewareError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("pipeline: middleware at index %d is nil", e.Index)
	}
	return fmt.Sprintf("pipeline: middleware at index %d has type %T, which does not implement Middleware", e.Index, e.Value)
}

func (e *InvalidMiddlewareError) Is(target error) bool {
	return target == ErrInvalidMiddleware
}
