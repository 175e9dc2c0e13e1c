package beam

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every *ConfigurationError.
var ErrConfiguration = errors.New("beam: invalid configuration")

// ConfigurationError reports a beam whose parameters violate an invariant.
// It is raised when the beam is built so that inconsistent settings never
// reach the dose engine.
type ConfigurationError struct {
	// Field names the offending parameter.
	Field string
	// Reason describes the violation.
	Reason string
	// Err is an underlying cause, if any.
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("beam: invalid %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("beam: invalid %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrConfiguration) true.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configErr(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
