package transform

import (
	"errors"
	"fmt"
)

// ErrSingular is matched by every *SingularTransformError.
var ErrSingular = errors.New("transform: singular linear part")

// SingularTransformError is returned when a transform whose linear part is
// not invertible is asked for its inverse.
type SingularTransformError struct {
	// Det is the determinant of the offending linear part.
	Det float64
	// Err is the underlying numerical error reported by gonum, if any.
	Err error
}

func (e *SingularTransformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transform: cannot invert singular matrix (det=%g): %v", e.Det, e.Err)
	}
	return fmt.Sprintf("transform: cannot invert singular matrix (det=%g)", e.Det)
}

// Is makes errors.Is(err, ErrSingular) true.
func (e *SingularTransformError) Is(target error) bool {
	return target == ErrSingular
}

func (e *SingularTransformError) Unwrap() error {
	return e.Err
}
