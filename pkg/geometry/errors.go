package geometry

import (
	"errors"
	"fmt"
)

// ErrImport is matched by every *ImportError.
var ErrImport = errors.New("geometry: import failed")

// ImportError reports a series that could not be located, read or
// converted. It is always returned to the caller; retrying with another
// series is the caller's decision.
type ImportError struct {
	// Dir is the directory that was scanned.
	Dir string
	// SeriesID is the selected series, empty if selection did not happen.
	SeriesID string
	// Op names the failing phase: "scan", "select", "load" or "convert".
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *ImportError) Error() string {
	if e.SeriesID != "" {
		return fmt.Sprintf("import %s: %s series %s: %v", e.Dir, e.Op, e.SeriesID, e.Err)
	}
	return fmt.Sprintf("import %s: %s: %v", e.Dir, e.Op, e.Err)
}

// Is makes errors.Is(err, ErrImport) true.
func (e *ImportError) Is(target error) bool {
	return target == ErrImport
}

func (e *ImportError) Unwrap() error {
	return e.Err
}
