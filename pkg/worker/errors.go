package worker

import "fmt"

// UnsupportedFormatError is returned for an unknown load or transfer format.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file format: %q", e.Format)
}

// UnknownMethodError is returned for a request method with no handler.
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return "unknown method: " + e.Method
}
