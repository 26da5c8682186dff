package blaze

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a resource with the requested business
// identifier does not exist on the store.
var ErrNotFound = errors.New("resource not found")

// TransportError wraps a connection-level failure talking to the store. The
// sync engine distinguishes this kind from per-resource failures: a transport
// error aborts the remaining work of the current entity type's pass.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("blaze unreachable during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a connection-level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
