package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrCustomerNotFound indicates the customer service has no record for the CPF.
	ErrCustomerNotFound = errors.New("gateway: customer not found")
	// ErrProductNotFound indicates the product service has no record for the SKU.
	ErrProductNotFound = errors.New("gateway: product not found")
	// ErrUnknownRemote covers remote failures outside the known taxonomy.
	ErrUnknownRemote = errors.New("gateway: unknown remote error")
)

// ConnectionError reports that a named remote service could not be reached,
// covering 503 responses and timed-out calls alike.
type ConnectionError struct {
	Service string
	Err     error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway: %s service unavailable: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("gateway: %s service unavailable", e.Service)
}

// Unwrap exposes the underlying cause.
func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err is a ConnectionError and returns it.
func IsConnectionError(err error) (*ConnectionError, bool) {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr, true
	}
	return nil, false
}
