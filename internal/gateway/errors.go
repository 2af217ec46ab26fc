package gateway

import "fmt"

// APIError is a well-formed envelope with success=false. Message is the
// backend's own wording and is shown to users unchanged.
type APIError struct {
	Path    string
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// TransportError covers everything short of a readable envelope: network
// failures, timeouts, non-2xx responses and malformed JSON. Status is zero
// when no response was received.
type TransportError struct {
	Path   string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway %s: status %d", e.Path, e.Status)
	}
	return fmt.Sprintf("gateway %s: %v", e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
