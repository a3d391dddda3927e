package gateway

import "errors"

// Sentinel errors for gateway operations.
var (
	// ErrAlreadyStarted indicates that Start was called on a gateway that
	// has left the unbound state.
	ErrAlreadyStarted = errors.New("gateway already started")

	// ErrNotRunning indicates that the gateway is not accepting
	// connections when a stop operation is attempted.
	ErrNotRunning = errors.New("gateway is not running")

	// ErrNilConfig indicates that a nil configuration was provided.
	ErrNilConfig = errors.New("configuration is required")

	// ErrNilHandler indicates that no application handler was provided.
	ErrNilHandler = errors.New("application handler is required")
)
