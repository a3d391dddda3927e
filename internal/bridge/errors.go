package bridge

import "errors"

var (
	// ErrConnect is wrapped by every failure of Connect.
	ErrConnect = errors.New("pub/sub bridge connect failed")

	// ErrClosed is returned by operations on a closed bridge.
	ErrClosed = errors.New("pub/sub bridge closed")

	// ErrAlreadyInstalled is returned when Install is called twice.
	ErrAlreadyInstalled = errors.New("pub/sub bridge already installed")

	// ErrNilTarget is returned by Install without a target.
	ErrNilTarget = errors.New("pub/sub bridge target is nil")
)
