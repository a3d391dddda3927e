package transport

import "errors"

var (
	// ErrUnknownConn is returned for a connection id that is not tracked.
	ErrUnknownConn = errors.New("unknown connection")

	// ErrConnClosed is returned when emitting to a closed connection.
	ErrConnClosed = errors.New("connection closed")

	// ErrSlowConsumer is returned when a connection's send queue is full.
	// The connection is closed.
	ErrSlowConsumer = errors.New("connection send queue full")

	// ErrServerClosed is returned by operations after Shutdown.
	ErrServerClosed = errors.New("transport server closed")
)
