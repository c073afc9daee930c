package ws

import (
	"errors"
	"fmt"
)

var (
	// ErrClientClosed is returned when sending to a connection that already ended
	ErrClientClosed = errors.New("ws: client closed")

	// ErrSendQueueFull is returned when a slow client's write queue is full
	ErrSendQueueFull = errors.New("ws: send queue full")

	// ErrNoTransport is returned for a participant without a transport
	ErrNoTransport = errors.New("ws: participant has no transport")
)

type transportPanic struct {
	value any
}

func (e *transportPanic) Error() string {
	return fmt.Sprintf("ws: transport panicked: %v", e.value)
}
