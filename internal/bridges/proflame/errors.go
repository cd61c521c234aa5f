package proflame

import "errors"

// Domain errors for the Proflame bridge package.
var (
	// ErrConnectionFailed is returned when dialling the fireplace fails.
	ErrConnectionFailed = errors.New("proflame: connection to fireplace failed")

	// ErrClientClosed is returned by operations on a closed client.
	ErrClientClosed = errors.New("proflame: client closed")

	// ErrAlreadyOpen is returned when Open is called twice.
	ErrAlreadyOpen = errors.New("proflame: client already open")

	// ErrUnknownAttribute is returned for keys outside the attribute catalog.
	ErrUnknownAttribute = errors.New("proflame: unknown attribute")

	// ErrNotAnObject is returned when an inbound JSON frame is not an object.
	ErrNotAnObject = errors.New("proflame: delta payload is not an object")

	// ErrInvalidValue is returned when an inbound delta carries a value that
	// is not an integer.
	ErrInvalidValue = errors.New("proflame: delta value is not an integer")

	// ErrHandshakeFailed is returned by Probe when the device does not answer
	// the handshake with the expected acknowledgement.
	ErrHandshakeFailed = errors.New("proflame: handshake not acknowledged")

	// ErrQueueClosed is returned by the command queue after Close.
	ErrQueueClosed = errors.New("proflame: command queue closed")

	// ErrInvalidCommand is returned for unknown or malformed semantic commands.
	ErrInvalidCommand = errors.New("proflame: invalid command")

	// ErrInvalidParameter is returned when a command parameter is missing or
	// has the wrong type.
	ErrInvalidParameter = errors.New("proflame: invalid command parameter")
)
