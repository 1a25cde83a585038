package discovery

import "errors"

// Package-level sentinel errors for discovery operations.
var (
	// ErrClosed is returned when an operation is attempted on a closed component.
	ErrClosed = errors.New("discovery: closed")

	// ErrAlreadyStarted is returned when starting an already-started advertisement.
	ErrAlreadyStarted = errors.New("discovery: already started")

	// ErrNotStarted is returned when stopping an advertisement that was not started.
	ErrNotStarted = errors.New("discovery: not started")

	// ErrInvalidLabel is returned when the label exceeds MaxLabelLength.
	ErrInvalidLabel = errors.New("discovery: label too long")

	// ErrServiceNotFound is returned when a requested instance is not found.
	ErrServiceNotFound = errors.New("discovery: service not found")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("discovery: operation timed out")

	// ErrInvalidTXTRecord is returned when a TXT record is missing or malformed.
	ErrInvalidTXTRecord = errors.New("discovery: invalid TXT record")

	// ErrIDMismatch is returned when a TXT record names a different device
	// than the instance was resolved for.
	ErrIDMismatch = errors.New("discovery: device id does not match instance")
)
