package rpc

import "errors"

var (
	// ErrTimeout indicates no matching response arrived before the deadline.
	// The call is abandoned; its late response will be discarded.
	ErrTimeout = errors.New("timeout")
	// ErrDuplicateOpcode indicates the opcode already has a handler.
	ErrDuplicateOpcode = errors.New("opcode already registered")
	// ErrRegistrationClosed indicates handlers can't be registered once polling started.
	ErrRegistrationClosed = errors.New("registration closed")
	// ErrNoSlots indicates a pool was created without clients.
	ErrNoSlots = errors.New("no call slots")
)
