package rpc

import "fmt"

// Status is the result code carried in a response frame.
type Status uint32

// Status codes.
const (
	StatusOK               Status = 0
	StatusHandlerError     Status = 1
	StatusUnknownOpcode    Status = 2
	StatusMalformed        Status = 3
	StatusResponseTooLarge Status = 4

	// StatusUser is the first status handlers may define with NewCommandError.
	StatusUser Status = 0x100
)

var statusNames = map[Status]string{
	StatusOK:               "ok",
	StatusHandlerError:     "handler-error",
	StatusUnknownOpcode:    "unknown-opcode",
	StatusMalformed:        "malformed",
	StatusResponseTooLarge: "response-too-large",
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	if s >= StatusUser {
		return fmt.Sprintf("user-%#x", uint32(s))
	}
	return fmt.Sprintf("status-%d", uint32(s))
}

// CommandError is a non-OK status reported by the target.
type CommandError struct {
	Status  Status
	Message string
}

// NewCommandError creates a handler error with an application defined status.
// Codes below StatusUser are reported as StatusHandlerError.
func NewCommandError(status Status, message string) *CommandError {
	return &CommandError{Status: status, Message: message}
}

// Error implements error.
func (e *CommandError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("command error %s", e.Status)
	}
	return fmt.Sprintf("command error %s: %s", e.Status, e.Message)
}

// Response is a decoded response frame matching a call.
type Response struct {
	Sequence uint32
	Status   Status
	Data     []byte
}

// Err converts a non-OK status into a *CommandError.
func (r *Response) Err() error {
	if r.Status == StatusOK {
		return nil
	}
	return &CommandError{Status: r.Status, Message: string(r.Data)}
}
