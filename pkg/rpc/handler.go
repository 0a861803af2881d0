package rpc

import "context"

// Handler serves one opcode on the target. It runs synchronously inside
// Dispatcher.Poll and must not block indefinitely.
//
// A nil error yields StatusOK with the returned data. A *CommandError yields
// its status (if at least StatusUser) and message, any other error yields
// StatusHandlerError with the error text.
type Handler interface {
	HandleCommand(ctx context.Context, payload []byte) ([]byte, error)
}

// HandlerFunc is func type of Handler.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// HandleCommand implements Handler.
func (f HandlerFunc) HandleCommand(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}
