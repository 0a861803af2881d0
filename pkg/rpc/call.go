package rpc

import "context"

// Result is the outcome of a call started with Go.
type Result struct {
	Response *Response
	Err      error
}

// Call represents a call running in the background.
type Call struct {
	Opcode  uint32
	Payload []byte

	resultCh chan Result
}

func newCall(opcode uint32, payload []byte) *Call {
	return &Call{Opcode: opcode, Payload: payload, resultCh: make(chan Result, 1)}
}

// ResultChan returns the chan to retrieve result. Exactly one Result is delivered.
func (c *Call) ResultChan() <-chan Result {
	return c.resultCh
}

// Wait blocks until the result is available or ctx is done.
// Cancelling ctx here doesn't cancel the call itself.
func (c *Call) Wait(ctx context.Context) (*Response, error) {
	select {
	case r := <-c.resultCh:
		return r.Response, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Call) finish(rsp *Response, err error) {
	c.resultCh <- Result{Response: rsp, Err: err}
}

// GoCall runs fn in the background and delivers its outcome through a Call.
// It lets other Caller implementations offer Go on top of Call.
func GoCall(opcode uint32, payload []byte, fn func() (*Response, error)) *Call {
	call := newCall(opcode, payload)
	go func() {
		call.finish(fn())
	}()
	return call
}
