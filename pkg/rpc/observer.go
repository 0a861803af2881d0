package rpc

import "time"

// CallObserver receives client side events.
type CallObserver interface {
	CallDone(opcode uint32, status Status, err error, elapsed time.Duration)
	StaleFrame(seq uint32, abandoned bool)
}

// DispatchObserver receives target side events.
type DispatchObserver interface {
	Dispatched(opcode uint32, status Status, elapsed time.Duration)
}
