package rpc

import (
	"context"
	"time"
)

// Pool spreads calls over several independent channel pairs, allowing up to
// one call in flight per pair.
type Pool struct {
	clients []*Client
	idle    chan *Client
}

// NewPool creates a pool from clients, each owning a distinct channel pair.
func NewPool(clients ...*Client) *Pool {
	p := &Pool{clients: clients, idle: make(chan *Client, len(clients))}
	for _, c := range clients {
		p.idle <- c
	}
	return p
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return len(p.clients)
}

// Clients returns the clients in slot order.
func (p *Pool) Clients() []*Client {
	return p.clients
}

// Call waits for an idle slot and issues the call on it. The timeout covers
// the wait for the slot as well.
func (p *Pool) Call(ctx context.Context, opcode uint32, payload []byte, timeout time.Duration) (*Response, error) {
	if len(p.clients) == 0 {
		return nil, ErrNoSlots
	}
	if timeout <= 0 {
		timeout = p.clients[0].config.Timeout
	}
	deadline := time.Now().Add(timeout)
	var c *Client
	select {
	case c = <-p.idle:
	default:
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case c = <-p.idle:
		case <-timer.C:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	defer func() { p.idle <- c }()
	// a zero timeout would fall back to the client default.
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return nil, ErrTimeout
	}
	return c.Call(ctx, opcode, payload, remaining)
}

// Go starts a call in the background.
func (p *Pool) Go(ctx context.Context, opcode uint32, payload []byte, timeout time.Duration) *Call {
	return GoCall(opcode, payload, func() (*Response, error) {
		return p.Call(ctx, opcode, payload, timeout)
	})
}
