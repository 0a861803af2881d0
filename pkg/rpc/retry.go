package rpc

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/golang/glog"
)

// RetryPolicy configures CallWithRetry. Only timeouts are retried: a
// delivered response, even a failing one, is final.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryPolicy is a conservative policy.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:     3,
	InitialDelay: 10 * time.Millisecond,
	MaxDelay:     time.Second,
	Multiplier:   2,
}

// Delay returns the pause before attempt n (1-based, the first retry is 2).
func (p RetryPolicy) Delay(n int, rng *rand.Rand) time.Duration {
	if n <= 2 || p.InitialDelay <= 0 {
		return p.InitialDelay
	}
	mul := p.Multiplier
	if mul < 1 {
		mul = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(mul, float64(n-2))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		f := 0.5
		if rng != nil {
			f += rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// CallWithRetry repeats a call which timed out. Each attempt is a fresh call
// with a new sequence.
func CallWithRetry(ctx context.Context, c Caller, opcode uint32, payload []byte, timeout time.Duration, policy RetryPolicy) (*Response, error) {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for n := 1; ; n++ {
		rsp, err := c.Call(ctx, opcode, payload, timeout)
		if err == nil || !errors.Is(err, ErrTimeout) || n >= attempts {
			return rsp, err
		}
		delay := policy.Delay(n+1, rng)
		glog.V(1).Infof("rpc: opcode %#x attempt %d timed out, retry in %s", opcode, n, delay)
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
}
