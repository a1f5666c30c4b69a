package kraken

import (
	"sync/atomic"
	"time"
)

// NonceSource yields strictly increasing nonces for private requests
type NonceSource interface {
	Next() int64
}

// MillisNonce is seeded from the wall clock in milliseconds and never repeats or goes backwards,
// even when requests are issued within the same millisecond.
type MillisNonce struct {
	last atomic.Int64
	now  func() time.Time
}

// NewMillisNonce creates a nonce source seeded from the current time
func NewMillisNonce() *MillisNonce {
	n := &MillisNonce{now: time.Now}
	n.last.Store(n.now().UnixMilli())
	return n
}

// Next returns max(last+1, now)
func (n *MillisNonce) Next() int64 {
	for {
		last := n.last.Load()
		next := last + 1
		if now := n.now().UnixMilli(); now > next {
			next = now
		}
		if n.last.CompareAndSwap(last, next) {
			return next
		}
	}
}
