// Copyright 2024 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package promise provides a one-shot observable value used to report the
// eventual outcome of a packet sent on an XMPP stream.
//
// A Promise is not safe for concurrent resolution by multiple goroutines; in
// the single-threaded cooperative executor model used by the rest of this
// module, a Promise is always resolved from the same goroutine that owns the
// stream, so no locking is required.
package promise // import "git.sr.ht/~wire/xmpp/promise"

// SendResult is the completion value of a Promise for a raw (non-IQ) packet.
type SendResult struct {
	// Acknowledged reports whether the peer has confirmed receipt of the
	// packet via Stream Management. It is always false when Stream
	// Management is not enabled; in that case the promise resolves as soon
	// as the packet has been written to the socket.
	Acknowledged bool
}

// A Promise is a one-shot container for the eventual result of sending a
// packet. The zero value is not usable; call New to create one.
//
// Callers may attach a single continuation with Then, or block on Wait. Only
// one of Then or Wait should be used for a given Promise.
type Promise[T any] struct {
	done chan struct{}
	val  T
	err  error
	then func(T, error)
}

// New returns a new, unresolved Promise.
func New[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Resolve completes the promise successfully with val. Resolve must be
// called at most once; subsequent calls are no-ops.
func (p *Promise[T]) Resolve(val T) {
	select {
	case <-p.done:
		return
	default:
	}
	p.val = val
	close(p.done)
	if p.then != nil {
		p.then(p.val, nil)
	}
}

// Reject completes the promise with an error. Reject must be called at most
// once; subsequent calls are no-ops.
func (p *Promise[T]) Reject(err error) {
	select {
	case <-p.done:
		return
	default:
	}
	p.err = err
	close(p.done)
	if p.then != nil {
		p.then(p.val, p.err)
	}
}

// Then registers a continuation to be called when the promise resolves or
// rejects. If the promise has already completed, fn is called immediately.
// Only the most recently registered continuation is retained.
func (p *Promise[T]) Then(fn func(T, error)) {
	select {
	case <-p.done:
		fn(p.val, p.err)
		return
	default:
	}
	p.then = fn
}

// Wait blocks until the promise resolves or rejects and returns its value.
// It is intended for use from a dedicated goroutine awaiting a result (eg.
// in a test, or a caller that opts out of the cooperative executor model by
// bridging with a channel of its own); the core state machine itself uses
// Then so that it never blocks the executor goroutine.
func (p *Promise[T]) Wait() (T, error) {
	<-p.done
	return p.val, p.err
}

// Done reports whether the promise has resolved or rejected.
func (p *Promise[T]) Done() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
