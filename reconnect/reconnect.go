// Copyright 2024 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package reconnect implements the backoff and retry policy for
// re-establishing a dropped XMPP session.
package reconnect // import "git.sr.ht/~wire/xmpp/reconnect"

import (
	"context"
	"errors"
	"sync"
	"time"

	"git.sr.ht/~wire/xmpp"
	"git.sr.ht/~wire/xmpp/stream"
)

// Backoff schedule, keyed by the number of consecutive failed attempts.
const (
	backoffLow    = 10 * time.Second
	backoffMedium = 20 * time.Second
	backoffHigh   = 40 * time.Second
	backoffMax    = 60 * time.Second

	// keepAliveBackoff is used in place of the normal schedule after a
	// xmpp.KeepAliveError, since a stalled connection is usually a
	// transient network hiccup rather than something that needs a long
	// cool-down.
	keepAliveBackoff = time.Second
)

// Reconnector tracks the number of consecutive failed (re)connection
// attempts and decides how long to wait before the next one, or whether to
// give up entirely.
//
// The zero value is ready to use.
//
// A Reconnector is safe for concurrent use by multiple goroutines.
type Reconnector struct {
	mu    sync.Mutex
	tries int
}

// New returns a Reconnector with no failed attempts recorded.
func New() *Reconnector {
	return &Reconnector{}
}

// Ready resets the failed-attempt count. Call it once a session reaches
// xmpp.Ready; the backoff schedule restarts from its first step the next
// time Next is called after a subsequent failure.
func (r *Reconnector) Ready() {
	r.mu.Lock()
	r.tries = 0
	r.mu.Unlock()
}

// Next reports how long to wait before the next connection attempt, given
// the error from the one that just failed (nil is treated as "no error yet",
// eg. before the very first attempt). retry is false if err indicates the
// server itself is refusing this identity a second stream (a resource
// conflict), in which case further attempts would only be refused the same
// way and the caller should stop.
func (r *Reconnector) Next(err error) (wait time.Duration, retry bool) {
	var kaErr xmpp.KeepAliveError
	if errors.As(err, &kaErr) {
		return keepAliveBackoff, true
	}

	var streamErr stream.Error
	if errors.As(err, &streamErr) && streamErr.Err == stream.Conflict.Err {
		return 0, false
	}

	r.mu.Lock()
	r.tries++
	tries := r.tries
	r.mu.Unlock()

	switch {
	case tries < 5:
		return backoffLow, true
	case tries < 10:
		return backoffMedium, true
	case tries < 15:
		return backoffHigh, true
	default:
		return backoffMax, true
	}
}

// Dial attempts to establish a new session, by calling connect, until it
// succeeds, ctx is canceled, or Next reports that the error returned isn't
// worth retrying (eg. a resource conflict). On success the Reconnector's
// failed-attempt count is reset and the new session is returned; connect is
// responsible for constructing that attempt's feature list (letting it
// differ between a fresh connect and a resumption attempt).
func (r *Reconnector) Dial(ctx context.Context, connect func(ctx context.Context) (*xmpp.Session, error)) (*xmpp.Session, error) {
	var lastErr error
	for {
		session, err := connect(ctx)
		if err == nil {
			r.Ready()
			return session, nil
		}
		lastErr = err

		wait, retry := r.Next(err)
		if !retry {
			return nil, lastErr
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Run keeps a session alive: it dials with Dial, then calls serve with the
// resulting session and blocks until serve returns (ordinarily because the
// session's Serve loop exited, eg. on a dropped connection). If serve
// returns a non-nil error, Run dials again following the backoff schedule,
// until ctx is canceled or Next refuses to retry.
func (r *Reconnector) Run(ctx context.Context, connect func(ctx context.Context) (*xmpp.Session, error), serve func(*xmpp.Session) error) error {
	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		session, err := r.Dial(ctx, connect)
		if err != nil {
			return err
		}

		lastErr = serve(session)
		if lastErr == nil {
			return nil
		}

		wait, retry := r.Next(lastErr)
		if !retry {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
