// Copyright 2024 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package iqcorrelate implements the request/response correlation rule used
// to match an inbound IQ result or error (or an error message/presence) back
// to the pending request it answers, per RFC 6121 §8.2.3: the response's
// stanza id must match a request the session is waiting on, and its "from"
// must equal the bare JID the request was sent to, or be absent entirely
// when the request was implicitly addressed to the user's own account.
package iqcorrelate // import "git.sr.ht/~wire/xmpp/iqcorrelate"

import (
	"sync"

	"git.sr.ht/~wire/xmpp/jid"
)

// Correlator tracks requests pending a response, keyed by stanza id, and
// resolves inbound stanzas against them.
//
// The zero value is ready to use.
//
// A Correlator is safe for concurrent use by multiple goroutines.
type Correlator[T any] struct {
	mu   sync.Mutex
	reqs map[string]entry[T]
}

type entry[T any] struct {
	recipient jid.JID
	val       T
}

// Register records a pending request with the given id, expecting a
// response from to, the stanza's own "to" address. If to is the zero JID
// (the stanza had no "to"), the recipient is taken to be self, the bare JID
// of the session's own account, per the API-boundary default used
// throughout this module.
//
// Register overwrites any existing registration for id; callers are
// expected to generate unique ids.
func (c *Correlator[T]) Register(id string, to, self jid.JID, val T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reqs == nil {
		c.reqs = make(map[string]entry[T])
	}
	recipient := to.Bare()
	if recipient.IsZero() {
		recipient = self.Bare()
	}
	c.reqs[id] = entry[T]{recipient: recipient, val: val}
}

// Forget removes the pending request for id, if any, without resolving it.
// Callers use this when a request is abandoned, eg. its context is
// canceled before a response arrives.
func (c *Correlator[T]) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.reqs, id)
}

// Resolve looks up the pending request for id and checks whether from is an
// acceptable sender for it. self is the bare JID of the session's own
// account, used to validate responses whose request had no explicit "to".
//
// pending reports whether id names a request the Correlator is waiting on at
// all; if pending is false, the stanza isn't a response this Correlator
// should care about and the caller should fall through to normal stanza
// handling.
//
// If pending is true but ok is false, id is a request the Correlator is
// waiting on, but from failed verification against the recorded recipient
// (a misdirected or spoofed response): the request is left registered so
// that a later, legitimate response can still resolve it, and the caller
// should log a warning and otherwise ignore the stanza rather than routing
// it anywhere.
//
// If both are true, the request is resolved: it is removed from the
// pending set and val is the value passed to Register.
func (c *Correlator[T]) Resolve(id string, from, self jid.JID) (val T, pending, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, exists := c.reqs[id]
	if !exists {
		return val, false, false
	}
	if !matches(from, e.recipient, self) {
		return val, true, false
	}
	delete(c.reqs, id)
	return e.val, true, true
}

// matches reports whether a response from the given sender may be accepted
// as answering a request sent to recipient (already normalized to a bare
// JID, defaulting to self when the request had no explicit "to").
func matches(from, recipient, self jid.JID) bool {
	if from.IsZero() {
		return recipient.BareEqual(self)
	}
	return from.BareEqual(recipient)
}

// Len reports the number of requests currently pending a response.
func (c *Correlator[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reqs)
}
