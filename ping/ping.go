// Copyright 2016 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

// Package ping implements XEP-0199: XMPP Ping.
package ping

import (
	"context"
	"encoding/xml"
	"sync"
	"time"

	"mellium.im/xmlstream"
	"git.sr.ht/~wire/xmpp"
	"git.sr.ht/~wire/xmpp/internal/ns"
	"git.sr.ht/~wire/xmpp/stanza"
)

// NS is the ping namespace.
const NS = ns.Ping

// IQ is a ping request or (empty) response, as defined in XEP-0199.
type IQ struct {
	stanza.IQ

	Ping struct{} `xml:"urn:xmpp:ping ping"`
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (iq IQ) TokenReader() xml.TokenReader {
	return iq.Wrap(xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: NS, Local: "ping"}}))
}

// WriteXML satisfies the xmlstream.WriterTo interface.
func (iq IQ) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, iq.TokenReader())
}

// Handler responds to incoming ping IQs with an empty result, satisfying
// mux.IQHandler.
type Handler struct{}

// HandleIQ implements mux.IQHandler.
func (Handler) HandleIQ(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	if iq.Type != stanza.GetIQ {
		return nil
	}
	_, err := xmlstream.Copy(t, iq.Result(nil))
	return err
}

// Keeper periodically pings the server to detect a dead connection
// (XEP-0199). Reset should be called every time the session successfully
// reads a byte off the wire; Run blocks, pinging the server domain whenever
// the stream has been idle for Interval, and closing the session with a
// xmpp.KeepAliveError if no response arrives within Timeout of the ping
// being sent.
type Keeper struct {
	// Interval is how long the stream may sit idle before a ping is sent.
	Interval time.Duration
	// Timeout is how long to wait for a reply after a ping is sent before
	// considering the connection dead.
	Timeout time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewKeeper creates a Keeper with the given idle interval and response
// timeout.
func NewKeeper(interval, timeout time.Duration) *Keeper {
	return &Keeper{Interval: interval, Timeout: timeout}
}

// Reset records that traffic was just seen on the stream, postponing the
// next ping.
func (k *Keeper) Reset() {
	k.mu.Lock()
	k.last = time.Now()
	k.mu.Unlock()
}

// Run blocks, periodically pinging s and resetting the idle timer on every
// reply, until ctx is canceled or a ping goes unanswered for longer than
// Timeout, in which case the session is closed and a xmpp.KeepAliveError
// returned.
func (k *Keeper) Run(ctx context.Context, s *xmpp.Session) error {
	k.Reset()
	ticker := time.NewTicker(k.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			k.mu.Lock()
			idle := time.Since(k.last)
			k.mu.Unlock()
			if idle < k.Interval {
				continue
			}
			pingCtx, cancel := context.WithTimeout(ctx, k.Timeout)
			rc, err := s.EncodeIQ(pingCtx, IQ{IQ: stanza.IQ{Type: stanza.GetIQ, To: s.RemoteAddr().Domain()}})
			cancel()
			if rc != nil {
				rc.Close()
			}
			if err != nil {
				if closeErr := s.Close(); closeErr != nil {
					return closeErr
				}
				return xmpp.KeepAliveError{}
			}
			k.Reset()
		}
	}
}
