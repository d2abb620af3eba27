// Copyright 2024 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package sm implements XEP-0198: Stream Management, which assigns a
// sequence number to every stanza sent over a stream, acknowledges the
// sequence numbers the peer has seen, and allows a dropped TCP connection to
// be resumed without losing track of what was and wasn't delivered.
package sm // import "git.sr.ht/~wire/xmpp/sm"

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"sync"

	"mellium.im/xmlstream"
	"git.sr.ht/~wire/xmpp"
	"git.sr.ht/~wire/xmpp/internal/ns"
	"git.sr.ht/~wire/xmpp/promise"
	"git.sr.ht/~wire/xmpp/stream"
)

// NS is the Stream Management namespace.
const NS = ns.SM

// queued is an outbound stanza that has been written but not yet
// acknowledged; tokens is the whole stanza (start through end) so that it can
// be replayed verbatim after a successful resumption.
type queued struct {
	seq    uint32
	tokens []xml.Token
	p      *promise.Promise[promise.SendResult]
}

// Manager implements Stream Management for a session: it assigns an
// outgoing sequence number to every stanza sent through Send, counts
// inbound stanzas, answers and issues acknowledgment requests, and (when the
// peer supports it) lets a later reconnect resume the stream instead of
// starting a new one.
//
// The zero value is not usable; call NewManager. A single Manager is meant
// to be constructed once and reused across an application's reconnect loop,
// since its stream management id (and any stanzas still awaiting an
// acknowledgment) must survive the socket that negotiated it.
//
// A Manager is safe for concurrent use by multiple goroutines.
type Manager struct {
	mu sync.Mutex

	enabled   bool
	resumable bool
	id        string

	outgoing uint32
	incoming uint32
	unacked  []queued
}

// NewManager creates a Manager with no active session and no resumption
// state.
func NewManager() *Manager {
	return &Manager{}
}

// Enabled reports whether Stream Management is currently active on the
// session that last negotiated this Manager's Feature.
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// ID returns the stream management id granted by <enabled/> or <resumed/>,
// or the empty string if none has been granted or the last attempt to
// resume failed.
func (m *Manager) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Pending returns the number of stanzas sent through Send that are still
// awaiting an acknowledgment.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.unacked)
}

// Feature returns a stream feature that negotiates Stream Management after
// authentication. If a prior session left a resumable id on m, Feature
// attempts to resume that stream instead of enabling a new one: on success
// it grants xmpp.Ready and xmpp.Bound directly (skipping resource binding
// entirely, per RFC 6121), replaying any stanzas the peer never
// acknowledged; on failure it clears the stored id and reports no state
// change, so that whichever feature is ordered after it (ordinarily
// xmpp.BindResource) runs normally.
//
// A caller assembling a reconnect attempt's feature list controls which of
// these two paths is taken by ordering this Feature before or after
// xmpp.BindResource: before it, to attempt resumption in place of binding;
// after it, to enable Stream Management fresh once binding has completed.
func (m *Manager) Feature() xmpp.StreamFeature {
	return xmpp.StreamFeature{
		Name:      xml.Name{Space: NS, Local: "sm"},
		Necessary: xmpp.Authn,
		List: func(ctx context.Context, e *xml.Encoder, start xml.StartElement) (req bool, err error) {
			if err = e.EncodeToken(start); err != nil {
				return false, err
			}
			return false, e.EncodeToken(start.End())
		},
		Parse: func(ctx context.Context, r xml.TokenReader, start *xml.StartElement) (bool, interface{}, error) {
			parsed := struct {
				XMLName xml.Name `xml:"urn:xmpp:sm:3 sm"`
			}{}
			return false, nil, xml.NewTokenDecoder(r).DecodeElement(&parsed, start)
		},
		Negotiate: m.negotiate,
	}
}

func (m *Manager) negotiate(ctx context.Context, session *xmpp.Session, data interface{}) (mask xmpp.SessionState, rwc io.ReadWriteCloser, err error) {
	if session.State()&xmpp.Received == xmpp.Received {
		panic("sm: receiving-side stream management is not yet implemented")
	}

	m.mu.Lock()
	previd := m.id
	resumable := m.resumable
	h := m.incoming
	unacked := append([]queued(nil), m.unacked...)
	m.mu.Unlock()

	conn := session.Conn()

	if previd != "" && resumable {
		if _, err = fmt.Fprintf(conn, `<resume xmlns='%s' h='%d' previd='%s'/>`, NS, h, previd); err != nil {
			return mask, nil, err
		}
		return m.awaitResume(session, unacked)
	}

	if _, err = fmt.Fprintf(conn, `<enable xmlns='%s' resume='true'/>`, NS); err != nil {
		return mask, nil, err
	}
	return m.awaitEnable(session)
}

func (m *Manager) awaitEnable(session *xmpp.Session) (mask xmpp.SessionState, rwc io.ReadWriteCloser, err error) {
	start, err := nextStart(session)
	if err != nil {
		return mask, nil, err
	}
	switch start.Name {
	case xml.Name{Space: NS, Local: "enabled"}:
		enabled := struct {
			ID       string `xml:"id,attr"`
			Resume   bool   `xml:"resume,attr"`
			Location string `xml:"location,attr"`
		}{}
		if err = xml.NewTokenDecoder(session).DecodeElement(&enabled, start); err != nil {
			return mask, nil, err
		}
		m.mu.Lock()
		m.enabled = true
		m.resumable = enabled.Resume
		m.id = enabled.ID
		m.incoming = 0
		m.outgoing = 0
		m.unacked = nil
		m.mu.Unlock()
		return mask, nil, nil
	case xml.Name{Space: NS, Local: "failed"}:
		failed := struct {
			Inner string `xml:",innerxml"`
		}{}
		if err = xml.NewTokenDecoder(session).DecodeElement(&failed, start); err != nil {
			return mask, nil, err
		}
		m.mu.Lock()
		m.enabled = false
		m.mu.Unlock()
		return mask, nil, nil
	default:
		return mask, nil, stream.BadFormat
	}
}

func (m *Manager) awaitResume(session *xmpp.Session, unacked []queued) (mask xmpp.SessionState, rwc io.ReadWriteCloser, err error) {
	start, err := nextStart(session)
	if err != nil {
		return mask, nil, err
	}
	switch start.Name {
	case xml.Name{Space: NS, Local: "resumed"}:
		resumed := struct {
			H      uint32 `xml:"h,attr"`
			PrevID string `xml:"previd,attr"`
		}{}
		if err = xml.NewTokenDecoder(session).DecodeElement(&resumed, start); err != nil {
			return mask, nil, err
		}
		remaining := ackThrough(resumed.H, unacked)
		for _, q := range remaining {
			if _, err = xmlstream.Copy(session, &tokenSliceReader{toks: q.tokens}); err != nil {
				return mask, nil, err
			}
		}
		if err = session.Flush(); err != nil {
			return mask, nil, err
		}
		m.mu.Lock()
		m.enabled = true
		m.resumable = true
		m.unacked = remaining
		m.mu.Unlock()
		return xmpp.Ready | xmpp.Bound, nil, nil
	case xml.Name{Space: NS, Local: "failed"}:
		failed := struct {
			H *uint32 `xml:"h,attr"`
		}{}
		if err = xml.NewTokenDecoder(session).DecodeElement(&failed, start); err != nil {
			return mask, nil, err
		}
		remaining := unacked
		if failed.H != nil {
			remaining = ackThrough(*failed.H, unacked)
		}
		failAll(remaining)
		m.mu.Lock()
		m.enabled = false
		m.resumable = false
		m.id = ""
		m.unacked = nil
		m.mu.Unlock()
		return mask, nil, nil
	default:
		return mask, nil, stream.BadFormat
	}
}

// nextStart reads the next token from s and asserts that it is a start
// element, the shape every Stream Management negotiation response takes.
func nextStart(s *xmpp.Session) (*xml.StartElement, error) {
	tok, err := s.Token()
	if err != nil {
		return nil, err
	}
	start, ok := tok.(xml.StartElement)
	if !ok {
		return nil, stream.BadFormat
	}
	return &start, nil
}

// ackThrough resolves every entry in unacked with seq <= h as acknowledged
// and returns the remainder, which is still awaiting a later ack.
func ackThrough(h uint32, unacked []queued) []queued {
	i := 0
	for i < len(unacked) && unacked[i].seq <= h {
		unacked[i].p.Resolve(promise.SendResult{Acknowledged: true})
		i++
	}
	return append([]queued(nil), unacked[i:]...)
}

// failAll rejects every entry in unacked as lost to a dropped connection.
func failAll(unacked []queued) {
	for _, q := range unacked {
		q.p.Reject(xmpp.NewSendError(xmpp.Disconnected, nil))
	}
}

// tokenSliceReader replays a fixed, already-buffered sequence of tokens,
// used to retransmit a stanza captured by Send after a successful
// resumption.
type tokenSliceReader struct {
	toks []xml.Token
}

func (r *tokenSliceReader) Token() (xml.Token, error) {
	if len(r.toks) == 0 {
		return nil, io.EOF
	}
	t := r.toks[0]
	r.toks = r.toks[1:]
	return t, nil
}

// bufferAll reads r to completion and returns a copy of every token it
// produced.
func bufferAll(r xml.TokenReader) ([]xml.Token, error) {
	var toks []xml.Token
	for {
		t, err := r.Token()
		if err == io.EOF {
			return toks, nil
		}
		if err != nil {
			return nil, err
		}
		toks = append(toks, xml.CopyToken(t))
	}
}

// Send writes start and payload to s and returns a promise for the
// stanza's eventual fate.
//
// If Stream Management is not enabled, the promise resolves with
// Acknowledged: false as soon as the stanza has been written (there is no
// way to know whether the peer actually received it). If it is enabled,
// the stanza is assigned the next outgoing sequence number, kept until the
// peer acknowledges it (Acknowledged: true) or it is given up on — either
// because Closed is called after a non-resumable disconnect, in which case
// the promise is rejected with an *xmpp.SendError of kind xmpp.Disconnected,
// or because a graceful, non-resumable session end drains it with
// Acknowledged: false.
func (m *Manager) Send(ctx context.Context, s *xmpp.Session, payload xml.TokenReader, start xml.StartElement) *promise.Promise[promise.SendResult] {
	p := promise.New[promise.SendResult]()

	m.mu.Lock()
	enabled := m.enabled
	m.mu.Unlock()

	if !enabled {
		if err := s.SendElement(ctx, payload, start); err != nil {
			p.Reject(err)
		} else {
			p.Resolve(promise.SendResult{Acknowledged: false})
		}
		return p
	}

	inner, err := bufferAll(payload)
	if err != nil {
		p.Reject(err)
		return p
	}
	full := make([]xml.Token, 0, len(inner)+2)
	full = append(full, start.Copy())
	full = append(full, inner...)
	full = append(full, start.End())

	m.mu.Lock()
	m.outgoing++
	m.unacked = append(m.unacked, queued{seq: m.outgoing, tokens: full, p: p})
	m.mu.Unlock()

	if err := s.SendElement(ctx, &tokenSliceReader{toks: inner}, start); err != nil {
		p.Reject(err)
	}
	return p
}

// RequestAck sends a Stream Management acknowledgment request (<r/>),
// prompting the peer to answer with an <a/> covering everything it has
// received so far. Callers that want periodic acknowledgment (eg. to detect
// a half-open TCP connection alongside ping.Keeper, or to bound how long a
// stanza can stay unacknowledged) are responsible for calling this on their
// own schedule.
func (m *Manager) RequestAck(ctx context.Context, s *xmpp.Session) error {
	if !m.Enabled() {
		return nil
	}
	return s.SendElement(ctx, nil, xml.StartElement{Name: xml.Name{Space: NS, Local: "r"}})
}

// Closed tells the Manager that the session ended, with err nil for a
// graceful close and non-nil for a lost connection. If the stream is not
// left in a resumable state, every stanza still awaiting an acknowledgment
// is resolved now rather than left to leak: Acknowledged: false for a
// graceful close, or rejected with an xmpp.SendError of kind
// xmpp.Disconnected for a lost one. A resumable stream's unacknowledged
// stanzas are left in place for Feature's next resumption attempt.
func (m *Manager) Closed(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resumable && err != nil {
		return
	}
	for _, q := range m.unacked {
		if err == nil {
			q.p.Resolve(promise.SendResult{Acknowledged: false})
		} else {
			q.p.Reject(xmpp.NewSendError(xmpp.Disconnected, err))
		}
	}
	m.unacked = nil
	m.enabled = false
}

// Handler wraps next so that Stream Management protocol frames (<a/> and
// <r/>) are intercepted rather than passed on, and every other top-level
// element increments the incoming sequence count exactly once, as required
// to keep h in sync with the peer. It should be the outermost handler
// wrapping a session's dispatch chain (eg. a mux.ServeMux) whenever this
// Manager's Feature has been included in that session's feature list.
func (m *Manager) Handler(next xmpp.Handler) xmpp.Handler {
	return xmpp.HandlerFunc(func(t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
		if start.Name.Space == NS {
			return m.handleFrame(t, start)
		}

		m.mu.Lock()
		if m.enabled {
			m.incoming++
		}
		m.mu.Unlock()

		return next.HandleXMPP(t, start)
	})
}

func (m *Manager) handleFrame(t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	switch start.Local {
	case "a":
		ack := struct {
			H uint32 `xml:"h,attr"`
		}{}
		if err := xml.NewTokenDecoder(t).DecodeElement(&ack, start); err != nil {
			return err
		}
		m.mu.Lock()
		m.unacked = ackThrough(ack.H, m.unacked)
		m.mu.Unlock()
		return nil
	case "r":
		if err := discardElement(t, start); err != nil {
			return err
		}
		m.mu.Lock()
		h := strconv.FormatUint(uint64(m.incoming), 10)
		enabled := m.enabled
		m.mu.Unlock()
		if !enabled {
			return nil
		}
		ackStart := xml.StartElement{
			Name: xml.Name{Space: NS, Local: "a"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "h"}, Value: h}},
		}
		_, err := xmlstream.Copy(t, xmlstream.Wrap(nil, ackStart))
		return err
	default:
		return discardElement(t, start)
	}
}

func discardElement(t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	_, err := xmlstream.Copy(xmlstream.Discard(), xmlstream.Inner(t))
	return err
}
