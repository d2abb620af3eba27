// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"encoding/xml"

	"mellium.im/xmlstream"
	"git.sr.ht/~wire/xmpp/jid"
	"git.sr.ht/~wire/xmpp/stanza"
)

func isIQEmptySpace(name xml.Name) bool {
	return name.Local == "iq" && (name.Space == "" || name.Space == stanza.NSClient || name.Space == stanza.NSServer)
}

// getIDTyp scans attrs for unprefixed "id" and "type" attributes, returning
// their index (-1 if absent, so a caller can append a new "id" attribute at
// the right position) and value.
func getIDTyp(attrs []xml.Attr) (idIdx, typIdx int, id, typ string) {
	idIdx, typIdx = -1, -1
	for i, a := range attrs {
		if a.Name.Space != "" {
			continue
		}
		switch a.Name.Local {
		case "id":
			idIdx = i
			id = a.Value
		case "type":
			typIdx = i
			typ = a.Value
		}
	}
	return idIdx, typIdx, id, typ
}

// attrJID scans attrs for an unprefixed attribute named local and parses its
// value as a JID, returning the zero JID if the attribute is absent or
// unparsable.
func attrJID(attrs []xml.Attr, local string) jid.JID {
	for _, a := range attrs {
		if a.Name.Space == "" && a.Name.Local == local {
			j, err := jid.Parse(a.Value)
			if err != nil {
				return jid.JID{}
			}
			return j
		}
	}
	return jid.JID{}
}

// SendElement writes start to the session's output stream, copies payload
// into it, then closes the element.
//
// SendElement is safe for concurrent use by multiple goroutines.
func (s *Session) SendElement(ctx context.Context, payload xml.TokenReader, start xml.StartElement) error {
	if err := s.EncodeToken(start); err != nil {
		return err
	}
	if payload != nil {
		if _, err := xmlstream.Copy(s, payload); err != nil {
			return err
		}
	}
	if err := s.EncodeToken(start.End()); err != nil {
		return err
	}
	return s.Flush()
}

// Send transmits the first element read from r without waiting for a
// response of any kind; it is the fire-and-forget path used for presence
// broadcast and result/error stanzas that are themselves responses.
//
// Send is safe for concurrent use by multiple goroutines.
func (s *Session) Send(ctx context.Context, r xml.TokenReader) error {
	tok, err := r.Token()
	if err != nil {
		return err
	}
	start, ok := tok.(xml.StartElement)
	if !ok {
		return ErrNotStart
	}
	return s.SendElement(ctx, xmlstream.Inner(r), start)
}

// respReadCloser hands the matching response element (still attached to the
// live input stream) to the goroutine that's blocked in sendResp. Closing it
// unblocks handleInputStream so that it can resume reading the stream; it
// must always be closed, even if the caller does not read from it.
type respReadCloser struct {
	xmlstream.TokenReader
	done chan struct{}
}

func (r *respReadCloser) Close() error {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
	return nil
}

// sendResp writes start (with its payload) to the stream and blocks until a
// stanza with a matching id and an acceptable "from" (see respID and
// iqcorrelate) is routed back to it by handleInputStream, or until ctx is
// canceled.
func (s *Session) sendResp(ctx context.Context, id string, payload xml.TokenReader, start xml.StartElement) (xmlstream.TokenReadCloser, error) {
	respCh := make(chan *respReadCloser, 1)

	to := attrJID(start.Attr, "to")
	s.resp.Register(id, to, s.LocalAddr(), respCh)

	cleanup := func() {
		s.resp.Forget(id)
	}

	if err := s.SendElement(ctx, payload, start); err != nil {
		cleanup()
		return nil, err
	}

	select {
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case resp := <-respCh:
		return resp, nil
	}
}

// respID reports whether start is a stanza that sendResp would be waiting
// on a response for (an IQ of type result/error, or a message/presence of
// type error) and, if so, its id and "from" address (the zero JID if
// absent).
func respID(start xml.StartElement) (id string, from jid.JID, ok bool) {
	var typ string
	switch {
	case isIQEmptySpace(start.Name):
		_, _, id, typ = getIDTyp(start.Attr)
		ok = typ == string(stanza.ResultIQ) || typ == string(stanza.ErrorIQ)
	case isMessageEmptySpace(start.Name):
		_, _, id, typ = getIDTyp(start.Attr)
		ok = typ == string(stanza.ErrorMessage)
	case isPresenceEmptySpace(start.Name):
		_, _, id, typ = getIDTyp(start.Attr)
		ok = typ == string(stanza.ErrorPresence)
	default:
		return "", jid.JID{}, false
	}
	if !ok {
		return "", jid.JID{}, false
	}
	return id, attrJID(start.Attr, "from"), true
}
