// Copyright 2016 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package xmpp

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"

	"git.sr.ht/~wire/xmpp/internal"
	"git.sr.ht/~wire/xmpp/internal/ns"
	"git.sr.ht/~wire/xmpp/jid"
	"git.sr.ht/~wire/xmpp/stanza"
	"git.sr.ht/~wire/xmpp/stream"
)

const (
	bindIQServerGeneratedRP = `<iq id='%s' type='set'><bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'/></iq>`
	bindIQClientRequestedRP = `<iq id='%s' type='set'><bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'><resource>%s</resource></bind></iq>`
)

// Errors returned when a BindResource negotiation fails in a way the server
// did not report a stanza error for.
var ErrBindNoJID = stream.InvalidXML

// BindResource is a stream feature implementing RFC 6121 resource binding
// (the BindManager). It is skipped entirely when SASL-2 Bind 2 inline
// negotiation already bound a resource (see sasl2.Negotiator).
func BindResource() StreamFeature {
	return StreamFeature{
		Name:       xml.Name{Space: ns.Bind, Local: "bind"},
		Necessary:  Authn,
		Prohibited: Ready | Bound,
		List: func(ctx context.Context, e *xml.Encoder, start xml.StartElement) (req bool, err error) {
			req = true
			if err = e.EncodeToken(start); err != nil {
				return req, err
			}
			if err = e.EncodeToken(start.End()); err != nil {
				return req, err
			}
			return req, e.Flush()
		},
		Parse: func(ctx context.Context, r xml.TokenReader, start *xml.StartElement) (bool, interface{}, error) {
			parsed := struct {
				XMLName xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
			}{}
			return true, nil, xml.NewTokenDecoder(r).DecodeElement(&parsed, start)
		},
		Negotiate: func(ctx context.Context, session *Session, data interface{}) (mask SessionState, rwc io.ReadWriteCloser, err error) {
			if (session.State() & Received) == Received {
				panic("xmpp: receiving-side resource binding is not yet implemented")
			}

			conn := session.Conn()

			reqID := internal.RandomID(internal.IDLen)
			if resource := session.LocalAddr().Resourcepart(); resource == "" {
				_, err = fmt.Fprintf(conn, bindIQServerGeneratedRP, reqID)
			} else {
				_, err = fmt.Fprintf(conn, bindIQClientRequestedRP, reqID, resource)
			}
			if err != nil {
				return mask, nil, err
			}

			tok, err := session.Token()
			if err != nil {
				return mask, nil, err
			}
			start, ok := tok.(xml.StartElement)
			if !ok {
				return mask, nil, stream.BadFormat
			}
			resp := struct {
				stanza.IQ
				Bind struct {
					JID jid.JID `xml:"jid"`
				} `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
				Err stanza.Error `xml:"error"`
			}{}
			if start.Name != (xml.Name{Space: ns.Client, Local: "iq"}) {
				return mask, nil, stream.BadFormat
			}
			if err = session.in.d.DecodeElement(&resp, &start); err != nil {
				return mask, nil, err
			}

			switch {
			case resp.ID != reqID:
				return mask, nil, stream.UndefinedCondition
			case resp.Type == stanza.ResultIQ:
				if resp.Bind.JID.IsZero() {
					return mask, nil, ErrBindNoJID
				}
				session.slock.Lock()
				session.origin = resp.Bind.JID
				session.slock.Unlock()
			case resp.Type == stanza.ErrorIQ:
				return mask, nil, &resp.Err
			default:
				return mask, nil, &stanza.Error{Condition: stanza.BadRequest}
			}
			return Ready | Bound, nil, nil
		},
	}
}
