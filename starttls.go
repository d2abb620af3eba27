// Copyright 2016 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package xmpp

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"

	"git.sr.ht/~wire/xmpp/internal/ns"
	"git.sr.ht/~wire/xmpp/stream"
)

// BUG(ssw): STARTTLS feature does not have security layer byte precision.

var ErrTLSUpgradeFailed = errors.New("xmpp: the underlying connection cannot be upgraded to TLS")

// StartTLS returns a new stream feature that can be used for negotiating TLS.
// For StartTLS to work, the underlying connection must support TLS (it must
// implement net.Conn).
func StartTLS(required bool, cfg *tls.Config) StreamFeature {
	return StreamFeature{
		Name:       xml.Name{Local: "starttls", Space: ns.StartTLS},
		Prohibited: Secure,
		List: func(ctx context.Context, e *xml.Encoder, start xml.StartElement) (req bool, err error) {
			if err = e.EncodeToken(start); err != nil {
				return required, err
			}
			if required {
				startRequired := xml.StartElement{Name: xml.Name{Local: "required"}}
				if err = e.EncodeToken(startRequired); err != nil {
					return required, err
				}
				if err = e.EncodeToken(startRequired.End()); err != nil {
					return required, err
				}
			}
			if err = e.EncodeToken(start.End()); err != nil {
				return required, err
			}
			return required, e.Flush()
		},
		Parse: func(ctx context.Context, r xml.TokenReader, start *xml.StartElement) (bool, interface{}, error) {
			parsed := struct {
				XMLName  xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-tls starttls"`
				Required struct {
					XMLName xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-tls required"`
				}
			}{}
			err := xml.NewTokenDecoder(r).DecodeElement(&parsed, start)
			return parsed.Required.XMLName.Local == "required" && parsed.Required.XMLName.Space == ns.StartTLS, nil, err
		},
		Negotiate: func(ctx context.Context, session *Session, data interface{}) (mask SessionState, rwc io.ReadWriteCloser, err error) {
			conn := session.Conn()
			netconn, ok := conn.Raw().(net.Conn)
			if !ok {
				return mask, nil, ErrTLSUpgradeFailed
			}

			tlsconf := cfg
			if tlsconf == nil {
				tlsconf = &tls.Config{
					ServerName: session.RemoteAddr().Domain().String(),
					MinVersion: tls.VersionTLS12,
				}
			}

			if (session.State() & Received) == Received {
				if _, err = fmt.Fprint(conn, `<proceed xmlns='urn:ietf:params:xml:ns:xmpp-tls'/>`); err != nil {
					return mask, nil, err
				}
				rwc = tls.Server(netconn, tlsconf)
			} else {
				if _, err = fmt.Fprint(conn, `<starttls xmlns='urn:ietf:params:xml:ns:xmpp-tls'/>`); err != nil {
					return mask, nil, err
				}

				tok, err := session.Token()
				if err != nil {
					return mask, nil, err
				}
				switch t := tok.(type) {
				case xml.StartElement:
					switch {
					case t.Name.Space != ns.StartTLS:
						return mask, nil, stream.UnsupportedStanzaType
					case t.Name.Local == "proceed":
						if err = xmlskip(session); err != nil {
							return mask, nil, stream.InvalidXML
						}
						rwc = tls.Client(netconn, tlsconf)
					case t.Name.Local == "failure":
						// Failure is expected behavior, not an error: the server will
						// close the stream immediately afterwards.
						if err = xmlskip(session); err != nil {
							return mask, nil, stream.InvalidXML
						}
						return mask, nil, err
					default:
						return mask, nil, stream.UnsupportedStanzaType
					}
				default:
					return mask, nil, stream.RestrictedXML
				}
			}
			mask = Secure
			return mask, rwc, nil
		},
	}
}
