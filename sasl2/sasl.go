// Copyright 2017 Sam Whited.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package sasl2 implements XEP-0388: Extensible SASL Profile (SASL-2),
// including XEP-0484 FAST token-based reauthentication and Bind 2 inline
// resource binding.
//
// BE ADVISED: This API is incomplete and is subject to change.
package sasl2 // import "git.sr.ht/~wire/xmpp/sasl2"

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"mellium.im/sasl"
	"mellium.im/xmlstream"
	"git.sr.ht/~wire/xmpp"
	"git.sr.ht/~wire/xmpp/authfast"
	"git.sr.ht/~wire/xmpp/internal/ns"
	"git.sr.ht/~wire/xmpp/internal/saslerr"
	"git.sr.ht/~wire/xmpp/stream"
)

// BUG(ssw): feature may provide a security layer, but is not byte precise.

// NS is the SASL-2 namespace.
const NS = ns.SASL2

// advertisement is the server's <authentication/> feature element: the
// offered password-based mechanisms plus whatever inline extensions
// (Bind 2, FAST) it supports folding into the same round-trip.
type advertisement struct {
	XMLName xml.Name `xml:"urn:xmpp:sasl:2 authentication"`
	List    []string `xml:"mechanism"`
	Inline  struct {
		Bind *struct{} `xml:"urn:xmpp:bind:0 bind"`
		Fast struct {
			Mechanisms []string `xml:"mechanism"`
		} `xml:"urn:xmpp:fast:0 fast"`
	} `xml:"inline"`
}

// successBody is the SASL-2 <success/> element, including whatever Bind 2
// and FAST extensions rode along with it.
type successBody struct {
	XMLName xml.Name  `xml:"urn:xmpp:sasl:2 success"`
	Data    []byte    `xml:"additional-data"`
	Bound   *struct{} `xml:"urn:xmpp:bind:0 bound"`
	Token   *struct {
		Secret string `xml:"secret,attr"`
		Expiry string `xml:"expiry,attr"`
	} `xml:"urn:xmpp:fast:0 token"`
}

// Negotiator configures a SASL-2 stream feature: the password-based
// mechanisms to offer, optional XEP-0484 FAST token reuse and fresh-token
// requests, and whether to request Bind 2 inline resource binding in the
// same round-trip.
type Negotiator struct {
	// Identity is used when a user wants to act on behalf of another user.
	// Normally it is left blank and the localpart of the origin JID is used.
	Identity string
	// Password authenticates the password-based Mechanisms. It is not used
	// for an HT-*-* mechanism, which proves possession of a token instead.
	Password string
	// Mechanisms are the password-based SASL mechanisms to offer, in
	// preference order. At least one is required even when Fast is set,
	// since it doubles as the fallback when no usable token is held.
	Mechanisms []sasl.Mechanism

	// Fast, if non-nil, enables XEP-0484: an HT-*-* mechanism is used in
	// place of the first configured Mechanisms entry whenever the store
	// holds a valid token for a mechanism the server advertises this round,
	// and a fresh token is requested on every attempt that doesn't already
	// use one.
	Fast *authfast.Store

	// Bind2 requests inline resource binding (Bind 2) in the same
	// round-trip as authentication, skipping the separate BindManager
	// negotiation entirely on success. It has no effect if the server
	// doesn't advertise inline bind support.
	Bind2 bool
	// Tag identifies this client to the server when Bind2 is set (eg. a
	// client or device name); optional.
	Tag string
}

// SASL returns a SASL-2 stream feature offering only password-based
// authentication, equivalent to
// Negotiator{Identity: identity, Password: password, Mechanisms: mechanisms}.Feature().
// It panics if no mechanisms are specified.
func SASL(identity, password string, mechanisms ...sasl.Mechanism) xmpp.StreamFeature {
	return Negotiator{Identity: identity, Password: password, Mechanisms: mechanisms}.Feature()
}

// Feature returns the stream feature implementing n. It panics if no
// password-based mechanisms are configured.
func (n Negotiator) Feature() xmpp.StreamFeature {
	if len(n.Mechanisms) == 0 {
		panic("sasl2: Must specify at least 1 mechanism")
	}

	return xmpp.StreamFeature{
		Name:       xml.Name{Space: NS, Local: "authentication"},
		Necessary:  xmpp.Secure,
		Prohibited: xmpp.Authn,
		List:       n.list,
		Parse:      n.parse,
		Negotiate:  n.negotiate,
	}
}

func (n Negotiator) list(ctx context.Context, e *xml.Encoder, start xml.StartElement) (req bool, err error) {
	req = true
	if err = e.EncodeToken(start); err != nil {
		return
	}

	startMechanism := xml.StartElement{Name: xml.Name{Space: "", Local: "mechanism"}}
	for _, m := range n.Mechanisms {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		default:
		}

		if err = e.EncodeToken(startMechanism); err != nil {
			return
		}
		if err = e.EncodeToken(xml.CharData(m.Name)); err != nil {
			return
		}
		if err = e.EncodeToken(startMechanism.End()); err != nil {
			return
		}
	}
	return req, e.EncodeToken(start.End())
}

func (n Negotiator) parse(ctx context.Context, r xmlstream.TokenReader, start *xml.StartElement) (bool, interface{}, error) {
	var adv advertisement
	err := xml.NewTokenDecoder(r).DecodeElement(&adv, start)
	return true, adv, err
}

func (n Negotiator) negotiate(ctx context.Context, session *xmpp.Session, data interface{}) (mask xmpp.SessionState, rwc io.ReadWriteCloser, err error) {
	if (session.State() & xmpp.Received) == xmpp.Received {
		panic("sasl2: SASL-2 server not yet implemented")
	}

	adv, _ := data.(advertisement)
	connState, hasTLS := session.Conn().ConnectionState()
	local := session.LocalAddr().Localpart()

	var tok authfast.Token
	if n.Fast != nil {
		tok = n.Fast.Load()
	}

	if mech, ok := authfast.Select(adv.Inline.Fast.Mechanisms, tok); ok {
		binding := authfast.ChannelBinding(mech.Binding, connState)
		if mech.Binding == authfast.BindingNone || len(binding) > 0 {
			return n.negotiateFast(ctx, session, adv, mech, tok, local, binding)
		}
		// The channel-binding material this mechanism needs isn't available
		// on this connection; fall through to the password-based mechanism
		// rather than send a proof over no material at all.
	}
	return n.negotiatePassword(ctx, session, adv, local, connState, hasTLS)
}

func (n Negotiator) negotiateFast(ctx context.Context, session *xmpp.Session, adv advertisement, mech authfast.Mechanism, tok authfast.Token, local string, binding []byte) (mask xmpp.SessionState, rwc io.ReadWriteCloser, err error) {
	conn := session.Conn()
	proof := authfast.Proof(mech, tok.Secret, local, binding)
	resp := base64.StdEncoding.EncodeToString(proof)

	var bindTag string
	if n.Bind2 && adv.Inline.Bind != nil {
		bindTag = fmt.Sprintf(`<bind xmlns='%s'><tag>%s</tag></bind>`, ns.Bind2, xmlEscapeString(n.Tag))
	}

	// HT-*-* mechanisms are one-shot: the proof is the whole exchange, so
	// there's no challenge/response loop to run, only a single <success/> or
	// <failure/> to read back.
	if _, err = fmt.Fprintf(conn,
		`<authenticate xmlns='%s' mechanism='%s'><initial-response>%s</initial-response><fast xmlns='%s'/>%s</authenticate>`,
		NS, mech.Name, resp, ns.Fast, bindTag,
	); err != nil {
		return mask, nil, err
	}

	d := xml.NewTokenDecoder(session)
	tk, err := d.Token()
	if err != nil {
		return mask, nil, err
	}
	start, ok := tk.(xml.StartElement)
	if !ok {
		return mask, nil, stream.BadFormat
	}
	_, success, info, err := decodeFrame(d, start, false)
	if err != nil {
		if n.Fast != nil {
			n.Fast.Clear()
		}
		return mask, nil, err
	}
	if !success {
		if n.Fast != nil {
			n.Fast.Clear()
		}
		return mask, nil, stream.BadFormat
	}

	mask = xmpp.Authn
	if info.Bound != nil {
		mask |= xmpp.Bound
	}
	n.saveToken(mech.Name, info)
	return mask, conn, nil
}

func (n Negotiator) negotiatePassword(ctx context.Context, session *xmpp.Session, adv advertisement, local string, connState tls.ConnectionState, hasTLS bool) (mask xmpp.SessionState, rwc io.ReadWriteCloser, err error) {
	conn := session.Conn()

	// Select a mechanism, preferring the client order.
	var selected sasl.Mechanism
selectmechanism:
	for _, m := range n.Mechanisms {
		for _, name := range adv.List {
			if name == m.Name {
				selected = m
				break selectmechanism
			}
		}
	}
	if selected.Name == "" {
		return mask, nil, errors.New("sasl2: no matching SASL mechanisms found")
	}

	opts := []sasl.Option{
		sasl.Authz(n.Identity),
		sasl.Credentials(local, n.Password),
		sasl.RemoteMechanisms(adv.List...),
	}
	if hasTLS {
		opts = append(opts, sasl.ConnState(connState))
	}
	client := sasl.NewClient(selected, opts...)

	more, resp, err := client.Step(nil)
	if err != nil {
		return mask, nil, err
	}
	// XEP-0388 §2.2:
	//     In order to explicitly transmit a zero-length SASL challenge or
	//     response, the sending party sends a single equals sign character
	//     ("=").
	if len(resp) == 0 {
		resp = []byte{'='}
	}

	var reqMechName, requestTok string
	if n.Fast != nil {
		if reqMech, ok := authfast.RequestMechanism(adv.Inline.Fast.Mechanisms); ok {
			reqMechName = reqMech.Name
			requestTok = fmt.Sprintf(`<request-token xmlns='%s' mechanism='%s'/>`, ns.Fast, reqMechName)
		}
	}
	var bindTag string
	if n.Bind2 && adv.Inline.Bind != nil {
		bindTag = fmt.Sprintf(`<bind xmlns='%s'><tag>%s</tag></bind>`, ns.Bind2, xmlEscapeString(n.Tag))
	}

	if _, err = fmt.Fprintf(conn,
		`<authenticate xmlns='%s' mechanism='%s'><initial-response>%s</initial-response>%s%s</authenticate>`,
		NS, selected.Name, resp, requestTok, bindTag,
	); err != nil {
		return mask, nil, err
	}

	d := xml.NewTokenDecoder(session)

	var info successBody
	success := false
	if !more {
		tk, err := d.Token()
		if err != nil {
			return mask, nil, err
		}
		start, ok := tk.(xml.StartElement)
		if !ok {
			return mask, nil, stream.BadFormat
		}
		if _, success, info, err = decodeFrame(d, start, false); err != nil {
			return mask, nil, err
		}
	}

	for more {
		select {
		case <-ctx.Done():
			return mask, nil, ctx.Err()
		default:
		}
		tk, err := d.Token()
		if err != nil {
			return mask, nil, err
		}
		start, ok := tk.(xml.StartElement)
		if !ok {
			return mask, nil, stream.BadFormat
		}
		var challenge []byte
		if challenge, success, info, err = decodeFrame(d, start, true); err != nil {
			return mask, nil, err
		}
		if more, resp, err = client.Step(challenge); err != nil {
			return mask, nil, err
		}
		if !more && success {
			break
		}
		if _, err = fmt.Fprintf(conn, `<response xmlns='%s'>%s</response>`, NS, resp); err != nil {
			return mask, nil, err
		}
	}

	if !success {
		return mask, nil, stream.BadFormat
	}

	mask = xmpp.Authn
	if info.Bound != nil {
		mask |= xmpp.Bound
	}
	if reqMechName != "" {
		n.saveToken(reqMechName, info)
	}
	return mask, conn, nil
}

func (n Negotiator) saveToken(mechanism string, info successBody) {
	if n.Fast == nil || info.Token == nil {
		return
	}
	expiry, _ := time.Parse(time.RFC3339, info.Token.Expiry)
	n.Fast.Save(authfast.Token{
		Mechanism: mechanism,
		Secret:    []byte(info.Token.Secret),
		Expiry:    expiry,
	})
}

func xmlEscapeString(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// decodeFrame decodes a SASL-2 <challenge/>, <success/>, or <failure/>
// frame. success is true only for <success/>, in which case info carries its
// Bind 2/FAST extensions; a <failure/> is returned as a non-nil err
// (saslerr.Failure).
func decodeFrame(d *xml.Decoder, start xml.StartElement, allowChallenge bool) (challenge []byte, success bool, info successBody, err error) {
	switch start.Name {
	case xml.Name{Space: NS, Local: "challenge"}:
		if !allowChallenge {
			return nil, false, successBody{}, stream.UnsupportedStanzaType
		}
		c := struct {
			Data []byte `xml:",chardata"`
		}{}
		if err = d.DecodeElement(&c, &start); err != nil {
			return nil, false, successBody{}, err
		}
		return c.Data, false, successBody{}, nil
	case xml.Name{Space: NS, Local: "success"}:
		var s successBody
		if err = d.DecodeElement(&s, &start); err != nil {
			return nil, true, successBody{}, err
		}
		return s.Data, true, s, nil
	case xml.Name{Space: NS, Local: "failure"}:
		fail := saslerr.Failure{}
		if err = d.DecodeElement(&fail, &start); err != nil {
			return nil, false, successBody{}, err
		}
		return nil, false, successBody{}, fail
	default:
		return nil, false, successBody{}, stream.UnsupportedStanzaType
	}
}
