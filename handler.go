// Copyright 2015 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package xmpp

import (
	"encoding/xml"

	"mellium.im/xmlstream"
)

// Handler responds to a single top-level stanza or stream-level element read
// from a Session by Serve. Implementations that need to read a typed payload
// should wrap t with an xml.TokenDecoder (eg. xml.NewTokenDecoder(t)).
type Handler interface {
	HandleXMPP(t xmlstream.TokenReadEncoder, start *xml.StartElement) error
}

// HandlerFunc is an adapter that lets an ordinary function be used as a
// Handler.
type HandlerFunc func(t xmlstream.TokenReadEncoder, start *xml.StartElement) error

// HandleXMPP calls f(t, start).
func (f HandlerFunc) HandleXMPP(t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	return f(t, start)
}
