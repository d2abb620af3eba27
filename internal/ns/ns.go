// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ns provides namespace constants that are used by the xmpp package and
// other internal packages.
package ns // import "git.sr.ht/~wire/xmpp/internal/ns"

// List of commonly used namespaces.
const (
	Stream     = "http://etherx.jabber.org/streams"
	Client     = "jabber:client"
	Server     = "jabber:server"
	Bind       = "urn:ietf:params:xml:ns:xmpp-bind"
	Bind2      = "urn:xmpp:bind:0"
	SASL       = "urn:ietf:params:xml:ns:xmpp-sasl"
	SASL2      = "urn:xmpp:sasl:2"
	StartTLS   = "urn:ietf:params:xml:ns:xmpp-tls"
	SM         = "urn:xmpp:sm:3"
	Fast       = "urn:xmpp:fast:0"
	Ping       = "urn:xmpp:ping"
	CSI        = "urn:xmpp:csi:0"
	DiscoInfo  = "http://jabber.org/protocol/disco#info"
	DiscoItems = "http://jabber.org/protocol/disco#items"
	Stanza     = "urn:ietf:params:xml:ns:xmpp-stanzas"
	IQAuth     = "jabber:iq:auth"
	XML        = "http://www.w3.org/XML/1998/namespace"
)
