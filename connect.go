// Copyright 2018 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"

	"git.sr.ht/~wire/xmpp/dial"
	"git.sr.ht/~wire/xmpp/jid"
)

// DialClientSession discovers and dials a TCP connection to origin's domain
// (following the DNS SRV / fallback-port rules in the dial package) and
// negotiates a client-to-server session over it using the given stream
// features. The language tag defaults to "und" (undetermined).
//
// If session negotiation fails after the connection has been established,
// DialClientSession closes the connection before returning the error.
func DialClientSession(ctx context.Context, origin jid.JID, features ...StreamFeature) (*Session, error) {
	conn, err := dial.Client(ctx, "tcp", origin)
	if err != nil {
		return nil, err
	}
	session, err := NewClientSession(ctx, origin, "", conn, features...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return session, nil
}
