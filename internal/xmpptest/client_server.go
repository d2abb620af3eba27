// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpptest

import (
	"encoding/xml"
	"io"
	"net"

	"mellium.im/xmlstream"
	"git.sr.ht/~wire/xmpp"
)

// NewClientSession is like NewSession, but exists to make call sites that
// specifically want a client session more explicit.
func NewClientSession(state xmpp.SessionState, rw io.ReadWriter) *xmpp.Session {
	return NewSession(state, rw)
}

// Option configures a ClientServer.
type Option func(cfg *clientServerConfig)

type clientServerConfig struct {
	clientState   xmpp.SessionState
	serverState   xmpp.SessionState
	clientHandler xmpp.Handler
	serverHandler xmpp.Handler
}

// ClientState ORs state into the state the client side of a ClientServer
// reports once negotiation completes.
func ClientState(state xmpp.SessionState) Option {
	return func(cfg *clientServerConfig) {
		cfg.clientState |= state
	}
}

// ServerState ORs state into the state the server side of a ClientServer
// reports once negotiation completes.
func ServerState(state xmpp.SessionState) Option {
	return func(cfg *clientServerConfig) {
		cfg.serverState |= state
	}
}

// ClientHandler sets the handler that services stanzas arriving on the
// client side of a ClientServer.
func ClientHandler(h xmpp.Handler) Option {
	return func(cfg *clientServerConfig) {
		cfg.clientHandler = h
	}
}

// ServerHandler sets the handler that services stanzas arriving on the
// server side of a ClientServer.
func ServerHandler(h xmpp.Handler) Option {
	return func(cfg *clientServerConfig) {
		cfg.serverHandler = h
	}
}

// ClientHandlerFunc sets the handler that services stanzas arriving on the
// client side of a ClientServer.
func ClientHandlerFunc(f func(t xmlstream.TokenReadEncoder, start *xml.StartElement) error) Option {
	return ClientHandler(xmpp.HandlerFunc(f))
}

// ServerHandlerFunc sets the handler that services stanzas arriving on the
// server side of a ClientServer.
func ServerHandlerFunc(f func(t xmlstream.TokenReadEncoder, start *xml.StartElement) error) Option {
	return ServerHandler(xmpp.HandlerFunc(f))
}

// ClientServer is a connected pair of client and server sessions, joined by
// an in-memory pipe, for use in tests that need to exercise both sides of a
// session without touching the network. The server side always has
// xmpp.Received set in addition to any state configured with ServerState.
type ClientServer struct {
	Client *xmpp.Session
	Server *xmpp.Session

	done chan struct{}
}

// NewClientServer returns a connected client/server session pair. Both
// sessions are already negotiated (per ClientState/ServerState) and are
// being serviced by Serve in background goroutines using the handlers set by
// ClientHandlerFunc/ServerHandlerFunc (a no-op handler is used for whichever
// side is left unset).
//
// NewClientServer panics on error for ease of use in testing, where a panic
// is acceptable.
func NewClientServer(opts ...Option) *ClientServer {
	cfg := clientServerConfig{
		clientHandler: xmpp.HandlerFunc(func(xmlstream.TokenReadEncoder, *xml.StartElement) error { return nil }),
		serverHandler: xmpp.HandlerFunc(func(xmlstream.TokenReadEncoder, *xml.StartElement) error { return nil }),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	clientConn, serverConn := net.Pipe()
	client := NewSession(cfg.clientState, clientConn)
	server := NewSession(cfg.serverState|xmpp.Received, serverConn)

	cs := &ClientServer{
		Client: client,
		Server: server,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(cs.done)
		cs.Server.Serve(cfg.serverHandler)
	}()
	go cs.Client.Serve(cfg.clientHandler)

	return cs
}

// Close closes both the client and server sessions and waits for the
// server's Serve goroutine to return.
func (cs *ClientServer) Close() error {
	err := cs.Client.Close()
	if srvErr := cs.Server.Close(); err == nil {
		err = srvErr
	}
	<-cs.done
	return err
}
