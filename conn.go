// Copyright 2016 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package xmpp

import (
	"crypto/tls"
	"io"
)

// A Conn wraps the io.ReadWriter backing a Session so that stream features
// (STARTTLS, SASL channel binding) can get at the raw transport without the
// Session itself needing to know about TLS or net.Conn.
type Conn struct {
	rw io.ReadWriter
}

func newConn(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw}
}

// Read reads data from the underlying connection.
func (c *Conn) Read(b []byte) (n int, err error) {
	return c.rw.Read(b)
}

// Write writes data to the underlying connection.
func (c *Conn) Write(b []byte) (n int, err error) {
	return c.rw.Write(b)
}

// Close closes the underlying connection if it implements io.Closer; it is a
// no-op otherwise.
func (c *Conn) Close() error {
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Raw returns the io.ReadWriter backing the connection, for features (such
// as STARTTLS) that need to type-assert it to net.Conn or another concrete
// type to replace it with a wrapped version.
func (c *Conn) Raw() io.ReadWriter {
	return c.rw
}

// ConnectionState returns the TLS connection state of the underlying
// connection, if it has been secured with TLS, for use as SASL
// channel-binding material.
func (c *Conn) ConnectionState() (tls.ConnectionState, bool) {
	tlsConn, ok := c.rw.(interface {
		ConnectionState() tls.ConnectionState
	})
	if !ok {
		return tls.ConnectionState{}, false
	}
	return tlsConn.ConnectionState(), true
}
