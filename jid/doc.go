// Copyright 2014 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

// Package jid implements XMPP addresses (historically called "Jabber ID's" or
// "JID's") as described in RFC 7622.
//
// A JID has up to three parts: a localpart, a domainpart, and a resourcepart,
// of the form "localpart@domainpart/resourcepart". Only the domainpart is
// required. The "bare" form of a JID omits the resourcepart
// ("localpart@domainpart"); the "full" form includes it.
package jid // import "git.sr.ht/~wire/xmpp/jid"
