// Copyright 2017 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

// Package codec provides functionality for serializing and deserializing an
// XMPP stream from its native XML encoding and for creating new serialization
// formats.
//
// Be advised: This API is still unstable and is subject to change.
package codec // import "git.sr.ht/~wire/xmpp/codec"
