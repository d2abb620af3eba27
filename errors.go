// Copyright 2016 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package xmpp

import (
	"git.sr.ht/~wire/xmpp/stanza"
)

// IqError wraps an IQ result of type "error" returned in response to an IQ
// request. It carries the original stanza.Error element (Type/Condition/
// Text) and the stanza's id so the caller can correlate it with the request
// that triggered it.
type IqError struct {
	ID     string
	Detail stanza.Error
}

// Error satisfies the error interface, delegating to the wrapped
// stanza.Error.
func (e *IqError) Error() string {
	return e.Detail.Error()
}

// Unwrap allows errors.Is/errors.As to reach the wrapped stanza.Error.
func (e *IqError) Unwrap() error {
	return e.Detail
}
