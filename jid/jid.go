// Copyright 2014 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package jid

import (
	"encoding/xml"
	"errors"
	"net"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

// MaxLen is the maximum length of a complete JID in bytes, per RFC 7622 §3.1.
const MaxLen = 3071

// Errors returned while parsing or constructing a JID.
var (
	ErrEmptyDomain = errors.New("jid: domainpart must not be empty")
	ErrLong        = errors.New("jid: JID exceeds 3071 bytes")
	ErrInvalidUTF8 = errors.New("jid: invalid UTF-8")
)

// JID represents an XMPP address ("Jabber ID"). The zero value is not a
// valid JID; use Parse or New to construct one.
//
// JIDs compare case-insensitively on the localpart and domainpart (both are
// stored in their canonical, case-folded form by Parse/New); the
// resourcepart is compared byte-for-byte as required by RFC 7622 §3.3.
type JID struct {
	localpart    string
	domainpart   string
	resourcepart string
}

// Parse parses s into a JID, applying the preparation and enforcement
// profiles from RFC 7622 §3.2 to each part.
func Parse(s string) (JID, error) {
	localpart, domainpart, resourcepart, err := SplitString(s)
	if err != nil {
		return JID{}, err
	}
	return New(localpart, domainpart, resourcepart)
}

// New constructs a JID from its already-split parts, normalizing each part
// to its canonical form.
func New(localpart, domainpart, resourcepart string) (JID, error) {
	if !utf8.ValidString(localpart) || !utf8.ValidString(resourcepart) {
		return JID{}, ErrInvalidUTF8
	}

	// RFC 7622 §3.2.1: domainpart preparation folds A-labels to U-labels.
	domainpart, err := idna.ToUnicode(domainpart)
	if err != nil {
		return JID{}, err
	}
	if !utf8.ValidString(domainpart) {
		return JID{}, ErrInvalidUTF8
	}
	domainpart = strings.ToLower(strings.TrimSuffix(domainpart, "."))

	if localpart != "" {
		localpart, err = precis.UsernameCaseMapped.String(localpart)
		if err != nil {
			return JID{}, err
		}
	}
	if resourcepart != "" {
		resourcepart, err = precis.OpaqueString.String(resourcepart)
		if err != nil {
			return JID{}, err
		}
	}

	if err := commonChecks(localpart, domainpart, resourcepart); err != nil {
		return JID{}, err
	}

	j := JID{localpart: localpart, domainpart: domainpart, resourcepart: resourcepart}
	if len(j.String()) > MaxLen {
		return JID{}, ErrLong
	}
	return j, nil
}

// MustParse is like Parse but panics on error. It is intended for use in
// tests and package-level variable initialization with known-good input.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return j
}

// SplitString splits out the localpart, domainpart, and resourcepart from a
// string representation of a JID, per the parsing algorithm in RFC 7622
// §3.1. The parts returned are not guaranteed to be valid; New performs
// validation and normalization.
func SplitString(s string) (localpart, domainpart, resourcepart string, err error) {
	// RFC 7622 §3.1 requires matching '@' and '/' before any transformation
	// that might decompose Unicode code points into those separators.
	parts := strings.SplitAfterN(s, "/", 2)

	if strings.HasSuffix(parts[0], "/") {
		if len(parts) == 2 && parts[1] != "" {
			resourcepart = parts[1]
		} else {
			return "", "", "", errors.New("jid: resourcepart must not be empty")
		}
	}

	norp := strings.TrimSuffix(parts[0], "/")
	nolp := strings.SplitAfterN(norp, "@", 2)
	if nolp[0] == "@" {
		return "", "", "", errors.New("jid: localpart must not be empty")
	}

	switch len(nolp) {
	case 1:
		domainpart = nolp[0]
	case 2:
		domainpart = nolp[1]
		localpart = strings.TrimSuffix(nolp[0], "@")
	}

	// We'll throw out any trailing dots on domainparts, since they're
	// ignored for routing and comparison purposes.
	domainpart = strings.TrimSuffix(domainpart, ".")

	if domainpart == "" {
		return "", "", "", ErrEmptyDomain
	}

	return localpart, domainpart, resourcepart, nil
}

func checkIP6String(domainpart string) error {
	if l := len(domainpart); l > 2 && strings.HasPrefix(domainpart, "[") && strings.HasSuffix(domainpart, "]") {
		if ip := net.ParseIP(domainpart[1 : l-1]); ip == nil || ip.To4() != nil {
			return errors.New("jid: domainpart is not a valid IPv6 literal")
		}
	}
	return nil
}

func commonChecks(localpart, domainpart, resourcepart string) error {
	if len(localpart) > 1023 {
		return errors.New("jid: localpart must be 1023 bytes or less")
	}
	// RFC 7622 §3.3.1 forbids these characters even though the precis
	// profile alone would allow some of them.
	if strings.ContainsAny(localpart, "\"&'/:<>@") {
		return errors.New("jid: localpart contains forbidden characters")
	}
	if len(resourcepart) > 1023 {
		return errors.New("jid: resourcepart must be 1023 bytes or less")
	}
	if l := len(domainpart); l < 1 || l > 1023 {
		return errors.New("jid: domainpart must be between 1 and 1023 bytes")
	}
	return checkIP6String(domainpart)
}

// Localpart returns the localpart of the JID, or the empty string if none is
// set.
func (j JID) Localpart() string { return j.localpart }

// Domainpart returns the domainpart of the JID.
func (j JID) Domainpart() string { return j.domainpart }

// Resourcepart returns the resourcepart of the JID, or the empty string if
// none is set.
func (j JID) Resourcepart() string { return j.resourcepart }

// Domain returns the domain-only JID (no localpart, no resourcepart).
func (j JID) Domain() JID {
	return JID{domainpart: j.domainpart}
}

// Bare returns a copy of the JID without its resourcepart.
func (j JID) Bare() JID {
	return JID{localpart: j.localpart, domainpart: j.domainpart}
}

// WithResource returns a copy of the JID with the resourcepart replaced.
// The replacement is passed through the OpaqueString precis profile.
func (j JID) WithResource(resourcepart string) (JID, error) {
	if resourcepart == "" {
		return j.Bare(), nil
	}
	rp, err := precis.OpaqueString.String(resourcepart)
	if err != nil {
		return JID{}, err
	}
	if err := commonChecks(j.localpart, j.domainpart, rp); err != nil {
		return JID{}, err
	}
	return JID{localpart: j.localpart, domainpart: j.domainpart, resourcepart: rp}, nil
}

// WithLocal returns a copy of the JID with the localpart replaced.
func (j JID) WithLocal(localpart string) (JID, error) {
	lp, err := precis.UsernameCaseMapped.String(localpart)
	if err != nil {
		return JID{}, err
	}
	if err := commonChecks(lp, j.domainpart, j.resourcepart); err != nil {
		return JID{}, err
	}
	return JID{localpart: lp, domainpart: j.domainpart, resourcepart: j.resourcepart}, nil
}

// Equal reports whether j and j2 address the same entity: the localpart and
// domainpart compare case-insensitively (they are already case-folded by
// Parse/New), the resourcepart compares byte-for-byte.
func (j JID) Equal(j2 JID) bool {
	return j.localpart == j2.localpart && j.domainpart == j2.domainpart && j.resourcepart == j2.resourcepart
}

// BareEqual reports whether j and j2 share the same bare JID, ignoring any
// resourcepart.
func (j JID) BareEqual(j2 JID) bool {
	return j.localpart == j2.localpart && j.domainpart == j2.domainpart
}

// IsZero reports whether j is the zero-value JID (no domainpart).
func (j JID) IsZero() bool {
	return j.domainpart == "" && j.localpart == "" && j.resourcepart == ""
}

// String returns the string representation of the JID:
// "[localpart@]domainpart[/resourcepart]".
func (j JID) String() string {
	var b strings.Builder
	if j.localpart != "" {
		b.WriteString(j.localpart)
		b.WriteByte('@')
	}
	b.WriteString(j.domainpart)
	if j.resourcepart != "" {
		b.WriteByte('/')
		b.WriteString(j.resourcepart)
	}
	return b.String()
}

// Network returns "tcp", satisfying net.Addr so a JID can be used wherever
// an address is expected (eg. when constructing a see-other-host stream
// error).
func (j JID) Network() string { return "tcp" }

// MarshalXMLAttr satisfies xml.MarshalerAttr. A zero-value JID marshals to
// no attribute at all (encoding/xml omits any xml.Attr with an empty Name).
func (j JID) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	if j.IsZero() {
		return xml.Attr{}, nil
	}
	return xml.Attr{Name: name, Value: j.String()}, nil
}

// UnmarshalXMLAttr satisfies xml.UnmarshalerAttr.
func (j *JID) UnmarshalXMLAttr(attr xml.Attr) error {
	parsed, err := Parse(attr.Value)
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}
