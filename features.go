// Copyright 2016 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package xmpp

import (
	"context"
	"encoding/xml"
	"io"

	"git.sr.ht/~wire/xmpp/internal/ns"
	"git.sr.ht/~wire/xmpp/stream"
)

// A StreamFeature represents a feature that may be advertised and negotiated
// during stream negotiation (eg. STARTTLS, SASL, or resource binding).
// Features should be stateless and usable from multiple goroutines unless
// otherwise specified.
type StreamFeature struct {
	// The XML name of the feature in the <stream:features/> list. If a start
	// element with this name is seen while the session is reading the
	// features list, it triggers this StreamFeature's Parse function.
	Name xml.Name

	// Bits that must already be set before this feature is advertised or
	// negotiated. For instance, a feature that should only be offered after
	// authentication would set this to Authn.
	Necessary SessionState

	// Bits that must be unset for this feature to be advertised or
	// negotiated. For instance, a feature that performs authentication
	// itself (so that it makes no sense to offer it again) would set this to
	// Authn.
	Prohibited SessionState

	// List writes the feature's representation into the stream:features
	// list for server (Received) sessions. It reports whether the feature is
	// mandatory-to-negotiate.
	List func(ctx context.Context, e *xml.Encoder, start xml.StartElement) (req bool, err error)

	// Parse reads the feature's start element (already consumed from the
	// decoder) and any children, returning whether the feature is required
	// and any data that Negotiate will need (eg. the advertised mechanism
	// list for SASL).
	Parse func(ctx context.Context, r xml.TokenReader, start *xml.StartElement) (req bool, data interface{}, err error)

	// Negotiate takes over the session temporarily to negotiate the feature.
	// The returned mask is OR'd into the session state once negotiation
	// completes. If rwc is non-nil the session's underlying connection is
	// replaced with it and a stream restart is performed (eg. after
	// STARTTLS or SASL negotiation, both of which require the stream to be
	// reopened).
	Negotiate func(ctx context.Context, session *Session, data interface{}) (mask SessionState, rwc io.ReadWriteCloser, err error)
}

type sfData struct {
	req     bool
	data    interface{}
	feature StreamFeature
}

// negotiateFeatures reads a <stream:features/> element from the session (for
// initiating sessions) or writes one (for receiving sessions), then
// negotiates from it. If any advertised feature is mandatory-to-negotiate,
// every advertised feature named in features is negotiated (in the order
// features was given in, eg. bind before stream management), stopping after
// the first one that replaces the connection; otherwise only the first
// advertised feature is negotiated. The loop in negotiator calls this
// repeatedly (triggering a stream restart whenever rw is non-nil) until the
// Ready bit is set.
func negotiateFeatures(ctx context.Context, s *Session, features []StreamFeature) (mask SessionState, rw io.ReadWriter, err error) {
	if s.State()&Received == Received {
		req, err := writeStreamFeatures(ctx, s, features)
		if err != nil {
			return mask, nil, err
		}
		if req == 0 {
			return Ready, nil, nil
		}
		// TODO: wait for the peer to select one of the written features.
		panic("xmpp: receiving stream feature selection is not yet implemented")
	}

	tok, err := s.Token()
	if err != nil {
		return mask, nil, err
	}
	start, ok := tok.(xml.StartElement)
	if !ok {
		return mask, nil, stream.BadFormat
	}
	list, err := readStreamFeatures(ctx, s, start, features)
	switch {
	case err != nil:
		return mask, nil, err
	case list.total == 0 || len(list.cache) == 0:
		// No supported features were advertised; nothing left to negotiate.
		return Ready, nil, nil
	}

	if !list.req {
		// Nothing advertised was mandatory-to-negotiate; negotiate whichever
		// one of our supported features happened to be offered.
		for _, f := range features {
			data, ok := list.cache[f.Name]
			if !ok {
				continue
			}
			var rwc io.ReadWriteCloser
			mask, rwc, err = f.Negotiate(ctx, s, data.data)
			if err == nil {
				s.negotiated[f.Name.Space] = struct{}{}
			}
			if rwc != nil {
				rw = rwc
			}
			return mask, rw, err
		}
		return mask, rw, err
	}

	// At least one advertised feature was mandatory-to-negotiate, so negotiate
	// every advertised feature we know about, in the caller's preference
	// order (eg. resource binding before stream management, offered and
	// wanted in the same round even though only binding is itself marked
	// required), stopping as soon as a feature swaps the underlying
	// connection: that requires a stream restart before anything further can
	// be negotiated. Anything in list.cache is already something features
	// asked for by name, so it's safe to negotiate regardless of its own req
	// flag once we know this round has at least one mandatory feature.
	//
	// effState accumulates the mask bits returned by each feature negotiated
	// so far this round (s.state itself is only updated once the whole round
	// returns), so that a feature negotiated earlier in the round can
	// prohibit or satisfy one negotiated later in the same round. This is how
	// a successful stream resumption, ordered before resource binding,
	// causes binding to skip itself: resumption's mask sets Bound, and
	// binding's Prohibited includes Bound.
	effState := s.State()
	for _, f := range features {
		data, ok := list.cache[f.Name]
		if !ok {
			continue
		}
		if (effState&f.Necessary) != f.Necessary || (effState&f.Prohibited) != 0 {
			continue
		}
		var m SessionState
		var rwc io.ReadWriteCloser
		m, rwc, err = f.Negotiate(ctx, s, data.data)
		if err != nil {
			return mask, rw, err
		}
		mask |= m
		effState |= m
		s.negotiated[f.Name.Space] = struct{}{}
		if rwc != nil {
			return mask, rwc, nil
		}
	}
	return mask, rw, err
}

func writeStreamFeatures(ctx context.Context, s *Session, features []StreamFeature) (req int, err error) {
	if err = s.EncodeToken(xml.StartElement{Name: xml.Name{Space: ns.Stream, Local: "features"}}); err != nil {
		return req, err
	}
	for _, feature := range features {
		if (s.State()&feature.Necessary) != feature.Necessary || (s.State()&feature.Prohibited) != 0 {
			continue
		}
		r, err := feature.List(ctx, s.out.e, xml.StartElement{Name: feature.Name})
		if err != nil {
			return req, err
		}
		if r {
			req++
		}
	}
	if err = s.EncodeToken(xml.EndElement{Name: xml.Name{Space: ns.Stream, Local: "features"}}); err != nil {
		return req, err
	}
	return req, s.Flush()
}

type streamFeaturesList struct {
	total int
	req   bool
	cache map[xml.Name]sfData
}

func readStreamFeatures(ctx context.Context, s *Session, start xml.StartElement, features []StreamFeature) (*streamFeaturesList, error) {
	switch {
	case start.Name.Local != "features":
		return nil, stream.InvalidXML
	case start.Name.Space != ns.Stream:
		return nil, stream.BadNamespacePrefix
	}

	byName := make(map[xml.Name]StreamFeature, len(features))
	for _, f := range features {
		byName[f.Name] = f
	}

	list := &streamFeaturesList{cache: make(map[xml.Name]sfData)}
parsefeatures:
	for {
		tok, err := s.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			list.total++
			s.features[t.Name.Space] = struct{}{}
			feature, ok := byName[t.Name]
			if !ok || (s.State()&feature.Necessary) != feature.Necessary || (s.State()&feature.Prohibited) != 0 {
				if err := xmlskip(s); err != nil {
					return nil, err
				}
				continue parsefeatures
			}
			req, data, err := feature.Parse(ctx, s, &t)
			if err != nil {
				return nil, err
			}
			list.cache[t.Name] = sfData{req: req, data: data, feature: feature}
			if req {
				list.req = true
			}
		case xml.EndElement:
			if t.Name.Local == "features" && t.Name.Space == ns.Stream {
				return list, nil
			}
			return nil, stream.InvalidXML
		default:
			return nil, stream.RestrictedXML
		}
	}
}

// xmlskip discards tokens up to and including the end of the current
// element, mirroring (*xml.Decoder).Skip for a session's token stream.
func xmlskip(s *Session) error {
	depth := 1
	for depth > 0 {
		tok, err := s.Token()
		if err != nil {
			return err
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}
