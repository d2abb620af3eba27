// Copyright 2016 Sam Whited.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"errors"

	"mellium.im/xmlstream"
	"git.sr.ht/~wire/xmpp/internal/attr"
	"git.sr.ht/~wire/xmpp/internal/ns"
	"git.sr.ht/~wire/xmpp/jid"
)

// Errors returned by the stanza package.
var (
	ErrEmptyIQType = errors.New("stanza: empty IQ type")
	ErrNotIQ       = errors.New("stanza: start element is not an iq")
)

// IQ ("Information Query") is used as a general request response mechanism.
// IQ's are one-to-one, provide get and set semantics, and always require a
// response in the form of a result or an error.
type IQ struct {
	XMLName xml.Name `xml:"iq"`
	ID      string   `xml:"id,attr"`
	To      jid.JID  `xml:"to,attr"`
	From    jid.JID  `xml:"from,attr"`
	Lang    string   `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Type    IQType   `xml:"type,attr"`
}

// IQType is the type of an IQ stanza.
// It should normally be one of the constants defined in this package.
type IQType string

const (
	// GetIQ is used to query another entity for information.
	GetIQ IQType = "get"

	// SetIQ is used to provide data to another entity, set new values, and
	// replace existing values.
	SetIQ IQType = "set"

	// ResultIQ is sent in response to a successful get or set IQ.
	ResultIQ IQType = "result"

	// ErrorIQ is sent to report that an error occurred during the delivery or
	// processing of a get or set IQ.
	ErrorIQ IQType = "error"
)

// MarshalXMLAttr satisfies the xml.MarshalerAttr interface for IQType.
// It returns ErrEmptyIQType when trying to marshal a IQ stanza with an empty
// type attribute.
func (t IQType) MarshalXMLAttr(name xml.Name) (attr xml.Attr, err error) {
	s := string(t)
	if s == "" {
		s = string(GetIQ)
	}
	attr.Name = name
	attr.Value = s
	return attr, nil
}

// StartElement returns an xml.StartElement representing the IQ, using its
// XMLName's namespace (if set) to qualify the "iq" element and the child
// elements of the IQ's attributes.
func (iq IQ) StartElement() xml.StartElement {
	if iq.XMLName.Local == "" {
		iq.XMLName.Local = "iq"
	}
	start := xml.StartElement{
		Name: xml.Name{Space: iq.XMLName.Space, Local: "iq"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "type"}, Value: string(iq.Type)},
		},
	}
	if !iq.To.IsZero() {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "to"}, Value: iq.To.String()})
	}
	if !iq.From.IsZero() {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "from"}, Value: iq.From.String()})
	}
	if iq.Lang != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: iq.Lang})
	}
	if iq.ID != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "id"}, Value: iq.ID})
	}
	return start
}

// NewIQ populates an IQ's fields from a start element previously read off
// the wire, preserving the element's own name and namespace (the element
// local name is not required to be "iq" so that the function can also be
// used while still deciding what kind of stanza was received).
func NewIQ(start xml.StartElement) (IQ, error) {
	iq := IQ{XMLName: start.Name}
	if _, v := attr.Get(start.Attr, "id"); v != "" {
		iq.ID = v
	}
	if _, v := attr.Get(start.Attr, "to"); v != "" {
		j, err := jid.Parse(v)
		if err != nil {
			return iq, err
		}
		iq.To = j
	}
	if _, v := attr.Get(start.Attr, "from"); v != "" {
		j, err := jid.Parse(v)
		if err != nil {
			return iq, err
		}
		iq.From = j
	}
	for _, a := range start.Attr {
		if a.Name.Space == ns.XML && a.Name.Local == "lang" {
			iq.Lang = a.Value
		}
	}
	if _, v := attr.Get(start.Attr, "type"); v != "" {
		iq.Type = IQType(v)
	}
	return iq, nil
}

// Wrap wraps the payload in a full IQ stanza using the IQ's existing
// fields. The resulting token stream is not itself addressable without a
// Type, so this returns an error condition indirectly by emitting whatever
// payload produces: validity is left to the caller, matching WrapIQ's
// package-level contract.
func (iq IQ) Wrap(payload xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(payload, iq.StartElement())
}

// Result returns a new result IQ (or an error IQ, if payload is a
// stanza.Error) addressed back to the original sender, swapping To and
// From, and reusing the original id.
func (iq IQ) Result(payload xml.TokenReader) xml.TokenReader {
	result := IQ{
		XMLName: iq.XMLName,
		ID:      iq.ID,
		To:      iq.From,
		From:    iq.To,
		Type:    ResultIQ,
	}
	return result.Wrap(payload)
}

// Error returns an error IQ addressed back to the original sender carrying
// the provided stanza.Error as its payload.
func (iq IQ) Error(e Error) xml.TokenReader {
	result := IQ{
		XMLName: iq.XMLName,
		ID:      iq.ID,
		To:      iq.From,
		From:    iq.To,
		Type:    ErrorIQ,
	}
	return result.Wrap(e.TokenReader())
}
