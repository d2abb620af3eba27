// Copyright 2015 The Mellium Contributors.
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

// ErrNotMessage is returned by NewMessage when the provided start element is
// not a message stanza.
var ErrNotMessage = errors.New("stanza: start element is not a message")

// Message is an XMPP stanza that is used for push-style communication
// between two entities. Unlike IQs, messages do not require a response.
type Message struct {
	XMLName xml.Name    `xml:"message"`
	ID      string      `xml:"id,attr"`
	To      jid.JID     `xml:"to,attr"`
	From    jid.JID     `xml:"from,attr"`
	Lang    string      `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Type    MessageType `xml:"type,attr,omitempty"`
}

// MessageType is the type of a message stanza, as defined in RFC 6121 §5.2.2.
type MessageType string

const (
	// NormalMessage is a standalone message sent outside the context of a
	// one-to-one conversation or groupchat, and the default type when the
	// attribute is omitted.
	NormalMessage MessageType = "normal"

	// ChatMessage is sent in the context of a one-to-one chat session.
	ChatMessage MessageType = "chat"

	// GroupChatMessage is sent in the context of a multi-user chat.
	GroupChatMessage MessageType = "groupchat"

	// HeadlineMessage is used to transmit alerts, notices, or other transient
	// information to which no reply is expected.
	HeadlineMessage MessageType = "headline"

	// ErrorMessage indicates that the message is generated in response to a
	// failure to deliver a previous message.
	ErrorMessage MessageType = "error"
)

// StartElement returns an xml.StartElement representing the message, using
// its XMLName's namespace (if set) to qualify the "message" element.
func (m Message) StartElement() xml.StartElement {
	start := xml.StartElement{
		Name: xml.Name{Space: m.XMLName.Space, Local: "message"},
	}
	if m.ID != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "id"}, Value: m.ID})
	}
	if !m.To.IsZero() {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "to"}, Value: m.To.String()})
	}
	if !m.From.IsZero() {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "from"}, Value: m.From.String()})
	}
	if m.Lang != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: m.Lang})
	}
	if m.Type != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(m.Type)})
	}
	return start
}

// NewMessage populates a Message's fields from a start element previously
// read off the wire. It returns ErrNotMessage if start is not named
// "message".
func NewMessage(start xml.StartElement) (Message, error) {
	if start.Name.Local != "message" {
		return Message{}, ErrNotMessage
	}
	m := Message{XMLName: start.Name}
	if _, v := attr.Get(start.Attr, "id"); v != "" {
		m.ID = v
	}
	if _, v := attr.Get(start.Attr, "to"); v != "" {
		j, err := jid.Parse(v)
		if err != nil {
			return m, err
		}
		m.To = j
	}
	if _, v := attr.Get(start.Attr, "from"); v != "" {
		j, err := jid.Parse(v)
		if err != nil {
			return m, err
		}
		m.From = j
	}
	for _, a := range start.Attr {
		if a.Name.Space == ns.XML && a.Name.Local == "lang" {
			m.Lang = a.Value
		}
	}
	if _, v := attr.Get(start.Attr, "type"); v != "" {
		m.Type = MessageType(v)
	}
	return m, nil
}

// Wrap wraps the payload in a full message stanza using the Message's
// existing fields.
func (m Message) Wrap(payload xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(payload, m.StartElement())
}

// Reply returns a new message addressed back to the original sender,
// swapping To and From and reusing the Type.
func (m Message) Reply(payload xml.TokenReader) xml.TokenReader {
	reply := Message{
		XMLName: m.XMLName,
		To:      m.From,
		From:    m.To,
		Type:    m.Type,
	}
	return reply.Wrap(payload)
}
