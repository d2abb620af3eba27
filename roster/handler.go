// Copyright 2024 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package roster

import (
	"encoding/xml"

	"mellium.im/xmlstream"
	"git.sr.ht/~wire/xmpp/mux"
	"git.sr.ht/~wire/xmpp/stanza"
)

// Handle returns an option that registers h on the multiplexer to receive
// roster pushes (an IQ of type set sent unprompted by the server when the
// roster changes).
func Handle(h Handler) mux.Option {
	return func(m *mux.ServeMux) {
		mux.IQ(stanza.SetIQ, xml.Name{Space: NS, Local: "query"}, h)(m)
	}
}

// Handler can be used to respond to roster pushes.
type Handler struct {
	// Push is called with each item in an incoming roster push. A
	// subscription of "remove" means the item was deleted.
	Push func(Item)
}

// HandleIQ implements mux.IQHandler.
func (h Handler) HandleIQ(iq stanza.IQ, r xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	iter := xmlstream.NewIter(r)
	for iter.Next() {
		itemStart, inner := iter.Current()
		if itemStart.Name.Local != "item" {
			continue
		}
		var item Item
		d := xml.NewTokenDecoder(xmlstream.MultiReader(xmlstream.Token(*itemStart), inner, xmlstream.Token(itemStart.End())))
		if err := d.Decode(&item); err != nil {
			return err
		}
		if h.Push != nil {
			h.Push(item)
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	_, err := xmlstream.Copy(r, iq.Result(nil))
	return err
}
