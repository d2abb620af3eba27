// Copyright 2015 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package jid

import (
	"encoding/xml"
	"fmt"
	"net"
	"strings"
	"testing"
)

// Compile time check to make sure that JID matches several interfaces.
var _ fmt.Stringer = JID{}
var _ xml.MarshalerAttr = JID{}
var _ xml.UnmarshalerAttr = (*JID)(nil)
var _ net.Addr = JID{}

func TestValidJIDs(t *testing.T) {
	for _, jid := range []struct {
		jid, lp, dp, rp string
	}{
		{"example.net", "", "example.net", ""},
		{"example.net/rp", "", "example.net", "rp"},
		{"mercutio@example.net", "mercutio", "example.net", ""},
		{"mercutio@example.net/rp", "mercutio", "example.net", "rp"},
		{"mercutio@example.net/rp@rp", "mercutio", "example.net", "rp@rp"},
		{"mercutio@example.net/rp@rp/rp", "mercutio", "example.net", "rp@rp/rp"},
		{"mercutio@example.net/@", "mercutio", "example.net", "@"},
		{"mercutio@example.net//@", "mercutio", "example.net", "/@"},
		{"mercutio@example.net//@//", "mercutio", "example.net", "/@//"},
		{"[::1]", "", "[::1]", ""},
		{"example.NET", "", "example.net", ""},
	} {
		j, err := Parse(jid.jid)
		switch {
		case err != nil:
			t.Errorf("parsing %q: %v", jid.jid, err)
		case j.Domainpart() != jid.dp:
			t.Errorf("got domainpart %s but expected %s", j.Domainpart(), jid.dp)
		case j.Localpart() != jid.lp:
			t.Errorf("got localpart %s but expected %s", j.Localpart(), jid.lp)
		case j.Resourcepart() != jid.rp:
			t.Errorf("got resourcepart %s but expected %s", j.Resourcepart(), jid.rp)
		}
	}
}

var invalidutf8 = string([]byte{0xff, 0xfe, 0xfd})

func TestInvalidParseJIDs(t *testing.T) {
	for _, jid := range []string{
		"test@/test",
		invalidutf8 + "@example.com/rp",
		invalidutf8 + "/rp",
		invalidutf8,
		"example.com/" + invalidutf8,
		"lp@/rp",
		`b"d@example.net`,
		`b&d@example.net`,
		`b'd@example.net`,
		`b:d@example.net`,
		`b<d@example.net`,
		`b>d@example.net`,
		`e@example.net/`,
		"@missinglocal.net",
	} {
		_, err := Parse(jid)
		if err == nil {
			t.Errorf("expected JID %q to fail", jid)
		}
	}
}

func TestInvalidNewJIDs(t *testing.T) {
	for _, jid := range []struct {
		lp, dp, rp string
	}{
		{strings.Repeat("a", 1024), "example.net", ""},
		{"e", "example.net", strings.Repeat("a", 1024)},
		{"b/d", "example.net", ""},
		{"b@d", "example.net", ""},
		{"e", "[example.net]", ""},
		{"e", "", ""},
	} {
		_, err := New(jid.lp, jid.dp, jid.rp)
		if err == nil {
			t.Errorf("expected composition of JID parts %+v to fail", jid)
		}
	}
}

func TestMustParsePanics(t *testing.T) {
	handleErr := func(shouldPanic bool) {
		r := recover()
		switch {
		case shouldPanic && r == nil:
			t.Error("MustParse should panic on invalid JID")
		case !shouldPanic && r != nil:
			t.Error("MustParse should not panic on valid JID")
		}
	}
	for _, tc := range []struct {
		jid         string
		shouldPanic bool
	}{
		{"@me", true},
		{"e@example.net", false},
	} {
		func() {
			defer handleErr(tc.shouldPanic)
			MustParse(tc.jid)
		}()
	}
}

func TestEqual(t *testing.T) {
	m := MustParse("mercutio@example.net/test")
	for _, test := range []struct {
		j1, j2 JID
		eq     bool
	}{
		{m, MustParse("mercutio@example.net/test"), true},
		{m.Bare(), MustParse("mercutio@example.net"), true},
		{m.Domain(), MustParse("example.net"), true},
		{m, MustParse("mercutio@example.net/nope"), false},
		{m, MustParse("mercutio@e.com/test"), false},
		{m, MustParse("m@example.net/test"), false},
		{JID{}, JID{}, true},
		{m, JID{}, false},
	} {
		switch {
		case test.eq && !test.j1.Equal(test.j2):
			t.Errorf("JIDs %s and %s should be equal", test.j1, test.j2)
		case !test.eq && test.j1.Equal(test.j2):
			t.Errorf("JIDs %s and %s should not be equal", test.j1, test.j2)
		}
	}
}

func TestBareEqualIgnoresResource(t *testing.T) {
	a := MustParse("mercutio@example.net/home")
	b := MustParse("mercutio@example.net/work")
	if !a.BareEqual(b) {
		t.Error("expected bare JIDs to be equal regardless of resourcepart")
	}
	if a.Equal(b) {
		t.Error("full JIDs with different resourceparts should not be Equal")
	}
}

func TestNetwork(t *testing.T) {
	if MustParse("test.net").Network() != "tcp" {
		t.Error("Network should be `tcp`")
	}
}

func TestWithResource(t *testing.T) {
	m := MustParse("mercutio@example.net")
	full, err := m.WithResource("home")
	if err != nil {
		t.Fatal(err)
	}
	if full.String() != "mercutio@example.net/home" {
		t.Errorf("got %s, expected mercutio@example.net/home", full)
	}
	back, err := full.WithResource("")
	if err != nil {
		t.Fatal(err)
	}
	if !back.Equal(m) {
		t.Errorf("clearing the resourcepart should round-trip to the bare JID, got %s", back)
	}
}

func TestMarshalXMLAttr(t *testing.T) {
	j := MustParse("feste@shakespeare.lit/ilyria")
	attr, err := j.MarshalXMLAttr(xml.Name{Local: "from"})
	if err != nil {
		t.Fatal(err)
	}
	if attr.Value != "feste@shakespeare.lit/ilyria" {
		t.Errorf("got %s, expected feste@shakespeare.lit/ilyria", attr.Value)
	}
}

func TestUnmarshalXMLAttr(t *testing.T) {
	var j JID
	err := j.UnmarshalXMLAttr(xml.Attr{Name: xml.Name{Local: "from"}, Value: "feste@shakespeare.lit/ilyria"})
	if err != nil {
		t.Fatal(err)
	}
	want := MustParse("feste@shakespeare.lit/ilyria")
	if !j.Equal(want) {
		t.Errorf("got %s, expected %s", j, want)
	}

	err = j.UnmarshalXMLAttr(xml.Attr{Name: xml.Name{Local: "from"}, Value: "@nope"})
	if err == nil {
		t.Error("expected unmarshaling an invalid JID attribute to fail")
	}
}
