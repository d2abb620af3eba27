// Copyright 2024 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package authfast implements the client side of XEP-0484: Fast
// Authentication Streamlining Tokens (FAST): construction of HT-*-* SASL
// mechanism proofs and storage of the token a server issues so that a later
// connection can reauthenticate without the full password-based exchange.
package authfast // import "git.sr.ht/~wire/xmpp/authfast"

import (
	"crypto"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	stdx509 "crypto/x509"
	"hash"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
)

// exporterLabel is the RFC 9266 (and XEP-0484 §4) label used when deriving
// the EXPR channel-binding variant from TLS 1.3 exported keying material.
const exporterLabel = "EXPORTER-Channel-Binding"

// Binding names the TLS channel-binding variant folded into an HT-*-*
// mechanism's proof, encoded as the third component of the mechanism name
// (eg. HT-SHA-256-UNIQ).
type Binding string

// Channel-binding variants defined by XEP-0484 §4.
const (
	// BindingNone uses no channel-binding material at all.
	BindingNone Binding = "NONE"
	// BindingUnique uses TLS 1.2 tls-unique (RFC 5929).
	BindingUnique Binding = "UNIQ"
	// BindingExporter uses a TLS 1.3 exported keying material value.
	BindingExporter Binding = "EXPR"
	// BindingEndpoint uses a hash of the server's end-entity certificate
	// (tls-server-end-point, RFC 5929 §4.1).
	BindingEndpoint Binding = "ENDP"
)

// Mechanism describes one HT-<hash>-<binding> SASL mechanism.
type Mechanism struct {
	// Name is the SASL mechanism name as advertised on the wire, eg.
	// "HT-SHA-256-NONE".
	Name string
	// Hash constructs the HMAC hash function used for this mechanism's
	// proof.
	Hash func() hash.Hash
	// Binding is the channel-binding variant this mechanism requires.
	Binding Binding
}

// Mechanisms lists every HT-*-* mechanism this package can prove, ordered
// strongest-hash-first within each binding variant. Channel binding (beyond
// NONE) narrows an otherwise-offered mechanism to connections that can
// actually produce the required material; see ChannelBinding.
var Mechanisms = []Mechanism{
	{Name: "HT-SHA3-512-ENDP", Hash: sha3.New512, Binding: BindingEndpoint},
	{Name: "HT-SHA-512-ENDP", Hash: sha512.New, Binding: BindingEndpoint},
	{Name: "HT-SHA-256-ENDP", Hash: sha256.New, Binding: BindingEndpoint},
	{Name: "HT-SHA3-512-EXPR", Hash: sha3.New512, Binding: BindingExporter},
	{Name: "HT-SHA-512-EXPR", Hash: sha512.New, Binding: BindingExporter},
	{Name: "HT-SHA-256-EXPR", Hash: sha256.New, Binding: BindingExporter},
	{Name: "HT-SHA3-512-UNIQ", Hash: sha3.New512, Binding: BindingUnique},
	{Name: "HT-SHA-512-UNIQ", Hash: sha512.New, Binding: BindingUnique},
	{Name: "HT-SHA-256-UNIQ", Hash: sha256.New, Binding: BindingUnique},
	{Name: "HT-SHA3-512-NONE", Hash: sha3.New512, Binding: BindingNone},
	{Name: "HT-SHA-512-NONE", Hash: sha512.New, Binding: BindingNone},
	{Name: "HT-SHA-256-NONE", Hash: sha256.New, Binding: BindingNone},
}

// ByName returns the mechanism with the given name, or ok=false if name
// isn't an HT-*-* mechanism this package implements.
func ByName(name string) (m Mechanism, ok bool) {
	for _, m := range Mechanisms {
		if m.Name == name {
			return m, true
		}
	}
	return Mechanism{}, false
}

// ChannelBinding extracts the binding material for b from a TLS connection
// state, or returns nil if it can't be obtained (eg. UNIQ on a TLS 1.3
// handshake, or EXPR on a connection state that predates the handshake
// completing). A nil result means the caller should drop any mechanism
// requiring that variant rather than send a proof computed over no material
// at all.
func ChannelBinding(b Binding, cs tls.ConnectionState) (material []byte) {
	switch b {
	case BindingUnique:
		return cs.TLSUnique
	case BindingExporter:
		defer func() {
			if recover() != nil {
				material = nil
			}
		}()
		m, err := cs.ExportKeyingMaterial(exporterLabel, nil, 32)
		if err != nil {
			return nil
		}
		return m
	case BindingEndpoint:
		if len(cs.PeerCertificates) == 0 {
			return nil
		}
		return endpointBinding(cs.PeerCertificates[0])
	default:
		return nil
	}
}

// endpointBinding implements tls-server-end-point (RFC 5929 §4.1): hash the
// certificate's DER encoding with the hash function used by its own
// signature algorithm, falling back to SHA-256 for MD5- or SHA-1-signed
// certificates (and anything this package doesn't recognize).
func endpointBinding(cert *stdx509.Certificate) []byte {
	h := endpointHash(cert.SignatureAlgorithm)
	sum := h.New()
	sum.Write(cert.Raw)
	return sum.Sum(nil)
}

func endpointHash(alg stdx509.SignatureAlgorithm) crypto.Hash {
	switch alg {
	case stdx509.SHA384WithRSA, stdx509.ECDSAWithSHA384, stdx509.SHA384WithRSAPSS:
		return crypto.SHA384
	case stdx509.SHA512WithRSA, stdx509.ECDSAWithSHA512, stdx509.SHA512WithRSAPSS:
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}

// Proof computes an HT-*-* mechanism's proof:
// HMAC-<hash>(token-secret, user || 0x00 || channel-binding-material).
func Proof(m Mechanism, secret []byte, user string, binding []byte) []byte {
	mac := hmac.New(m.Hash, secret)
	mac.Write([]byte(user))
	mac.Write([]byte{0})
	mac.Write(binding)
	return mac.Sum(nil)
}

// Token is a FAST credential: the shared secret from a prior <success/>'s
// <token/> element, the mechanism it was issued for, and its server-set
// expiry.
type Token struct {
	Mechanism string
	Secret    []byte
	Expiry    time.Time
}

// Valid reports whether t is usable as-is: it has a secret and has not
// passed its expiry.
func (t Token) Valid() bool {
	return len(t.Secret) > 0 && time.Now().Before(t.Expiry)
}

// Store holds at most one FAST token at a time. The zero value holds no
// token and is ready to use.
//
// A Store is safe for concurrent use by multiple goroutines.
type Store struct {
	mu  sync.RWMutex
	tok Token
}

// Load returns the currently held token, the zero Token if none has been
// saved yet.
func (s *Store) Load() Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tok
}

// Save replaces the held token. XEP-0484 requires this to happen only after
// a <success/> has been fully parsed, so that a connection that drops before
// success leaves the previous token (if any) usable.
func (s *Store) Save(tok Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = tok
}

// Clear discards the held token, eg. after the server rejects an HT-*-*
// attempt outright.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = Token{}
}

// Select picks the HT-*-* mechanism to reauthenticate with, given the
// server's advertised mechanism list and the token currently held. ok is
// false if tok isn't valid or its mechanism wasn't advertised this round, in
// which case FAST can't be used and the caller should fall back to a
// password-based mechanism (optionally requesting a fresh token; see
// RequestMechanism).
func Select(advertised []string, tok Token) (m Mechanism, ok bool) {
	if !tok.Valid() {
		return Mechanism{}, false
	}
	for _, name := range advertised {
		if name == tok.Mechanism {
			return ByName(name)
		}
	}
	return Mechanism{}, false
}

// RequestMechanism picks the strongest HT-*-* mechanism to request a fresh
// token for via <request-token/>, out of the server's advertised mechanism
// list. It returns ok=false if the server advertised no HT-*-* mechanisms at
// all.
func RequestMechanism(advertised []string) (m Mechanism, ok bool) {
	offered := make(map[string]bool, len(advertised))
	for _, name := range advertised {
		offered[name] = true
	}
	for _, m := range Mechanisms {
		if offered[m.Name] {
			return m, true
		}
	}
	return Mechanism{}, false
}
