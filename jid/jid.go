// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package jid implements XMPP addresses (historically, Jabber IDs) as defined
// by RFC 6122.
//
// A JID is composed of an optional localpart, a required domainpart, and an
// optional resourcepart. An address without a resourcepart is called a "bare"
// JID; an address with one is a "full" JID.
package jid // import "quetzal.im/xmpp/jid"

import (
	"encoding/xml"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

var (
	// ErrEmpty is returned when parsing the empty string.
	ErrEmpty = errors.New("jid: empty address")

	// ErrInvalid is returned when an address or one of its parts contains a
	// character that is never valid in a JID.
	ErrInvalid = errors.New("jid: address contains forbidden characters")
)

// The characters that terminate or separate parts may never appear inside a
// part.
var (
	fullExp = regexp.MustCompile(`^(?:([^<>'"\s@/]+)@)?([^<>'"\s@/]+)/([^<>'"\s]+)$`)
	bareExp = regexp.MustCompile(`^(?:([^<>'"\s@/]+)@)?([^<>'"\s@/]+)$`)
)

// JID represents an XMPP address. The zero value is the empty address.
type JID struct {
	local    string
	domain   string
	resource string
}

// Parse constructs a JID from its string representation. The address must
// match either the full or the bare form; any of the characters
// < > ' " @ / or whitespace inside a part make the address unparseable.
func Parse(s string) (JID, error) {
	if s == "" {
		return JID{}, ErrEmpty
	}
	if m := fullExp.FindStringSubmatch(s); m != nil {
		return New(m[1], m[2], m[3])
	}
	if m := bareExp.FindStringSubmatch(s); m != nil {
		return New(m[1], m[2], "")
	}
	return JID{}, ErrInvalid
}

// MustParse is like Parse but panics if the address cannot be parsed.
// It simplifies initialization of JIDs from known-good constant strings.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		panic(`jid: Parse(` + s + `): ` + err.Error())
	}
	return j
}

// New constructs a JID from its constituent parts. Each part is enforced
// using the appropriate precis profile and the domainpart is converted from
// any A-labels to Unicode.
func New(localpart, domainpart, resourcepart string) (JID, error) {
	if domainpart == "" {
		return JID{}, ErrEmpty
	}
	if !utf8.ValidString(localpart) || !utf8.ValidString(domainpart) || !utf8.ValidString(resourcepart) {
		return JID{}, errors.New("jid: address contains invalid UTF-8")
	}

	domainpart, err := idna.ToUnicode(domainpart)
	if err != nil {
		return JID{}, err
	}

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

	if strings.ContainsAny(localpart, "<>'\"@/ \t\r\n") ||
		strings.ContainsAny(domainpart, "<>'\"@/ \t\r\n") ||
		strings.ContainsAny(resourcepart, "<>'\" \t\r\n") {
		return JID{}, ErrInvalid
	}

	return JID{
		local:    localpart,
		domain:   domainpart,
		resource: resourcepart,
	}, nil
}

// Bare returns a copy of the JID with the resourcepart removed.
func (j JID) Bare() JID {
	return JID{local: j.local, domain: j.domain}
}

// WithResource returns a copy of the JID with the given resourcepart.
func (j JID) WithResource(resourcepart string) (JID, error) {
	return New(j.local, j.domain, resourcepart)
}

// Domain returns a copy of the JID with only the domainpart set.
func (j JID) Domain() JID {
	return JID{domain: j.domain}
}

// Localpart returns the localpart of the JID (the part before the '@').
func (j JID) Localpart() string { return j.local }

// Domainpart returns the domainpart of the JID.
func (j JID) Domainpart() string { return j.domain }

// Resourcepart returns the resourcepart of the JID, or the empty string if
// the JID is bare.
func (j JID) Resourcepart() string { return j.resource }

// Zero reports whether the JID is the zero (empty) address.
func (j JID) Zero() bool { return j.domain == "" }

// Equal reports whether the two addresses are identical part for part.
func (j JID) Equal(other JID) bool {
	return j.local == other.local && j.domain == other.domain && j.resource == other.resource
}

// String returns the canonical string representation of the JID.
func (j JID) String() string {
	var sb strings.Builder
	if j.local != "" {
		sb.WriteString(j.local)
		sb.WriteByte('@')
	}
	sb.WriteString(j.domain)
	if j.resource != "" {
		sb.WriteByte('/')
		sb.WriteString(j.resource)
	}
	return sb.String()
}

// MarshalXMLAttr satisfies the xml.MarshalerAttr interface.
func (j JID) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	return xml.Attr{Name: name, Value: j.String()}, nil
}

// UnmarshalXMLAttr satisfies the xml.UnmarshalerAttr interface.
func (j *JID) UnmarshalXMLAttr(attr xml.Attr) error {
	if attr.Value == "" {
		*j = JID{}
		return nil
	}
	parsed, err := Parse(attr.Value)
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}
