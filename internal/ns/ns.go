// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ns provides namespace constants that are used by the xmpp package
// and other internal packages.
package ns // import "quetzal.im/xmpp/internal/ns"

// List of commonly used namespaces.
const (
	Bind      = "urn:ietf:params:xml:ns:xmpp-bind"
	Client    = "jabber:client"
	DiscoInfo = "http://jabber.org/protocol/disco#info"
	Form      = "jabber:x:data"
	QoS       = "urn:xmpp:qos"
	Register  = "jabber:iq:register"
	Roster    = "jabber:iq:roster"
	SASL      = "urn:ietf:params:xml:ns:xmpp-sasl"
	Search    = "jabber:iq:search"
	Server    = "jabber:server"
	Session   = "urn:ietf:params:xml:ns:xmpp-session"
	Stanza    = "urn:ietf:params:xml:ns:xmpp-stanzas"
	StartTLS  = "urn:ietf:params:xml:ns:xmpp-tls"
	Stream    = "http://etherx.jabber.org/streams"
	Streams   = "urn:ietf:params:xml:ns:xmpp-streams"
	Version   = "jabber:iq:version"
	XML       = "http://www.w3.org/XML/1998/namespace"
)
