// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmpp implements an XMPP (RFC 6120/6121) client with a three level
// quality of service layer for message delivery.
//
// A Session owns a single long lived connection. It drives the connection
// handshake (TCP, STARTTLS, SASL, resource binding), incrementally tokenizes
// the inbound stream, and routes stanzas to handlers registered on its Mux
// by the (local name, namespace) pair of their payload. Outbound IQ requests
// are correlated with their responses and retried with exponential back-off
// until a response arrives or the retry budget is exhausted.
//
// Messages can be sent at three delivery levels: unacknowledged (plain
// message stanza), acknowledged (the recipient confirms receipt), and
// assured (two phase receive/deliver handshake so the message survives a
// recipient restart), as defined by the urn:xmpp:qos extension.
package xmpp // import "quetzal.im/xmpp"
