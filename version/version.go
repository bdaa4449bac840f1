// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package version queries a remote entity for software version info
// (XEP-0092).
package version // import "quetzal.im/xmpp/version"

import (
	"context"

	"quetzal.im/xmpp/internal/ns"
	"quetzal.im/xmpp/jid"
	"quetzal.im/xmpp/stanza"
)

// NS is the XML namespace used by software version queries.
// It is provided as a convenience.
const NS = ns.Version

// Querier is the part of a session needed to run blocking IQ queries.
type Querier interface {
	SendIQSync(ctx context.Context, typ stanza.IQType, to jid.JID, body string) (*stanza.Element, error)
}

// Query is the payload of a software version response.
type Query struct {
	Name    string
	Version string
	OS      string
}

// Get requests the software version of the provided entity. It blocks until
// a response is received or ctx expires.
func Get(ctx context.Context, q Querier, to jid.JID) (Query, error) {
	resp, err := q.SendIQSync(ctx, stanza.GetIQ, to, `<query xmlns='jabber:iq:version'/>`)
	if err != nil {
		return Query{}, err
	}
	return Query{
		Name:    resp.ChildText("name", ""),
		Version: resp.ChildText("version", ""),
		OS:      resp.ChildText("os", ""),
	}, nil
}
