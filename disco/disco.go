// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package disco implements service discovery queries (XEP-0030).
package disco // import "quetzal.im/xmpp/disco"

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"

	"quetzal.im/xmpp/jid"
	"quetzal.im/xmpp/stanza"
)

// Namespaces used by this package, provided as a convenience.
const (
	NSInfo  = "http://jabber.org/protocol/disco#info"
	NSItems = "http://jabber.org/protocol/disco#items"
)

// Querier is the part of a session needed to run blocking IQ queries.
type Querier interface {
	SendIQSync(ctx context.Context, typ stanza.IQType, to jid.JID, body string) (*stanza.Element, error)
}

// Identity is a category/type pair advertised by an entity.
type Identity struct {
	Category string
	Type     string
	Name     string
}

// Info is the parsed result of a disco#info query.
type Info struct {
	Node       string
	Identities []Identity
	Features   []string
}

// HasFeature reports whether the entity advertised the given feature
// namespace.
func (i Info) HasFeature(space string) bool {
	for _, f := range i.Features {
		if f == space {
			return true
		}
	}
	return false
}

// Item is one entry of a disco#items result.
type Item struct {
	JID  jid.JID
	Node string
	Name string
}

// GetInfo queries an entity for its identities and features, blocking until
// the response arrives or ctx expires.
func GetInfo(ctx context.Context, q Querier, to jid.JID, node string) (Info, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<query xmlns='%s'`, NSInfo)
	if node != "" {
		fmt.Fprintf(&buf, ` node='%s'`, escape(node))
	}
	buf.WriteString(`/>`)

	resp, err := q.SendIQSync(ctx, stanza.GetIQ, to, buf.String())
	if err != nil {
		return Info{}, err
	}
	info := Info{Node: resp.Attr("node")}
	for _, c := range resp.Children {
		switch c.Name.Local {
		case "identity":
			info.Identities = append(info.Identities, Identity{
				Category: c.Attr("category"),
				Type:     c.Attr("type"),
				Name:     c.Attr("name"),
			})
		case "feature":
			info.Features = append(info.Features, c.Attr("var"))
		}
	}
	return info, nil
}

// GetItems queries an entity for its associated items, blocking until the
// response arrives or ctx expires.
func GetItems(ctx context.Context, q Querier, to jid.JID, node string) ([]Item, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<query xmlns='%s'`, NSItems)
	if node != "" {
		fmt.Fprintf(&buf, ` node='%s'`, escape(node))
	}
	buf.WriteString(`/>`)

	resp, err := q.SendIQSync(ctx, stanza.GetIQ, to, buf.String())
	if err != nil {
		return nil, err
	}
	var items []Item
	for _, c := range resp.Children {
		if c.Name.Local != "item" {
			continue
		}
		addr, err := jid.Parse(c.Attr("jid"))
		if err != nil {
			continue
		}
		items = append(items, Item{
			JID:  addr,
			Node: c.Attr("node"),
			Name: c.Attr("name"),
		})
	}
	return items, nil
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
