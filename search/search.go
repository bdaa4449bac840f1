// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package search implements user directory searches (XEP-0055).
package search // import "quetzal.im/xmpp/search"

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"

	"quetzal.im/xmpp/form"
	"quetzal.im/xmpp/internal/ns"
	"quetzal.im/xmpp/jid"
	"quetzal.im/xmpp/stanza"
)

// NS is the jabber search namespace.
const NS = ns.Search

// Querier is the part of a session needed to run blocking IQ queries.
type Querier interface {
	SendIQSync(ctx context.Context, typ stanza.IQType, to jid.JID, body string) (*stanza.Element, error)
}

// Fields describes the searchable fields offered by a directory.
type Fields struct {
	Instructions string
	Names        []string
	Form         *form.Data
}

// Item is a single search result row.
type Item struct {
	JID    jid.JID
	Values map[string]string
}

// GetFields asks the directory which fields can be searched.
func GetFields(ctx context.Context, q Querier, to jid.JID) (Fields, error) {
	resp, err := q.SendIQSync(ctx, stanza.GetIQ, to, `<query xmlns='jabber:iq:search'/>`)
	if err != nil {
		return Fields{}, err
	}
	var f Fields
	for _, c := range resp.Children {
		switch {
		case c.Name.Local == "instructions":
			f.Instructions = c.Text
		case c.Name.Local == "x" && c.Name.Space == form.NS:
			if parsed, err := form.Parse(c); err == nil {
				f.Form = parsed
			}
		default:
			f.Names = append(f.Names, c.Name.Local)
		}
	}
	return f, nil
}

// Search submits the given field values and returns the matching items.
func Search(ctx context.Context, q Querier, to jid.JID, values map[string]string) ([]Item, error) {
	var buf bytes.Buffer
	buf.WriteString(`<query xmlns='jabber:iq:search'>`)
	for name, value := range values {
		fmt.Fprintf(&buf, `<%s>%s</%s>`, name, escape(value), name)
	}
	buf.WriteString(`</query>`)

	resp, err := q.SendIQSync(ctx, stanza.SetIQ, to, buf.String())
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
		item := Item{JID: addr, Values: make(map[string]string)}
		for _, f := range c.Children {
			item.Values[f.Name.Local] = f.Text
		}
		items = append(items, item)
	}
	return items, nil
}

// SearchForm submits a data form based search for directories that use
// XEP-0004 forms.
func SearchForm(ctx context.Context, q Querier, to jid.JID, submit *form.Data) ([]Item, error) {
	body := `<query xmlns='jabber:iq:search'>` + submit.XML() + `</query>`
	resp, err := q.SendIQSync(ctx, stanza.SetIQ, to, body)
	if err != nil {
		return nil, err
	}
	var items []Item
	for _, c := range resp.Children {
		// Form based results report rows as <item> children of the result
		// form; plain results put them directly under the query.
		rows := []*stanza.Element{c}
		if c.Name.Local == "x" && c.Name.Space == form.NS {
			rows = c.Children
		}
		for _, row := range rows {
			if row.Name.Local != "item" {
				continue
			}
			item := Item{Values: make(map[string]string)}
			for _, f := range row.Children {
				if f.Name.Local == "field" {
					item.Values[f.Attr("var")] = f.ChildText("value", "")
				} else {
					item.Values[f.Name.Local] = f.Text
				}
			}
			if addr, err := jid.Parse(row.Attr("jid")); err == nil {
				item.JID = addr
			} else if v, ok := item.Values["jid"]; ok {
				if addr, err := jid.Parse(v); err == nil {
					item.JID = addr
				}
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
