// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package disco_test

import (
	"context"
	"strings"
	"testing"

	"quetzal.im/xmpp/disco"
	"quetzal.im/xmpp/jid"
	"quetzal.im/xmpp/stanza"
)

// fakeQuerier answers every query with a canned payload and records the
// request body.
type fakeQuerier struct {
	body string
	resp string
}

func (q *fakeQuerier) SendIQSync(_ context.Context, _ stanza.IQType, _ jid.JID, body string) (*stanza.Element, error) {
	q.body = body
	return stanza.ParseElement(q.resp)
}

func TestGetInfo(t *testing.T) {
	q := &fakeQuerier{resp: `<query xmlns='http://jabber.org/protocol/disco#info'>` +
		`<identity category='client' type='pc' name='quetzal'/>` +
		`<feature var='jabber:iq:version'/>` +
		`<feature var='urn:xmpp:qos'/>` +
		`</query>`}

	info, err := disco.GetInfo(context.Background(), q, jid.MustParse("example.org"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(q.body, disco.NSInfo) {
		t.Errorf("wrong request body: %s", q.body)
	}
	if len(info.Identities) != 1 || info.Identities[0].Category != "client" {
		t.Errorf("wrong identities: %+v", info.Identities)
	}
	if !info.HasFeature("urn:xmpp:qos") || info.HasFeature("urn:xmpp:other") {
		t.Errorf("wrong features: %v", info.Features)
	}
}

func TestGetInfoNode(t *testing.T) {
	q := &fakeQuerier{resp: `<query xmlns='http://jabber.org/protocol/disco#info' node='cfg'/>`}
	info, err := disco.GetInfo(context.Background(), q, jid.MustParse("example.org"), "cfg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(q.body, `node='cfg'`) {
		t.Errorf("node not requested: %s", q.body)
	}
	if info.Node != "cfg" {
		t.Errorf("node not parsed: %q", info.Node)
	}
}

func TestGetItems(t *testing.T) {
	q := &fakeQuerier{resp: `<query xmlns='http://jabber.org/protocol/disco#items'>` +
		`<item jid='conference.example.org' name='Chatrooms'/>` +
		`<item jid='search.example.org'/>` +
		`</query>`}

	items, err := disco.GetItems(context.Background(), q, jid.MustParse("example.org"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("wrong item count: %d", len(items))
	}
	if items[0].JID.String() != "conference.example.org" || items[0].Name != "Chatrooms" {
		t.Errorf("wrong first item: %+v", items[0])
	}
}
