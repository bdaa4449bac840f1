// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mux_test

import (
	"encoding/xml"
	"testing"

	"quetzal.im/xmpp/mux"
	"quetzal.im/xmpp/stanza"
)

func nopIQ(stanza.IQ, *stanza.Element) error { return nil }

func TestDuplicateRegistrationFails(t *testing.T) {
	m := mux.New()
	if _, err := m.IQGet("query", "jabber:iq:version", mux.IQHandlerFunc(nopIQ), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.IQGet("query", "jabber:iq:version", mux.IQHandlerFunc(nopIQ), false); err == nil {
		t.Errorf("expected duplicate registration to fail")
	}
	// The same key in a different table is fine.
	if _, err := m.IQSet("query", "jabber:iq:version", mux.IQHandlerFunc(nopIQ), false); err != nil {
		t.Errorf("unexpected error registering same key in iq-set table: %v", err)
	}
}

func TestFeaturePublication(t *testing.T) {
	m := mux.New("base:feature")
	reg, err := m.IQGet("query", "urn:example:thing", mux.IQHandlerFunc(nopIQ), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.HasFeature("urn:example:thing") || !m.HasFeature("base:feature") {
		t.Fatalf("feature set missing entries: %v", m.Features())
	}
	if err := m.Unregister(reg); err != nil {
		t.Fatalf("unexpected error unregistering: %v", err)
	}
	if m.HasFeature("urn:example:thing") {
		t.Errorf("feature survived unregistration")
	}
	if !m.HasFeature("base:feature") {
		t.Errorf("base feature removed by unregistration")
	}
}

func TestUnregisterRequiresOwnHandle(t *testing.T) {
	m := mux.New()
	reg, err := m.IQSet("acknowledged", "urn:xmpp:qos", mux.IQHandlerFunc(nopIQ), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	forged := &mux.Registration{}
	if err := m.Unregister(forged); err == nil {
		t.Errorf("expected forged unregistration to fail")
	}
	if _, ok := m.IQHandler(stanza.SetIQ, xml.Name{Local: "acknowledged", Space: "urn:xmpp:qos"}); !ok {
		t.Errorf("handler removed by forged unregistration")
	}
	if err := m.Unregister(reg); err != nil {
		t.Errorf("unexpected error unregistering with real handle: %v", err)
	}
}

func TestLookupByTypeAndName(t *testing.T) {
	m := mux.New()
	called := false
	h := mux.IQHandlerFunc(func(stanza.IQ, *stanza.Element) error {
		called = true
		return nil
	})
	if _, err := m.IQSet("assured", "urn:xmpp:qos", h, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	name := xml.Name{Local: "assured", Space: "urn:xmpp:qos"}
	if _, ok := m.IQHandler(stanza.GetIQ, name); ok {
		t.Errorf("iq-set handler visible to iq-get lookup")
	}
	got, ok := m.IQHandler(stanza.SetIQ, name)
	if !ok {
		t.Fatalf("handler not found")
	}
	_ = got.HandleIQ(stanza.IQ{}, nil)
	if !called {
		t.Errorf("wrong handler returned")
	}
}
