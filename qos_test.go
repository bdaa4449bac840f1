// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"strings"
	"testing"

	"quetzal.im/xmpp/stanza"
)

func msgElement(t *testing.T, s string) *stanza.Element {
	t.Helper()
	el, err := stanza.ParseElement(s)
	if err != nil {
		t.Fatalf("bad test message: %v", err)
	}
	return el
}

func TestInventoryAdmission(t *testing.T) {
	inv := newQoSInventory(2, 3)
	msg := msgElement(t, `<message><body>x</body></message>`)

	if cond := inv.admit("a@x", "m1", msg, false); cond != stanza.NotAllowed {
		t.Errorf("sender outside the roster must be rejected not-allowed, got %q", cond)
	}
	if _, total := inv.counts("a@x"); total != 0 {
		t.Errorf("rejected message changed the inventory")
	}

	if cond := inv.admit("a@x", "m1", msg, true); cond != "" {
		t.Fatalf("admission failed: %q", cond)
	}
	if cond := inv.admit("a@x", "m2", msg, true); cond != "" {
		t.Fatalf("admission failed: %q", cond)
	}
	if cond := inv.admit("a@x", "m3", msg, true); cond != stanza.ResourceConstraint {
		t.Errorf("per-source limit not enforced, got %q", cond)
	}
	if cond := inv.admit("b@x", "m1", msg, true); cond != "" {
		t.Fatalf("admission failed: %q", cond)
	}
	if cond := inv.admit("c@x", "m1", msg, true); cond != stanza.ResourceConstraint {
		t.Errorf("global limit not enforced, got %q", cond)
	}

	source, total := inv.counts("a@x")
	if source != 2 || total != 3 {
		t.Errorf("counters wrong: source=%d total=%d", source, total)
	}
}

func TestInventoryTakeDecrements(t *testing.T) {
	inv := newQoSInventory(5, 10)
	msg := msgElement(t, `<message><body>hello</body></message>`)
	if cond := inv.admit("a@x", "m1", msg, true); cond != "" {
		t.Fatalf("admission failed: %q", cond)
	}

	got, ok := inv.take("a@x", "m1")
	if !ok {
		t.Fatalf("stored message not found")
	}
	if got.ChildText("body", "") != "hello" {
		t.Errorf("wrong message returned")
	}
	if source, total := inv.counts("a@x"); source != 0 || total != 0 {
		t.Errorf("counters not decremented: source=%d total=%d", source, total)
	}

	if _, ok := inv.take("a@x", "m1"); ok {
		t.Errorf("message taken twice")
	}
	if _, ok := inv.take("b@x", "m1"); ok {
		t.Errorf("take matched the wrong source")
	}
}

func TestInventoryCountersMatchCardinality(t *testing.T) {
	inv := newQoSInventory(10, 100)
	msg := msgElement(t, `<message/>`)
	sources := []string{"a@x", "b@x", "a@x", "c@x", "a@x"}
	for i, src := range sources {
		if cond := inv.admit(src, string(rune('0'+i)), msg, true); cond != "" {
			t.Fatalf("admission %d failed: %q", i, cond)
		}
	}
	if _, total := inv.counts(""); total != len(inv.pending) {
		t.Errorf("global counter %d != inventory size %d", total, len(inv.pending))
	}
	perSource := 0
	for _, n := range inv.perSource {
		perSource += n
	}
	if perSource != len(inv.pending) {
		t.Errorf("per-source counters sum %d != inventory size %d", perSource, len(inv.pending))
	}
}

func TestNewMsgID(t *testing.T) {
	a, b := newMsgID(), newMsgID()
	if len(a) != 32 || len(b) != 32 {
		t.Errorf("msgId must be 32 hex digits, got %q", a)
	}
	if a == b {
		t.Errorf("msgIds collide")
	}
	if strings.ToLower(a) != a {
		t.Errorf("msgId not lowercase hex: %q", a)
	}
}

func TestBuildMessage(t *testing.T) {
	to := mustJID(t, "peer@example.org")
	got := buildMessage(to, stanza.ChatMessage, "<body>hi</body>")
	want := `<message to='peer@example.org' type='chat'><body>hi</body></message>`
	if got != want {
		t.Errorf("wrong message:\nwant=%s\ngot= %s", want, got)
	}
}
