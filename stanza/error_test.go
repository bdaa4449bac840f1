// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza_test

import (
	"encoding/xml"
	"strings"
	"testing"

	"quetzal.im/xmpp/stanza"
)

func TestErrorMarshal(t *testing.T) {
	se := stanza.NewError(stanza.NotAllowed)
	var sb strings.Builder
	if err := xml.NewEncoder(&sb).Encode(se); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := sb.String()
	if !strings.Contains(out, `type="cancel"`) {
		t.Errorf("recommended type not applied: %s", out)
	}
	if !strings.Contains(out, "not-allowed") || !strings.Contains(out, "urn:ietf:params:xml:ns:xmpp-stanzas") {
		t.Errorf("condition element wrong: %s", out)
	}
}

func TestErrorUnmarshal(t *testing.T) {
	raw := `<error type='wait'><resource-constraint xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'/>` +
		`<text xmlns='urn:ietf:params:xml:ns:xmpp-stanzas' xml:lang='en'>too busy</text></error>`
	var se stanza.Error
	if err := xml.Unmarshal([]byte(raw), &se); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if se.Type != stanza.Wait || se.Condition != stanza.ResourceConstraint {
		t.Errorf("wrong error: %+v", se)
	}
	if se.Text["en"] != "too busy" {
		t.Errorf("text lost: %+v", se.Text)
	}
	if se.Error() != "resource-constraint" {
		t.Errorf("wrong Error(): %q", se.Error())
	}
}

func TestErrorRoundTrip(t *testing.T) {
	in := stanza.Error{Type: stanza.Modify, Condition: stanza.BadRequest}
	var sb strings.Builder
	if err := xml.NewEncoder(&sb).Encode(in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out stanza.Error
	if err := xml.Unmarshal([]byte(sb.String()), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Type != in.Type || out.Condition != in.Condition {
		t.Errorf("round trip changed the error: %+v -> %+v", in, out)
	}
}
