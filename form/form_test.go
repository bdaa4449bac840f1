// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package form_test

import (
	"testing"

	"quetzal.im/xmpp/form"
	"quetzal.im/xmpp/stanza"
)

const rawForm = `<x xmlns='jabber:x:data' type='form'>` +
	`<title>Register</title>` +
	`<instructions>Fill this in</instructions>` +
	`<field var='username' type='text-single' label='User'><required/></field>` +
	`<field var='colors' type='list-multi'>` +
	`<option label='Red'><value>red</value></option>` +
	`<option label='Blue'><value>blue</value></option>` +
	`</field>` +
	`</x>`

func parseForm(t *testing.T, s string) *form.Data {
	t.Helper()
	el, err := stanza.ParseElement(s)
	if err != nil {
		t.Fatalf("bad test form: %v", err)
	}
	d, err := form.Parse(el)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return d
}

func TestParse(t *testing.T) {
	d := parseForm(t, rawForm)
	if d.Type != form.TypeForm || d.Title != "Register" || d.Instructions != "Fill this in" {
		t.Errorf("wrong form metadata: %+v", d)
	}
	if len(d.Fields) != 2 {
		t.Fatalf("wrong field count: %d", len(d.Fields))
	}
	if !d.Fields[0].Required || d.Fields[0].Var != "username" {
		t.Errorf("wrong first field: %+v", d.Fields[0])
	}
	if len(d.Fields[1].Options) != 2 || d.Fields[1].Options[1].Value != "blue" {
		t.Errorf("wrong options: %+v", d.Fields[1].Options)
	}
}

func TestParseRejectsOtherElements(t *testing.T) {
	el, err := stanza.ParseElement(`<query xmlns='jabber:iq:roster'/>`)
	if err != nil {
		t.Fatalf("bad test element: %v", err)
	}
	if _, err := form.Parse(el); err == nil {
		t.Errorf("expected an error for a non-form element")
	}
}

func TestSubmitRoundTrip(t *testing.T) {
	d := parseForm(t, rawForm)
	d.Set("username", "romeo")
	submit := d.Submit()
	if submit.Type != form.TypeSubmit {
		t.Errorf("wrong submit type: %q", submit.Type)
	}

	reparsed := parseForm(t, submit.XML())
	if v, ok := reparsed.Get("username"); !ok || v != "romeo" {
		t.Errorf("submitted value lost: %q, %v", v, ok)
	}
}

func TestSignVerify(t *testing.T) {
	d := parseForm(t, rawForm)
	d.Set("username", "romeo")
	submit := d.Submit()
	submit.Sign("key-1", "s3cr3t")

	key, ok := submit.Verify("s3cr3t")
	if !ok || key != "key-1" {
		t.Fatalf("signature did not verify: key=%q ok=%v", key, ok)
	}
	if _, ok := submit.Verify("wrong"); ok {
		t.Errorf("signature verified with the wrong secret")
	}

	submit.Set("username", "tybalt")
	if _, ok := submit.Verify("s3cr3t"); ok {
		t.Errorf("signature survived value tampering")
	}

	// Tampering must still be detected after the form is serialized and
	// parsed again.
	reparsed := parseForm(t, submit.XML())
	if _, ok := reparsed.Verify("s3cr3t"); ok {
		t.Errorf("tampered form verified after round trip")
	}
}
