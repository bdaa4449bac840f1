// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"quetzal.im/xmpp/stream"
)

const testHeader = `<stream:stream from='example.org' id='abc123' version='1.0' xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams'>`

func collect(t *testing.T, in string) ([]stream.Event, error) {
	t.Helper()
	tok := stream.NewTokenizer(strings.NewReader(in))
	var events []stream.Event
	for {
		ev, err := tok.Next()
		if err != nil {
			return events, err
		}
		events = append(events, ev)
		if ev.Kind == stream.FooterEvent {
			return events, nil
		}
	}
}

func TestTokenizerTotality(t *testing.T) {
	in := `<?xml version='1.0'?>` + testHeader +
		`<features><starttls/></features>` +
		"\n\t" +
		`<iq type='result' id='1'><query xmlns='jabber:iq:roster'/></iq>` +
		`<presence/>` +
		`</stream:stream>`

	events, err := collect(t, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []stream.Event{
		{Kind: stream.HeaderEvent, Text: testHeader},
		{Kind: stream.FragmentEvent, Text: `<features><starttls/></features>`},
		{Kind: stream.FragmentEvent, Text: `<iq type='result' id='1'><query xmlns='jabber:iq:roster'/></iq>`},
		{Kind: stream.FragmentEvent, Text: `<presence/>`},
		{Kind: stream.FooterEvent},
	}
	if len(events) != len(want) {
		t.Fatalf("wrong number of events: want=%d, got=%d (%v)", len(want), len(events), events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d: want=%#v, got=%#v", i, want[i], events[i])
		}
	}
}

func TestTokenizerIncremental(t *testing.T) {
	// Feeding one byte at a time must produce the same fragments.
	in := testHeader + `<message to='a@b'><body>hi &gt; bye</body></message></stream:stream>`
	tok := stream.NewTokenizer(&oneByteReader{s: in})

	ev, err := tok.Next()
	if err != nil || ev.Kind != stream.HeaderEvent {
		t.Fatalf("expected header, got %v, %v", ev, err)
	}
	ev, err = tok.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := `<message to='a@b'><body>hi &gt; bye</body></message>`; ev.Text != want {
		t.Errorf("wrong fragment: want=%q, got=%q", want, ev.Text)
	}
	ev, err = tok.Next()
	if err != nil || ev.Kind != stream.FooterEvent {
		t.Fatalf("expected footer, got %v, %v", ev, err)
	}
	if _, err = tok.Next(); !errors.Is(err, stream.ErrClosed) {
		t.Errorf("expected ErrClosed after footer, got %v", err)
	}
}

// oneByteReader yields a single byte per read.
type oneByteReader struct{ s string }

func (r *oneByteReader) Read(p []byte) (int, error) {
	if r.s == "" {
		return 0, io.EOF
	}
	p[0] = r.s[0]
	r.s = r.s[1:]
	return 1, nil
}

func TestTokenizerAngleBracketInAttr(t *testing.T) {
	in := testHeader + `<message from='x@y'><body note='a>b'>ok</body></message></stream:stream>`
	events, err := collect(t, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("wrong number of events: %d", len(events))
	}
	if want := `<message from='x@y'><body note='a>b'>ok</body></message>`; events[1].Text != want {
		t.Errorf("quoted '>' broke the fragment: got %q", events[1].Text)
	}
}

func TestTokenizerGarbageBetweenStanzas(t *testing.T) {
	in := testHeader + `<presence/>garbage`
	_, err := collect(t, in)
	if !errors.Is(err, stream.NotWellFormed) {
		t.Fatalf("expected not-well-formed, got %v", err)
	}
}

func TestTokenizerCommentRejected(t *testing.T) {
	in := testHeader + `<!-- hi -->`
	_, err := collect(t, in)
	if !errors.Is(err, stream.RestrictedXML) {
		t.Fatalf("expected restricted-xml, got %v", err)
	}
}

func TestTokenizerNestedSameName(t *testing.T) {
	in := testHeader + `<a><a><b/></a></a></stream:stream>`
	events, err := collect(t, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := `<a><a><b/></a></a>`; events[1].Text != want {
		t.Errorf("nesting broke depth tracking: got %q", events[1].Text)
	}
}

func TestParseHeader(t *testing.T) {
	h, err := stream.ParseHeader(testHeader)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.From != "example.org" || h.ID != "abc123" || h.Version != "1.0" {
		t.Errorf("wrong header fields: %+v", h)
	}
	if h.Raw != testHeader {
		t.Errorf("raw header not preserved")
	}
}

func TestOpen(t *testing.T) {
	out := stream.Open("romeo@example.org", "example.org", "en")
	for _, want := range []string{
		`<?xml version='1.0'?>`,
		`from='romeo@example.org'`,
		`to='example.org'`,
		`version='1.0'`,
		`xml:lang='en'`,
		`xmlns='jabber:client'`,
		`xmlns:stream='http://etherx.jabber.org/streams'`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("preamble missing %q: %s", want, out)
		}
	}
}
