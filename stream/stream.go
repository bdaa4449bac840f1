// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stream contains the stream layer of an XMPP connection: the
// incremental tokenizer that splits a never-ending stream document into top
// level children, the stream header, and the stream error conditions of
// RFC 6120 §4.9.
package stream // import "quetzal.im/xmpp/stream"

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// DefaultVersion is the stream version advertised when opening a new stream.
const DefaultVersion = "1.0"

// Header is the parsed representation of the opening <stream:stream> tag.
type Header struct {
	ID      string
	From    string
	To      string
	Version string
	Lang    string

	// Raw is the original header text exactly as it appeared on the wire.
	// Fragments are re-wrapped in it before parsing so that namespace
	// declarations on the stream element stay in effect.
	Raw string
}

// ParseHeader parses a raw <stream:stream …> open tag captured by the
// tokenizer.
func ParseHeader(raw string) (Header, error) {
	h := Header{Raw: raw}
	d := xml.NewDecoder(strings.NewReader(raw + "</stream:stream>"))
	tok, err := d.RawToken()
	if err != nil {
		return h, err
	}
	start, ok := tok.(xml.StartElement)
	if !ok || start.Name.Local != "stream" {
		return h, BadFormat
	}
	for _, a := range start.Attr {
		switch {
		case a.Name.Local == "id":
			h.ID = a.Value
		case a.Name.Local == "from":
			h.From = a.Value
		case a.Name.Local == "to":
			h.To = a.Value
		case a.Name.Local == "version":
			h.Version = a.Value
		case a.Name.Local == "lang":
			h.Lang = a.Value
		}
	}
	return h, nil
}

// Open renders the stream preamble sent by the initiating entity: the XML
// declaration followed by the open tag of the stream element.
func Open(from, to, lang string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version='1.0'?><stream:stream`)
	if from != "" {
		fmt.Fprintf(&sb, ` from='%s'`, from)
	}
	fmt.Fprintf(&sb, ` to='%s' version='%s'`, to, DefaultVersion)
	if lang != "" {
		fmt.Fprintf(&sb, ` xml:lang='%s'`, lang)
	}
	sb.WriteString(` xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams'>`)
	return sb.String()
}

// Close is the stream footer that ends the output stream.
const Close = `</stream:stream>`
