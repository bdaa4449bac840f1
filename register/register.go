// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package register implements the payloads of XEP-0077 in-band
// registration: requesting the registration fields, submitting them,
// changing the account password, and removing the account.
package register // import "quetzal.im/xmpp/register"

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"quetzal.im/xmpp/form"
	"quetzal.im/xmpp/internal/ns"
	"quetzal.im/xmpp/stanza"
)

// NS is the in-band registration namespace.
const NS = ns.Register

// Fields describes what the server asks for during registration.
type Fields struct {
	// Instructions is the human readable guidance sent by the server.
	Instructions string

	// Registered reports that the account already exists.
	Registered bool

	// Names lists the simple field elements the server requests
	// (username, password, email, …), in document order.
	Names []string

	// Form carries the data form alternative when the server sent one.
	Form *form.Data
}

// ParseFields extracts the registration fields from a query payload.
func ParseFields(query *stanza.Element) Fields {
	var f Fields
	for _, c := range query.Children {
		switch {
		case c.Name.Local == "instructions":
			f.Instructions = c.Text
		case c.Name.Local == "registered":
			f.Registered = true
		case c.Name.Local == "x" && c.Name.Space == form.NS:
			if parsed, err := form.Parse(c); err == nil {
				f.Form = parsed
			}
		default:
			f.Names = append(f.Names, c.Name.Local)
		}
	}
	return f
}

// QueryXML is the payload requesting the registration fields.
func QueryXML() string {
	return `<query xmlns='jabber:iq:register'/>`
}

// SubmitXML builds the payload answering a fields request. When the server
// sent a data form the values are submitted through it; otherwise the
// matching simple field elements are filled in.
func SubmitXML(fields Fields, values map[string]string) string {
	var buf bytes.Buffer
	buf.WriteString(`<query xmlns='jabber:iq:register'>`)
	if fields.Form != nil {
		submit := fields.Form.Submit()
		for name, value := range values {
			submit.Set(name, value)
		}
		buf.WriteString(submit.XML())
	} else {
		names := fields.Names
		if len(names) == 0 {
			names = []string{"username", "password"}
		}
		for _, name := range names {
			value, ok := values[name]
			if !ok {
				continue
			}
			fmt.Fprintf(&buf, `<%s>%s</%s>`, name, escape(value), name)
		}
	}
	buf.WriteString(`</query>`)
	return buf.String()
}

// ChangePasswordXML builds the payload of an in-band password change.
func ChangePasswordXML(username, password string) string {
	var buf bytes.Buffer
	buf.WriteString(`<query xmlns='jabber:iq:register'>`)
	fmt.Fprintf(&buf, `<username>%s</username>`, escape(username))
	fmt.Fprintf(&buf, `<password>%s</password>`, escape(password))
	buf.WriteString(`</query>`)
	return buf.String()
}

// RemoveXML builds the payload that cancels the registration, removing the
// account.
func RemoveXML() string {
	return `<query xmlns='jabber:iq:register'><remove/></query>`
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
