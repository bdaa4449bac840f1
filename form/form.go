// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package form implements XEP-0004 data forms.
package form // import "quetzal.im/xmpp/form"

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"

	"quetzal.im/xmpp/stanza"
)

// NS is the data forms namespace.
const NS = "jabber:x:data"

// Type is the type attribute of a form.
type Type string

// The four form types of XEP-0004.
const (
	TypeForm   Type = "form"
	TypeSubmit Type = "submit"
	TypeCancel Type = "cancel"
	TypeResult Type = "result"
)

// Option is one choice of a list field.
type Option struct {
	Label string
	Value string
}

// Field is a single form field.
type Field struct {
	Var      string
	Type     string
	Label    string
	Desc     string
	Required bool
	Values   []string
	Options  []Option
}

// Value returns the first value of the field.
func (f Field) Value() string {
	if len(f.Values) == 0 {
		return ""
	}
	return f.Values[0]
}

// Data represents a data form.
type Data struct {
	Type         Type
	Title        string
	Instructions string
	Fields       []Field
}

// ErrNotAForm is returned by Parse for elements that are not data forms.
var ErrNotAForm = errors.New("form: element is not a jabber:x:data form")

// Parse builds a Data from a parsed <x xmlns='jabber:x:data'/> element.
func Parse(el *stanza.Element) (*Data, error) {
	if el.Name.Local != "x" || el.Name.Space != NS {
		return nil, ErrNotAForm
	}
	d := &Data{Type: Type(el.Attr("type"))}
	if d.Type == "" {
		d.Type = TypeForm
	}
	for _, c := range el.Children {
		switch c.Name.Local {
		case "title":
			d.Title = c.Text
		case "instructions":
			d.Instructions = c.Text
		case "field":
			f := Field{
				Var:   c.Attr("var"),
				Type:  c.Attr("type"),
				Label: c.Attr("label"),
			}
			for _, fc := range c.Children {
				switch fc.Name.Local {
				case "desc":
					f.Desc = fc.Text
				case "required":
					f.Required = true
				case "value":
					f.Values = append(f.Values, fc.Text)
				case "option":
					f.Options = append(f.Options, Option{
						Label: fc.Attr("label"),
						Value: fc.ChildText("value", ""),
					})
				}
			}
			d.Fields = append(d.Fields, f)
		}
	}
	return d, nil
}

// Get returns the first value of the field with the given var.
func (d *Data) Get(varName string) (string, bool) {
	for _, f := range d.Fields {
		if f.Var == varName {
			return f.Value(), len(f.Values) > 0
		}
	}
	return "", false
}

// Set replaces the values of the field with the given var, appending a new
// field if none exists.
func (d *Data) Set(varName string, values ...string) {
	for i := range d.Fields {
		if d.Fields[i].Var == varName {
			d.Fields[i].Values = values
			return
		}
	}
	d.Fields = append(d.Fields, Field{Var: varName, Values: values})
}

// Submit returns a copy of the form with type submit and only the var/value
// pairs kept, the shape expected when answering a form.
func (d *Data) Submit() *Data {
	out := &Data{Type: TypeSubmit}
	for _, f := range d.Fields {
		if f.Var == "" {
			continue
		}
		out.Fields = append(out.Fields, Field{Var: f.Var, Values: f.Values})
	}
	return out
}

// XML serializes the form to its wire representation.
func (d *Data) XML() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<x xmlns='%s' type='%s'>`, NS, d.Type)
	if d.Title != "" {
		fmt.Fprintf(&buf, `<title>%s</title>`, escape(d.Title))
	}
	if d.Instructions != "" {
		fmt.Fprintf(&buf, `<instructions>%s</instructions>`, escape(d.Instructions))
	}
	for _, f := range d.Fields {
		buf.WriteString(`<field`)
		if f.Var != "" {
			fmt.Fprintf(&buf, ` var='%s'`, escape(f.Var))
		}
		if f.Type != "" {
			fmt.Fprintf(&buf, ` type='%s'`, escape(f.Type))
		}
		if f.Label != "" {
			fmt.Fprintf(&buf, ` label='%s'`, escape(f.Label))
		}
		buf.WriteByte('>')
		if f.Desc != "" {
			fmt.Fprintf(&buf, `<desc>%s</desc>`, escape(f.Desc))
		}
		if f.Required {
			buf.WriteString(`<required/>`)
		}
		for _, v := range f.Values {
			fmt.Fprintf(&buf, `<value>%s</value>`, escape(v))
		}
		for _, o := range f.Options {
			buf.WriteString(`<option`)
			if o.Label != "" {
				fmt.Fprintf(&buf, ` label='%s'`, escape(o.Label))
			}
			fmt.Fprintf(&buf, `><value>%s</value></option>`, escape(o.Value))
		}
		buf.WriteString(`</field>`)
	}
	buf.WriteString(`</x>`)
	return buf.String()
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
