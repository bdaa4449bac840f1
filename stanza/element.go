// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"quetzal.im/xmpp/internal/ns"
)

// ErrEmptyFragment is returned when a fragment contains no element.
var ErrEmptyFragment = errors.New("stanza: fragment contains no element")

// Element is a generic XML element tree. Names are fully namespace resolved;
// the (Local, Space) pair of a child element is the key stanza payloads are
// dispatched on.
type Element struct {
	Name     xml.Name
	Attrs    []xml.Attr
	Children []*Element
	Text     string
}

// ParseFragment parses a single top level stream child. The fragment is
// wrapped between the captured stream header and the matching footer and
// parsed as a whole document so that namespace declarations on the stream
// element apply; the single child of the stream element is returned.
func ParseFragment(header, fragment string) (*Element, error) {
	doc := header + fragment + "</stream:stream>"
	root, err := parseDocument(strings.NewReader(doc))
	if err != nil {
		return nil, err
	}
	if len(root.Children) == 0 {
		return nil, ErrEmptyFragment
	}
	return root.Children[0], nil
}

// ParseElement parses a standalone XML document and returns its root element.
func ParseElement(s string) (*Element, error) {
	return parseDocument(strings.NewReader(s))
}

func parseDocument(r io.Reader) (*Element, error) {
	d := xml.NewDecoder(r)
	var stack []*Element
	var root *Element
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Name: t.Name}
			for _, a := range t.Attr {
				// Namespace declarations are already resolved into Name.Space;
				// carrying them as attributes would duplicate them when the
				// element is serialized again.
				if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
					continue
				}
				el.Attrs = append(el.Attrs, a)
			}
			if len(stack) == 0 {
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, errors.New("stanza: unbalanced end element")
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 && root != nil {
				return root, nil
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}
	if root == nil {
		return nil, ErrEmptyFragment
	}
	return root, nil
}

// Attr returns the value of the first attribute with the given local name,
// or the empty string if no such attribute exists.
func (e *Element) Attr(local string) string {
	for _, a := range e.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// Lang returns the value of the xml:lang attribute, if any.
func (e *Element) Lang() string {
	for _, a := range e.Attrs {
		if a.Name.Local == "lang" && (a.Name.Space == ns.XML || a.Name.Space == "xml") {
			return a.Value
		}
	}
	return ""
}

// Child returns the first child matching the given local name and namespace,
// or nil. An empty space matches any namespace.
func (e *Element) Child(local, space string) *Element {
	for _, c := range e.Children {
		if c.Name.Local == local && (space == "" || c.Name.Space == space) {
			return c
		}
	}
	return nil
}

// ChildText returns the text of the first child matching local and space.
func (e *Element) ChildText(local, space string) string {
	if c := e.Child(local, space); c != nil {
		return c.Text
	}
	return ""
}

// XML serializes the element (and its subtree) back to its wire form.
// Namespaces are emitted as default xmlns declarations wherever the
// namespace changes relative to the parent.
func (e *Element) XML() string {
	var buf bytes.Buffer
	e.writeXML(&buf, "")
	return buf.String()
}

func (e *Element) writeXML(buf *bytes.Buffer, parentSpace string) {
	buf.WriteByte('<')
	buf.WriteString(e.Name.Local)
	if e.Name.Space != "" && e.Name.Space != parentSpace {
		buf.WriteString(` xmlns='`)
		escapeTo(buf, e.Name.Space)
		buf.WriteByte('\'')
	}
	for _, a := range e.Attrs {
		buf.WriteByte(' ')
		if a.Name.Space == ns.XML || a.Name.Space == "xml" {
			buf.WriteString("xml:")
		}
		buf.WriteString(a.Name.Local)
		buf.WriteString(`='`)
		escapeTo(buf, a.Value)
		buf.WriteByte('\'')
	}
	if len(e.Children) == 0 && e.Text == "" {
		buf.WriteString("/>")
		return
	}
	buf.WriteByte('>')
	if e.Text != "" {
		escapeTo(buf, e.Text)
	}
	for _, c := range e.Children {
		c.writeXML(buf, e.Name.Space)
	}
	buf.WriteString("</")
	buf.WriteString(e.Name.Local)
	buf.WriteByte('>')
}

func escapeTo(buf *bytes.Buffer, s string) {
	_ = xml.EscapeText(buf, []byte(s))
}

// Decode unmarshals the element's subtree into v using encoding/xml.
func (e *Element) Decode(v interface{}) error {
	return xml.Unmarshal([]byte(e.XML()), v)
}
