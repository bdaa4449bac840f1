// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stanza contains the basic stanza types of an XMPP stream and the
// generic element tree they are parsed into.
package stanza // import "quetzal.im/xmpp/stanza"

import (
	"encoding/xml"
	"fmt"

	"quetzal.im/xmpp/internal/ns"
	"quetzal.im/xmpp/jid"
)

// Is tests whether name is a valid stanza name in a client or server stream.
func Is(name xml.Name) bool {
	return (name.Local == "iq" || name.Local == "message" || name.Local == "presence") &&
		(name.Space == ns.Client || name.Space == ns.Server)
}

// IQType is the type attribute of an IQ stanza.
type IQType string

// The four IQ types of RFC 6120 §8.2.3. Get and set are requests; result and
// error terminate a prior request correlated by id.
const (
	GetIQ    IQType = "get"
	SetIQ    IQType = "set"
	ResultIQ IQType = "result"
	ErrorIQ  IQType = "error"
)

// Header holds the attributes common to all three stanza kinds.
type Header struct {
	ID   string
	To   jid.JID
	From jid.JID
	Lang string
}

func headerFromElement(e *Element) (h Header, err error) {
	h.ID = e.Attr("id")
	h.Lang = e.Lang()
	if to := e.Attr("to"); to != "" {
		h.To, err = jid.Parse(to)
		if err != nil {
			return h, fmt.Errorf("stanza: bad to address: %w", err)
		}
	}
	if from := e.Attr("from"); from != "" {
		h.From, err = jid.Parse(from)
		if err != nil {
			return h, fmt.Errorf("stanza: bad from address: %w", err)
		}
	}
	return h, nil
}

// IQ ("Information Query") is a general request/response stanza. IQs are
// one-to-one, provide get and set semantics, and always require a response
// in the form of a result or an error.
type IQ struct {
	Header
	Type     IQType
	Payloads []*Element
}

// IQFromElement builds an IQ from a parsed iq element.
func IQFromElement(e *Element) (IQ, error) {
	h, err := headerFromElement(e)
	if err != nil {
		return IQ{}, err
	}
	typ := IQType(e.Attr("type"))
	switch typ {
	case GetIQ, SetIQ, ResultIQ, ErrorIQ:
	default:
		return IQ{}, Error{Type: Modify, Condition: BadRequest}
	}
	return IQ{Header: h, Type: typ, Payloads: e.Children}, nil
}

// Payload returns the first payload of the IQ, or nil if it has none.
func (iq IQ) Payload() *Element {
	if len(iq.Payloads) == 0 {
		return nil
	}
	return iq.Payloads[0]
}

// Err returns the error payload of an error IQ, or nil.
func (iq IQ) Err() *Error {
	for _, p := range iq.Payloads {
		if p.Name.Local != "error" {
			continue
		}
		var se Error
		if err := p.Decode(&se); err == nil {
			return &se
		}
	}
	return nil
}

// MessageType is the type attribute of a message stanza.
type MessageType string

// The message types of RFC 6121 §5.2.2. NormalMessage is the default when no
// type attribute is present.
const (
	ChatMessage      MessageType = "chat"
	ErrorMessage     MessageType = "error"
	GroupChatMessage MessageType = "groupchat"
	HeadlineMessage  MessageType = "headline"
	NormalMessage    MessageType = "normal"
)

// Message is a push-style stanza used to exchange information between
// entities.
type Message struct {
	Header
	Type     MessageType
	Payloads []*Element
}

// MessageFromElement builds a Message from a parsed message element.
func MessageFromElement(e *Element) (Message, error) {
	h, err := headerFromElement(e)
	if err != nil {
		return Message{}, err
	}
	typ := MessageType(e.Attr("type"))
	switch typ {
	case ChatMessage, ErrorMessage, GroupChatMessage, HeadlineMessage, NormalMessage:
	case "":
		typ = NormalMessage
	default:
		typ = NormalMessage
	}
	return Message{Header: h, Type: typ, Payloads: e.Children}, nil
}

// Body returns the text of the message body, if any.
func (m Message) Body() string {
	for _, p := range m.Payloads {
		if p.Name.Local == "body" {
			return p.Text
		}
	}
	return ""
}

// Subject returns the text of the message subject, if any.
func (m Message) Subject() string {
	for _, p := range m.Payloads {
		if p.Name.Local == "subject" {
			return p.Text
		}
	}
	return ""
}

// PresenceType is the type attribute of a presence stanza.
type PresenceType string

// The presence types of RFC 6121 §4.7.1. AvailablePresence is the implicit
// type when no type attribute is present.
const (
	AvailablePresence    PresenceType = ""
	UnavailablePresence  PresenceType = "unavailable"
	SubscribePresence    PresenceType = "subscribe"
	SubscribedPresence   PresenceType = "subscribed"
	UnsubscribePresence  PresenceType = "unsubscribe"
	UnsubscribedPresence PresenceType = "unsubscribed"
	ProbePresence        PresenceType = "probe"
	ErrorPresence        PresenceType = "error"
)

// Presence is a broadcast-style stanza used to advertise availability.
type Presence struct {
	Header
	Type     PresenceType
	Payloads []*Element
}

// PresenceFromElement builds a Presence from a parsed presence element.
func PresenceFromElement(e *Element) (Presence, error) {
	h, err := headerFromElement(e)
	if err != nil {
		return Presence{}, err
	}
	return Presence{Header: h, Type: PresenceType(e.Attr("type")), Payloads: e.Children}, nil
}

// Show returns the text of the presence show element, if any.
func (p Presence) Show() string {
	for _, c := range p.Payloads {
		if c.Name.Local == "show" {
			return c.Text
		}
	}
	return ""
}

// Status returns the text of the presence status element, if any.
func (p Presence) Status() string {
	for _, c := range p.Payloads {
		if c.Name.Local == "status" {
			return c.Text
		}
	}
	return ""
}
