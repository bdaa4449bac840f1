// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"quetzal.im/xmpp/internal/ns"
)

// A list of stream errors defined in RFC 6120 §4.9.3.
var (
	// BadFormat is used when the entity has sent XML that cannot be
	// processed. The more specific XML-related conditions are preferred
	// where they apply.
	BadFormat = Error{Err: "bad-format"}

	// BadNamespacePrefix is sent when an entity has sent a namespace prefix
	// that is unsupported, or no prefix on an element that needs one.
	BadNamespacePrefix = Error{Err: "bad-namespace-prefix"}

	// Conflict is sent when a new stream conflicts with an existing stream
	// for the same entity.
	Conflict = Error{Err: "conflict"}

	// ConnectionTimeout results when one party believes the other has
	// permanently lost the ability to communicate over the stream.
	ConnectionTimeout = Error{Err: "connection-timeout"}

	// HostGone is sent when the 'to' address names an FQDN that is no
	// longer serviced by the receiving entity.
	HostGone = Error{Err: "host-gone"}

	// HostUnknown is sent when the 'to' address names an FQDN that is not
	// serviced by the receiving entity.
	HostUnknown = Error{Err: "host-unknown"}

	// ImproperAddressing is used when a stanza lacks a 'to' or 'from'
	// attribute or the value violates the address format.
	ImproperAddressing = Error{Err: "improper-addressing"}

	// InternalServerError is sent when a misconfiguration or other internal
	// error prevents servicing the stream.
	InternalServerError = Error{Err: "internal-server-error"}

	// InvalidFrom is sent when the 'from' address does not match an
	// authorized JID negotiated for this stream.
	InvalidFrom = Error{Err: "invalid-from"}

	// InvalidNamespace is sent when the stream or content namespace is
	// unsupported.
	InvalidNamespace = Error{Err: "invalid-namespace"}

	// InvalidXML is sent when the entity has sent invalid XML over the
	// stream.
	InvalidXML = Error{Err: "invalid-xml"}

	// NotAuthorized is sent when the entity has attempted an action before
	// the stream was authenticated.
	NotAuthorized = Error{Err: "not-authorized"}

	// NotWellFormed is sent when the entity has sent XML that violates the
	// well-formedness rules of XML or XML namespaces.
	NotWellFormed = Error{Err: "not-well-formed"}

	// PolicyViolation is sent when an entity has violated a local service
	// policy.
	PolicyViolation = Error{Err: "policy-violation"}

	// RemoteConnectionFailed is sent when the server could not connect to a
	// remote entity needed for authentication or authorization.
	RemoteConnectionFailed = Error{Err: "remote-connection-failed"}

	// Reset is sent when the server is closing the stream because stream
	// negotiation must be attempted again.
	Reset = Error{Err: "reset"}

	// ResourceConstraint is sent when the server lacks the system resources
	// necessary to service the stream.
	ResourceConstraint = Error{Err: "resource-constraint"}

	// RestrictedXML is sent when the entity has attempted to send restricted
	// XML features such as a comment, processing instruction, DTD subset, or
	// XML entity reference.
	RestrictedXML = Error{Err: "restricted-xml"}

	// SeeOtherHost is sent when the server will not serve this stream and
	// redirects to another host carried in the error payload.
	SeeOtherHost = Error{Err: "see-other-host"}

	// SystemShutdown is sent when the server is being shut down.
	SystemShutdown = Error{Err: "system-shutdown"}

	// UndefinedCondition may be sent with application-specific conditions
	// not covered by this list.
	UndefinedCondition = Error{Err: "undefined-condition"}

	// UnsupportedEncoding is sent when the stream used an unsupported
	// encoding.
	UnsupportedEncoding = Error{Err: "unsupported-encoding"}

	// UnsupportedFeature is sent when the initiating entity requested an
	// unsupported stream feature.
	UnsupportedFeature = Error{Err: "unsupported-feature"}

	// UnsupportedStanzaType is sent when a first level child of the stream
	// is not understood.
	UnsupportedStanzaType = Error{Err: "unsupported-stanza-type"}

	// UnsupportedVersion is sent when the 'version' attribute names an
	// unsupported XMPP version.
	UnsupportedVersion = Error{Err: "unsupported-version"}
)

// Error represents a stream level error. Stream errors are unrecoverable:
// after one is sent or received the stream must be closed.
type Error struct {
	Err string

	// Text is the payload of the condition element, if any. For
	// see-other-host it carries the redirect target.
	Text string
}

// Error satisfies the error interface.
func (e Error) Error() string {
	return "stream error: " + e.Err
}

// Is allows comparison against the package level conditions with errors.Is
// regardless of payload text.
func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	return ok && t.Err == e.Err
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (e Error) TokenReader() xml.TokenReader {
	var inner xml.TokenReader
	if e.Text != "" {
		inner = xmlstream.Token(xml.CharData(e.Text))
	}
	return xmlstream.Wrap(
		xmlstream.Wrap(inner, xml.StartElement{
			Name: xml.Name{Space: ns.Streams, Local: e.Err},
		}),
		xml.StartElement{Name: xml.Name{Space: ns.Stream, Local: "error"}},
	)
}

// WriteXML satisfies the xmlstream.WriterTo interface.
func (e Error) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, e.TokenReader())
}

// MarshalXML satisfies the xml.Marshaler interface.
func (e Error) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	_, err := e.WriteXML(enc)
	return err
}

// UnmarshalXML satisfies the xml.Unmarshaler interface.
func (e *Error) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	decoded := struct {
		Condition struct {
			XMLName xml.Name
			Data    string `xml:",chardata"`
		} `xml:",any"`
	}{}
	if err := d.DecodeElement(&decoded, &start); err != nil {
		return err
	}
	e.Err = decoded.Condition.XMLName.Local
	e.Text = decoded.Condition.Data
	return nil
}
