// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"fmt"
	"strings"

	"quetzal.im/xmpp/form"
	"quetzal.im/xmpp/internal/ns"
	"quetzal.im/xmpp/mux"
	"quetzal.im/xmpp/roster"
	"quetzal.im/xmpp/stanza"
)

// installDefaultHandlers registers the payload handlers every session
// carries: roster pushes, service discovery info, software version, the
// three QoS operations, and dynamic form updates.
func (s *Session) installDefaultHandlers() error {
	register := []func() (*mux.Registration, error){
		func() (*mux.Registration, error) {
			return s.mux.IQSet("query", ns.Roster, mux.IQHandlerFunc(s.handleRosterPush), false)
		},
		func() (*mux.Registration, error) {
			return s.mux.IQGet("query", ns.DiscoInfo, mux.IQHandlerFunc(s.handleDiscoInfo), false)
		},
		func() (*mux.Registration, error) {
			return s.mux.IQGet("query", ns.Version, mux.IQHandlerFunc(s.handleVersion), true)
		},
		func() (*mux.Registration, error) {
			return s.mux.IQSet("acknowledged", ns.QoS, mux.IQHandlerFunc(s.handleAcknowledged), true)
		},
		func() (*mux.Registration, error) {
			return s.mux.IQSet("assured", ns.QoS, mux.IQHandlerFunc(s.handleAssured), false)
		},
		func() (*mux.Registration, error) {
			return s.mux.IQSet("deliver", ns.QoS, mux.IQHandlerFunc(s.handleDeliver), false)
		},
		func() (*mux.Registration, error) {
			return s.mux.Message("x", ns.Form, mux.MessageHandlerFunc(s.handleFormMessage), false)
		},
	}
	for _, r := range register {
		if _, err := r(); err != nil {
			return err
		}
	}
	return nil
}

// handleRosterPush applies a roster push from the server. Pushes from other
// entities are rejected.
func (s *Session) handleRosterPush(iq stanza.IQ, payload *stanza.Element) error {
	if !iq.From.Zero() {
		from := iq.From.Bare()
		local := s.LocalAddr().Bare()
		if !from.Equal(local) && !from.Equal(local.Domain()) {
			return stanza.NewError(stanza.NotAllowed)
		}
	}
	for _, item := range roster.ParseItems(payload) {
		s.roster.Update(item)
	}
	s.replyResult(iq, "")
	return nil
}

// handleDiscoInfo answers a disco#info query with the client identity and
// the live feature set.
func (s *Session) handleDiscoInfo(iq stanza.IQ, payload *stanza.Element) error {
	var sb strings.Builder
	sb.WriteString(`<query xmlns='http://jabber.org/protocol/disco#info'`)
	if node := payload.Attr("node"); node != "" {
		fmt.Fprintf(&sb, ` node='%s'`, escapeAttr(node))
	}
	sb.WriteByte('>')
	fmt.Fprintf(&sb, `<identity category='client' type='pc' name='%s'/>`, escapeAttr(s.config.SoftwareName))
	for _, feature := range s.mux.Features() {
		fmt.Fprintf(&sb, `<feature var='%s'/>`, escapeAttr(feature))
	}
	sb.WriteString(`</query>`)
	s.replyResult(iq, sb.String())
	return nil
}

// handleVersion answers a software version query (XEP-0092).
func (s *Session) handleVersion(iq stanza.IQ, _ *stanza.Element) error {
	var sb strings.Builder
	sb.WriteString(`<query xmlns='jabber:iq:version'>`)
	fmt.Fprintf(&sb, `<name>%s</name>`, escapeAttr(s.config.SoftwareName))
	if s.config.SoftwareVersion != "" {
		fmt.Fprintf(&sb, `<version>%s</version>`, escapeAttr(s.config.SoftwareVersion))
	}
	if s.config.SoftwareOS != "" {
		fmt.Fprintf(&sb, `<os>%s</os>`, escapeAttr(s.config.SoftwareOS))
	}
	sb.WriteString(`</query>`)
	s.replyResult(iq, sb.String())
	return nil
}

// handleFormMessage surfaces messages carrying a data form as the
// dynamic-form-updated event.
func (s *Session) handleFormMessage(msg stanza.Message, payload *stanza.Element) {
	h := s.handlers().DynamicFormUpdated
	if h == nil {
		return
	}
	f, err := form.Parse(payload)
	if err != nil {
		return
	}
	h(msg.From, f)
}
