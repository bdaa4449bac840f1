// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"fmt"
	"strings"

	"quetzal.im/xmpp/jid"
	"quetzal.im/xmpp/stanza"
)

// SendPresence broadcasts availability. show and status are optional; a
// non-zero priority is included as the presence priority.
func (s *Session) SendPresence(show, status string, priority int) {
	var sb strings.Builder
	sb.WriteString(`<presence`)
	if show == "" && status == "" && priority == 0 {
		sb.WriteString(`/>`)
		s.write([]byte(sb.String()), nil)
		return
	}
	sb.WriteByte('>')
	if show != "" {
		fmt.Fprintf(&sb, `<show>%s</show>`, escapeAttr(show))
	}
	if status != "" {
		fmt.Fprintf(&sb, `<status>%s</status>`, escapeAttr(status))
	}
	if priority != 0 {
		fmt.Fprintf(&sb, `<priority>%d</priority>`, priority)
	}
	sb.WriteString(`</presence>`)
	s.write([]byte(sb.String()), nil)
}

// SendDirectedPresence sends a presence stanza of the given type to a
// specific entity, for subscription management.
func (s *Session) SendDirectedPresence(to jid.JID, typ stanza.PresenceType) {
	var sb strings.Builder
	sb.WriteString(`<presence`)
	if !to.Zero() {
		fmt.Fprintf(&sb, ` to='%s'`, to)
	}
	if typ != stanza.AvailablePresence {
		fmt.Fprintf(&sb, ` type='%s'`, typ)
	}
	sb.WriteString(`/>`)
	s.write([]byte(sb.String()), nil)
}

// Subscribe requests a presence subscription to the given contact.
func (s *Session) Subscribe(to jid.JID) { s.SendDirectedPresence(to.Bare(), stanza.SubscribePresence) }

// Unsubscribe cancels a presence subscription to the given contact.
func (s *Session) Unsubscribe(to jid.JID) {
	s.SendDirectedPresence(to.Bare(), stanza.UnsubscribePresence)
}

// ApproveSubscription approves a contact's pending subscription request.
func (s *Session) ApproveSubscription(to jid.JID) {
	s.SendDirectedPresence(to.Bare(), stanza.SubscribedPresence)
}

// DenySubscription denies (or revokes) a contact's subscription.
func (s *Session) DenySubscription(to jid.JID) {
	s.SendDirectedPresence(to.Bare(), stanza.UnsubscribedPresence)
}
