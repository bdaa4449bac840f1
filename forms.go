// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"quetzal.im/xmpp/form"
	"quetzal.im/xmpp/jid"
	"quetzal.im/xmpp/stanza"
)

// SubmitForm answers a dynamic form by messaging the submitted values back
// to the sender. When form signing is configured the submission carries a
// signature over its values.
func (s *Session) SubmitForm(to jid.JID, d *form.Data) error {
	submit := d.Submit()
	if s.config.FormSignatureKey != "" && s.config.FormSignatureSecret != "" {
		submit.Sign(s.config.FormSignatureKey, s.config.FormSignatureSecret)
	}
	return s.SendMessageQoS(to, stanza.NormalMessage, submit.XML(), Unacknowledged, nil)
}
