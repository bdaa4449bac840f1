// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"quetzal.im/xmpp/form"
	"quetzal.im/xmpp/jid"
	"quetzal.im/xmpp/roster"
	"quetzal.im/xmpp/stanza"
)

// EventHandlers are the observable events of a Session. All fields are
// optional; nil handlers are skipped. Handlers run on the session's dispatch
// goroutine and must not block; long running work belongs to the
// application.
type EventHandlers struct {
	// StateChanged fires on every connection state transition.
	StateChanged func(old, new State)

	// ConnectionError fires when the session moves to StateError, carrying
	// the fatal stream or transport error.
	ConnectionError func(err error)

	// Error fires for non-fatal errors, including panics recovered from
	// user callbacks.
	Error func(err error)

	// Roster item events.
	RosterItemAdded   func(item roster.Item)
	RosterItemUpdated func(item roster.Item)
	RosterItemRemoved func(addr jid.JID)

	// Presence fires for every inbound presence stanza. The per-type
	// subscription events fire additionally for their kind.
	Presence     func(p stanza.Presence)
	Subscribe    func(from jid.JID)
	Subscribed   func(from jid.JID)
	Unsubscribe  func(from jid.JID)
	Unsubscribed func(from jid.JID)

	// Message events by type, fired when no payload handler claimed the
	// message.
	ChatMessage      func(m stanza.Message)
	NormalMessage    func(m stanza.Message)
	GroupChatMessage func(m stanza.Message)
	HeadlineMessage  func(m stanza.Message)
	ErrorMessage     func(m stanza.Message)

	// RegistrationForm fires when the server answers a registration fields
	// request during in-band registration fallback.
	RegistrationForm func(fields []string, instructions string, f *form.Data)

	// PasswordChangeForm fires when the server rejects a password change
	// and demands a filled data form instead.
	PasswordChangeForm func(f *form.Data)

	// PasswordChanged fires after a successful in-band password change.
	PasswordChanged func()

	// DynamicFormUpdated fires when a message carrying a data form arrives.
	DynamicFormUpdated func(from jid.JID, f *form.Data)
}

func (s *Session) emitState(old, new State) {
	if h := s.handlers().StateChanged; h != nil {
		s.safely(func() { h(old, new) })
	}
}

func (s *Session) emitConnectionError(err error) {
	if h := s.handlers().ConnectionError; h != nil {
		s.safely(func() { h(err) })
	}
}

func (s *Session) emitError(err error) {
	if h := s.handlers().Error; h != nil {
		s.safely(func() { h(err) })
	}
}

// safely runs a user callback, reporting rather than propagating panics.
func (s *Session) safely(f func()) {
	defer func() {
		if r := recover(); r != nil {
			if h := s.config.Handlers.Error; h != nil {
				// Report directly: emitError would recurse through safely.
				func() {
					defer func() { recover() }()
					h(callbackPanicError{r})
				}()
			}
		}
	}()
	f()
}

type callbackPanicError struct{ v interface{} }

func (e callbackPanicError) Error() string { return "xmpp: panic in event callback" }
