// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"fmt"

	"quetzal.im/xmpp/form"
	"quetzal.im/xmpp/jid"
	"quetzal.im/xmpp/register"
	"quetzal.im/xmpp/stanza"
)

// beginRegistration is the in-band registration fallback (XEP-0077) entered
// when authentication fails, the server advertised registration support,
// and the configuration opted in.
func (s *Session) beginRegistration() {
	s.setState(StateRegistering)
	s.mu.Lock()
	s.triedRegister = true
	s.mu.Unlock()

	_, err := s.SendIQ(stanza.GetIQ, jid.JID{}, register.QueryXML(), func(ok bool, resp *stanza.Element, _, _ jid.JID, _ interface{}) {
		if !ok || resp == nil {
			s.fail(fmt.Errorf("xmpp: registration fields request failed: %w", responseError(resp)))
			return
		}
		fields := register.ParseFields(resp)
		if h := s.handlers().RegistrationForm; h != nil {
			s.safely(func() { h(fields.Names, fields.Instructions, fields.Form) })
		}
		s.submitRegistration(fields)
	}, nil, s.config.defaultRetryPolicy())
	if err != nil {
		s.fail(err)
	}
}

// submitRegistration answers the registration fields with the configured
// account credentials and, on success, retries authentication.
func (s *Session) submitRegistration(fields register.Fields) {
	values := map[string]string{
		"username": s.config.User,
		"password": s.config.Password,
	}
	body := register.SubmitXML(fields, values)
	_, err := s.SendIQ(stanza.SetIQ, jid.JID{}, body, func(ok bool, resp *stanza.Element, _, _ jid.JID, _ interface{}) {
		if !ok {
			s.fail(fmt.Errorf("xmpp: in-band registration failed: %w", responseError(resp)))
			return
		}
		s.startAuth()
	}, nil, s.config.defaultRetryPolicy())
	if err != nil {
		s.fail(err)
	}
}

// ChangePassword changes the account password in band (XEP-0077 §3.3). On
// success the configured plaintext password is replaced and any stored
// password hash is cleared so stale derived credentials can never be used
// for the next authentication.
func (s *Session) ChangePassword(ctx context.Context, newPassword string) error {
	body := register.ChangePasswordXML(s.config.User, newPassword)
	resp, err := s.SendIQSync(ctx, stanza.SetIQ, jid.JID{}, body)
	if err != nil {
		// Some servers answer with a data form that must be completed
		// instead of the two plain fields.
		if resp != nil {
			if x := resp.Child("x", form.NS); x != nil {
				if f, ferr := form.Parse(x); ferr == nil {
					if h := s.handlers().PasswordChangeForm; h != nil {
						s.safely(func() { h(f) })
					}
				}
			}
		}
		return err
	}
	s.mu.Lock()
	s.config.Password = newPassword
	s.config.PasswordHash = ""
	s.config.HashMethod = ""
	s.mu.Unlock()
	if h := s.handlers().PasswordChanged; h != nil {
		s.safely(h)
	}
	return nil
}

// DeleteAccount removes the account from the server (XEP-0077 §3.2). The
// server normally closes the stream afterwards.
func (s *Session) DeleteAccount(ctx context.Context) error {
	_, err := s.SendIQSync(ctx, stanza.SetIQ, jid.JID{}, register.RemoveXML())
	return err
}
