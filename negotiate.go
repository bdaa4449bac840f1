// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"mellium.im/sasl"

	"quetzal.im/xmpp/internal/ns"
	"quetzal.im/xmpp/internal/saslerr"
	"quetzal.im/xmpp/jid"
	"quetzal.im/xmpp/roster"
	"quetzal.im/xmpp/saslmechs"
	"quetzal.im/xmpp/stanza"
	"quetzal.im/xmpp/stream"
)

// Stream feature namespaces that only appear during negotiation.
const (
	nsFeatureRegister = "http://jabber.org/features/iq-register"
)

// ErrNoMechanism is returned when the server offered no SASL mechanism the
// configuration permits.
var ErrNoMechanism = errors.New("xmpp: no acceptable SASL mechanism offered")

// handleFeatures inspects a <stream:features/> element in priority order:
// STARTTLS first, then SASL, then resource binding.
func (s *Session) handleFeatures(el *stanza.Element) {
	s.mu.Lock()
	secure := s.secure
	authenticated := s.authenticated
	s.mu.Unlock()

	if c := el.Child("mechanisms", ns.SASL); c != nil {
		var mechs []string
		for _, m := range c.Children {
			if m.Name.Local == "mechanism" {
				mechs = append(mechs, m.Text)
			}
		}
		s.mu.Lock()
		s.offeredMechs = mechs
		s.mu.Unlock()
	}
	if el.Child("register", nsFeatureRegister) != nil {
		s.mu.Lock()
		s.offeredRegister = true
		s.mu.Unlock()
	}
	if el.Child("session", ns.Session) != nil {
		s.mu.Lock()
		s.offeredSession = true
		s.mu.Unlock()
	}

	if !secure && el.Child("starttls", ns.StartTLS) != nil {
		s.setState(StateStartingEncryption)
		s.write([]byte(`<starttls xmlns='urn:ietf:params:xml:ns:xmpp-tls'/>`), nil)
		return
	}

	if !authenticated {
		s.startAuth()
		return
	}

	if el.Child("bind", ns.Bind) != nil {
		s.startBind()
		return
	}

	// Nothing left to negotiate.
	s.advance()
}

// handleTLSElement consumes <proceed/> or <failure/> in the STARTTLS
// namespace. On proceed the transport is upgraded in place, the stream
// preamble is resent, and a new read loop takes over; the caller's loop
// must stop.
func (s *Session) handleTLSElement(el *stanza.Element) bool {
	switch el.Name.Local {
	case "proceed":
	case "failure":
		s.fail(errors.New("xmpp: server refused STARTTLS"))
		return true
	default:
		s.fail(stream.UnsupportedStanzaType)
		return true
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	tlsConn := tls.Client(conn, &tls.Config{
		ServerName:         s.config.Host,
		InsecureSkipVerify: s.config.TrustServer,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := tlsConn.HandshakeContext(ctx)
	cancel()
	if err != nil {
		s.fail(fmt.Errorf("xmpp: TLS handshake: %w", err))
		return true
	}

	s.mu.Lock()
	s.conn = tlsConn
	s.secure = true
	s.writer.swap(tlsConn)
	s.tok = stream.NewTokenizer(tlsConn)
	tok := s.tok
	s.mu.Unlock()

	go s.readLoop(tok)
	s.sendPreamble()
	return true
}

// mechanismPriority returns the permitted mechanisms in selection order.
func (s *Session) mechanismPriority() []sasl.Mechanism {
	var mechs []sasl.Mechanism
	if s.config.AllowScramSHA1 {
		mechs = append(mechs, sasl.ScramSha1)
	}
	if s.config.AllowDigestMD5 {
		mechs = append(mechs, saslmechs.DigestMD5(s.config.Host))
	}
	if s.config.AllowCramMD5 {
		mechs = append(mechs, saslmechs.CramMD5)
	}
	if s.config.AllowPlain {
		mechs = append(mechs, sasl.Plain)
	}
	return mechs
}

// startAuth selects the first permitted mechanism offered by the server and
// sends the initial <auth/> element.
func (s *Session) startAuth() {
	s.mu.Lock()
	offered := s.offeredMechs
	s.mu.Unlock()

	var selected sasl.Mechanism
	var found bool
selection:
	for _, m := range s.mechanismPriority() {
		for _, name := range offered {
			if name == m.Name {
				selected = m
				found = true
				break selection
			}
		}
	}
	if !found {
		s.fail(ErrNoMechanism)
		return
	}

	negotiator := sasl.NewClient(selected, sasl.Credentials(func() ([]byte, []byte, []byte) {
		return []byte(s.config.User), []byte(s.config.Password), nil
	}))

	s.mu.Lock()
	s.negotiator = negotiator
	s.saslDone = false
	s.mu.Unlock()

	more, resp, err := negotiator.Step(nil)
	if err != nil {
		s.fail(fmt.Errorf("xmpp: SASL start: %w", err))
		return
	}
	s.mu.Lock()
	s.saslDone = !more
	s.mu.Unlock()

	payload := "="
	if len(resp) > 0 {
		payload = base64.StdEncoding.EncodeToString(resp)
	}
	s.setState(StateAuthenticating)
	s.write([]byte(fmt.Sprintf(
		`<auth xmlns='urn:ietf:params:xml:ns:xmpp-sasl' mechanism='%s'>%s</auth>`,
		selected.Name, payload,
	)), nil)
}

// handleSASLElement consumes <challenge/>, <success/>, and <failure/>.
func (s *Session) handleSASLElement(el *stanza.Element) {
	switch el.Name.Local {
	case "challenge":
		s.mu.Lock()
		negotiator := s.negotiator
		s.mu.Unlock()
		if negotiator == nil {
			s.fail(stream.UnsupportedStanzaType)
			return
		}
		challenge, err := base64.StdEncoding.DecodeString(el.Text)
		if err != nil {
			s.fail(fmt.Errorf("xmpp: bad SASL challenge encoding: %w", err))
			return
		}
		more, resp, err := negotiator.Step(challenge)
		if err != nil {
			s.fail(fmt.Errorf("xmpp: SASL: %w", err))
			return
		}
		s.mu.Lock()
		s.saslDone = !more
		s.mu.Unlock()
		payload := ""
		if len(resp) > 0 {
			payload = base64.StdEncoding.EncodeToString(resp)
		}
		s.write([]byte(fmt.Sprintf(
			`<response xmlns='urn:ietf:params:xml:ns:xmpp-sasl'>%s</response>`, payload,
		)), nil)

	case "success":
		s.mu.Lock()
		negotiator := s.negotiator
		done := s.saslDone
		s.mu.Unlock()
		if negotiator != nil && !done && el.Text != "" {
			// Mechanisms like SCRAM carry the server's final proof in the
			// success element and it must verify.
			data, err := base64.StdEncoding.DecodeString(el.Text)
			if err != nil {
				s.fail(fmt.Errorf("xmpp: bad SASL success encoding: %w", err))
				return
			}
			if _, _, err = negotiator.Step(data); err != nil {
				s.fail(fmt.Errorf("xmpp: SASL: %w", err))
				return
			}
		}
		s.resetStream()

	case "failure":
		var failure saslerr.Failure
		if err := el.Decode(&failure); err != nil {
			failure = saslerr.Failure{Condition: saslerr.NotAuthorized}
		}
		s.mu.Lock()
		canRegister := s.offeredRegister && s.config.AllowRegistration &&
			s.config.Password != "" && !s.triedRegister
		s.mu.Unlock()
		if canRegister {
			s.beginRegistration()
			return
		}
		s.fail(failure)

	default:
		s.fail(stream.UnsupportedStanzaType)
	}
}

// resetStream restarts the XML stream on the same transport after
// successful authentication. Only the negotiated authentication identity
// (and the security layer) survives the restart.
func (s *Session) resetStream() {
	s.mu.Lock()
	s.authenticated = true
	s.negotiator = nil
	s.offeredMechs = nil
	s.offeredRegister = false
	s.offeredSession = false
	s.header = stream.Header{}
	if s.tok != nil {
		s.tok.Reset()
	}
	s.mu.Unlock()
	s.sendPreamble()
}

// startBind requests a resource binding. A previously bound resource (or
// the configured one) is requested again; otherwise the server assigns one.
func (s *Session) startBind() {
	s.setState(StateBinding)

	s.mu.Lock()
	resource := s.resource
	s.mu.Unlock()

	body := `<bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'/>`
	if resource != "" {
		body = fmt.Sprintf(
			`<bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'><resource>%s</resource></bind>`,
			resource,
		)
	}
	_, err := s.SendIQ(stanza.SetIQ, jid.JID{}, body, func(ok bool, resp *stanza.Element, _, _ jid.JID, _ interface{}) {
		if !ok {
			s.fail(fmt.Errorf("xmpp: resource binding failed: %w", responseError(resp)))
			return
		}
		bind := resp
		if bind == nil || bind.Name.Local != "bind" {
			s.fail(stream.BadFormat)
			return
		}
		addr, err := jid.Parse(bind.ChildText("jid", ns.Bind))
		if err != nil {
			s.fail(fmt.Errorf("xmpp: server returned a malformed JID: %w", err))
			return
		}
		s.mu.Lock()
		s.boundJID = addr
		s.resource = addr.Resourcepart()
		needSession := s.offeredSession
		s.mu.Unlock()
		if needSession {
			s.establishSession()
			return
		}
		s.advance()
	}, nil, s.config.defaultRetryPolicy())
	if err != nil {
		s.fail(err)
	}
}

// establishSession performs the legacy RFC 3921 session establishment some
// servers still require between binding and stanza exchange.
func (s *Session) establishSession() {
	body := `<session xmlns='urn:ietf:params:xml:ns:xmpp-session'/>`
	_, err := s.SendIQ(stanza.SetIQ, jid.JID{}, body, func(ok bool, resp *stanza.Element, _, _ jid.JID, _ interface{}) {
		if !ok {
			s.fail(fmt.Errorf("xmpp: session establishment failed: %w", responseError(resp)))
			return
		}
		s.advance()
	}, nil, s.config.defaultRetryPolicy())
	if err != nil {
		s.fail(err)
	}
}

// advance moves through the post-bind stages: the initial roster fetch,
// then the initial presence, then StateConnected.
func (s *Session) advance() {
	s.mu.Lock()
	needRoster := !s.config.NoRosterOnStartup && !s.rosterFetched
	needPresence := !s.presenceSet
	s.mu.Unlock()

	if needRoster {
		s.fetchRoster()
		return
	}
	if needPresence {
		s.sendInitialPresence()
		return
	}
	s.becomeConnected()
}

func (s *Session) fetchRoster() {
	s.setState(StateFetchingRoster)
	body := `<query xmlns='jabber:iq:roster'/>`
	_, err := s.SendIQ(stanza.GetIQ, jid.JID{}, body, func(ok bool, resp *stanza.Element, _, _ jid.JID, _ interface{}) {
		if !ok {
			s.fail(fmt.Errorf("xmpp: roster fetch failed: %w", responseError(resp)))
			return
		}
		if resp != nil && resp.Name.Local == "query" {
			s.roster.Replace(roster.ParseItems(resp))
		}
		s.mu.Lock()
		s.rosterFetched = true
		s.mu.Unlock()
		s.advance()
	}, nil, s.config.defaultRetryPolicy())
	if err != nil {
		s.fail(err)
	}
}

func (s *Session) sendInitialPresence() {
	s.setState(StateSettingPresence)
	s.write([]byte(`<presence/>`), func(err error) {
		if err != nil {
			return
		}
		s.mu.Lock()
		s.presenceSet = true
		s.mu.Unlock()
		s.becomeConnected()
	})
}

func (s *Session) becomeConnected() {
	s.setState(StateConnected)
	s.startTicking()
	s.signalConnected()
}

// responseError extracts a usable error from an IQ error payload.
func responseError(resp *stanza.Element) error {
	if resp == nil {
		return stanza.NewError(stanza.UndefinedCondition)
	}
	el := resp
	if el.Name.Local != "error" {
		if e := el.Child("error", ""); e != nil {
			el = e
		}
	}
	var se stanza.Error
	if err := el.Decode(&se); err == nil && se.Condition != "" {
		return se
	}
	return stanza.NewError(stanza.UndefinedCondition)
}
