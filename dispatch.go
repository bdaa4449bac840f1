// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"errors"

	"quetzal.im/xmpp/mux"
	"quetzal.im/xmpp/stanza"
	"quetzal.im/xmpp/stream"
)

// dispatch routes one parsed top level stanza.
func (s *Session) dispatch(el *stanza.Element) {
	switch el.Name.Local {
	case "iq":
		s.dispatchIQ(el)
	case "message":
		s.dispatchMessage(el)
	case "presence":
		s.dispatchPresence(el)
	default:
		s.fail(stream.UnsupportedStanzaType)
	}
}

func (s *Session) dispatchIQ(el *stanza.Element) {
	iq, err := stanza.IQFromElement(el)
	if err != nil {
		var se stanza.Error
		if errors.As(err, &se) {
			s.replyError(stanza.IQ{Header: stanza.Header{ID: el.Attr("id")}}, se)
		}
		return
	}

	switch iq.Type {
	case stanza.GetIQ, stanza.SetIQ:
		s.dispatchIQRequest(iq)
	case stanza.ResultIQ, stanza.ErrorIQ:
		s.dispatchIQResponse(iq)
	}
}

// dispatchIQRequest finds the first payload with a registered handler and
// invokes it. Handlers reply themselves; the dispatcher only synthesizes
// error replies.
func (s *Session) dispatchIQRequest(iq stanza.IQ) {
	for _, payload := range iq.Payloads {
		h, ok := s.mux.IQHandler(iq.Type, payload.Name)
		if !ok {
			continue
		}
		err := s.invokeIQHandler(h, iq, payload)
		if err == nil {
			return
		}
		var se stanza.Error
		if errors.As(err, &se) {
			s.replyError(iq, se)
			return
		}
		s.replyError(iq, stanza.NewError(stanza.InternalServerError))
		return
	}
	s.replyError(iq, stanza.NewError(stanza.FeatureNotImplemented))
}

func (s *Session) invokeIQHandler(h mux.IQHandler, iq stanza.IQ, payload *stanza.Element) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = stanza.NewError(stanza.InternalServerError)
			s.emitError(callbackPanicError{r})
		}
	}()
	return h.HandleIQ(iq, payload)
}

// dispatchIQResponse correlates a result or error with its pending request.
// Responses whose id does not parse, or for which no request is pending,
// are late or spurious and are silently ignored.
func (s *Session) dispatchIQResponse(iq stanza.IQ) {
	req := s.pending.resolve(iq.ID)
	if req == nil {
		return
	}
	ok := iq.Type == stanza.ResultIQ
	var resp *stanza.Element
	if ok {
		resp = iq.Payload()
	} else {
		for _, p := range iq.Payloads {
			if p.Name.Local == "error" {
				resp = p
				break
			}
		}
	}
	s.safely(func() {
		req.cb(ok, resp, iq.From, iq.To, req.state)
	})
}

func (s *Session) dispatchMessage(el *stanza.Element) {
	msg, err := stanza.MessageFromElement(el)
	if err != nil {
		return
	}

	for _, payload := range msg.Payloads {
		h, ok := s.mux.MessageHandler(payload.Name)
		if !ok {
			continue
		}
		payload := payload
		s.safely(func() { h.HandleMessage(msg, payload) })
		return
	}

	h := s.handlers()
	var cb func(stanza.Message)
	switch msg.Type {
	case stanza.ChatMessage:
		cb = h.ChatMessage
	case stanza.ErrorMessage:
		cb = h.ErrorMessage
	case stanza.GroupChatMessage:
		cb = h.GroupChatMessage
	case stanza.HeadlineMessage:
		cb = h.HeadlineMessage
	default:
		cb = h.NormalMessage
	}
	if cb != nil {
		s.safely(func() { cb(msg) })
	}
}

func (s *Session) dispatchPresence(el *stanza.Element) {
	p, err := stanza.PresenceFromElement(el)
	if err != nil {
		return
	}

	switch p.Type {
	case stanza.AvailablePresence, stanza.UnavailablePresence:
		if !p.From.Zero() {
			pp := p
			s.roster.SetPresence(p.From, &pp)
		}
	}

	h := s.handlers()
	if h.Presence != nil {
		s.safely(func() { h.Presence(p) })
	}
	switch p.Type {
	case stanza.SubscribePresence:
		if h.Subscribe != nil {
			s.safely(func() { h.Subscribe(p.From) })
		}
	case stanza.SubscribedPresence:
		if h.Subscribed != nil {
			s.safely(func() { h.Subscribed(p.From) })
		}
	case stanza.UnsubscribePresence:
		if h.Unsubscribe != nil {
			s.safely(func() { h.Unsubscribe(p.From) })
		}
	case stanza.UnsubscribedPresence:
		if h.Unsubscribed != nil {
			s.safely(func() { h.Unsubscribed(p.From) })
		}
	}
}
