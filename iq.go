// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"mellium.im/xmlstream"

	"quetzal.im/xmpp/internal/ns"
	"quetzal.im/xmpp/jid"
	"quetzal.im/xmpp/stanza"
)

// SendIQ transmits an IQ request built around the given body XML and
// records it for correlation with the eventual response. The callback fires
// exactly once: with the response payload when one arrives, or with a
// synthesized recipient-unavailable error when the retry budget is
// exhausted. The returned sequence number is the stanza id.
func (s *Session) SendIQ(typ stanza.IQType, to jid.JID, body string, cb IQCallback, state interface{}, policy RetryPolicy) (uint32, error) {
	if typ != stanza.GetIQ && typ != stanza.SetIQ {
		return 0, fmt.Errorf("xmpp: SendIQ requires a get or set type, got %q", typ)
	}
	if cb == nil {
		cb = func(bool, *stanza.Element, jid.JID, jid.JID, interface{}) {}
	}
	if policy.Timeout == 0 {
		policy = s.config.defaultRetryPolicy()
	}

	s.mu.Lock()
	w := s.writer
	closing := s.closing
	s.mu.Unlock()
	if w == nil || closing {
		return 0, ErrNotConnected
	}

	seq, text := s.pending.add(typ, to, body, cb, state, policy, time.Now())
	s.write([]byte(text), nil)
	return seq, nil
}

// SendIQGet is SendIQ with type get and the session's default retry policy.
func (s *Session) SendIQGet(to jid.JID, body string, cb IQCallback, state interface{}) (uint32, error) {
	return s.SendIQ(stanza.GetIQ, to, body, cb, state, s.config.defaultRetryPolicy())
}

// SendIQSet is SendIQ with type set and the session's default retry policy.
func (s *Session) SendIQSet(to jid.JID, body string, cb IQCallback, state interface{}) (uint32, error) {
	return s.SendIQ(stanza.SetIQ, to, body, cb, state, s.config.defaultRetryPolicy())
}

// SendIQSync transmits an IQ request and blocks until the response arrives,
// the retry budget is exhausted, or ctx expires. Error responses are
// returned as a stanza.Error.
func (s *Session) SendIQSync(ctx context.Context, typ stanza.IQType, to jid.JID, body string) (*stanza.Element, error) {
	type outcome struct {
		ok   bool
		resp *stanza.Element
	}
	ch := make(chan outcome, 1)
	_, err := s.SendIQ(typ, to, body, func(ok bool, resp *stanza.Element, _, _ jid.JID, _ interface{}) {
		ch <- outcome{ok: ok, resp: resp}
	}, nil, s.config.defaultRetryPolicy())
	if err != nil {
		return nil, err
	}
	select {
	case out := <-ch:
		if !out.ok {
			return out.resp, responseError(out.resp)
		}
		return out.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// replyResult answers an inbound request with an iq result carrying the
// given payload (which may be empty).
func (s *Session) replyResult(req stanza.IQ, payload string) {
	var sb strings.Builder
	sb.WriteString(`<iq type='result'`)
	if req.ID != "" {
		fmt.Fprintf(&sb, ` id='%s'`, escapeAttr(req.ID))
	}
	if !req.From.Zero() {
		fmt.Fprintf(&sb, ` to='%s'`, req.From)
	}
	sb.WriteByte('>')
	sb.WriteString(payload)
	sb.WriteString(`</iq>`)
	s.write([]byte(sb.String()), nil)
}

// replyError answers an inbound request with an iq error.
func (s *Session) replyError(req stanza.IQ, se stanza.Error) {
	var sb strings.Builder
	sb.WriteString(`<iq type='error'`)
	if req.ID != "" {
		fmt.Fprintf(&sb, ` id='%s'`, escapeAttr(req.ID))
	}
	if !req.From.Zero() {
		fmt.Fprintf(&sb, ` to='%s'`, req.From)
	}
	sb.WriteByte('>')
	sb.WriteString(renderXML(se))
	sb.WriteString(`</iq>`)
	s.write([]byte(sb.String()), nil)
}

// renderXML serializes an xmlstream.Marshaler to its wire form.
func renderXML(m xmlstream.Marshaler) string {
	var sb strings.Builder
	e := xml.NewEncoder(&sb)
	if _, err := xmlstream.Copy(e, m.TokenReader()); err != nil {
		return ""
	}
	if err := e.Flush(); err != nil {
		return ""
	}
	return sb.String()
}

func escapeAttr(s string) string {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}

// synthesizedError builds the error payload handed to callbacks when no
// response ever arrived.
func synthesizedError(cond stanza.Condition) *stanza.Element {
	se := stanza.NewError(cond)
	return &stanza.Element{
		Name:  xml.Name{Space: ns.Client, Local: "error"},
		Attrs: []xml.Attr{{Name: xml.Name{Local: "type"}, Value: string(se.Type)}},
		Children: []*stanza.Element{{
			Name: xml.Name{Space: ns.Stanza, Local: string(cond)},
		}},
	}
}
