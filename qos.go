// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quetzal.im/xmpp/jid"
	"quetzal.im/xmpp/stanza"
)

// DeliveryLevel selects the quality of service for an outbound message.
type DeliveryLevel int

const (
	// Unacknowledged delivery is plain fire and forget: the completion
	// callback fires when the message left this client.
	Unacknowledged DeliveryLevel = iota

	// Acknowledged delivery wraps the message in an IQ so the receiving
	// client confirms receipt; the callback fires on that confirmation.
	Acknowledged

	// Assured delivery adds a two phase receive/deliver handshake so the
	// message is kept by the receiver until it could be handed over.
	Assured
)

// qosRetryPolicy is the retry schedule for acknowledged and assured
// deliveries: patient, with exponential drop-off capped at one hour.
func qosRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Timeout:    2 * time.Second,
		Retries:    1 << 30,
		DropOff:    true,
		MaxTimeout: time.Hour,
	}
}

// buildMessage renders an outbound message stanza around the given inner
// payload XML.
func buildMessage(to jid.JID, typ stanza.MessageType, inner string) string {
	var sb strings.Builder
	sb.WriteString(`<message`)
	if !to.Zero() {
		fmt.Fprintf(&sb, ` to='%s'`, to)
	}
	if typ != "" && typ != stanza.NormalMessage {
		fmt.Fprintf(&sb, ` type='%s'`, typ)
	}
	sb.WriteByte('>')
	sb.WriteString(inner)
	sb.WriteString(`</message>`)
	return sb.String()
}

// SendMessage transmits a chat-style message with a plain text body at the
// unacknowledged level.
func (s *Session) SendMessage(to jid.JID, typ stanza.MessageType, body string) error {
	inner := "<body>" + escapeAttr(body) + "</body>"
	return s.SendMessageQoS(to, typ, inner, Unacknowledged, nil)
}

// SendMessageQoS transmits a message whose payload is the given inner XML
// at the requested delivery level. done, if non-nil, fires exactly once
// with the delivery outcome.
func (s *Session) SendMessageQoS(to jid.JID, typ stanza.MessageType, inner string, level DeliveryLevel, done func(ok bool)) error {
	if done == nil {
		done = func(bool) {}
	}
	msg := buildMessage(to, typ, inner)

	switch level {
	case Unacknowledged:
		s.write([]byte(msg), func(err error) {
			s.safely(func() { done(err == nil) })
		})
		return nil

	case Acknowledged:
		body := `<acknowledged xmlns='urn:xmpp:qos'>` + msg + `</acknowledged>`
		_, err := s.SendIQ(stanza.SetIQ, to, body, func(ok bool, _ *stanza.Element, _, _ jid.JID, _ interface{}) {
			s.safely(func() { done(ok) })
		}, nil, qosRetryPolicy())
		return err

	case Assured:
		msgID := newMsgID()
		body := fmt.Sprintf(`<assured xmlns='urn:xmpp:qos' msgId='%s'>%s</assured>`, msgID, msg)
		_, err := s.SendIQ(stanza.SetIQ, to, body, func(ok bool, resp *stanza.Element, _, _ jid.JID, _ interface{}) {
			if !ok {
				s.safely(func() { done(false) })
				return
			}
			if resp == nil || resp.Name.Local != "received" || resp.Attr("msgId") != msgID {
				s.safely(func() { done(false) })
				return
			}
			s.sendDeliver(to, msgID, done)
		}, nil, qosRetryPolicy())
		return err

	default:
		return fmt.Errorf("xmpp: unknown delivery level %d", level)
	}
}

// sendDeliver performs the second phase of assured delivery.
func (s *Session) sendDeliver(to jid.JID, msgID string, done func(ok bool)) {
	body := fmt.Sprintf(`<deliver xmlns='urn:xmpp:qos' msgId='%s'/>`, msgID)
	_, err := s.SendIQ(stanza.SetIQ, to, body, func(ok bool, _ *stanza.Element, _, _ jid.JID, _ interface{}) {
		s.safely(func() { done(ok) })
	}, nil, qosRetryPolicy())
	if err != nil {
		s.safely(func() { done(false) })
	}
}

// newMsgID returns a fresh 32 hex digit message identifier.
func newMsgID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// inventoryKey identifies a pending assured message by its source and id.
type inventoryKey struct {
	bare  string
	msgID string
}

// qosInventory is the receiving side state of assured delivery: the pending
// message store with per-source and global admission counters.
type qosInventory struct {
	mu        sync.Mutex
	pending   map[inventoryKey]*stanza.Element
	perSource map[string]int
	total     int

	maxPerSource int
	maxTotal     int
}

func newQoSInventory(maxPerSource, maxTotal int) *qosInventory {
	return &qosInventory{
		pending:      make(map[inventoryKey]*stanza.Element),
		perSource:    make(map[string]int),
		maxPerSource: maxPerSource,
		maxTotal:     maxTotal,
	}
}

// admit records a message if admission control passes. inRoster is supplied
// by the caller; the returned condition is empty on success.
func (inv *qosInventory) admit(bare, msgID string, msg *stanza.Element, inRoster bool) stanza.Condition {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	switch {
	case !inRoster:
		return stanza.NotAllowed
	case inv.perSource[bare] >= inv.maxPerSource:
		return stanza.ResourceConstraint
	case inv.total >= inv.maxTotal:
		return stanza.ResourceConstraint
	}
	key := inventoryKey{bare: bare, msgID: msgID}
	if _, dup := inv.pending[key]; !dup {
		inv.pending[key] = msg
		inv.perSource[bare]++
		inv.total++
	}
	return ""
}

// take removes and returns the stored message for (bare, msgID).
func (inv *qosInventory) take(bare, msgID string) (*stanza.Element, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	key := inventoryKey{bare: bare, msgID: msgID}
	msg, ok := inv.pending[key]
	if !ok {
		return nil, false
	}
	delete(inv.pending, key)
	if inv.perSource[bare]--; inv.perSource[bare] <= 0 {
		delete(inv.perSource, bare)
	}
	inv.total--
	return msg, true
}

// counts returns the per-source count for bare and the global count.
func (inv *qosInventory) counts(bare string) (source, total int) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.perSource[bare], inv.total
}

// handleAcknowledged answers an inbound acknowledged wrapper: confirm
// receipt immediately, then dispatch the inner message locally.
func (s *Session) handleAcknowledged(iq stanza.IQ, payload *stanza.Element) error {
	msg := payload.Child("message", "")
	if msg == nil {
		return stanza.NewError(stanza.BadRequest)
	}
	s.replyResult(iq, "")
	s.dispatchMessage(msg)
	return nil
}

// handleAssured answers an inbound assured wrapper: run admission control,
// store the message, and confirm with a received element carrying the same
// msgId.
func (s *Session) handleAssured(iq stanza.IQ, payload *stanza.Element) error {
	msgID := payload.Attr("msgId")
	msg := payload.Child("message", "")
	if msgID == "" || msg == nil {
		return stanza.NewError(stanza.BadRequest)
	}
	if iq.From.Zero() {
		return stanza.NewError(stanza.NotAllowed)
	}
	bare := iq.From.Bare()
	if cond := s.qos.admit(bare.String(), msgID, msg, s.roster.Contains(bare)); cond != "" {
		return stanza.NewError(cond)
	}
	s.replyResult(iq, fmt.Sprintf(`<received xmlns='urn:xmpp:qos' msgId='%s'/>`, msgID))
	return nil
}

// handleDeliver answers the second phase of inbound assured delivery: the
// stored message is released to the application exactly once.
func (s *Session) handleDeliver(iq stanza.IQ, payload *stanza.Element) error {
	msgID := payload.Attr("msgId")
	if msgID == "" {
		return stanza.NewError(stanza.BadRequest)
	}
	if iq.From.Zero() {
		return stanza.NewError(stanza.NotAllowed)
	}
	msg, ok := s.qos.take(iq.From.Bare().String(), msgID)
	if !ok {
		return stanza.NewError(stanza.ItemNotFound)
	}
	s.replyResult(iq, "")
	s.dispatchMessage(msg)
	return nil
}
