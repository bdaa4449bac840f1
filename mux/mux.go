// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package mux implements a stanza payload multiplexer.
//
// Handlers are registered against the XML name of a stanza child element.
// Three separate tables exist: one for iq stanzas of type get, one for iq
// stanzas of type set, and one for messages. A registration may additionally
// publish the payload namespace as a service discovery feature.
package mux // import "quetzal.im/xmpp/mux"

import (
	"encoding/xml"
	"fmt"
	"sort"
	"sync"

	"quetzal.im/xmpp/stanza"
)

// IQHandler responds to an IQ stanza carrying a payload it was registered
// for. A returned stanza.Error is serialized verbatim into the iq error
// reply; any other error becomes internal-server-error.
type IQHandler interface {
	HandleIQ(iq stanza.IQ, payload *stanza.Element) error
}

// IQHandlerFunc is an adapter to allow the use of ordinary functions as IQ
// handlers.
type IQHandlerFunc func(iq stanza.IQ, payload *stanza.Element) error

// HandleIQ calls f(iq, payload).
func (f IQHandlerFunc) HandleIQ(iq stanza.IQ, payload *stanza.Element) error {
	return f(iq, payload)
}

// MessageHandler responds to a message stanza whose payload it was
// registered for.
type MessageHandler interface {
	HandleMessage(msg stanza.Message, payload *stanza.Element)
}

// MessageHandlerFunc is an adapter to allow the use of ordinary functions as
// message handlers.
type MessageHandlerFunc func(msg stanza.Message, payload *stanza.Element)

// HandleMessage calls f(msg, payload).
func (f MessageHandlerFunc) HandleMessage(msg stanza.Message, payload *stanza.Element) {
	f(msg, payload)
}

// Registration is the handle returned by a successful registration. It must
// be presented again to unregister: a registrant may not remove another
// registrant's handler.
type Registration struct {
	table int
	name  xml.Name
	ns    string
}

const (
	tableIQGet = iota
	tableIQSet
	tableMessage
)

type iqEntry struct {
	h   IQHandler
	reg *Registration
}

type msgEntry struct {
	h   MessageHandler
	reg *Registration
}

// Mux routes stanza payloads to registered handlers and tracks the feature
// set the client advertises in service discovery responses.
type Mux struct {
	mu       sync.RWMutex
	iqGet    map[xml.Name]iqEntry
	iqSet    map[xml.Name]iqEntry
	messages map[xml.Name]msgEntry
	features map[string]int // namespace -> refcount
}

// New allocates a Mux seeded with the given base features (the features the
// client always advertises, independent of registrations).
func New(baseFeatures ...string) *Mux {
	m := &Mux{
		iqGet:    make(map[xml.Name]iqEntry),
		iqSet:    make(map[xml.Name]iqEntry),
		messages: make(map[xml.Name]msgEntry),
		features: make(map[string]int),
	}
	for _, f := range baseFeatures {
		m.features[f]++
	}
	return m
}

// IQGet registers h for iq-get stanzas carrying a payload with the given
// local name and namespace. If publish is true the namespace is added to the
// advertised feature set for as long as the registration lasts.
func (m *Mux) IQGet(local, space string, h IQHandler, publish bool) (*Registration, error) {
	if h == nil {
		return nil, fmt.Errorf("mux: nil handler for {%s}%s", space, local)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	name := xml.Name{Local: local, Space: space}
	if _, ok := m.iqGet[name]; ok {
		return nil, fmt.Errorf("mux: multiple registrations for iq-get {%s}%s", space, local)
	}
	reg := m.newRegistration(tableIQGet, name, publish)
	m.iqGet[name] = iqEntry{h: h, reg: reg}
	return reg, nil
}

// IQSet registers h for iq-set stanzas. See IQGet.
func (m *Mux) IQSet(local, space string, h IQHandler, publish bool) (*Registration, error) {
	if h == nil {
		return nil, fmt.Errorf("mux: nil handler for {%s}%s", space, local)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	name := xml.Name{Local: local, Space: space}
	if _, ok := m.iqSet[name]; ok {
		return nil, fmt.Errorf("mux: multiple registrations for iq-set {%s}%s", space, local)
	}
	reg := m.newRegistration(tableIQSet, name, publish)
	m.iqSet[name] = iqEntry{h: h, reg: reg}
	return reg, nil
}

// Message registers h for message stanzas carrying the given payload. See
// IQGet.
func (m *Mux) Message(local, space string, h MessageHandler, publish bool) (*Registration, error) {
	if h == nil {
		return nil, fmt.Errorf("mux: nil handler for {%s}%s", space, local)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	name := xml.Name{Local: local, Space: space}
	if _, ok := m.messages[name]; ok {
		return nil, fmt.Errorf("mux: multiple registrations for message {%s}%s", space, local)
	}
	reg := m.newRegistration(tableMessage, name, publish)
	m.messages[name] = msgEntry{h: h, reg: reg}
	return reg, nil
}

func (m *Mux) newRegistration(table int, name xml.Name, publish bool) *Registration {
	reg := &Registration{table: table, name: name}
	if publish {
		reg.ns = name.Space
		m.features[name.Space]++
	}
	return reg
}

// Unregister removes a previous registration. The registration handle must
// be the one returned by the matching register call.
func (m *Mux) Unregister(reg *Registration) error {
	if reg == nil {
		return fmt.Errorf("mux: nil registration")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch reg.table {
	case tableIQGet:
		e, ok := m.iqGet[reg.name]
		if !ok || e.reg != reg {
			return fmt.Errorf("mux: registration does not own iq-get {%s}%s", reg.name.Space, reg.name.Local)
		}
		delete(m.iqGet, reg.name)
	case tableIQSet:
		e, ok := m.iqSet[reg.name]
		if !ok || e.reg != reg {
			return fmt.Errorf("mux: registration does not own iq-set {%s}%s", reg.name.Space, reg.name.Local)
		}
		delete(m.iqSet, reg.name)
	case tableMessage:
		e, ok := m.messages[reg.name]
		if !ok || e.reg != reg {
			return fmt.Errorf("mux: registration does not own message {%s}%s", reg.name.Space, reg.name.Local)
		}
		delete(m.messages, reg.name)
	default:
		return fmt.Errorf("mux: unknown registration table %d", reg.table)
	}
	if reg.ns != "" {
		if m.features[reg.ns]--; m.features[reg.ns] <= 0 {
			delete(m.features, reg.ns)
		}
	}
	return nil
}

// IQHandler looks up the handler for an IQ of the given type carrying a
// payload with the given name.
func (m *Mux) IQHandler(typ stanza.IQType, name xml.Name) (IQHandler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var e iqEntry
	var ok bool
	switch typ {
	case stanza.GetIQ:
		e, ok = m.iqGet[name]
	case stanza.SetIQ:
		e, ok = m.iqSet[name]
	}
	if !ok {
		return nil, false
	}
	return e.h, true
}

// MessageHandler looks up the handler for a message payload.
func (m *Mux) MessageHandler(name xml.Name) (MessageHandler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.messages[name]
	if !ok {
		return nil, false
	}
	return e.h, true
}

// Features returns a sorted snapshot of the advertised feature namespaces:
// the base features plus every namespace published by a live registration.
func (m *Mux) Features() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.features))
	for f := range m.features {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// HasFeature reports whether the given namespace is currently advertised.
func (m *Mux) HasFeature(space string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.features[space]
	return ok
}
