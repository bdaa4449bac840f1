// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package roster implements the contact list of RFC 6121 and the presence
// cache attached to it.
package roster // import "quetzal.im/xmpp/roster"

import (
	"sync"

	"quetzal.im/xmpp/internal/ns"
	"quetzal.im/xmpp/jid"
	"quetzal.im/xmpp/stanza"
)

// NS is the roster namespace, provided as a convenience.
const NS = ns.Roster

// Item represents a contact in the roster.
type Item struct {
	JID          jid.JID
	Name         string
	Groups       []string
	Subscription string
	Ask          string
}

// Remove reports whether the item is a removal push.
func (item Item) Remove() bool {
	return item.Subscription == "remove"
}

// ParseItems extracts the items of a roster query payload.
func ParseItems(query *stanza.Element) []Item {
	var items []Item
	for _, c := range query.Children {
		if c.Name.Local != "item" {
			continue
		}
		addr, err := jid.Parse(c.Attr("jid"))
		if err != nil {
			continue
		}
		item := Item{
			JID:          addr.Bare(),
			Name:         c.Attr("name"),
			Subscription: c.Attr("subscription"),
			Ask:          c.Attr("ask"),
		}
		for _, g := range c.Children {
			if g.Name.Local == "group" && g.Text != "" {
				item.Groups = append(item.Groups, g.Text)
			}
		}
		items = append(items, item)
	}
	return items
}

// Handlers are the observable roster events. Nil fields are ignored.
type Handlers struct {
	ItemAdded   func(Item)
	ItemUpdated func(Item)
	ItemRemoved func(jid.JID)
	Presence    func(from jid.JID, p *stanza.Presence)
}

// presenceSlot remembers the full JID the cached presence arrived from so
// that only a matching unavailable presence clears it.
type presenceSlot struct {
	from jid.JID
	p    *stanza.Presence
}

// List is a live roster: the contact map plus the last known presence per
// bare JID.
type List struct {
	mu       sync.Mutex
	items    map[string]Item
	presence map[string]presenceSlot
	handlers Handlers
}

// NewList returns an empty roster list firing the given handlers.
func NewList(handlers Handlers) *List {
	return &List{
		items:    make(map[string]Item),
		presence: make(map[string]presenceSlot),
		handlers: handlers,
	}
}

// Replace resets the list to the given items, as after a full roster fetch.
// No item events are fired for the initial population.
func (l *List) Replace(items []Item) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = make(map[string]Item, len(items))
	for _, item := range items {
		l.items[item.JID.Bare().String()] = item
	}
}

// Update applies a single roster push. It classifies the push as an add,
// update, or removal and fires the matching event.
func (l *List) Update(item Item) {
	key := item.JID.Bare().String()
	l.mu.Lock()
	_, known := l.items[key]
	var fire func()
	switch {
	case item.Remove():
		delete(l.items, key)
		delete(l.presence, key)
		if known && l.handlers.ItemRemoved != nil {
			removed := item.JID.Bare()
			fire = func() { l.handlers.ItemRemoved(removed) }
		}
	case known:
		l.items[key] = item
		if l.handlers.ItemUpdated != nil {
			fire = func() { l.handlers.ItemUpdated(item) }
		}
	default:
		l.items[key] = item
		if l.handlers.ItemAdded != nil {
			fire = func() { l.handlers.ItemAdded(item) }
		}
	}
	l.mu.Unlock()
	if fire != nil {
		fire()
	}
}

// Contains reports whether the bare form of addr is in the roster.
func (l *List) Contains(addr jid.JID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.items[addr.Bare().String()]
	return ok
}

// Get returns the item for the bare form of addr.
func (l *List) Get(addr jid.JID) (Item, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.items[addr.Bare().String()]
	return item, ok
}

// Items returns a snapshot of all roster items.
func (l *List) Items() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Item, 0, len(l.items))
	for _, item := range l.items {
		out = append(out, item)
	}
	return out
}

// SetPresence updates the cached presence for the sender's bare JID. An
// available presence is stored together with the full JID it came from; an
// unavailable presence clears the slot only when its full JID matches the
// cached one.
func (l *List) SetPresence(from jid.JID, p *stanza.Presence) {
	key := from.Bare().String()
	l.mu.Lock()
	switch p.Type {
	case stanza.AvailablePresence:
		l.presence[key] = presenceSlot{from: from, p: p}
	case stanza.UnavailablePresence:
		if slot, ok := l.presence[key]; ok && slot.from.Equal(from) {
			delete(l.presence, key)
		}
	}
	h := l.handlers.Presence
	l.mu.Unlock()
	if h != nil {
		h(from, p)
	}
}

// LastPresence returns the cached presence for the bare form of addr, or nil
// if the contact is not known to be available.
func (l *List) LastPresence(addr jid.JID) *stanza.Presence {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.presence[addr.Bare().String()]
	if !ok {
		return nil
	}
	return slot.p
}
