// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"fmt"
	"io"
)

// Sniffer observes raw traffic. Sent is invoked before a payload is
// enqueued for writing; Received is invoked for every inbound fragment
// before it is dispatched. Implementations must be fast: they run on the
// session's I/O paths.
type Sniffer interface {
	Sent(p []byte)
	Received(p []byte)
}

// WriterSniffer adapts an io.Writer into a Sniffer, prefixing each payload
// with its direction. Useful for debug logs.
type WriterSniffer struct {
	W io.Writer
}

// Sent implements Sniffer.
func (w WriterSniffer) Sent(p []byte) {
	fmt.Fprintf(w.W, "SEND %s\n", p)
}

// Received implements Sniffer.
func (w WriterSniffer) Received(p []byte) {
	fmt.Fprintf(w.W, "RECV %s\n", p)
}

func (s *Session) sniffSent(p []byte) {
	if s.config.Sniffer != nil {
		s.config.Sniffer.Sent(p)
	}
}

func (s *Session) sniffReceived(p []byte) {
	if s.config.Sniffer != nil {
		s.config.Sniffer.Received(p)
	}
}
