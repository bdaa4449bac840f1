// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"mellium.im/sasl"

	"quetzal.im/xmpp/internal/ns"
	"quetzal.im/xmpp/jid"
	"quetzal.im/xmpp/mux"
	"quetzal.im/xmpp/roster"
	"quetzal.im/xmpp/stanza"
	"quetzal.im/xmpp/stream"
)

// ErrNotConnected is returned when an operation requires an established
// stream and there is none.
var ErrNotConnected = errors.New("xmpp: not connected")

// Session is a long lived XMPP client connection. A zero Session is not
// usable; construct one with New.
type Session struct {
	config  Config
	mux     *mux.Mux
	pending *pendingTable
	roster  *roster.List
	qos     *qosInventory

	mu     sync.Mutex
	state  State
	conn   net.Conn
	tok    *stream.Tokenizer
	writer *writer
	header stream.Header

	host string
	port int

	boundJID      jid.JID
	resource      string
	authenticated bool
	secure        bool
	rosterFetched bool
	presenceSet   bool
	triedRegister bool

	offeredMechs    []string
	offeredRegister bool
	offeredSession  bool
	negotiator      *sasl.Negotiator
	saslDone        bool

	connectCh chan error
	stopTick  chan struct{}
	nextPing  time.Time
	closing   bool
}

// New allocates a Session for the given configuration and installs the
// default payload handlers (roster pushes, service discovery, software
// version, QoS delivery, dynamic forms).
func New(config Config) (*Session, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	s := &Session{
		config:  config,
		mux:     mux.New(ns.DiscoInfo),
		pending: newPendingTable(),
		state:   StateOffline,
		host:    config.Host,
		port:    config.Port,
	}
	s.roster = roster.NewList(roster.Handlers{
		ItemAdded:   config.Handlers.RosterItemAdded,
		ItemUpdated: config.Handlers.RosterItemUpdated,
		ItemRemoved: config.Handlers.RosterItemRemoved,
	})
	s.qos = newQoSInventory(config.MaxAssuredMessagesPendingFromSource, config.MaxAssuredMessagesPendingTotal)
	if err := s.installDefaultHandlers(); err != nil {
		return nil, err
	}
	return s, nil
}

// Mux exposes the session's handler registry for application registrations.
func (s *Session) Mux() *mux.Mux { return s.mux }

// Roster exposes the session's live roster.
func (s *Session) Roster() *roster.List { return s.roster }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LocalAddr returns the JID bound for this session, or the configured bare
// JID before binding completed.
func (s *Session) LocalAddr() jid.JID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.boundJID.Zero() {
		return s.boundJID
	}
	addr, _ := jid.New(s.config.User, s.config.Host, "")
	return addr
}

func (s *Session) handlers() EventHandlers { return s.config.Handlers }

// setState transitions the connection state and fires the StateChanged
// event. The session lock must not be held.
func (s *Session) setState(state State) {
	s.mu.Lock()
	old := s.state
	s.state = state
	s.mu.Unlock()
	if old != state {
		s.emitState(old, state)
	}
}

// Connect establishes the stream: TCP, STARTTLS, SASL, resource binding,
// the initial roster fetch, and the initial presence broadcast. It blocks
// until the session reaches StateConnected or fails.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateOffline && s.state != StateError {
		s.mu.Unlock()
		return fmt.Errorf("xmpp: connect in state %v", s.state)
	}
	s.host = s.config.Host
	s.port = s.config.Port
	s.resource = s.config.Resource
	s.rosterFetched = false
	s.presenceSet = false
	s.mu.Unlock()
	return s.connect(ctx)
}

// Reconnect re-establishes the stream after Dispose or HardOffline. The
// previously bound resource is requested again and the roster is not
// re-fetched.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateOffline && s.state != StateError {
		s.mu.Unlock()
		return fmt.Errorf("xmpp: reconnect in state %v", s.state)
	}
	s.presenceSet = false
	s.mu.Unlock()
	return s.connect(ctx)
}

func (s *Session) connect(ctx context.Context) error {
	for {
		err := s.connectOnce(ctx)
		var redirect *seeOtherHostError
		if errors.As(err, &redirect) {
			s.mu.Lock()
			s.host = redirect.host
			if redirect.port != 0 {
				s.port = redirect.port
			}
			s.mu.Unlock()
			continue
		}
		return err
	}
}

type seeOtherHostError struct {
	host string
	port int
}

func (e *seeOtherHostError) Error() string {
	return "xmpp: redirected to " + e.host
}

func (s *Session) connectOnce(ctx context.Context) error {
	s.setState(StateConnecting)

	s.mu.Lock()
	host, port := s.host, s.port
	s.authenticated = false
	s.secure = false
	s.triedRegister = false
	s.saslDone = false
	s.offeredMechs = nil
	s.offeredRegister = false
	s.offeredSession = false
	s.boundJID = jid.JID{}
	s.closing = false
	s.connectCh = make(chan error, 1)
	connectCh := s.connectCh
	s.mu.Unlock()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		s.setState(StateError)
		s.emitConnectionError(err)
		return err
	}
	s.startTransport(conn)

	select {
	case err := <-connectCh:
		return err
	case <-ctx.Done():
		s.HardOffline()
		return ctx.Err()
	}
}

// startTransport attaches the session to an established connection and
// begins stream negotiation. It is also the entry point used by tests to
// drive the session over an in-memory transport.
func (s *Session) startTransport(conn net.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.writer = newWriter(conn, s.transportFailed)
	s.tok = stream.NewTokenizer(conn)
	w, tok := s.writer, s.tok
	s.mu.Unlock()

	go w.run()
	go s.readLoop(tok)
	s.sendPreamble()
}

func (s *Session) sendPreamble() {
	s.mu.Lock()
	host := s.host
	s.mu.Unlock()
	from, _ := jid.New(s.config.User, s.config.Host, "")
	preamble := stream.Open(from.String(), host, s.config.Lang)
	s.write([]byte(preamble), nil)
	s.setState(StateStreamNegotiation)
}

// write passes a payload to the sniffer and enqueues it on the single
// writer.
func (s *Session) write(p []byte, done func(error)) {
	s.mu.Lock()
	w := s.writer
	s.mu.Unlock()
	if w == nil {
		if done != nil {
			done(ErrNotConnected)
		}
		return
	}
	s.sniffSent(p)
	if err := w.enqueue(p, done); err != nil && done != nil {
		done(err)
	}
}

func (s *Session) readLoop(tok *stream.Tokenizer) {
	for {
		s.mu.Lock()
		cur := s.tok
		s.mu.Unlock()
		if cur != tok {
			// The stream was restarted (TLS upgrade); a new loop owns it.
			return
		}

		ev, err := tok.Next()
		if err != nil {
			s.readFailed(tok, err)
			return
		}
		switch ev.Kind {
		case stream.HeaderEvent:
			s.sniffReceived([]byte(ev.Text))
			header, err := stream.ParseHeader(ev.Text)
			if err != nil {
				s.fail(err)
				return
			}
			s.mu.Lock()
			s.header = header
			s.mu.Unlock()
		case stream.FragmentEvent:
			s.sniffReceived([]byte(ev.Text))
			if stop := s.handleFragment(ev.Text); stop {
				return
			}
		case stream.FooterEvent:
			// The peer closed the stream; answer in kind and go offline.
			s.goOffline(true)
			return
		}
	}
}

func (s *Session) readFailed(tok *stream.Tokenizer, err error) {
	s.mu.Lock()
	closing := s.closing
	stale := s.tok != tok
	s.mu.Unlock()
	if stale || closing || errors.Is(err, stream.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		// Expected during teardown.
		return
	}
	var streamErr stream.Error
	if errors.As(err, &streamErr) {
		// A protocol violation detected by the tokenizer: report it to the
		// peer before giving up.
		s.write([]byte(renderXML(streamErr)+stream.Close), nil)
	}
	s.fail(err)
}

// handleFragment parses one top level child and routes it. It reports
// whether the read loop that called it should stop (the tokenizer was
// replaced or torn down).
func (s *Session) handleFragment(text string) bool {
	s.mu.Lock()
	header := s.header
	s.mu.Unlock()

	el, err := stanza.ParseFragment(header.Raw, text)
	if err != nil {
		s.fail(stream.BadFormat)
		return true
	}

	switch {
	case el.Name.Space == ns.Stream:
		return s.handleStreamElement(el)
	case el.Name.Space == ns.StartTLS:
		return s.handleTLSElement(el)
	case el.Name.Space == ns.SASL:
		s.handleSASLElement(el)
		return false
	default:
		s.dispatch(el)
		return false
	}
}

func (s *Session) handleStreamElement(el *stanza.Element) bool {
	switch el.Name.Local {
	case "features":
		s.handleFeatures(el)
		return false
	case "error":
		return s.handleStreamError(el)
	default:
		s.fail(stream.UnsupportedStanzaType)
		return true
	}
}

func (s *Session) handleStreamError(el *stanza.Element) bool {
	streamErr := stream.UndefinedCondition
	for _, c := range el.Children {
		if c.Name.Space == ns.Streams {
			streamErr = stream.Error{Err: c.Name.Local, Text: c.Text}
			break
		}
	}
	if streamErr.Err == "see-other-host" {
		s.redirect(streamErr.Text)
		return true
	}
	s.fail(streamErr)
	return true
}

// redirect tears the connection down and retries against the host carried
// in a see-other-host error, preserving all other configuration.
func (s *Session) redirect(target string) {
	host := target
	port := 0
	if h, p, err := net.SplitHostPort(target); err == nil {
		host = h
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	redirect := &seeOtherHostError{host: host, port: port}

	s.mu.Lock()
	connected := s.state == StateConnected
	s.closing = true
	conn := s.conn
	w := s.writer
	ch := s.connectCh
	s.tok = nil
	s.mu.Unlock()

	if w != nil {
		w.close()
	}
	if conn != nil {
		conn.Close()
	}
	s.stopTicking()

	if !connected && ch != nil {
		ch <- redirect
		return
	}

	// Redirected after the handshake: reconnect in the background.
	s.mu.Lock()
	s.host = redirect.host
	if redirect.port != 0 {
		s.port = redirect.port
	}
	s.state = StateOffline
	s.mu.Unlock()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Reconnect(ctx); err != nil {
			s.emitConnectionError(err)
		}
	}()
}

// transportFailed is invoked by the writer when a write fails.
func (s *Session) transportFailed(err error) {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return
	}
	s.fail(err)
}

// fail moves the session to the terminal error state: the transport is torn
// down, outstanding requests are failed, and the error is reported.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	conn := s.conn
	w := s.writer
	ch := s.connectCh
	s.connectCh = nil
	s.tok = nil
	s.mu.Unlock()

	if w != nil {
		w.close()
	}
	if conn != nil {
		conn.Close()
	}
	s.stopTicking()
	s.failPending()

	s.setState(StateError)
	s.emitConnectionError(err)
	if ch != nil {
		select {
		case ch <- err:
		default:
		}
	}
}

// goOffline performs an orderly shutdown. When answerFooter is set the
// stream footer is written before closing (the peer already sent theirs).
func (s *Session) goOffline(answerFooter bool) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	conn := s.conn
	w := s.writer
	ch := s.connectCh
	s.connectCh = nil
	s.tok = nil
	s.mu.Unlock()

	s.stopTicking()

	if w != nil && answerFooter {
		s.sniffSent([]byte(stream.Close))
		done := make(chan struct{})
		if err := w.enqueue([]byte(stream.Close), func(error) { close(done) }); err == nil {
			select {
			case <-done:
			case <-time.After(time.Second):
			}
		}
	}
	if w != nil {
		w.close()
	}
	if conn != nil {
		conn.Close()
	}
	s.failPending()
	s.setState(StateOffline)
	if ch != nil {
		select {
		case ch <- errors.New("xmpp: stream closed during negotiation"):
		default:
		}
	}
}

// Dispose closes the session softly: the stream footer is emitted, the
// write queue drains, and the connection is closed.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.closing || s.writer == nil {
		s.mu.Unlock()
		return
	}
	s.closing = true
	conn := s.conn
	w := s.writer
	s.tok = nil
	s.mu.Unlock()

	s.stopTicking()
	s.sniffSent([]byte(stream.Close))
	done := make(chan struct{})
	err := w.enqueue([]byte(stream.Close), func(error) { close(done) })
	if err == nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}
	w.close()
	if conn != nil {
		conn.Close()
	}
	s.failPending()
	s.setState(StateOffline)
}

// HardOffline abruptly closes the connection without emitting the stream
// footer.
func (s *Session) HardOffline() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	conn := s.conn
	w := s.writer
	s.tok = nil
	s.mu.Unlock()

	s.stopTicking()
	if w != nil {
		w.close()
	}
	if conn != nil {
		conn.Close()
	}
	s.failPending()
	s.setState(StateOffline)
}

// failPending resolves every outstanding request with a synthesized
// recipient-unavailable error.
func (s *Session) failPending() {
	for _, req := range s.pending.drain() {
		req := req
		errEl := synthesizedError(stanza.RecipientUnavailable)
		s.safely(func() {
			req.cb(false, errEl, jid.JID{}, s.LocalAddr(), req.state)
		})
	}
}

func (s *Session) signalConnected() {
	s.mu.Lock()
	ch := s.connectCh
	s.connectCh = nil
	s.mu.Unlock()
	if ch != nil {
		select {
		case ch <- nil:
		default:
		}
	}
}

// tick plumbing. The 1-second tick starts when the session reaches
// StateConnected and drives the retry engine and the keep-alive ping.
func (s *Session) startTicking() {
	s.mu.Lock()
	if s.stopTick != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.stopTick = stop
	s.nextPing = time.Now().Add(s.config.KeepAlive / 2)
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				s.onTick(now)
			}
		}
	}()
}

func (s *Session) stopTicking() {
	s.mu.Lock()
	stop := s.stopTick
	s.stopTick = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// onTick retransmits expired requests, fails exhausted ones, and sends the
// whitespace keep-alive.
func (s *Session) onTick(now time.Time) {
	retry, dead := s.pending.expire(now)
	for _, req := range retry {
		s.write([]byte(req.text), nil)
	}
	for _, req := range dead {
		req := req
		errEl := synthesizedError(stanza.RecipientUnavailable)
		s.safely(func() {
			req.cb(false, errEl, req.to, s.LocalAddr(), req.state)
		})
	}

	s.mu.Lock()
	ping := !s.nextPing.After(now)
	if ping {
		s.nextPing = now.Add(s.config.KeepAlive / 2)
	}
	s.mu.Unlock()
	if ping {
		s.write([]byte(" "), nil)
	}
}
