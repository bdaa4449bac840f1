// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"quetzal.im/xmpp/jid"
	"quetzal.im/xmpp/stanza"
)

func mustJID(t *testing.T, s string) jid.JID {
	t.Helper()
	j, err := jid.Parse(s)
	if err != nil {
		t.Fatalf("bad test JID %q: %v", s, err)
	}
	return j
}

const serverHeader = `<stream:stream xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams' id='srv1' from='127.0.0.1' version='1.0'>`

// testServer scripts one half of an XMPP conversation over a real TCP
// socket.
type testServer struct {
	t    *testing.T
	ln   net.Listener
	conn net.Conn
	port int
	acc  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &testServer{t: t, ln: ln, port: ln.Addr().(*net.TCPAddr).Port}
	t.Cleanup(func() {
		if srv.conn != nil {
			srv.conn.Close()
		}
		ln.Close()
	})
	return srv
}

func (srv *testServer) accept() bool {
	conn, err := srv.ln.Accept()
	if err != nil {
		srv.t.Errorf("accept: %v", err)
		return false
	}
	srv.conn = conn
	srv.acc = ""
	return true
}

// expect reads until the accumulated input contains sub and consumes
// through it, returning everything up to and including the match.
func (srv *testServer) expect(sub string) string {
	deadline := time.Now().Add(5 * time.Second)
	for {
		if i := strings.Index(srv.acc, sub); i >= 0 {
			got := srv.acc[:i+len(sub)]
			srv.acc = srv.acc[i+len(sub):]
			return got
		}
		srv.conn.SetReadDeadline(deadline)
		buf := make([]byte, 4096)
		n, err := srv.conn.Read(buf)
		if n > 0 {
			srv.acc += string(buf[:n])
			continue
		}
		if err != nil {
			srv.t.Errorf("expect %q: %v (have %q)", sub, err, srv.acc)
			return ""
		}
	}
}

func (srv *testServer) send(s string) {
	if _, err := srv.conn.Write([]byte(s)); err != nil {
		srv.t.Errorf("send: %v", err)
	}
}

// handshake scripts a PLAIN-over-plain-socket login through binding, the
// roster fetch, and the initial presence. items is the raw item XML for
// the roster result.
func (srv *testServer) handshake(items string) {
	if !srv.accept() {
		return
	}
	srv.expect("<stream:stream")
	srv.expect(">")
	srv.send(serverHeader +
		`<stream:features><mechanisms xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><mechanism>PLAIN</mechanism></mechanisms></stream:features>`)

	auth := srv.expect("</auth>")
	wantCreds := base64.StdEncoding.EncodeToString([]byte("\x00romeo\x00pass"))
	if !strings.Contains(auth, "mechanism='PLAIN'") || !strings.Contains(auth, wantCreds) {
		srv.t.Errorf("wrong auth element: %s", auth)
	}
	srv.send(`<success xmlns='urn:ietf:params:xml:ns:xmpp-sasl'/>`)

	srv.expect("<stream:stream")
	srv.expect(">")
	srv.send(serverHeader +
		`<stream:features><bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'/></stream:features>`)

	srv.expect("urn:ietf:params:xml:ns:xmpp-bind")
	srv.expect("</iq>")
	srv.send(`<iq type='result' id='0'><bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'><jid>romeo@127.0.0.1/balcony</jid></bind></iq>`)

	srv.expect("jabber:iq:roster")
	srv.expect("/>")
	srv.expect("</iq>")
	srv.send(`<iq type='result' id='1'><query xmlns='jabber:iq:roster'>` + items + `</query></iq>`)

	srv.expect("<presence/>")
}

// connected dials a full session against a scripted server and returns both
// once StateConnected is reached.
func connected(t *testing.T, items string, tweak func(*Config)) (*Session, *testServer) {
	t.Helper()
	srv := newTestServer(t)

	config := Config{
		Host:       "127.0.0.1",
		Port:       srv.port,
		User:       "romeo",
		Password:   "pass",
		AllowPlain: true,
	}
	if tweak != nil {
		tweak(&config)
	}

	session, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ready := make(chan struct{})
	go func() {
		defer close(ready)
		srv.handshake(items)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-ready
	t.Cleanup(session.HardOffline)

	if got := session.State(); got != StateConnected {
		t.Fatalf("wrong state after connect: %v", got)
	}
	return session, srv
}

func TestConnectHappyPath(t *testing.T) {
	var transitions []State
	session, _ := connected(t, "", func(c *Config) {
		c.Handlers.StateChanged = func(_, new State) {
			transitions = append(transitions, new)
		}
	})

	if addr := session.LocalAddr(); addr.String() != "romeo@127.0.0.1/balcony" {
		t.Errorf("wrong bound JID: %s", addr)
	}

	want := []State{
		StateConnecting,
		StateStreamNegotiation,
		StateAuthenticating,
		StateStreamNegotiation,
		StateBinding,
		StateFetchingRoster,
		StateSettingPresence,
		StateConnected,
	}
	if len(transitions) != len(want) {
		t.Fatalf("wrong transitions: %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: want=%v, got=%v", i, want[i], transitions[i])
		}
	}
}

func TestRosterPopulatedOnConnect(t *testing.T) {
	session, _ := connected(t, `<item jid='juliet@example.org' name='Juliet' subscription='both'><group>Verona</group></item>`, nil)
	item, ok := session.Roster().Get(mustJID(t, "juliet@example.org"))
	if !ok {
		t.Fatalf("roster item missing after fetch")
	}
	if item.Name != "Juliet" || item.Subscription != "both" || len(item.Groups) != 1 {
		t.Errorf("wrong roster item: %+v", item)
	}
}

func TestInboundAssuredRejectedWhenNotInRoster(t *testing.T) {
	_, srv := connected(t, "", nil)

	srv.send(`<iq type='set' id='a1' from='stranger@x'><assured xmlns='urn:xmpp:qos' msgId='M'><message><body>boo</body></message></assured></iq>`)
	reply := srv.expect("</iq>")
	if !strings.Contains(reply, "type='error'") || !strings.Contains(reply, "not-allowed") {
		t.Errorf("expected a not-allowed error, got: %s", reply)
	}
	if !strings.Contains(reply, "id='a1'") {
		t.Errorf("error reply lost the request id: %s", reply)
	}
}

func TestInboundAssuredHappyPath(t *testing.T) {
	var chats int32
	session, srv := connected(t,
		`<item jid='stranger@x' subscription='both'/>`,
		func(c *Config) {
			c.Handlers.ChatMessage = func(m stanza.Message) {
				if m.Body() == "psst" {
					atomic.AddInt32(&chats, 1)
				}
			}
		})

	srv.send(`<iq type='set' id='a1' from='stranger@x/cave'><assured xmlns='urn:xmpp:qos' msgId='M'><message type='chat'><body>psst</body></message></assured></iq>`)
	reply := srv.expect("</iq>")
	if !strings.Contains(reply, "type='result'") || !strings.Contains(reply, `msgId='M'`) || !strings.Contains(reply, "received") {
		t.Fatalf("expected a received confirmation, got: %s", reply)
	}
	if atomic.LoadInt32(&chats) != 0 {
		t.Fatalf("message dispatched before deliver")
	}
	if source, total := session.qos.counts("stranger@x"); source != 1 || total != 1 {
		t.Fatalf("inventory wrong after receive: source=%d total=%d", source, total)
	}

	srv.send(`<iq type='set' id='a2' from='stranger@x/cave'><deliver xmlns='urn:xmpp:qos' msgId='M'/></iq>`)
	reply = srv.expect("</iq>")
	if !strings.Contains(reply, "type='result'") || !strings.Contains(reply, "id='a2'") {
		t.Fatalf("expected a result for deliver, got: %s", reply)
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&chats) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := atomic.LoadInt32(&chats); n != 1 {
		t.Errorf("stored message dispatched %d times, want exactly once", n)
	}
	if source, total := session.qos.counts("stranger@x"); source != 0 || total != 0 {
		t.Errorf("inventory not decremented: source=%d total=%d", source, total)
	}

	// A second deliver for the same id must not find anything.
	srv.send(`<iq type='set' id='a3' from='stranger@x/cave'><deliver xmlns='urn:xmpp:qos' msgId='M'/></iq>`)
	reply = srv.expect("</iq>")
	if !strings.Contains(reply, "item-not-found") {
		t.Errorf("duplicate deliver should fail item-not-found, got: %s", reply)
	}
	if n := atomic.LoadInt32(&chats); n != 1 {
		t.Errorf("duplicate deliver re-dispatched the message")
	}
}

func TestInboundAcknowledged(t *testing.T) {
	chats := make(chan string, 1)
	_, srv := connected(t, "", func(c *Config) {
		c.Handlers.ChatMessage = func(m stanza.Message) {
			chats <- m.Body()
		}
	})

	srv.send(`<iq type='set' id='k1' from='x@y/z'><acknowledged xmlns='urn:xmpp:qos'><message type='chat'><body>hi</body></message></acknowledged></iq>`)
	reply := srv.expect("</iq>")
	if !strings.Contains(reply, "type='result'") || !strings.Contains(reply, "id='k1'") {
		t.Errorf("expected an immediate result, got: %s", reply)
	}
	select {
	case body := <-chats:
		if body != "hi" {
			t.Errorf("wrong body: %q", body)
		}
	case <-time.After(2 * time.Second):
		t.Errorf("inner message never dispatched")
	}
}

func TestOutboundAcknowledged(t *testing.T) {
	session, srv := connected(t, "", nil)

	done := make(chan bool, 1)
	err := session.SendMessageQoS(mustJID(t, "peer@x"), stanza.ChatMessage, "<body>yo</body>", Acknowledged, func(ok bool) {
		done <- ok
	})
	if err != nil {
		t.Fatalf("SendMessageQoS: %v", err)
	}

	sent := srv.expect("</iq>")
	if !strings.Contains(sent, "acknowledged") || !strings.Contains(sent, "<body>yo</body>") {
		t.Fatalf("wrong wire form: %s", sent)
	}
	srv.send(`<iq type='result' id='2' from='peer@x'/>`)

	select {
	case ok := <-done:
		if !ok {
			t.Errorf("completion reported failure")
		}
	case <-time.After(2 * time.Second):
		t.Errorf("completion never fired")
	}
}

func TestRosterPushRemove(t *testing.T) {
	removed := make(chan jid.JID, 1)
	session, srv := connected(t,
		`<item jid='a@b' subscription='both'/>`,
		func(c *Config) {
			c.Handlers.RosterItemRemoved = func(addr jid.JID) { removed <- addr }
		})

	if !session.Roster().Contains(mustJID(t, "a@b")) {
		t.Fatalf("precondition: a@b not in roster")
	}

	srv.send(`<iq type='set' id='p1'><query xmlns='jabber:iq:roster'><item jid='a@b' subscription='remove'/></query></iq>`)
	reply := srv.expect("</iq>")
	if !strings.Contains(reply, "type='result'") || !strings.Contains(reply, "id='p1'") {
		t.Errorf("push not acknowledged: %s", reply)
	}

	select {
	case addr := <-removed:
		if addr.String() != "a@b" {
			t.Errorf("wrong removed address: %s", addr)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("roster-item-removed never fired")
	}
	if session.Roster().Contains(mustJID(t, "a@b")) {
		t.Errorf("item still present after removal push")
	}
}

func TestFeatureNotImplementedFallback(t *testing.T) {
	_, srv := connected(t, "", nil)
	srv.send(`<iq type='get' id='u1' from='x@y'><query xmlns='urn:example:unknown'/></iq>`)
	reply := srv.expect("</iq>")
	if !strings.Contains(reply, "feature-not-implemented") || !strings.Contains(reply, "type='error'") {
		t.Errorf("expected feature-not-implemented, got: %s", reply)
	}
}

func TestDiscoInfoResponder(t *testing.T) {
	_, srv := connected(t, "", nil)
	srv.send(`<iq type='get' id='d1' from='x@y'><query xmlns='http://jabber.org/protocol/disco#info'/></iq>`)
	reply := srv.expect("</iq>")
	for _, want := range []string{
		"type='result'",
		`category='client'`,
		`var='http://jabber.org/protocol/disco#info'`,
		`var='jabber:iq:version'`,
		`var='urn:xmpp:qos'`,
	} {
		if !strings.Contains(reply, want) {
			t.Errorf("disco#info reply missing %s: %s", want, reply)
		}
	}
}

func TestVersionResponder(t *testing.T) {
	_, srv := connected(t, "", func(c *Config) {
		c.SoftwareName = "quetzal"
		c.SoftwareVersion = "1.2.3"
	})
	srv.send(`<iq type='get' id='v1' from='x@y'><query xmlns='jabber:iq:version'/></iq>`)
	reply := srv.expect("</iq>")
	if !strings.Contains(reply, "<name>quetzal</name>") || !strings.Contains(reply, "<version>1.2.3</version>") {
		t.Errorf("wrong version reply: %s", reply)
	}
}

func TestSeeOtherHostRedirect(t *testing.T) {
	mirror := newTestServer(t)
	first := newTestServer(t)

	go func() {
		if !first.accept() {
			return
		}
		first.expect("<stream:stream")
		first.expect(">")
		first.send(serverHeader + fmt.Sprintf(
			`<stream:error><see-other-host xmlns='urn:ietf:params:xml:ns:xmpp-streams'>127.0.0.1:%d</see-other-host></stream:error></stream:stream>`,
			mirror.port,
		))
	}()
	mirrorDone := make(chan struct{})
	go func() {
		defer close(mirrorDone)
		mirror.handshake("")
	}()

	config := Config{
		Host:       "127.0.0.1",
		Port:       first.port,
		User:       "romeo",
		Password:   "pass",
		AllowPlain: true,
	}
	session, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect after redirect: %v", err)
	}
	t.Cleanup(session.HardOffline)

	if session.State() != StateConnected {
		t.Errorf("not connected after redirect: %v", session.State())
	}

	select {
	case <-mirrorDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("mirror handshake did not complete")
	}
}

func TestSendIQRetryExhaustion(t *testing.T) {
	session, _ := connected(t, "", nil)

	outcome := make(chan *stanza.Element, 1)
	_, err := session.SendIQ(stanza.GetIQ, mustJID(t, "peer@x"), `<ping xmlns="urn:xmpp:ping"/>`,
		func(ok bool, resp *stanza.Element, _, _ jid.JID, _ interface{}) {
			if ok {
				t.Errorf("callback reported success without a response")
			}
			outcome <- resp
		}, nil, RetryPolicy{Timeout: 500 * time.Millisecond, Retries: 1})
	if err != nil {
		t.Fatalf("SendIQ: %v", err)
	}

	select {
	case resp := <-outcome:
		if resp == nil || resp.Child("recipient-unavailable", "") == nil {
			t.Errorf("expected a synthesized recipient-unavailable error, got %v", resp)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("retry exhaustion never reported")
	}
}
