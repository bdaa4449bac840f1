// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"quetzal.im/xmpp/jid"
	"quetzal.im/xmpp/stanza"
)

// IQCallback receives the outcome of an IQ request. ok is true when a
// result response arrived; for error responses and retry exhaustion ok is
// false and resp carries the error payload. state is the opaque value
// passed to SendIQ.
type IQCallback func(ok bool, resp *stanza.Element, from, to jid.JID, state interface{})

// pendingRequest is the record kept between sending an IQ request and
// resolving it. The serialized stanza text is preserved verbatim for
// retransmission.
type pendingRequest struct {
	seq      uint32
	text     string
	to       jid.JID
	cb       IQCallback
	state    interface{}
	deadline time.Time
	retries  int
	interval time.Duration
	max      time.Duration
	dropOff  bool
}

// pendingTable correlates outbound IQ requests with responses and drives
// the retry engine. Two indices are kept over the same records: by sequence
// number for response lookup, and ordered by deadline for expiry scans.
// Deadline keys are unique; collisions probe forward one tick at a time.
type pendingTable struct {
	mu       sync.Mutex
	nextSeq  uint32
	bySeq    map[uint32]*pendingRequest
	deadline []*pendingRequest // sorted by deadline, keys unique
}

func newPendingTable() *pendingTable {
	return &pendingTable{bySeq: make(map[uint32]*pendingRequest)}
}

// add allocates a sequence number, builds the full iq text around body, and
// records the request under both indices. It returns the sequence number
// and the exact text to transmit.
func (t *pendingTable) add(typ stanza.IQType, to jid.JID, body string, cb IQCallback, state interface{}, policy RetryPolicy, now time.Time) (uint32, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq := t.nextSeq
	t.nextSeq++

	var sb strings.Builder
	fmt.Fprintf(&sb, `<iq type='%s' id='%d'`, typ, seq)
	if !to.Zero() {
		fmt.Fprintf(&sb, ` to='%s'`, to)
	}
	sb.WriteByte('>')
	sb.WriteString(body)
	sb.WriteString(`</iq>`)

	req := &pendingRequest{
		seq:      seq,
		text:     sb.String(),
		to:       to,
		cb:       cb,
		state:    state,
		retries:  policy.Retries,
		interval: policy.Timeout,
		max:      policy.MaxTimeout,
		dropOff:  policy.DropOff,
	}
	req.deadline = t.uniqueDeadline(now.Add(policy.Timeout))
	t.bySeq[seq] = req
	t.insertByDeadline(req)
	return seq, req.text
}

// resolve removes the request matching a response id and returns it. The id
// must parse as unsigned decimal; otherwise, or when no request matches,
// nil is returned and the response is ignored as late or spurious.
func (t *pendingTable) resolve(id string) *pendingRequest {
	seq64, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil
	}
	seq := uint32(seq64)
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.bySeq[seq]
	if !ok {
		return nil
	}
	delete(t.bySeq, seq)
	t.removeByDeadline(req)
	return req
}

// expire collects every request whose deadline has passed. Requests with
// retry budget left are re-armed under a fresh deadline and returned in
// retry; exhausted requests are removed entirely and returned in dead.
// Both slices are in deadline order.
func (t *pendingTable) expire(now time.Time) (retry, dead []*pendingRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var due []*pendingRequest
	for len(t.deadline) > 0 && !t.deadline[0].deadline.After(now) {
		due = append(due, t.deadline[0])
		t.deadline = t.deadline[1:]
	}

	for _, req := range due {
		if req.retries > 0 {
			req.retries--
			if req.dropOff {
				next := 2 * req.interval
				if req.max > 0 && next > req.max {
					next = req.max
				}
				req.interval = next
			}
			req.deadline = t.uniqueDeadline(now.Add(req.interval))
			t.insertByDeadline(req)
			retry = append(retry, req)
			continue
		}
		delete(t.bySeq, req.seq)
		dead = append(dead, req)
	}
	return retry, dead
}

// drain removes every record, for teardown.
func (t *pendingTable) drain() []*pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.deadline
	t.deadline = nil
	t.bySeq = make(map[uint32]*pendingRequest)
	return out
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bySeq)
}

// uniqueDeadline probes forward in single ticks until the key is free. The
// caller must hold the lock.
func (t *pendingTable) uniqueDeadline(d time.Time) time.Time {
	for t.deadlineTaken(d) {
		d = d.Add(time.Nanosecond)
	}
	return d
}

func (t *pendingTable) deadlineTaken(d time.Time) bool {
	i := sort.Search(len(t.deadline), func(i int) bool {
		return !t.deadline[i].deadline.Before(d)
	})
	return i < len(t.deadline) && t.deadline[i].deadline.Equal(d)
}

func (t *pendingTable) insertByDeadline(req *pendingRequest) {
	i := sort.Search(len(t.deadline), func(i int) bool {
		return t.deadline[i].deadline.After(req.deadline)
	})
	t.deadline = append(t.deadline, nil)
	copy(t.deadline[i+1:], t.deadline[i:])
	t.deadline[i] = req
}

func (t *pendingTable) removeByDeadline(req *pendingRequest) {
	i := sort.Search(len(t.deadline), func(i int) bool {
		return !t.deadline[i].deadline.Before(req.deadline)
	})
	for ; i < len(t.deadline); i++ {
		if t.deadline[i] == req {
			t.deadline = append(t.deadline[:i], t.deadline[i+1:]...)
			return
		}
		if t.deadline[i].deadline.After(req.deadline) {
			return
		}
	}
}
