// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"errors"
	"io"
	"sync"
)

// ErrWriterClosed is reported to callbacks whose payloads were still queued
// when the writer shut down.
var ErrWriterClosed = errors.New("xmpp: write queue closed")

type writeReq struct {
	p    []byte
	done func(err error)
}

// writer is the single-writer serializer over the transport: at any time at
// most one write is in flight; submissions made meanwhile queue in FIFO
// order. On a write failure the queue is drained and the failure is reported
// through onError.
type writer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []writeReq
	closed  bool
	w       io.Writer
	onError func(err error)
}

func newWriter(w io.Writer, onError func(error)) *writer {
	wr := &writer{w: w, onError: onError}
	wr.cond = sync.NewCond(&wr.mu)
	return wr
}

// enqueue appends a payload to the queue. done, if non-nil, is invoked from
// the writer goroutine once the write completed or failed.
func (wr *writer) enqueue(p []byte, done func(err error)) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	if wr.closed {
		return ErrWriterClosed
	}
	wr.queue = append(wr.queue, writeReq{p: p, done: done})
	wr.cond.Signal()
	return nil
}

// swap replaces the underlying transport, for the in-place TLS upgrade.
func (wr *writer) swap(w io.Writer) {
	wr.mu.Lock()
	wr.w = w
	wr.mu.Unlock()
}

// close shuts the queue down. Queued but unwritten payloads fail with
// ErrWriterClosed.
func (wr *writer) close() {
	wr.mu.Lock()
	drained := wr.queue
	wr.queue = nil
	wr.closed = true
	wr.cond.Signal()
	wr.mu.Unlock()
	for _, req := range drained {
		if req.done != nil {
			req.done(ErrWriterClosed)
		}
	}
}

// run drains the queue until closed. It must run on its own goroutine.
func (wr *writer) run() {
	for {
		wr.mu.Lock()
		for !wr.closed && len(wr.queue) == 0 {
			wr.cond.Wait()
		}
		if wr.closed {
			wr.mu.Unlock()
			return
		}
		req := wr.queue[0]
		wr.queue = wr.queue[1:]
		w := wr.w
		wr.mu.Unlock()

		_, err := w.Write(req.p)
		if req.done != nil {
			req.done(err)
		}
		if err != nil {
			wr.mu.Lock()
			drained := wr.queue
			wr.queue = nil
			wr.closed = true
			wr.mu.Unlock()
			for _, q := range drained {
				if q.done != nil {
					q.done(err)
				}
			}
			if wr.onError != nil {
				wr.onError(err)
			}
			return
		}
	}
}
