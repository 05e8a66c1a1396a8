// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

import (
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// Capacities of the preemptive session.
const (
	commandQueueLimit    = 1000
	eventMailboxLimit    = 100
	callbackMailboxLimit = 100

	// mailboxRing is the lfq ring size; a power of two above every
	// mailbox limit.
	mailboxRing = 128
)

// closeDrainTimeout bounds how long a preemptive close waits for the
// transport to take pending commands.
const closeDrainTimeout = 8 * time.Second

type queued struct {
	cmd   Command
	batch Serial
}

// commandQueue is a session's outbound queue. Commands keep the order in
// which they were pushed. Each command belongs to a batch; a batch is
// handed out whole by nextBatch once it is sealed.
type commandQueue struct {
	mu    sync.Mutex
	items []queued
	limit int
	open  Serial
}

// push appends cmd to batch. With a limit, a full queue drops its
// oldest command and reports it.
func (q *commandQueue) push(cmd Command, batch Serial) (dropped Command, overflow bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.items) >= q.limit {
		dropped, overflow = q.items[0].cmd, true
		q.items = q.items[1:]
	}
	q.items = append(q.items, queued{cmd: cmd, batch: batch})
	return
}

// openBatch marks s as under construction; nextBatch will not hand it out.
func (q *commandQueue) openBatch(s Serial) {
	q.mu.Lock()
	q.open = s
	q.mu.Unlock()
}

// seal ends the batch under construction.
func (q *commandQueue) seal() {
	q.mu.Lock()
	q.open = 0
	q.mu.Unlock()
}

// drain removes and returns every queued command.
func (q *commandQueue) drain() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := make([]Command, len(q.items))
	for i, it := range q.items {
		out[i] = it.cmd
	}
	q.items = nil
	return out
}

// nextBatch removes and returns the oldest sealed batch, or nil.
func (q *commandQueue) nextBatch() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	head := q.items[0].batch
	if head == q.open {
		return nil
	}
	n := 1
	for n < len(q.items) && q.items[n].batch == head {
		n++
	}
	out := make([]Command, n)
	for i := range n {
		out[i] = q.items[i].cmd
	}
	q.items = append([]queued(nil), q.items[n:]...)
	return out
}

func (q *commandQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// waitEmpty waits up to timeout for the transport to take every command,
// backing off with iox.Backoff between checks.
func (q *commandQueue) waitEmpty(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	var bo iox.Backoff
	for q.len() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		bo.Wait()
	}
	return true
}

// mailbox is a bounded event queue owned by one preemptive task.
// Producers (transport goroutines) are serialized by mu so the lfq ring
// keeps a single producer; the owning task is the single consumer.
type mailbox struct {
	mu     sync.Mutex
	ring   lfq.SPSC[Event]
	held   atomix.Uint32
	limit  uint32
	signal chan struct{}
}

func newMailbox(limit uint32) *mailbox {
	m := &mailbox{limit: limit, signal: make(chan struct{}, 1)}
	m.ring.Init(mailboxRing)
	return m
}

// put enqueues ev. Returns iox.ErrWouldBlock when the mailbox is full.
func (m *mailbox) put(ev Event) error {
	m.mu.Lock()
	if m.held.Add(1) > m.limit {
		m.held.Add(^uint32(0))
		m.mu.Unlock()
		return iox.ErrWouldBlock
	}
	err := m.ring.Enqueue(&ev)
	if err != nil {
		m.held.Add(^uint32(0))
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case m.signal <- struct{}{}:
	default:
	}
	return nil
}

// take blocks until an event arrives or done is closed.
// Once done is closed, take fails with ErrSessionClosed even if events remain.
func (m *mailbox) take(done <-chan struct{}) (Event, error) {
	for {
		select {
		case <-done:
			return Event{}, ErrSessionClosed
		default:
		}
		ev, err := m.ring.Dequeue()
		if err == nil {
			m.held.Add(^uint32(0))
			return ev, nil
		}
		if !iox.IsWouldBlock(err) {
			return Event{}, err
		}
		select {
		case <-m.signal:
		case <-done:
			return Event{}, ErrSessionClosed
		}
	}
}
