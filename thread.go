// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

import (
	"errors"
	"sync"

	"code.hybscloud.com/webio/internal/goroutineid"
)

// ThreadSession runs an [App] on its own goroutine. Each task is a
// goroutine bound to the session with a private event mailbox; I/O calls
// block the calling goroutine.
type ThreadSession struct {
	core
	app    App
	script bool

	tmu       sync.Mutex
	mailboxes map[string]*mailbox
	adopted   map[uint64]string
	live      int
	cbox      *mailbox

	dispatchOnce sync.Once
	mainFailed   flag
}

// NewThreadSession creates a preemptive session for app.
func NewThreadSession(app App, o Options) *ThreadSession {
	s := &ThreadSession{
		app:       app,
		mailboxes: make(map[string]*mailbox),
		adopted:   make(map[uint64]string),
	}
	s.core.init(s, o, commandQueueLimit)
	return s
}

// NewScriptSession creates a preemptive session with no main task. Plain
// goroutines become its tasks on their first I/O call once the session is
// installed with [UseScriptSession].
func NewScriptSession(o Options) *ThreadSession {
	s := NewThreadSession(nil, o)
	s.script = true
	return s
}

// UseScriptSession makes s the session of goroutines bound to no other
// session. Passing nil uninstalls it.
func UseScriptSession(s *ThreadSession) {
	scriptFallback.Store(s)
}

func (s *ThreadSession) Kind() Kind { return KindThread }

// Start runs the main task on a new goroutine.
func (s *ThreadSession) Start() {
	if s.app == nil {
		return
	}
	x := s.newTask(funcName(s.app))
	s.addThread()
	go s.runMain(x)
}

// Send appends cmd as its own batch.
func (s *ThreadSession) Send(cmd Command) error {
	if err := s.push(cmd, nextSerial()); err != nil {
		return err
	}
	s.notify()
	return nil
}

func (s *ThreadSession) newTask(name string) *Context {
	x := &Context{sess: s, core: &s.core, taskID: newTaskID(name), thread: s, tmbox: newMailbox(eventMailboxLimit)}
	s.tmu.Lock()
	s.mailboxes[x.taskID] = x.tmbox
	s.tmu.Unlock()
	return x
}

func (s *ThreadSession) exitTask(x *Context, gid uint64) {
	unbind(gid)
	s.tmu.Lock()
	delete(s.mailboxes, x.taskID)
	s.tmu.Unlock()
	s.dropScopes(x.taskID)
}

func (s *ThreadSession) addThread() {
	s.tmu.Lock()
	s.live++
	s.tmu.Unlock()
}

// doneThread ends a counted task. When the last one ends the session
// closes, unless callbacks keep it open.
func (s *ThreadSession) doneThread() {
	s.tmu.Lock()
	s.live--
	n := s.live
	s.tmu.Unlock()
	if n > 0 || s.Closed() {
		return
	}
	if s.mainFailed.Load() == 0 && s.keepAlive() {
		return
	}
	_ = s.Send(CloseSession())
	s.Close(false)
}

func (s *ThreadSession) runMain(x *Context) {
	gid := bind(x)
	err := guard(func() error { return s.app() })
	if !quiet(err) {
		s.mainFailed.set()
		s.report(x, err)
	}
	s.exitTask(x, gid)
	s.doneThread()
}

// RegisterThread runs fn as a new task of the calling preemptive session.
// The session stays open until every such task has returned.
func (x *Context) RegisterThread(fn func() error) error {
	if x.core.Closed() {
		return ErrSessionClosed
	}
	s := x.thread
	if s == nil {
		return ErrWrongSessionKind
	}
	t := s.newTask("thread")
	s.addThread()
	go func() {
		gid := bind(t)
		if err := guard(fn); !quiet(err) {
			s.report(t, err)
		}
		s.exitTask(t, gid)
		s.doneThread()
	}()
	return nil
}

// DeliverEvent puts ev in the mailbox of its task, or of the callback
// dispatcher when it addresses a callback.
func (s *ThreadSession) DeliverEvent(ev Event) {
	if s.Closed() {
		return
	}
	s.tmu.Lock()
	mb := s.mailboxes[ev.TaskID]
	if mb == nil && s.cbox != nil {
		if _, ok := s.callback(ev.TaskID); ok {
			mb = s.cbox
		}
	}
	s.tmu.Unlock()
	if mb == nil {
		s.log.Warn("event for unknown task dropped", "task_id", ev.TaskID, "event", ev.Event)
		return
	}
	if err := mb.put(ev); err != nil {
		s.log.Warn("mailbox full, event dropped", "task_id", ev.TaskID, "event", ev.Event)
	}
}

func (s *ThreadSession) startDispatcher() {
	s.dispatchOnce.Do(func() {
		x := s.newTask("callbacks")
		s.tmu.Lock()
		s.cbox = newMailbox(callbackMailboxLimit)
		cbox := s.cbox
		s.tmu.Unlock()
		go s.dispatch(x, cbox)
	})
}

func (s *ThreadSession) dispatch(x *Context, cbox *mailbox) {
	gid := bind(x)
	defer s.exitTask(x, gid)
	for {
		ev, err := cbox.take(s.done)
		if err != nil {
			return
		}
		cb, ok := s.callback(ev.TaskID)
		if !ok || ev.Event != EvtCallback {
			continue
		}
		if cb.mode == Concurrent {
			t := s.newTask("callback")
			go s.runCallback(t, cb, ev.Data)
			continue
		}
		if err := guard(func() error { return cb.fn(ev.Data) }); !quiet(err) {
			s.report(x, err)
		}
	}
}

func (s *ThreadSession) runCallback(x *Context, cb Callback, value any) {
	gid := bind(x)
	if err := guard(func() error { return cb.fn(value) }); !quiet(err) {
		s.report(x, err)
	}
	s.exitTask(x, gid)
}

// adopt binds the goroutine gid to a new task of the script session.
func (s *ThreadSession) adopt(gid uint64) *Context {
	x := s.newTask("script")
	s.tmu.Lock()
	if s.adopted != nil {
		s.adopted[gid] = x.taskID
	}
	s.tmu.Unlock()
	bindings.Store(gid, x)
	return x
}

// Close ends the session. Unless nonblock, it first waits for the
// transport to take the pending commands. Finalizers run on the calling
// goroutine.
func (s *ThreadSession) Close(nonblock bool) {
	if !s.markClosed() {
		return
	}
	if !nonblock && !s.queue.waitEmpty(closeDrainTimeout) {
		s.log.Warn("session closed with undelivered commands", "pending", s.queue.len())
	}
	close(s.done)

	gid := goroutineid.Get()
	prev, had := bindings.Load(gid)
	bindings.Store(gid, &Context{sess: s, core: &s.core, taskID: "finalizer", thread: s})
	s.runFinalizers()
	if had {
		bindings.Store(gid, prev)
	} else {
		bindings.Delete(gid)
	}

	s.tmu.Lock()
	adopted := s.adopted
	s.adopted = nil
	s.tmu.Unlock()
	for id := range adopted {
		unbind(id)
	}
	if s.script {
		scriptFallback.CompareAndSwap(s, nil)
	}
	s.finish()
}

// Hold blocks until the session closes, keeping a preemptive application
// alive for its callbacks.
func (x *Context) Hold() error {
	for {
		if _, err := x.NextEvent(); err != nil {
			if errors.Is(err, ErrSessionClosed) {
				return nil
			}
			return err
		}
	}
}
