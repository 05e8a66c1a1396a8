// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

import (
	"sync"
	"sync/atomic"

	"code.hybscloud.com/webio/internal/goroutineid"
)

// Context is the handle a task uses for I/O. Every I/O function resolves
// the calling task's Context first; cooperative code receives it from
// [Within].
type Context struct {
	sess   Session
	core   *core
	taskID string

	thread  *ThreadSession
	tmbox   *mailbox // nil outside preemptive tasks
	coop    *CoopSession
	coopRef *coopTask
}

// Session returns the session the task belongs to.
func (x *Context) Session() Session { return x.sess }

// TaskID returns the id of the calling task.
func (x *Context) TaskID() string { return x.taskID }

// Info returns the session metadata.
func (x *Context) Info() Info { return x.core.info }

// Local returns the per-session key/value bag.
func (x *Context) Local() *Local { return &x.core.local }

// Send enqueues a command tagged with the task id.
func (x *Context) Send(command string, spec any) error {
	return x.emit(Command{Command: command, Spec: spec, TaskID: x.taskID})
}

func (x *Context) emit(cmd Command) error {
	if x.coop != nil {
		return x.coop.send(cmd)
	}
	if err := x.core.push(cmd, nextSerial()); err != nil {
		return err
	}
	x.core.notify()
	return nil
}

// Defer registers fn to run when the session closes. Finalizers run
// newest first.
func (x *Context) Defer(fn func()) error {
	return x.core.addFinalizer(fn)
}

func (x *Context) scopes() *ScopeStack {
	return x.core.scopeStack(x.taskID)
}

// PushScope makes name the current output scope of the task.
func (x *Context) PushScope(name string) error {
	return x.scopes().Push(name)
}

// PopScope restores the previous output scope.
func (x *Context) PopScope() (string, error) {
	return x.scopes().Pop()
}

// Scope returns the scope at idx of the task's stack; -1 is the current one.
func (x *Context) Scope(idx int) (string, error) {
	return x.scopes().Get(idx)
}

// RegisterCallback stores cb and returns the id the client uses to
// invoke it. Registering starts the session's callback dispatcher.
func (x *Context) RegisterCallback(cb Callback) (string, error) {
	if x.core.Closed() {
		return "", ErrSessionClosed
	}
	if cb.fn == nil && cb.eff == nil {
		return "", badArgument("empty callback")
	}
	if cb.eff != nil && x.coop == nil {
		return "", ErrWrongSessionKind
	}
	id := x.core.addCallback(cb)
	if x.coop != nil {
		x.coop.startDispatcher()
	} else {
		x.thread.startDispatcher()
	}
	return id, nil
}

// blocking reports whether the task may block in a preemptive I/O call.
func (x *Context) blocking() error {
	if x.core.Closed() {
		return ErrSessionClosed
	}
	if x.tmbox == nil {
		return ErrWrongSessionKind
	}
	return nil
}

// NextEvent blocks until an event addressed to the task arrives.
// Preemptive sessions only.
func (x *Context) NextEvent() (Event, error) {
	if err := x.blocking(); err != nil {
		return Event{}, err
	}
	return x.tmbox.take(x.core.done)
}

// Goroutine bindings of preemptive tasks, keyed by goroutine id.
var bindings sync.Map

// Goroutines currently running a [Loop], keyed by goroutine id.
var loops sync.Map

// scriptFallback adopts unbound goroutines in script mode.
var scriptFallback atomic.Pointer[ThreadSession]

func bind(x *Context) uint64 {
	gid := goroutineid.Get()
	bindings.Store(gid, x)
	return gid
}

func unbind(gid uint64) {
	bindings.Delete(gid)
}

// Current returns the Context of the calling task. It fails with
// ErrNoSession on a goroutine that belongs to no session.
func Current() (*Context, error) {
	gid := goroutineid.Get()
	if v, ok := bindings.Load(gid); ok {
		return v.(*Context), nil
	}
	if v, ok := loops.Load(gid); ok {
		if x := v.(*Loop).current; x != nil {
			return x, nil
		}
		return nil, ErrNoSession
	}
	if s := scriptFallback.Load(); s != nil && !s.Closed() {
		return s.adopt(gid), nil
	}
	return nil, ErrNoSession
}

// with resolves the calling task and applies fn to it.
func with[T any](fn func(*Context) (T, error)) (T, error) {
	x, err := Current()
	if err != nil {
		var zero T
		return zero, err
	}
	return fn(x)
}

func with0(fn func(*Context) error) error {
	x, err := Current()
	if err != nil {
		return err
	}
	return fn(x)
}
