// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"code.hybscloud.com/kont"
)

// coopTask is one cooperative task. All fields are owned by the loop.
type coopTask struct {
	id      string
	ctx     *Context
	state   TaskState
	counted bool

	// top is the suspension the task is parked on.
	top *kont.Suspension[taskResult]
	// frames are enclosing frames waiting on a Try body.
	frames []*kont.Suspension[taskResult]

	// pending holds one event that arrived while the task was busy.
	pending *Event

	token        uint64
	timer        *time.Timer
	cancelFuture context.CancelFunc

	cancelled bool
	notified  bool
	ended     flag
}

// park records that the task waits; the token identifies this wait.
func (t *coopTask) park(state TaskState) uint64 {
	t.state = state
	t.token++
	return t.token
}

func (t *coopTask) release() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.cancelFuture != nil {
		t.cancelFuture()
		t.cancelFuture = nil
	}
}

// CoopSession runs a [CoopApp] and its tasks on a [Loop].
//
// A step resumes one task until it parks or ends. Commands sent during a
// step form one batch.
type CoopSession struct {
	core
	app  CoopApp
	loop *Loop

	tasks      map[string]*coopTask
	alive      int
	main       *coopTask
	dispatcher *coopTask
	mainFailed bool
	step       Serial
}

// NewCoopSession creates a cooperative session for app.
func NewCoopSession(app CoopApp, o Options) *CoopSession {
	s := &CoopSession{app: app, loop: o.Loop, tasks: make(map[string]*coopTask)}
	if s.loop == nil {
		s.loop = DefaultLoop()
	}
	s.core.init(s, o, 0)
	return s
}

func (s *CoopSession) Kind() Kind { return KindCoop }

// Loop returns the loop the session runs on.
func (s *CoopSession) Loop() *Loop { return s.loop }

// Start schedules the main task.
func (s *CoopSession) Start() {
	s.loop.Post(func() {
		if s.Closed() {
			return
		}
		body := kont.Bind(kont.Pure(struct{}{}), func(struct{}) kont.Eff[struct{}] { return s.app() })
		s.main = s.spawn(funcName(s.app), body, true)
	})
}

// Send appends cmd outside of any task.
func (s *CoopSession) Send(cmd Command) error {
	if s.loop.onLoop() {
		return s.send(cmd)
	}
	if err := s.push(cmd, nextSerial()); err != nil {
		return err
	}
	s.notify()
	return nil
}

func (s *CoopSession) send(cmd Command) error {
	if s.step != 0 {
		return s.push(cmd, s.step)
	}
	if err := s.push(cmd, nextSerial()); err != nil {
		return err
	}
	s.notify()
	return nil
}

// DeliverEvent routes ev on the loop.
func (s *CoopSession) DeliverEvent(ev Event) {
	s.loop.Post(func() { s.route(ev) })
}

func (s *CoopSession) route(ev Event) {
	if s.Closed() {
		return
	}
	if t, ok := s.tasks[ev.TaskID]; ok {
		s.deliver(t, ev)
		return
	}
	if _, ok := s.callback(ev.TaskID); ok && s.dispatcher != nil {
		s.deliver(s.dispatcher, ev)
		return
	}
	s.log.Warn("event for unknown task dropped", "task_id", ev.TaskID, "event", ev.Event)
}

func (s *CoopSession) deliver(t *coopTask, ev Event) {
	if t.state == TaskAwaitingEvent && t.top != nil {
		s.wake(t, outcome{value: ev})
		return
	}
	if t.pending == nil {
		t.pending = &ev
		return
	}
	s.log.Warn("task busy, event dropped", "task_id", t.id, "event", ev.Event)
}

func (s *CoopSession) onLoop(fn func()) {
	if s.loop.onLoop() {
		fn()
		return
	}
	s.loop.Post(fn)
}

// spawn registers a task and schedules its first step on the next turn
// of the loop. Loop goroutine only.
func (s *CoopSession) spawn(name string, body kont.Eff[struct{}], counted bool) *coopTask {
	t := &coopTask{id: newTaskID(name), counted: counted}
	t.ctx = &Context{sess: s, core: &s.core, taskID: t.id, coop: s, coopRef: t}
	s.tasks[t.id] = t
	if counted {
		s.alive++
	}
	frame := kont.Map[kont.Resumed, struct{}, taskResult](body, func(struct{}) taskResult { return taskResult{} })
	s.loop.Post(func() { s.begin(t, frame) })
	return t
}

type stepState struct {
	current *Context
	step    Serial
}

func (s *CoopSession) enter(t *coopTask) stepState {
	prev := stepState{current: s.loop.current, step: s.step}
	s.loop.current = t.ctx
	s.step = nextSerial()
	s.queue.openBatch(s.step)
	t.state = TaskRunning
	return prev
}

func (s *CoopSession) leave(prev stepState) {
	s.queue.seal()
	s.loop.current = prev.current
	s.step = prev.step
	if prev.step != 0 {
		s.queue.openBatch(prev.step)
	}
	if s.queue.len() > 0 {
		s.notify()
	}
}

func (s *CoopSession) begin(t *coopTask, body kont.Eff[taskResult]) {
	if t.cancelled {
		s.finishTask(t, ErrSessionClosed)
		return
	}
	prev := s.enter(t)
	res, susp, err := startFrame(body)
	s.drive(t, res, susp, err)
	s.leave(prev)
}

// wakeIf resumes t if it still waits on the wait identified by token.
func (s *CoopSession) wakeIf(t *coopTask, token uint64, o outcome) {
	if t.token != token || t.top == nil {
		return
	}
	if t.state != TaskAwaitingEvent && t.state != TaskAwaitingFuture {
		return
	}
	s.wake(t, o)
}

func (s *CoopSession) wake(t *coopTask, o outcome) {
	susp := t.top
	t.top = nil
	t.release()
	prev := s.enter(t)
	res, next, err := resumeFrame(susp, o)
	s.drive(t, res, next, err)
	s.leave(prev)
}

// drive steps t until it parks or its outermost frame ends.
func (s *CoopSession) drive(t *coopTask, res taskResult, susp *kont.Suspension[taskResult], err error) {
	for {
		if err == nil && susp != nil {
			switch op := susp.Op().(type) {
			case kont.Throw[error]:
				susp.Discard()
				err, susp = op.Err, nil
				if err == nil {
					err = errors.New("webio: nil error raised")
				}
			case tryFrame:
				t.frames = append(t.frames, susp)
				res, susp, err = startFrame(op.body)
			case coopDispatcher:
				if _, inline := op.(withContext); !inline && (t.cancelled || s.Closed()) {
					if t.notified {
						s.abandon(t, susp)
						return
					}
					t.notified = true
					res, susp, err = resumeFrame(susp, outcome{err: ErrSessionClosed})
					continue
				}
				o, ready := op.dispatchCoop(s, t)
				if !ready {
					t.top = susp
					return
				}
				res, susp, err = resumeFrame(susp, o)
			default:
				susp.Discard()
				err, susp = fmt.Errorf("webio: unhandled effect %T", op), nil
			}
			continue
		}
		if n := len(t.frames); n > 0 {
			parent := t.frames[n-1]
			t.frames = t.frames[:n-1]
			res, susp, err = resumeFrame(parent, outcome{value: res.value, err: err})
			continue
		}
		s.finishTask(t, err)
		return
	}
}

func startFrame(body kont.Eff[taskResult]) (res taskResult, next *kont.Suspension[taskResult], err error) {
	defer func() {
		if r := recover(); r != nil {
			res, next, err = taskResult{}, nil, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	res, next = kont.StepExpr(kont.Reify(body))
	return
}

func resumeFrame(susp *kont.Suspension[taskResult], o outcome) (res taskResult, next *kont.Suspension[taskResult], err error) {
	defer func() {
		if r := recover(); r != nil {
			res, next, err = taskResult{}, nil, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	res, next = susp.Resume(o)
	return
}

// abandon drops a cancelled task that parked again.
func (s *CoopSession) abandon(t *coopTask, susp *kont.Suspension[taskResult]) {
	susp.Discard()
	for _, f := range t.frames {
		f.Discard()
	}
	t.frames = nil
	s.finishTask(t, ErrSessionClosed)
}

func (s *CoopSession) finishTask(t *coopTask, err error) {
	if !t.ended.set() {
		return
	}
	t.release()
	t.top = nil
	if t.cancelled {
		t.state = TaskCancelled
	} else {
		t.state = TaskFinished
	}
	delete(s.tasks, t.id)
	s.dropScopes(t.id)
	if t == s.dispatcher {
		s.dispatcher = nil
	}
	if !quiet(err) {
		s.report(t.ctx, err)
		if t == s.main {
			s.mainFailed = true
		}
	}
	if !t.counted {
		return
	}
	s.alive--
	if s.alive > 0 || s.Closed() {
		return
	}
	if !s.mainFailed && s.keepAlive() {
		return
	}
	s.send(CloseSession())
	s.closeOnLoop()
}

// cancel ends t. A parked task is resumed once with ErrSessionClosed.
func (s *CoopSession) cancel(t *coopTask) {
	if t.ended.Load() != 0 || t.cancelled {
		return
	}
	t.cancelled = true
	switch t.state {
	case TaskAwaitingEvent, TaskAwaitingFuture:
		if t.top == nil {
			return
		}
		t.notified = true
		s.wake(t, outcome{err: ErrSessionClosed})
	}
}

// Close ends the session. Unless nonblock, it waits until finalizers ran.
func (s *CoopSession) Close(nonblock bool) {
	onLoop := s.loop.onLoop()
	if !s.markClosed() {
		if !nonblock && !onLoop {
			<-s.done
		}
		return
	}
	if onLoop {
		s.cleanup()
		return
	}
	if !s.loop.Post(s.cleanup) {
		s.cleanup()
		return
	}
	if !nonblock {
		<-s.done
	}
}

func (s *CoopSession) closeOnLoop() {
	if s.markClosed() {
		s.cleanup()
	}
}

func (s *CoopSession) cleanup() {
	tasks := make([]*coopTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	for _, t := range tasks {
		s.cancel(t)
	}
	prev := s.loop.current
	s.loop.current = &Context{sess: s, core: &s.core, taskID: "finalizer", coop: s}
	s.runFinalizers()
	s.loop.current = prev
	close(s.done)
	s.finish()
}

// Tasks returns the number of live tasks. Loop goroutine only.
func (s *CoopSession) Tasks() int { return len(s.tasks) }

// startDispatcher spawns the callback dispatcher task on first use.
func (s *CoopSession) startDispatcher() {
	if s.dispatcher != nil || !s.loop.onLoop() {
		return
	}
	s.dispatcher = s.spawn("callbacks", s.dispatchLoop(), false)
}

func (s *CoopSession) dispatchLoop() kont.Eff[struct{}] {
	return kont.Bind(AwaitEvent(), func(ev Event) kont.Eff[struct{}] {
		cb, ok := s.callback(ev.TaskID)
		if !ok || ev.Event != EvtCallback {
			return s.dispatchLoop()
		}
		body := cb.body(ev.Data)
		if cb.mode == Concurrent {
			return kont.Then(Do(func(*Context) error {
				s.spawn("callback", body, false)
				return nil
			}), s.dispatchLoop())
		}
		return kont.Bind(Try(body), func(r kont.Either[error, struct{}]) kont.Eff[struct{}] {
			if err, failed := r.GetLeft(); failed && !quiet(err) {
				return kont.Then(Do(func(x *Context) error {
					s.report(x, err)
					return nil
				}), s.dispatchLoop())
			}
			return s.dispatchLoop()
		})
	})
}

// body is the cooperative computation of one callback invocation.
func (cb Callback) body(value any) kont.Eff[struct{}] {
	if cb.eff != nil {
		return kont.Bind(kont.Pure(value), cb.eff)
	}
	return Do(func(*Context) error { return cb.fn(value) })
}

// RunAsync starts body as a new task of the calling cooperative session.
// The task begins on the next turn of the loop.
func (x *Context) RunAsync(body kont.Eff[struct{}]) (*TaskHandle, error) {
	if x.core.Closed() {
		return nil, ErrSessionClosed
	}
	s := x.coop
	if s == nil {
		return nil, ErrWrongSessionKind
	}
	if !s.loop.onLoop() {
		return nil, badArgument("RunAsync called off the session loop")
	}
	t := s.spawn("async", body, true)
	return &TaskHandle{s: s, t: t}, nil
}
