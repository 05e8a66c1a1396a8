// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

import (
	"runtime/debug"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/kont"
)

// TaskState is the lifecycle state of a cooperative task.
type TaskState uint8

const (
	TaskCreated TaskState = iota
	TaskRunning
	TaskAwaitingEvent
	TaskAwaitingFuture
	TaskFinished
	TaskCancelled
)

var taskStateNames = [...]string{"created", "running", "awaiting-event", "awaiting-future", "finished", "cancelled"}

func (s TaskState) String() string {
	if int(s) < len(taskStateNames) {
		return taskStateNames[s]
	}
	return "unknown"
}

// CallbackMode selects how a callback runs relative to other callbacks.
type CallbackMode uint8

const (
	// Serialized runs the handler on the dispatcher; later events wait.
	Serialized CallbackMode = iota
	// Concurrent runs each invocation as its own task.
	Concurrent
)

// Callback is a registered event handler. Build one with [Handler] or
// [EffHandler].
type Callback struct {
	fn   func(value any) error
	eff  func(value any) kont.Eff[struct{}]
	mode CallbackMode
}

// Handler wraps a plain function. It runs in either session kind.
func Handler(fn func(value any) error, mode CallbackMode) Callback {
	return Callback{fn: fn, mode: mode}
}

// EffHandler wraps a cooperative handler. Cooperative sessions only.
func EffHandler(fn func(value any) kont.Eff[struct{}], mode CallbackMode) Callback {
	return Callback{eff: fn, mode: mode}
}

// TaskHandle refers to a task started with [Context.RunAsync].
type TaskHandle struct {
	s *CoopSession
	t *coopTask
}

// ID returns the task id.
func (h *TaskHandle) ID() string { return h.t.id }

// Closed reports whether the task has ended.
func (h *TaskHandle) Closed() bool { return h.t.ended.Load() != 0 }

// Close cancels the task. A parked task is resumed once with
// ErrSessionClosed; if it parks again it is abandoned.
func (h *TaskHandle) Close() {
	h.s.onLoop(func() { h.s.cancel(h.t) })
}

// guard calls fn, converting a panic into a *PanicError.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// guardValue is guard for functions returning a value.
func guardValue(fn func() (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// flag is a one-shot boolean.
type flag struct{ n atomix.Uint32 }

func (f *flag) set() bool    { return f.n.Add(1) == 1 }
func (f *flag) Load() uint32 { return f.n.Load() }
